package mediastream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

type DialOptions struct {
	// Provider is forwarded to the voice webhook and selects the STT backend.
	Provider   string
	SendDigits string
}

// Dialer places test calls through the Twilio REST API whose audio is streamed
// back into the bridge.
type Dialer struct {
	cfg    Config
	client callCreator
}

func NewDialer(cfg Config) *Dialer {
	return &Dialer{cfg: cfg.withDefaults()}
}

// Dial places an outbound call. An empty webhook uses the bridge's own voice URL.
func (d *Dialer) Dial(ctx context.Context, to, from, webhook string, opts DialOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if to == "" || from == "" {
		return "", errors.New("to/from required")
	}
	if d.cfg.AccountSID == "" || d.cfg.AuthToken == "" {
		return "", errors.New("missing twilio credentials")
	}
	if webhook == "" {
		webhook = d.cfg.voiceWebhookURL()
	}
	if p := strings.TrimSpace(opts.Provider); p != "" {
		u, err := url.Parse(webhook)
		if err != nil {
			return "", fmt.Errorf("parse webhook url: %w", err)
		}
		q := u.Query()
		q.Set("provider", p)
		u.RawQuery = q.Encode()
		webhook = u.String()
	}
	client := d.client
	if client == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: d.cfg.AccountSID,
			Password: d.cfg.AuthToken,
		})
		client = rest.Api
	}
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(webhook)
	if strings.TrimSpace(opts.SendDigits) != "" {
		params.SetSendDigits(opts.SendDigits)
	}
	resp, err := client.CreateCall(params)
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Sid == nil {
		return "", fmt.Errorf("missing call sid")
	}
	return *resp.Sid, nil
}
