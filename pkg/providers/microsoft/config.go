package microsoft

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/harunnryd/siprtc-bridge/pkg/adapters/stt"
	"github.com/harunnryd/siprtc-bridge/pkg/errorsx"
)

const (
	EnvKey    = "MS_SPEECH_KEY"
	EnvRegion = "MS_SPEECH_REGION"

	DefaultLanguage = "en-IN"

	endpointTemplate = "wss://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1"
)

type Config struct {
	Key      string `mapstructure:"key"`
	Region   string `mapstructure:"region"`
	Language string `mapstructure:"language"`
	Endpoint string `mapstructure:"endpoint"`
	Interim  bool   `mapstructure:"interim"`
	// DialRetries is the number of extra connection attempts after the first.
	DialRetries int           `mapstructure:"dial_retries"`
	DialBackoff time.Duration `mapstructure:"dial_backoff"`
	// StopTimeout bounds how long Close waits for trailing results.
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	EventBuffer      int           `mapstructure:"event_buffer"`
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Key) == "" {
		c.Key = os.Getenv(EnvKey)
	}
	if strings.TrimSpace(c.Region) == "" {
		c.Region = os.Getenv(EnvRegion)
	}
	c.Key = strings.TrimSpace(c.Key)
	c.Region = strings.TrimSpace(c.Region)
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.DialRetries < 0 {
		c.DialRetries = 0
	}
	if c.DialBackoff <= 0 {
		c.DialBackoff = 250 * time.Millisecond
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	return c
}

// checkCredentials fails when the subscription key or region is absent.
// An explicit Endpoint removes the need for a region.
func (c Config) checkCredentials() error {
	var missing []string
	if c.Key == "" {
		missing = append(missing, EnvKey)
	}
	if c.Region == "" && c.Endpoint == "" {
		missing = append(missing, EnvRegion)
	}
	if len(missing) == 0 {
		return nil
	}
	return errorsx.Newf(errorsx.ReasonMissingCredentials,
		"Missing Microsoft Speech credentials: %s: %w", strings.Join(missing, ", "), stt.ErrMissingCredentials)
}

func (c Config) url() (string, error) {
	base := c.Endpoint
	if base == "" {
		base = fmt.Sprintf(endpointTemplate, c.Region)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("language", c.Language)
	q.Set("format", "simple")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
