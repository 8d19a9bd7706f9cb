// Package events fans normalized provider events out of a session: structured
// logs always, Redis pub/sub when configured.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/harunnryd/siprtc-bridge/pkg/adapters/stt"
)

// Record is one provider event tagged with the session it belongs to.
type Record struct {
	SessionID string    `json:"session_id"`
	Provider  string    `json:"provider"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Final     bool      `json:"final,omitempty"`
	Time      time.Time `json:"time"`
}

// FromEvent builds a Record from a provider event.
func FromEvent(sessionID, provider string, evt stt.Event) Record {
	return Record{
		SessionID: sessionID,
		Provider:  provider,
		Kind:      string(evt.Kind),
		Text:      evt.Text,
		Detail:    evt.Detail,
		Final:     evt.Final,
		Time:      evt.Time,
	}
}

type Sink interface {
	Publish(ctx context.Context, rec Record) error
}

type NoopSink struct{}

func (NoopSink) Publish(context.Context, Record) error { return nil }

// MultiSink publishes to every sink and joins their errors.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiSink{sinks: out}
}

func (m *MultiSink) Publish(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
