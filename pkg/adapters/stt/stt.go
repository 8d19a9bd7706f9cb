package stt

import (
	"context"
	"errors"
	"time"

	"github.com/harunnryd/siprtc-bridge/pkg/audio"
	"github.com/harunnryd/siprtc-bridge/pkg/errorsx"
)

// Provider opens streaming recognition sessions against one STT vendor.
type Provider interface {
	// Name returns the provider key used in the `provider` query parameter.
	Name() string
	// Open starts a streaming recognition session for audio in the given format.
	// It must not block on network I/O; connection failures surface later as
	// error events.
	Open(ctx context.Context, format audio.Format) (Stream, error)
}

// Stream is a live provider handle.
type Stream interface {
	// PushAudio appends one chunk to the provider-side sink without blocking.
	PushAudio(chunk []byte) error
	// Close ends recognition and flushes trailing results. Idempotent.
	Close() error
	// Events delivers normalized notifications. Closed after the closed event.
	Events() <-chan Event
}

type EventKind string

const (
	EventReady      EventKind = "ready"
	EventTranscript EventKind = "transcript"
	EventError      EventKind = "error"
	EventClosed     EventKind = "closed"
)

// Event is a provider notification in vendor-neutral form.
type Event struct {
	Kind   EventKind
	Text   string
	Detail string
	Final  bool
	Time   time.Time
}

var (
	ErrMissingCredentials = errorsx.New(errorsx.ReasonMissingCredentials, "missing provider credentials")
	ErrStreamClosed       = audio.ErrStreamClosed
)

// IsMissingCredentials reports whether err stems from absent provider credentials.
func IsMissingCredentials(err error) bool {
	return errors.Is(err, ErrMissingCredentials) || errorsx.HasReason(err, errorsx.ReasonMissingCredentials)
}

// DefaultEventBuffer is the events channel capacity adapters use unless configured.
const DefaultEventBuffer = 256
