package metrics

import "time"

// Event names recorded by the bridge.
const (
	EventSessionStarted = "session_started"
	EventSessionFailed  = "session_failed"
	EventSessionClosed  = "session_closed"
	EventFrameReceived  = "frame_received"
	EventAudioBytes     = "audio_bytes"
	EventProviderEvent  = "provider_event"
)

// Tag keys.
const (
	TagSessionID = "session_id"
	TagProvider  = "provider"
	TagKind      = "kind"
	TagReason    = "reason_code"
	TagTrigger   = "trigger"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// NewEvent stamps a MetricsEvent with the current time.
func NewEvent(name string, value float64, tags map[string]string) MetricsEvent {
	return MetricsEvent{Name: name, Time: time.Now(), Value: value, Tags: tags}
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
