package events

import (
	"context"
	"log/slog"

	"github.com/harunnryd/siprtc-bridge/pkg/adapters/stt"
	"github.com/harunnryd/siprtc-bridge/pkg/redact"
)

// LogSink writes provider events as structured log lines. Transcripts go
// through redact.Text.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Publish(ctx context.Context, rec Record) error {
	attrs := []slog.Attr{
		slog.String("session_id", rec.SessionID),
		slog.String("provider", rec.Provider),
	}
	switch stt.EventKind(rec.Kind) {
	case stt.EventTranscript:
		attrs = append(attrs,
			slog.String("text", redact.Text(rec.Text)),
			slog.Bool("final", rec.Final))
		level := slog.LevelInfo
		if !rec.Final {
			level = slog.LevelDebug
		}
		s.log.LogAttrs(ctx, level, "transcript", attrs...)
	case stt.EventError:
		attrs = append(attrs,
			slog.String("reason_code", "provider_transport"),
			slog.String("detail", rec.Detail))
		s.log.LogAttrs(ctx, slog.LevelWarn, "provider_error", attrs...)
	case stt.EventReady:
		s.log.LogAttrs(ctx, slog.LevelInfo, "provider_ready", attrs...)
	case stt.EventClosed:
		attrs = append(attrs, slog.String("detail", rec.Detail))
		s.log.LogAttrs(ctx, slog.LevelInfo, "provider_closed", attrs...)
	default:
		attrs = append(attrs, slog.String("kind", rec.Kind))
		s.log.LogAttrs(ctx, slog.LevelDebug, "provider_event", attrs...)
	}
	return nil
}
