package stt

import (
	"log/slog"
	"sync"
	"time"
)

// Emitter owns an adapter's events channel. Emit never blocks; the channel is
// closed right after the closed event is delivered, and nothing is sent after.
type Emitter struct {
	mu     sync.Mutex
	ch     chan Event
	done   bool
	logger *slog.Logger
}

func NewEmitter(buffer int, logger *slog.Logger) *Emitter {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{ch: make(chan Event, buffer), logger: logger}
}

func (e *Emitter) Events() <-chan Event { return e.ch }

// Emit delivers evt if the buffer has room. Returns false when dropped.
func (e *Emitter) Emit(evt Event) bool {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return false
	}
	select {
	case e.ch <- evt:
		return true
	default:
		e.logger.Warn("provider_event_dropped", slog.String("kind", string(evt.Kind)))
		return false
	}
}

// Finish emits the closed event and closes the channel. Safe to call more than once.
func (e *Emitter) Finish(detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.done = true
	evt := Event{Kind: EventClosed, Detail: detail, Time: time.Now()}
	select {
	case e.ch <- evt:
	default:
		// Make room: the closed event must always reach the consumer.
		select {
		case <-e.ch:
			e.logger.Warn("provider_event_dropped", slog.String("kind", "evicted_for_closed"))
		default:
		}
		select {
		case e.ch <- evt:
		default:
		}
	}
	close(e.ch)
}

// Finished reports whether Finish has run.
func (e *Emitter) Finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}
