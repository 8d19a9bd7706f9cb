package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/siprtc-bridge/pkg/adapters/stt"
	"github.com/harunnryd/siprtc-bridge/pkg/audio"
	"github.com/harunnryd/siprtc-bridge/pkg/errorsx"
	"github.com/harunnryd/siprtc-bridge/pkg/events"
	"github.com/harunnryd/siprtc-bridge/pkg/frames"
	"github.com/harunnryd/siprtc-bridge/pkg/logging"
	"github.com/harunnryd/siprtc-bridge/pkg/metrics"
)

var (
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrClosedDuringOpen is returned by Start when a shutdown trigger fired
	// while the provider stream was being opened. The stream has been closed.
	ErrClosedDuringOpen = errors.New("session closed while provider was opening")
)

type Config struct {
	ID       string
	Provider stt.Provider
	Format   audio.Format
	Sink     events.Sink
	Observer metrics.Observer
	Logger   *slog.Logger
	// PublishTimeout bounds each Sink.Publish call.
	PublishTimeout time.Duration
	// OnDone runs once after the session reached a terminal state and its
	// provider stream has been drained.
	OnDone func(*Controller)
}

// Controller owns one media-stream session and its provider stream.
type Controller struct {
	id       string
	provider stt.Provider
	format   audio.Format
	sink     events.Sink
	observer metrics.Observer
	logger   *slog.Logger
	timeout  time.Duration
	onDone   func(*Controller)

	state     atomic.Int32
	mu        sync.Mutex
	started   bool
	stream    stt.Stream
	closeOnce sync.Once
	trigger   Trigger
	openedAt  time.Time

	done     chan struct{}
	doneOnce sync.Once
}

func New(cfg Config) *Controller {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	if cfg.Sink == nil {
		cfg.Sink = events.NoopSink{}
	}
	if cfg.Observer == nil {
		cfg.Observer = metrics.NoopObserver{}
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	name := ""
	if cfg.Provider != nil {
		name = cfg.Provider.Name()
	}
	base := cfg.Logger
	if base == nil {
		base = slog.Default()
	}
	return &Controller{
		id:       id,
		provider: cfg.Provider,
		format:   cfg.Format,
		sink:     cfg.Sink,
		observer: cfg.Observer,
		timeout:  cfg.PublishTimeout,
		onDone:   cfg.OnDone,
		logger: logging.NewComponentLogger(base, "session").With(
			slog.String("session_id", id),
			slog.String("provider", name)),
		done: make(chan struct{}),
	}
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) Provider() string {
	if c.provider == nil {
		return ""
	}
	return c.provider.Name()
}

func (c *Controller) State() State { return State(c.state.Load()) }

// Done is closed once the session is terminal and its event loop has ended.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Trigger returns the shutdown trigger that closed the session, if any.
func (c *Controller) Trigger() Trigger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trigger
}

// Start opens the provider stream. On failure the session is FAILED and the
// error is returned for the transport to map onto a close code.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	if c.State() != StateInit {
		c.mu.Unlock()
		c.finish()
		return ErrClosedDuringOpen
	}
	c.mu.Unlock()

	if c.provider == nil {
		return c.fail(errorsx.New(errorsx.ReasonUnsupportedProvider, "no provider configured"))
	}
	if err := c.format.Validate(); err != nil {
		return c.fail(errorsx.Wrap(err, errorsx.ReasonProviderOpen))
	}

	stream, err := c.provider.Open(ctx, c.format)
	if err != nil {
		if !stt.IsMissingCredentials(err) {
			err = errorsx.Wrap(err, errorsx.ReasonProviderOpen)
		}
		return c.fail(err)
	}

	c.mu.Lock()
	if !c.state.CompareAndSwap(int32(StateInit), int32(StateStreaming)) {
		// A shutdown trigger won while Open was in flight.
		c.mu.Unlock()
		c.logger.Info("session_closed_during_open")
		c.closeStream(stream)
		go drain(stream)
		c.finish()
		return ErrClosedDuringOpen
	}
	c.stream = stream
	c.openedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info("session_started", slog.String("format", c.format.String()))
	c.record(metrics.EventSessionStarted, 1, nil)
	go c.eventLoop(stream)
	return nil
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	swapped := c.state.CompareAndSwap(int32(StateInit), int32(StateFailed))
	c.mu.Unlock()
	reason := errorsx.Reason(err)
	if swapped {
		c.logger.Error("session_failed",
			slog.String("reason_code", string(reason)),
			slog.String("error", err.Error()))
		c.record(metrics.EventSessionFailed, 1, map[string]string{metrics.TagReason: string(reason)})
	}
	c.finish()
	return err
}

// HandleMessage feeds one raw transport message through the codec and the
// state machine. It never returns an error: bad frames are logged and dropped.
func (c *Controller) HandleMessage(raw []byte) {
	f := frames.Parse(raw)
	c.record(metrics.EventFrameReceived, 1, map[string]string{metrics.TagKind: string(f.Kind)})

	switch f.Kind {
	case frames.KindMalformed:
		c.logger.Warn("frame_malformed",
			slog.String("reason_code", string(errorsx.Reason(f.Err))),
			slog.String("error", f.Err.Error()))
		return
	case frames.KindIgnored:
		c.logger.Debug("frame_ignored", slog.String("event", f.Event))
		return
	}

	state := c.State()
	if state.Terminal() {
		c.logger.Debug("frame_dropped",
			slog.String("kind", string(f.Kind)),
			slog.String("state", state.String()))
		return
	}

	switch f.Kind {
	case frames.KindStart:
		attrs := []any{slog.String("state", state.String())}
		if f.Meta.StreamSID != "" {
			attrs = append(attrs, slog.String("stream_sid", f.Meta.StreamSID))
		}
		if f.Meta.CallSID != "" {
			attrs = append(attrs, slog.String("call_sid", f.Meta.CallSID))
		}
		if f.Meta.Encoding != "" {
			attrs = append(attrs,
				slog.String("media_encoding", f.Meta.Encoding),
				slog.Int("media_sample_rate", f.Meta.SampleRate))
		}
		c.logger.Info("stream_start", attrs...)
	case frames.KindStop:
		c.logger.Info("stream_stop", slog.String("stop_reason", f.Meta.StopReason))
		c.Shutdown(TriggerStop)
	case frames.KindMedia:
		if state != StateStreaming {
			c.logger.Debug("frame_dropped",
				slog.String("kind", string(f.Kind)),
				slog.String("state", state.String()))
			return
		}
		c.pushAudio(f.Payload)
	}
}

func (c *Controller) pushAudio(chunk []byte) {
	stream := c.currentStream()
	if stream == nil {
		return
	}
	if err := stream.PushAudio(chunk); err != nil {
		if errors.Is(err, stt.ErrStreamClosed) {
			c.logger.Warn("provider_unavailable", slog.String("error", err.Error()))
			c.Shutdown(TriggerProviderUnavailable)
			return
		}
		c.logger.Warn("audio_push_failed",
			slog.String("reason_code", string(errorsx.ReasonProviderSend)),
			slog.String("error", err.Error()))
		return
	}
	c.record(metrics.EventAudioBytes, float64(len(chunk)), nil)
}

func (c *Controller) currentStream() stt.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// Shutdown moves the session to CLOSED and releases the provider stream. Only
// the first call from INIT or STREAMING has any effect; it returns true.
func (c *Controller) Shutdown(trigger Trigger) bool {
	c.mu.Lock()
	from := c.State()
	if from.Terminal() || !c.state.CompareAndSwap(int32(from), int32(StateClosed)) {
		c.mu.Unlock()
		return false
	}
	c.trigger = trigger
	stream := c.stream
	started := c.started
	openedAt := c.openedAt
	c.mu.Unlock()

	var duration time.Duration
	if !openedAt.IsZero() {
		duration = time.Since(openedAt)
	}
	c.logger.Info("session_closed",
		slog.String("trigger", string(trigger)),
		slog.String("from_state", from.String()),
		slog.Duration("duration", duration))
	ev := metrics.NewEvent(metrics.EventSessionClosed, duration.Seconds(), c.tags(map[string]string{
		metrics.TagTrigger: string(trigger),
	}))
	ev.Fields = map[string]any{"was_streaming": from == StateStreaming}
	c.observer.RecordEvent(ev)

	switch {
	case stream != nil:
		// The event loop calls finish once the stream's events are drained.
		c.closeStream(stream)
	case !started:
		c.finish()
	}
	return true
}

func (c *Controller) closeStream(stream stt.Stream) {
	c.closeOnce.Do(func() {
		if err := stream.Close(); err != nil {
			c.logger.Warn("provider_close_failed", slog.String("error", err.Error()))
		}
	})
}

func (c *Controller) eventLoop(stream stt.Stream) {
	defer c.finish()
	for evt := range stream.Events() {
		c.record(metrics.EventProviderEvent, 1, map[string]string{metrics.TagKind: string(evt.Kind)})
		c.publish(evt)
		switch evt.Kind {
		case stt.EventError:
			// Provider errors are non-fatal; a following closed event ends the session.
			c.logger.Warn("provider_error",
				slog.String("reason_code", string(errorsx.ReasonProviderTransport)),
				slog.String("detail", evt.Detail))
		case stt.EventClosed:
			c.Shutdown(TriggerProviderClosed)
		}
	}
	c.Shutdown(TriggerProviderClosed)
}

func (c *Controller) publish(evt stt.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.sink.Publish(ctx, events.FromEvent(c.id, c.Provider(), evt)); err != nil {
		c.logger.Warn("event_publish_failed",
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
	}
}

func (c *Controller) finish() {
	c.doneOnce.Do(func() {
		close(c.done)
		if c.onDone != nil {
			c.onDone(c)
		}
	})
}

func (c *Controller) record(name string, value float64, extra map[string]string) {
	c.observer.RecordEvent(metrics.NewEvent(name, value, c.tags(extra)))
}

func (c *Controller) tags(extra map[string]string) map[string]string {
	tags := map[string]string{
		metrics.TagSessionID: c.id,
		metrics.TagProvider:  c.Provider(),
	}
	for k, v := range extra {
		tags[k] = v
	}
	return tags
}

func (c *Controller) String() string {
	return fmt.Sprintf("session %s (%s, %s)", c.id, c.Provider(), c.State())
}

func drain(stream stt.Stream) {
	for range stream.Events() {
	}
}
