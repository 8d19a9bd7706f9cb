package mock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/siprtc-bridge/pkg/adapters/stt"
	"github.com/harunnryd/siprtc-bridge/pkg/audio"
	"github.com/harunnryd/siprtc-bridge/pkg/logging"
)

type Config struct {
	// OpenErr makes every Open call fail with this error.
	OpenErr error
	// Transcript, when set, is emitted as a final transcript for every pushed chunk.
	Transcript string
	// SkipReady suppresses the ready event emitted on Open.
	SkipReady bool
	// EventBuffer overrides the events channel capacity.
	EventBuffer int
	// CloseDelay makes the first Close block, like a vendor flushing trailing results.
	CloseDelay time.Duration
}

// Provider is an in-memory STT provider that records its calls.
type Provider struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	streams []*Stream
	opens   int
	formats []audio.Format
}

func New(cfg Config) *Provider {
	return &Provider{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "mock_stt"),
	}
}

func (p *Provider) Name() string { return "mock" }

func (p *Provider) Open(ctx context.Context, format audio.Format) (stt.Stream, error) {
	p.mu.Lock()
	p.opens++
	p.formats = append(p.formats, format)
	p.mu.Unlock()
	if p.cfg.OpenErr != nil {
		return nil, p.cfg.OpenErr
	}
	s := &Stream{
		cfg:     p.cfg,
		emitter: stt.NewEmitter(p.cfg.EventBuffer, p.logger),
	}
	p.mu.Lock()
	p.streams = append(p.streams, s)
	p.mu.Unlock()
	if !p.cfg.SkipReady {
		s.emitter.Emit(stt.Event{Kind: stt.EventReady})
	}
	return s, nil
}

// Opens returns how many times Open was called.
func (p *Provider) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

// Formats returns the audio formats passed to Open, in call order.
func (p *Provider) Formats() []audio.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]audio.Format(nil), p.formats...)
}

// Streams returns every stream opened so far.
func (p *Provider) Streams() []*Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Stream(nil), p.streams...)
}

// Last returns the most recently opened stream, or nil.
func (p *Provider) Last() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

// Stream records pushed chunks and close calls.
type Stream struct {
	cfg     Config
	emitter *stt.Emitter

	mu     sync.Mutex
	chunks [][]byte
	closes int
	closed bool
	// pushErr, when set, is returned by PushAudio.
	pushErr error
}

func (s *Stream) PushAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return stt.ErrStreamClosed
	}
	if s.pushErr != nil {
		err := s.pushErr
		s.mu.Unlock()
		return err
	}
	s.chunks = append(s.chunks, append([]byte(nil), chunk...))
	s.mu.Unlock()
	if s.cfg.Transcript != "" {
		s.emitter.Emit(stt.Event{Kind: stt.EventTranscript, Text: s.cfg.Transcript, Final: true})
	}
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	s.closes++
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if !already {
		if s.cfg.CloseDelay > 0 {
			time.Sleep(s.cfg.CloseDelay)
		}
		s.emitter.Finish("closed by caller")
	}
	return nil
}

func (s *Stream) Events() <-chan stt.Event { return s.emitter.Events() }

// Emit injects a provider event as if the vendor had sent it.
func (s *Stream) Emit(evt stt.Event) bool {
	if evt.Kind == stt.EventClosed {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.emitter.Finish(evt.Detail)
		return true
	}
	return s.emitter.Emit(evt)
}

// FailPushes makes subsequent PushAudio calls return err.
func (s *Stream) FailPushes(err error) {
	if err == nil {
		err = errors.New("mock push failure")
	}
	s.mu.Lock()
	s.pushErr = err
	s.mu.Unlock()
}

// Chunks returns copies of the pushed chunks in order.
func (s *Stream) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.chunks))
	for i, c := range s.chunks {
		out[i] = append([]byte(nil), c...)
	}
	return out
}

// CloseCalls returns how many times Close was invoked.
func (s *Stream) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

var _ stt.Provider = (*Provider)(nil)
var _ stt.Stream = (*Stream)(nil)
