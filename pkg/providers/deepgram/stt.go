package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/siprtc-bridge/pkg/adapters/stt"
	"github.com/harunnryd/siprtc-bridge/pkg/audio"
	"github.com/harunnryd/siprtc-bridge/pkg/errorsx"
	"github.com/harunnryd/siprtc-bridge/pkg/logging"
	"github.com/harunnryd/siprtc-bridge/pkg/redact"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// Name is the provider key.
const Name = "deepgram"

// DefaultFormat is what the live client is opened with unless told otherwise.
func DefaultFormat() audio.Format { return audio.Mulaw(8000) }

// liveClient is the part of the SDK websocket client the adapter drives.
type liveClient interface {
	Connect() bool
	Stream(r io.Reader) error
	WriteJSON(payload any) error
	Stop()
}

type dialFunc func(ctx context.Context, apiKey string, cOpts *interfaces.ClientOptions, tOpts *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (liveClient, error)

func sdkDial(ctx context.Context, apiKey string, cOpts *interfaces.ClientOptions, tOpts *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (liveClient, error) {
	return client.NewWSUsingCallback(ctx, apiKey, cOpts, tOpts, cb)
}

type Provider struct {
	cfg    Config
	dial   dialFunc
	logger *slog.Logger
}

func New(cfg Config) *Provider {
	return &Provider{
		cfg:    cfg.withDefaults(),
		dial:   sdkDial,
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (p *Provider) Name() string { return Name }

// Open builds the live client and connects on a background goroutine.
func (p *Provider) Open(ctx context.Context, format audio.Format) (stt.Stream, error) {
	if p.cfg.APIKey == "" {
		return nil, errorsx.Wrap(
			fmt.Errorf("missing Deepgram credentials: %s: %w", EnvAPIKey, stt.ErrMissingCredentials),
			errorsx.ReasonMissingCredentials)
	}
	if err := format.Validate(); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonProviderOpen)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Stream{
		cfg:         p.cfg,
		sink:        audio.NewPushStream(),
		logger:      p.logger,
		ctx:         runCtx,
		cancel:      cancel,
		done:        make(chan struct{}),
		remoteClose: make(chan struct{}),
	}
	s.emitter = stt.NewEmitter(p.cfg.EventBuffer, p.logger)

	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          p.cfg.Model,
		Language:       p.cfg.Language,
		Encoding:       string(format.Encoding),
		SampleRate:     format.SampleRate,
		InterimResults: p.cfg.Interim,
		VadEvents:      p.cfg.Params.VADEvents,
		SmartFormat:    *p.cfg.SmartFormat,
	}
	if p.cfg.Params.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", p.cfg.Params.UtteranceEndMS)
	}

	p.logger.Info("initializing deepgram connection",
		slog.String("model", p.cfg.Model),
		slog.String("language", p.cfg.Language),
		slog.String("api_key", redact.Secret(p.cfg.APIKey)),
		slog.String("format", format.String()))

	cb := &callback{parent: s}
	c, err := p.dial(runCtx, p.cfg.APIKey, &interfaces.ClientOptions{EnableKeepAlive: true}, transcriptOptions, cb)
	if err != nil {
		cancel()
		p.logger.Error("deepgram_client_create_error", slog.String("error", err.Error()))
		return nil, errorsx.Wrap(fmt.Errorf("create deepgram client: %w", err), errorsx.ReasonProviderOpen)
	}
	s.client = c
	go s.run()
	return s, nil
}

// Stream feeds one Deepgram live transcription.
type Stream struct {
	cfg     Config
	client  liveClient
	sink    *audio.PushStream
	emitter *stt.Emitter
	logger  *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool

	remoteClose chan struct{}
	remoteOnce  sync.Once
	closeOnce   sync.Once
	metaLogged  atomic.Bool
}

func (s *Stream) run() {
	defer close(s.done)
	if !s.client.Connect() {
		s.logger.Error("deepgram_connect_failed",
			slog.String("reason_code", string(errorsx.ReasonProviderOpen)))
		s.emitter.Emit(stt.Event{Kind: stt.EventError, Detail: "deepgram connection failed"})
		_ = s.sink.Close()
		s.emitter.Finish("connect failed")
		return
	}
	s.connected.Store(true)
	s.logger.Info("deepgram_connected", slog.String("model", s.cfg.Model))

	if err := s.client.Stream(s.sink); err != nil && !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
		s.logger.Error("deepgram_stream_error",
			slog.String("reason_code", string(errorsx.ReasonProviderSend)),
			slog.String("error", err.Error()))
		s.emitter.Emit(stt.Event{Kind: stt.EventError, Detail: "stream: " + err.Error()})
	}
}

func (s *Stream) PushAudio(chunk []byte) error {
	if _, err := s.sink.Write(chunk); err != nil {
		if errors.Is(err, audio.ErrStreamClosed) {
			return stt.ErrStreamClosed
		}
		return errorsx.Wrap(err, errorsx.ReasonProviderSend)
	}
	return nil
}

func (s *Stream) Events() <-chan stt.Event { return s.emitter.Events() }

// Close ends the audio, asks Deepgram to flush with CloseStream, waits for the
// close callback or FinishTimeout, then stops the client.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("closing deepgram connection")
		_ = s.sink.Close()

		select {
		case <-s.done:
		case <-time.After(s.cfg.FinishTimeout):
		}
		if s.connected.Load() {
			if err := s.client.WriteJSON(map[string]string{"type": "CloseStream"}); err != nil {
				s.logger.Debug("deepgram_close_stream_failed", slog.String("error", err.Error()))
			}
			select {
			case <-s.remoteClose:
			case <-time.After(s.cfg.FinishTimeout):
				s.logger.Warn("deepgram_finish_timeout", slog.Duration("timeout", s.cfg.FinishTimeout))
			}
		}
		s.cancel()
		s.client.Stop()
		s.emitter.Finish("closed by caller")
	})
	return nil
}

// --- Callback Implementation ---

type callback struct {
	parent *Stream
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened")
	c.parent.emitter.Emit(stt.Event{Kind: stt.EventReady})
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	isFinal := mr.IsFinal || mr.SpeechFinal

	c.parent.logger.Debug("transcript_received",
		slog.String("transcript", redact.Text(transcript)),
		slog.Bool("is_final", isFinal))

	c.parent.emitter.Emit(stt.Event{Kind: stt.EventTranscript, Text: transcript, Final: isFinal})
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if c.parent.metaLogged.CompareAndSwap(false, true) {
		c.parent.logger.Info("deepgram_metadata_received",
			slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.parent.logger.Debug("speech_started_event")
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.logger.Debug("utterance_end_event",
		slog.Int("utterance_end_ms", c.parent.cfg.Params.UtteranceEndMS))
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed")
	c.parent.remoteOnce.Do(func() {
		close(c.parent.remoteClose)
		c.parent.emitter.Finish("closed by provider")
	})
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("reason_code", string(errorsx.ReasonProviderTransport)),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.emitter.Emit(stt.Event{Kind: stt.EventError, Detail: er.ErrCode + ": " + er.ErrMsg})
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event",
		slog.String("data", string(byData)))
	return nil
}

var _ stt.Provider = (*Provider)(nil)
var _ stt.Stream = (*Stream)(nil)
var _ msginterfaces.LiveMessageCallback = (*callback)(nil)
