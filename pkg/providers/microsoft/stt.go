// Package microsoft streams audio to the Azure Speech service over its
// WebSocket recognition protocol and normalizes the results into stt events.
package microsoft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/siprtc-bridge/pkg/adapters/stt"
	"github.com/harunnryd/siprtc-bridge/pkg/audio"
	"github.com/harunnryd/siprtc-bridge/pkg/errorsx"
	"github.com/harunnryd/siprtc-bridge/pkg/logging"
	"github.com/harunnryd/siprtc-bridge/pkg/redact"
	"github.com/harunnryd/siprtc-bridge/pkg/resilience"
)

// Name is the provider key.
const Name = "microsoft"

// DefaultFormat is what the recognizer is opened with unless told otherwise.
func DefaultFormat() audio.Format { return audio.PCM16(8000) }

type Provider struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Provider {
	return &Provider{
		cfg:    cfg.withDefaults(),
		logger: logging.NewComponentLogger(slog.Default(), "microsoft_stt"),
	}
}

func (p *Provider) Name() string { return Name }

// Open validates credentials and starts continuous recognition in the
// background. It performs no network I/O itself.
func (p *Provider) Open(ctx context.Context, format audio.Format) (stt.Stream, error) {
	if err := p.cfg.checkCredentials(); err != nil {
		return nil, err
	}
	if err := format.Validate(); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonProviderOpen)
	}
	endpoint, err := p.cfg.url()
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonProviderOpen)
	}
	header, err := audio.WAVHeader(format)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonProviderOpen)
	}

	connectionID := strings.ReplaceAll(uuid.NewString(), "-", "")
	logger := p.logger.With(slog.String("connection_id", connectionID))
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Stream{
		cfg:          p.cfg,
		endpoint:     endpoint,
		connectionID: connectionID,
		requestID:    newRequestID(),
		restart:      make(chan struct{}, 1),
		wavHeader:    header,
		sink:         audio.NewPushStream(),
		emitter:      stt.NewEmitter(p.cfg.EventBuffer, logger),
		logger:       logger,
		ctx:          runCtx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	logger.Info("microsoft_recognition_starting",
		slog.String("region", p.cfg.Region),
		slog.String("language", p.cfg.Language),
		slog.String("key", redact.Secret(p.cfg.Key)),
		slog.String("format", format.String()))
	go s.run()
	return s, nil
}

// Stream is one continuous recognition session. Audio is buffered in a push
// stream and written by a single goroutine, so PushAudio never waits on the
// network.
type Stream struct {
	cfg          Config
	endpoint     string
	connectionID string
	requestID    string
	wavHeader    []byte

	// restart is signalled when the service ends a turn before the audio
	// stream is over; the writer then opens a new turn.
	restart chan struct{}
	eosSent atomic.Bool

	sink    *audio.PushStream
	emitter *stt.Emitter
	logger  *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	detail string
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

// Close ends the audio stream and waits, up to StopTimeout, for the service
// to deliver trailing phrases and end the turn.
func (s *Stream) Close() error {
	_ = s.sink.Close()
	s.stopOnce.Do(func() {
		timer := time.NewTimer(s.cfg.StopTimeout)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			s.logger.Warn("microsoft_stop_timeout", slog.Duration("timeout", s.cfg.StopTimeout))
			s.setDetail("stop timeout")
			s.cancel()
			<-s.done
		}
	})
	return nil
}

func (s *Stream) setDetail(detail string) {
	s.mu.Lock()
	if s.detail == "" {
		s.detail = detail
	}
	s.mu.Unlock()
}

func (s *Stream) closedDetail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detail == "" {
		return "recognition stopped"
	}
	return s.detail
}

func (s *Stream) emitError(detail string) {
	s.emitter.Emit(stt.Event{Kind: stt.EventError, Detail: detail})
}

func (s *Stream) run() {
	defer func() { s.emitter.Finish(s.closedDetail()) }()
	defer close(s.done)
	defer s.cancel()

	conn, err := s.dial()
	if err != nil {
		s.logger.Error("microsoft_connect_failed",
			slog.String("reason_code", string(errorsx.ReasonProviderOpen)),
			slog.String("error", err.Error()))
		s.emitError("connect: " + err.Error())
		s.setDetail("connect failed")
		_ = s.sink.Close()
		return
	}
	defer conn.Close()

	// Unblock a pending read when the stream is cancelled.
	go func() {
		<-s.ctx.Done()
		_ = conn.Close()
	}()

	s.logger.Info("microsoft_connected")
	s.emitter.Emit(stt.Event{Kind: stt.EventReady})

	if err := conn.WriteMessage(websocket.TextMessage, speechConfigMessage(s.requestID)); err != nil {
		s.emitError("send speech.config: " + err.Error())
		s.setDetail("send failed")
		_ = s.sink.Close()
		return
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		s.readLoop(conn)
		// Nothing more will be recognized; refuse further audio.
		_ = s.sink.Close()
	}()

	err = s.writeLoop(conn)
	if errors.Is(err, errTurnsComplete) {
		s.setDetail("turn ended")
		s.cancel()
	} else if err != nil && s.ctx.Err() == nil && !closed(readDone) {
		s.logger.Warn("microsoft_write_failed",
			slog.String("reason_code", string(errorsx.ReasonProviderSend)),
			slog.String("error", err.Error()))
		s.emitError("send audio: " + err.Error())
		s.setDetail("send failed")
		s.cancel()
	}

	select {
	case <-readDone:
	case <-s.ctx.Done():
		<-readDone
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (s *Stream) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}
	header := http.Header{}
	header.Set("Ocp-Apim-Subscription-Key", s.cfg.Key)
	header.Set("X-ConnectionId", s.connectionID)

	var conn *websocket.Conn
	policy := resilience.NewRetryPolicy(s.cfg.DialRetries, s.cfg.DialBackoff)
	attempt := 0
	err := policy.DoContext(s.ctx, func(ctx context.Context) error {
		attempt++
		c, resp, err := dialer.DialContext(ctx, s.endpoint, header)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			s.logger.Warn("microsoft_dial_attempt_failed",
				slog.Int("attempt", attempt),
				slog.Int("status", status),
				slog.String("error", err.Error()))
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("dial speech service: %w", err), errorsx.ReasonProviderOpen)
	}
	return conn, nil
}

// errTurnsComplete means the service ended the last turn and no audio
// followed, so there is nothing left to flush.
var errTurnsComplete = errors.New("recognition turns complete")

func newRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// takeRestart reports whether the service ended a turn since the last call.
func (s *Stream) takeRestart() bool {
	select {
	case <-s.restart:
		return true
	default:
		return false
	}
}

// writeLoop sends buffered audio until the sink is closed and drained, then
// sends the empty end-of-stream audio message. A turn ended by the service
// mid-stream is followed by a new speech.config, request ID and WAV header.
func (s *Stream) writeLoop(conn *websocket.Conn) error {
	requestID := s.requestID
	first := true
	for {
		chunk, err := s.sink.ReadChunk()
		if errors.Is(err, io.EOF) {
			if s.ctx.Err() != nil {
				return nil
			}
			if s.takeRestart() {
				return errTurnsComplete
			}
			msg, err := audioMessage(requestID, nil)
			if err != nil {
				return err
			}
			s.eosSent.Store(true)
			return conn.WriteMessage(websocket.BinaryMessage, msg)
		}
		if err != nil {
			return err
		}
		if s.takeRestart() {
			requestID = newRequestID()
			if err := conn.WriteMessage(websocket.TextMessage, speechConfigMessage(requestID)); err != nil {
				return err
			}
			s.logger.Info("microsoft_turn_restarted", slog.String("request_id", requestID))
			first = true
		}
		if first {
			chunk = append(append([]byte(nil), s.wavHeader...), chunk...)
			first = false
		}
		msg, err := audioMessage(requestID, chunk)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return err
		}
	}
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.logger.Warn("microsoft_read_failed",
					slog.String("reason_code", string(errorsx.ReasonProviderTransport)),
					slog.String("error", err.Error()))
				s.emitError("receive: " + err.Error())
				s.setDetail("connection lost")
			} else {
				s.setDetail("connection closed")
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		msg, err := parseTextMessage(data)
		if err != nil {
			s.logger.Debug("microsoft_message_unparsed", slog.String("error", err.Error()))
			continue
		}
		if turnEnded := s.handle(msg); turnEnded {
			if s.eosSent.Load() {
				s.setDetail("turn ended")
				return
			}
			select {
			case s.restart <- struct{}{}:
			default:
			}
		}
	}
}

// handle maps one service message onto events. It returns true on turn.end.
// Only the turn that answers the end-of-stream message ends recognition.
func (s *Stream) handle(msg inbound) bool {
	switch msg.Path {
	case pathTurnStart:
		var ts turnStartResult
		_ = json.Unmarshal(msg.Body, &ts)
		s.logger.Debug("microsoft_turn_start", slog.String("service_tag", ts.Context.ServiceTag))
	case pathHypothesis:
		if !s.cfg.Interim {
			return false
		}
		var h hypothesisResult
		if err := json.Unmarshal(msg.Body, &h); err != nil || h.Text == "" {
			return false
		}
		s.emitter.Emit(stt.Event{Kind: stt.EventTranscript, Text: h.Text, Final: false})
	case pathPhrase:
		var p phraseResult
		if err := json.Unmarshal(msg.Body, &p); err != nil {
			s.emitError("decode speech.phrase: " + err.Error())
			return false
		}
		switch p.RecognitionStatus {
		case statusSuccess:
			if p.DisplayText != "" {
				s.logger.Debug("microsoft_phrase", slog.String("text", redact.Text(p.DisplayText)))
				s.emitter.Emit(stt.Event{Kind: stt.EventTranscript, Text: p.DisplayText, Final: true})
			}
		case statusError:
			s.emitError("recognition canceled: " + p.RecognitionStatus)
		default:
			s.logger.Debug("microsoft_phrase_status", slog.String("status", p.RecognitionStatus))
		}
	case pathStartDetect, pathEndDetect:
		s.logger.Debug("microsoft_speech_boundary", slog.String("path", msg.Path))
	case pathTurnEnd:
		return true
	default:
		s.logger.Debug("microsoft_message_ignored", slog.String("path", msg.Path))
	}
	return false
}

var _ stt.Provider = (*Provider)(nil)
var _ stt.Stream = (*Stream)(nil)
