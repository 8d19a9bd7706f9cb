// Package mediastream is the bridge's network entry point: one WebSocket per
// gateway call carrying the start/media/stop envelope, plus the TwiML voice
// webhook, health and metrics endpoints.
package mediastream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
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
	"github.com/harunnryd/siprtc-bridge/pkg/events"
	"github.com/harunnryd/siprtc-bridge/pkg/logging"
	"github.com/harunnryd/siprtc-bridge/pkg/metrics"
	"github.com/harunnryd/siprtc-bridge/pkg/session"
)

// ProviderResolver returns the provider and audio format for a provider key.
// Unknown keys yield an error with reason unsupported_provider.
type ProviderResolver interface {
	Resolve(name string) (stt.Provider, audio.Format, error)
}

type Options struct {
	Resolver       ProviderResolver
	Registry       *session.Registry
	Sink           events.Sink
	Observer       metrics.Observer
	PublishTimeout time.Duration
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

type Server struct {
	cfg      Config
	resolver ProviderResolver
	sessions *session.Registry
	sink     events.Sink
	observer metrics.Observer
	timeout  time.Duration
	metrics  http.Handler
	logger   *slog.Logger
	upgrader websocket.Upgrader

	server   *http.Server
	listener net.Listener
	draining atomic.Bool

	mu    sync.Mutex
	conns map[string]*websocket.Conn
	wg    sync.WaitGroup
}

func New(cfg Config, opts Options) *Server {
	cfg = cfg.withDefaults()
	if opts.Registry == nil {
		opts.Registry = session.NewRegistry()
	}
	if opts.Sink == nil {
		opts.Sink = events.NoopSink{}
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		resolver: opts.Resolver,
		sessions: opts.Registry,
		sink:     opts.Sink,
		observer: opts.Observer,
		timeout:  opts.PublishTimeout,
		metrics:  opts.MetricsHandler,
		logger:   logging.NewComponentLogger(base, "mediastream"),
		conns:    make(map[string]*websocket.Conn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Name() string { return "mediastream" }

// Sessions exposes the live session registry.
func (s *Server) Sessions() *session.Registry { return s.sessions }

// Handler returns the HTTP routes served by the bridge.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.VoicePath, s.handleVoice)
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle(s.cfg.MetricsPath, s.metrics)
	}
	mux.HandleFunc(s.cfg.WebsocketPath, s.handleStream)
	if !strings.HasSuffix(s.cfg.WebsocketPath, "/") {
		mux.HandleFunc(s.cfg.WebsocketPath+"/", s.handleStream)
	}
	return mux
}

// Start binds ServerAddr and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", s.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ServerAddr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("mediastream_server_error", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("mediastream_listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("ws_path", s.cfg.WebsocketPath),
		slog.String("voice_webhook", s.cfg.voiceWebhookURL()),
		slog.String("default_provider", s.cfg.DefaultProvider))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains: new upgrades get 503, every live session is shut down with
// server_drain, connections are closed with 1001, then the HTTP server stops.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	first := s.draining.CompareAndSwap(false, true)
	s.mu.Unlock()
	if !first {
		return nil
	}
	s.sessions.SetDraining(true)
	n := s.sessions.CloseAll(session.TriggerServerDrain)
	s.logger.Info("mediastream_draining", slog.Int("sessions", n))

	s.mu.Lock()
	for _, conn := range s.conns {
		_ = closeWith(conn, websocket.CloseGoingAway, "server shutting down")
		_ = conn.Close()
	}
	s.mu.Unlock()

	var errs []error
	if !s.sessions.WaitForEmpty(ctx, 50*time.Millisecond) {
		errs = append(errs, fmt.Errorf("drain: %d sessions still open", s.sessions.Count()))
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Drain implements runner.Drainer.
func (s *Server) Drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Stop(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// providerFor picks the provider key: ?provider= first, then a path segment
// after the WebSocket path, then the configured default.
func (s *Server) providerFor(r *http.Request) string {
	if p := strings.TrimSpace(r.URL.Query().Get("provider")); p != "" {
		return strings.ToLower(p)
	}
	rest := strings.TrimPrefix(r.URL.Path, strings.TrimRight(s.cfg.WebsocketPath, "/"))
	rest = strings.Trim(rest, "/")
	if rest != "" && !strings.Contains(rest, "/") {
		return strings.ToLower(rest)
	}
	return s.cfg.DefaultProvider
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.admit() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()
	providerName := s.providerFor(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("mediastream_upgrade_failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.cfg.ReadLimit)

	id := uuid.NewString()
	logger := s.logger.With(slog.String("session_id", id), slog.String("provider", providerName))

	if s.resolver == nil {
		_ = closeWith(conn, websocket.CloseInternalServerErr, "no providers configured")
		return
	}
	provider, format, err := s.resolver.Resolve(providerName)
	if err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonUnsupportedProvider)
		logger.Warn("session_rejected",
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		s.observer.RecordEvent(metrics.NewEvent(metrics.EventSessionFailed, 1, map[string]string{
			metrics.TagProvider: "unknown",
			metrics.TagReason:   string(errorsx.Reason(err)),
		}))
		_ = closeWith(conn, CloseCode(err), err.Error())
		return
	}

	ctrl := session.New(session.Config{
		ID:             id,
		Provider:       provider,
		Format:         format,
		Sink:           s.sink,
		Observer:       s.observer,
		PublishTimeout: s.timeout,
		Logger:         s.logger,
		OnDone:         func(c *session.Controller) { s.sessions.Remove(c.ID()) },
	})
	if !s.sessions.Add(ctrl) {
		_ = closeWith(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	if !s.track(id, conn) {
		ctrl.Shutdown(session.TriggerServerDrain)
		_ = closeWith(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.untrack(id)

	logger.Info("mediastream_connected", slog.String("remote_addr", r.RemoteAddr))
	if err := ctrl.Start(r.Context()); err != nil {
		if errors.Is(err, session.ErrClosedDuringOpen) {
			return
		}
		_ = closeWith(conn, CloseCode(err), err.Error())
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(s.cfg.Greeting)); err != nil {
		logger.Warn("mediastream_greeting_failed", slog.String("error", err.Error()))
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info("mediastream_read_closed", slog.String("error", err.Error()))
			}
			break
		}
		ctrl.HandleMessage(data)
	}
	ctrl.Shutdown(session.TriggerTransportClosed)
}

// admit counts a handler in before the drain flag can flip, so Stop's wait
// covers every handler it did not refuse.
func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// track refuses once draining has started, since Stop may already have
// swept the connection set.
func (s *Server) track(id string, conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining.Load() {
		return false
	}
	s.conns[id] = conn
	return true
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range s.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}
