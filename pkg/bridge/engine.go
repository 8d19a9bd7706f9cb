// Package bridge wires configuration, provider adapters, sinks and observers
// into a runnable media-stream server.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/harunnryd/siprtc-bridge/pkg/events"
	"github.com/harunnryd/siprtc-bridge/pkg/logging"
	"github.com/harunnryd/siprtc-bridge/pkg/metrics"
	"github.com/harunnryd/siprtc-bridge/pkg/redact"
	"github.com/harunnryd/siprtc-bridge/pkg/runner"
	"github.com/harunnryd/siprtc-bridge/pkg/session"
	"github.com/harunnryd/siprtc-bridge/pkg/transports/mediastream"
	"github.com/redis/go-redis/v9"
)

type Engine struct {
	cfg       Config
	providers *ProviderRegistry
	sessions  *session.Registry
	server    *mediastream.Server
	runner    *runner.LifecycleRunner
	prom      *metrics.PrometheusObserver
	asyncObs  *metrics.AsyncObserver
	redis     *events.RedisSink
	logger    *slog.Logger
}

type EngineOptions struct {
	Config Config
	// Providers defaults to a registry holding the built-in adapters.
	Providers *ProviderRegistry
	// Sinks and Observers are added next to the configured ones.
	Sinks     []events.Sink
	Observers []metrics.Observer
	// Banner receives the startup banner; nil disables it.
	Banner io.Writer
	Logger *slog.Logger
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)
	logger := logging.NewComponentLogger(base, "bridge")

	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
		RegisterBuiltins(providers)
	}
	for name, p := range cfg.Providers {
		providers.Configure(name, p.Settings)
	}
	if err := providers.Validate(); err != nil {
		return nil, err
	}
	if _, _, err := providers.Resolve(cfg.Server.DefaultProvider); err != nil {
		return nil, fmt.Errorf("server.default_provider: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		providers: providers,
		sessions:  session.NewRegistry(),
		logger:    logger,
	}

	observers := append([]metrics.Observer{}, opts.Observers...)
	var metricsHandler http.Handler
	if cfg.Metrics.Prometheus {
		e.prom = metrics.NewPrometheusObserver(cfg.Metrics.Namespace)
		observers = append(observers, e.prom)
		metricsHandler = e.prom.Handler()
	}
	if cfg.Metrics.LogEvents {
		logObs := metrics.NewLoggerObserver(logging.NewComponentLogger(base, "metrics"), slog.LevelDebug)
		observers = append(observers, metrics.NewSamplingObserver(logObs, cfg.Metrics.SampleRate))
	}
	var observer metrics.Observer = metrics.NoopObserver{}
	if len(observers) > 0 {
		e.asyncObs = metrics.NewAsyncObserver(metrics.NewMultiObserver(observers...), cfg.Metrics.AsyncBuffer)
		observer = e.asyncObs
	}

	sinks := append([]events.Sink{}, opts.Sinks...)
	if cfg.Events.Log {
		sinks = append(sinks, events.NewLogSink(logging.NewComponentLogger(base, "events")))
	}
	if addr := strings.TrimSpace(cfg.Events.Redis.Addr); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
		})
		e.redis = events.NewRedisSink(client, cfg.Events.Redis.Channel)
		sinks = append(sinks, e.redis)
	}
	var sink events.Sink = events.NoopSink{}
	if len(sinks) > 0 {
		sink = events.NewMultiSink(sinks...)
	}

	e.server = mediastream.New(cfg.Server, mediastream.Options{
		Resolver:       providers,
		Registry:       e.sessions,
		Sink:           sink,
		Observer:       observer,
		PublishTimeout: cfg.Session.PublishTimeout,
		MetricsHandler: metricsHandler,
		Logger:         base,
	})
	e.runner = runner.NewLifecycleRunner(runner.Options{
		Drainer: e.server,
		Hooks:   runner.Hooks{OnStop: e.release},
		Timeout: cfg.DrainTimeout,
		Banner:  opts.Banner,
		Logger:  base,
	})

	logger.Info("bridge_init",
		slog.String("environment", cfg.Environment),
		slog.String("default_provider", cfg.Server.DefaultProvider),
		slog.String("providers", strings.Join(providers.Names(), ",")),
		slog.Bool("prometheus", cfg.Metrics.Prometheus),
		slog.Bool("redis_events", e.redis != nil),
		slog.Bool("redact_pii", cfg.Privacy.RedactPII))
	return e, nil
}

// Start pings Redis when configured, binds the server and runs the lifecycle
// runner until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.redis != nil {
		if err := e.redis.Ping(ctx); err != nil {
			return err
		}
	}
	if err := e.server.Start(ctx); err != nil {
		return err
	}
	go func() {
		_ = e.runner.Run(ctx)
	}()
	return nil
}

// Stop drains every session and releases sinks and observers.
func (e *Engine) Stop() error {
	return e.runner.Stop()
}

func (e *Engine) release() {
	var errs []error
	if e.asyncObs != nil {
		e.asyncObs.Close()
		if n := e.asyncObs.Dropped(); n > 0 {
			e.logger.Warn("metrics_events_dropped", slog.Int64("count", n))
		}
	}
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	if err := errors.Join(errs...); err != nil {
		e.logger.Warn("bridge_release_failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Providers() *ProviderRegistry { return e.providers }

func (e *Engine) Sessions() *session.Registry { return e.sessions }

func (e *Engine) Server() *mediastream.Server { return e.server }

func (e *Engine) Prometheus() *metrics.PrometheusObserver { return e.prom }

func (e *Engine) Addr() string { return e.server.Addr() }

func (e *Engine) Health() error {
	if e.sessions.Draining() {
		return errors.New("draining")
	}
	return nil
}
