package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/harunnryd/siprtc-bridge/pkg/bridge"
	"github.com/harunnryd/siprtc-bridge/pkg/logging"
	"github.com/harunnryd/siprtc-bridge/pkg/redact"
)

func main() {
	configPath := flag.String("config", "", "path to bridge YAML config")
	addr := flag.String("addr", "", "listen address override")
	provider := flag.String("provider", "", "default STT provider override")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("config_error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.ServerAddr = *addr
	}
	if *provider != "" {
		cfg.Server.DefaultProvider = *provider
	}

	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	if cfg.Server.AuthToken != "" {
		logger.Debug("twilio_auth_configured",
			slog.String("account_sid", cfg.Server.AccountSID),
			slog.String("auth_token", redact.Secret(cfg.Server.AuthToken)))
	}

	engine, err := bridge.NewEngine(bridge.EngineOptions{
		Config: cfg,
		Banner: os.Stdout,
		Logger: logger,
	})
	if err != nil {
		logger.Error("engine_init_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := engine.Start(ctx); err != nil {
		logger.Error("engine_start_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	<-ctx.Done()
	logger.Info("shutdown_signal")
	if err := engine.Stop(); err != nil {
		logger.Error("engine_stop_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func loadConfig(path string) (bridge.Config, error) {
	if path == "" {
		return bridge.DefaultConfig()
	}
	return bridge.LoadConfig(path)
}
