package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"voicebridge/config"
	"voicebridge/internal/application"
	"voicebridge/internal/infra/appliance"
	"voicebridge/internal/infra/gemini"
	"voicebridge/internal/infra/web"
	"voicebridge/internal/metrics"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)

	apiKey := cfg.Gemini.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		logger.Error("no Gemini API key: set gemini.api_key or GEMINI_API_KEY")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	m := metrics.New()

	devices := appliance.NewClient(cfg.Appliance.BaseURL, cfg.ApplianceTimeout())
	tools := application.NewDispatcher(devices, cfg.ResolverParams(), m, logger)
	connector := gemini.NewConnector(apiKey, cfg.Gemini.Model)

	relayOpts := application.RelayOptions{
		Model:         cfg.Gemini.Model,
		QueueCapacity: cfg.Relay.AudioQueueSize,
		InitTimeout:   cfg.InitTimeout(),
	}

	server := web.NewServer(
		web.ServerConfig{Addr: cfg.Server.Addr, StaticDir: cfg.Server.StaticDir},
		connector,
		tools,
		devices,
		relayOpts,
		m,
		logger,
	)

	logger.Info("starting voice bridge",
		"addr", cfg.Server.Addr,
		"model", cfg.Gemini.Model,
		"appliance_api", cfg.Appliance.BaseURL,
	)

	if err := server.Start(ctx); err != nil {
		logger.Error("starting server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()

	if err := server.Stop(); err != nil {
		logger.Error("stopping server", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
