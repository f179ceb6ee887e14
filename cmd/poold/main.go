package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	poolcfg "basketpool/config"
	"basketpool/core/events"
	"basketpool/integrations/audit"
	"basketpool/integrations/webhooks"
	"basketpool/observability/logging"
	"basketpool/observability/metrics"
	telemetry "basketpool/observability/otel"
	"basketpool/services/poold"
	"basketpool/services/poold/auth"
	"basketpool/services/poold/config"
	"basketpool/services/poold/server"
	"basketpool/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "poold.yaml", "path to poold config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logCloser := logging.SetupWithOptions("poold", cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		LogFile:    cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	err = run(cfg, logger)
	if err != nil {
		logger.Error("poold exited", "error", err)
	}
	_ = logCloser.Close()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("configuration loaded", "config", cfg.Sanitized())

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "poold",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	genesis, err := poolcfg.Load(cfg.Genesis)
	if err != nil {
		return err
	}

	var store *audit.Store
	if cfg.Audit.DSN != "" {
		store, err = audit.Open(cfg.Audit.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	var sinks []events.Emitter
	if cfg.Webhook.URL != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.URL, []byte(cfg.Webhook.Secret),
			webhooks.WithEventTypes(cfg.Webhook.Events...))
		if err != nil {
			return err
		}
		defer func() {
			dispatcher.Close()
			logger.Info("webhook dispatcher stopped", "dropped", dispatcher.Dropped(), "failed", dispatcher.Failed())
		}()
		sinks = append(sinks, dispatcher)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStorage(genesis)
	if err != nil {
		return err
	}
	svc, err := poold.New(ctx, poold.Options{
		Pool:         genesis,
		DB:           db,
		TimeUnit:     cfg.TimeUnit,
		Logger:       logger,
		Metrics:      metrics.Pool(),
		Audit:        store,
		Sinks:        sinks,
		StreamBuffer: cfg.Stream.Buffer,
	})
	if err != nil {
		db.Close()
		return err
	}
	// Close releases the database as well.
	defer svc.Close()

	for _, rc := range cfg.FlashReceivers {
		account, err := poolcfg.ParseAddress(rc.Account)
		if err != nil {
			return err
		}
		if err := svc.RegisterFlashReceiver(rc.Name, svc.NewRepayingReceiver(account)); err != nil {
			return err
		}
	}

	verifier, err := auth.NewVerifier(auth.Options{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		MaxSkew:  cfg.Auth.MaxSkew,
	})
	if err != nil {
		return err
	}

	api := server.New(server.Config{
		Service:  svc,
		Verifier: verifier,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger:        logger,
		AnonymousRead: cfg.Auth.AnonymousRead,
	})
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("poold listening", "addr", cfg.Listen, "height", svc.Height())
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func openStorage(genesis *poolcfg.Config) (storage.Database, error) {
	backend := strings.ToLower(strings.TrimSpace(genesis.StorageBackend))
	path := genesis.DataDir
	if backend != storage.BackendMemory {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
	}
	if backend == storage.BackendBolt {
		path = filepath.Join(path, "pool.bolt")
	}
	return storage.Open(backend, path)
}
