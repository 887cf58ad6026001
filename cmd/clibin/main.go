package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clibin/internal/config"
	"clibin/internal/highlight"
	"clibin/internal/httpserver"
	"clibin/internal/id"
	"clibin/internal/paste"
	"clibin/internal/security"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "clibin: %v\n", err)
		os.Exit(2)
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("clibin stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	defer store.Close()

	svc, err := paste.NewService(store, paste.Config{
		Generator:  id.New(cfg.Paste.IDLength),
		MaxSize:    cfg.Paste.MaxSize,
		DefaultTTL: cfg.Paste.DefaultTTL,
		MaxTTL:     cfg.Paste.MaxTTL,
		IDAttempts: cfg.Paste.IDAttempts,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("construct paste service: %w", err)
	}

	secret, err := security.ParseSecret(cfg.Limit.KeySecret)
	if err != nil {
		return err
	}
	keyer, err := security.NewClientKeyer(secret)
	if err != nil {
		return err
	}
	limiter, err := httpserver.NewRateLimiter(cfg.Limit.Requests, cfg.Limit.Window, cfg.Limit.Clients, keyer)
	if err != nil {
		return fmt.Errorf("construct rate limiter: %w", err)
	}

	srv, err := httpserver.New(httpserver.Config{
		Pastes: svc,
		Highlighter: highlight.New(highlight.Options{
			Style:       cfg.Highlight.Style,
			LineNumbers: cfg.Highlight.LineNumbers,
		}),
		RateLimiter:   limiter,
		TrustProxy:    cfg.Server.BehindProxy,
		BaseURL:       cfg.Server.BaseURL,
		InsecureLinks: cfg.Server.InsecureLinks,
		Metrics:       cfg.Server.Metrics,
		DefaultTTL:    cfg.Paste.DefaultTTL,
		MaxTTL:        cfg.Paste.MaxTTL,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	janitorDone := paste.NewJanitor(store, paste.JanitorConfig{
		Interval: cfg.Janitor.Interval,
		Logger:   logger,
	}).Start(ctx)

	srvHTTP := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "backend", cfg.Storage.Backend)
		if err := srvHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	stopJanitor(ctx, janitorDone)
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// stopJanitor waits for the janitor to finish its current record. When the
// server failed on its own the signal context is still live, so the janitor
// is not waited for.
func stopJanitor(ctx context.Context, done <-chan struct{}) {
	if ctx.Err() == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(10 * time.Second):
	}
}

func loadConfig() (*config.Config, error) {
	var (
		path = flag.String("config", "clibin.ini", "path to INI config file (optional)")
		addr = flag.String("addr", "", "listen address (overrides config)")
		data = flag.String("data", "", "data directory or database file (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		return nil, err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *data != "" {
		if cfg.Storage.Backend == config.BackendFilesystem {
			cfg.Storage.Dir = *data
		} else {
			cfg.Storage.Path = *data
		}
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
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
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
