// Package cli holds the ledgerctl commands and the initialization they share.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"ledger/internal/api"
	"ledger/internal/blobcache"
	"ledger/internal/config"
	"ledger/internal/core"
	"ledger/internal/events"
	"ledger/internal/log"
	"ledger/internal/session"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as the file is optional.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from the configuration and makes it
// the slog default.
func SetupLogger(cfg *config.Config) *log.Logger {
	lc := log.DefaultConfig()
	lc.Level = log.ParseLevel(cfg.LogLevel)
	lc.Format = cfg.LogFormat
	logger := log.New(lc)
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig reads the environment and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewNotifier returns an AMQP publisher when AMQP_URL is set, otherwise a
// no-op.
func NewNotifier(cfg *config.Config, logger *log.Logger) events.Notifier {
	if cfg.AMQPURL == "" {
		return events.Noop{}
	}
	logger.Info("Publishing lifecycle events", "exchange", cfg.AMQPExchange, "routing_key", cfg.AMQPRoutingKey)
	return events.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey, logger)
}

// NewSession builds a session against the configured backend. Authorization
// failures are logged; re-authentication is left to the operator.
func NewSession(cfg *config.Config, logger *log.Logger, monthID int64, onProgress func(int, float64)) (*session.Session, error) {
	client, err := api.New(api.Options{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		Timeout: cfg.HTTPTimeout,
		Logger:  logger,
		OnUnauthorized: func(e *core.AuthorizationError) {
			logger.Error("Backend rejected credentials", log.FieldStatusCode, e.Status, log.FieldError, e.Message)
		},
	})
	if err != nil {
		return nil, err
	}

	var mat blobcache.Materializer
	if cfg.BlobStore == "tempfile" {
		mat = blobcache.TempDir(cfg.BlobDir)
	} else {
		mat = blobcache.Memory()
	}

	return session.New(client, session.Options{
		Role:           core.ParseRole(cfg.Role),
		MonthID:        monthID,
		Materializer:   mat,
		Notifier:       NewNotifier(cfg, logger),
		Logger:         logger,
		OnFileProgress: onProgress,
	}), nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context, logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}
