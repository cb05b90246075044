package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"SendQueue/internal/app"
	"SendQueue/internal/config"
)

func main() {

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := cfg.Logger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Warn("configuration incomplete; worker passes will be refused", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ------------------------------------------------
	// Store + Processor
	// ------------------------------------------------
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	if err := a.Migrate(ctx); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	// ------------------------------------------------
	// Triggers
	// ------------------------------------------------
	if err := a.Serve(ctx); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
	}
}
