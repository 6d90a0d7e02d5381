// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "custody-ledger/internal"
)

const shutdownGrace = 30 * time.Second

func main() {
	application := app.NewApplication()
	if err := run(application); err != nil {
		logger := application.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("Custody ledger exited", "error", err)
		os.Exit(1)
	}
}

// run serves HTTP and drives the settlement jobs until SIGINT/SIGTERM or a server
// failure, then drains both before closing infrastructure.
func run(application *app.Application) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Initialize(ctx); err != nil {
		_ = application.Shutdown(context.Background())
		return fmt.Errorf("initialize: %w", err)
	}
	if err := application.Scheduler.Start(); err != nil {
		_ = application.Shutdown(context.Background())
		return fmt.Errorf("start scheduler: %w", err)
	}

	// Settlements wait on external transfers, so writes get a long deadline.
	server := &http.Server{
		Addr:              ":" + application.Config.ServerPort,
		Handler:           application.HTTPHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		application.Logger.Info("Custody ledger listening", "port", application.Config.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var failure error
	select {
	case <-ctx.Done():
		application.Logger.Info("Shutdown signal received")
	case err := <-serveErr:
		failure = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		failure = errors.Join(failure, fmt.Errorf("http shutdown: %w", err))
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		failure = errors.Join(failure, fmt.Errorf("application shutdown: %w", err))
	}
	if failure == nil {
		application.Logger.Info("Custody ledger stopped")
	}
	return failure
}
