package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/anf-aiops/opsbot/pkg/config"
)

const shutdownTimeout = 15 * time.Second

// runServer serves until ctx is cancelled, then drains in-flight requests and
// the audit queue.
func runServer(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) int {
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "%sInvalid configuration:%s %v\n", ColorBold+ColorRed, ColorReset, err)
		return 1
	}

	fmt.Fprintf(stdout, "%sANF ops bot starting...%s\n", ColorBold+ColorBlue, ColorReset)
	svc, err := NewServices(ctx, cfg, logger)
	if err != nil {
		logger.ErrorContext(ctx, "startup failed", "error", err)
		return 1
	}

	bgCtx, cancelBg := context.WithCancel(context.WithoutCancel(ctx))
	svc.Start(bgCtx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return bgCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	code := 0
	select {
	case <-ctx.Done():
		logger.InfoContext(ctx, "shutdown requested")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "server failed", "error", err)
			code = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "http shutdown", "error", err)
		code = 1
	}
	cancelBg()
	if err := svc.Close(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "subsystem shutdown", "error", err)
		code = 1
	}
	if n := svc.Audit.Dropped(); n > 0 {
		logger.WarnContext(shutdownCtx, "audit events dropped", "count", n)
	}
	logger.InfoContext(shutdownCtx, "stopped")
	return code
}
