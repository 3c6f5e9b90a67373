package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marmos91/gridauth/internal/logger"
)

// Stopper is the part of Server the shutdown hook needs.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Flusher is a log sink that can be flushed and closed.
type Flusher interface {
	Sync() error
	Close() error
}

// ShutdownHook performs best-effort cleanup when the process is asked to
// terminate. Cleanup failures are logged and never change the exit code.
type ShutdownHook struct {
	Service Stopper

	// Sink is flushed and closed last so the shutdown itself is logged.
	// May be nil.
	Sink Flusher

	// Timeout bounds how long Run waits for sessions to drain. Zero waits
	// until they finish.
	Timeout time.Duration

	// Cleanup functions run after Stop and before the sink is closed
	// (telemetry flush, store close). Errors are logged.
	Cleanup []func(context.Context) error
}

// Run stops the service and releases the log sink. It always returns 0, the
// exit code for a requested termination.
func (h *ShutdownHook) Run(reason string) int {
	logger.Info("Shutting down", logger.KeyReason, reason)

	ctx := context.Background()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	if h.Service != nil {
		if err := h.Service.Stop(ctx); err != nil {
			logger.Error("Error stopping authentication service", logger.Err(err))
		}
	}

	for _, fn := range h.Cleanup {
		if err := fn(ctx); err != nil {
			logger.Warn("Cleanup failed during shutdown", logger.Err(err))
		}
	}

	if h.Sink != nil {
		if err := h.Sink.Sync(); err != nil {
			logger.Warn("Failed to flush log sink", logger.Err(err))
		}
		if err := h.Sink.Close(); err != nil {
			// The sink is gone; report on stderr directly.
			_, _ = os.Stderr.WriteString("failed to close log sink: " + err.Error() + "\n")
		}
	}
	return 0
}

// WaitForSignal blocks until SIGINT or SIGTERM arrives or ctx ends, and
// returns a description of what happened.
func WaitForSignal(ctx context.Context) string {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return "received signal " + sig.String()
	case <-ctx.Done():
		return ctx.Err().Error()
	}
}
