// Package shutdown provides graceful shutdown handling.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// CleanupFunc is a function called during shutdown.
type CleanupFunc func(ctx context.Context) error

type namedCleanup struct {
	name string
	fn   CleanupFunc
}

// Handler runs registered cleanups in reverse registration order.
type Handler struct {
	logger   *slog.Logger
	timeout  time.Duration
	mu       sync.Mutex
	cleanups []namedCleanup
	once     sync.Once
	err      error
}

// New creates a new shutdown handler.
func New(logger *slog.Logger, timeout time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, timeout: timeout}
}

// RegisterNamed adds a cleanup identified by name in logs.
func (h *Handler) RegisterNamed(name string, fn CleanupFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanups = append(h.cleanups, namedCleanup{name: name, fn: fn})
}

// Wait blocks until a termination signal arrives or ctx is cancelled, then shuts down.
func (h *Handler) Wait(ctx context.Context) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		h.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		h.logger.Info("shutdown requested", "reason", ctx.Err())
	}

	return h.Shutdown()
}

// Shutdown runs every cleanup once, last registered first, within the configured timeout.
func (h *Handler) Shutdown() error {
	h.once.Do(func() {
		h.err = h.runCleanups()
	})
	return h.err
}

func (h *Handler) runCleanups() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	cleanups := make([]namedCleanup, len(h.cleanups))
	copy(cleanups, h.cleanups)
	h.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: skipped: %w", c.name, ctx.Err()))
			continue
		}

		h.logger.Info("shutting down component", "component", c.name)
		if err := c.fn(ctx); err != nil {
			h.logger.Error("error shutting down component", "component", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
	}

	if ctx.Err() != nil {
		h.logger.Warn("shutdown timed out")
	} else {
		h.logger.Info("graceful shutdown completed")
	}
	return errors.Join(errs...)
}
