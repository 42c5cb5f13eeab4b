// Package server provides graceful shutdown for the sync worker
package server

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Shutdownable represents a component that can be gracefully shut down
type Shutdownable interface {
	Shutdown(ctx context.Context) error
	Name() string
}

// ShutdownFunc wraps a function to implement Shutdownable
type ShutdownFunc struct {
	name string
	fn   func(context.Context) error
}

// NewShutdownFunc creates a Shutdownable from a function
func NewShutdownFunc(name string, fn func(context.Context) error) *ShutdownFunc {
	return &ShutdownFunc{name: name, fn: fn}
}

// Name returns the component name
func (s *ShutdownFunc) Name() string {
	return s.name
}

// Shutdown calls the wrapped function
func (s *ShutdownFunc) Shutdown(ctx context.Context) error {
	return s.fn(ctx)
}

// Config holds configuration for graceful shutdown
type Config struct {
	Server          *http.Server
	Logger          *zap.Logger
	ShutdownTimeout time.Duration
	// Listen starts Server; defaults to plain ListenAndServe
	Listen func(*http.Server) error
}

// GracefulShutdown stops the HTTP listener and then the registered components.
// Components are stopped one by one in registration order, so the scheduler
// can drain running syncs before the stores they write to are closed.
type GracefulShutdown struct {
	server          *http.Server
	logger          *zap.Logger
	shutdownTimeout time.Duration
	listen          func(*http.Server) error

	mu            sync.Mutex
	shutdownables []Shutdownable
}

// New creates a new GracefulShutdown manager
func New(cfg Config) *GracefulShutdown {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Listen == nil {
		cfg.Listen = (*http.Server).ListenAndServe
	}

	return &GracefulShutdown{
		server:          cfg.Server,
		logger:          cfg.Logger,
		shutdownTimeout: cfg.ShutdownTimeout,
		listen:          cfg.Listen,
	}
}

// Add appends a component to the shutdown sequence
func (g *GracefulShutdown) Add(s Shutdownable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shutdownables = append(g.shutdownables, s)
}

// AddFunc appends a shutdown function to the shutdown sequence
func (g *GracefulShutdown) AddFunc(name string, fn func(context.Context) error) {
	g.Add(NewShutdownFunc(name, fn))
}

// ListenAndServe serves HTTP until SIGINT/SIGTERM or ctx is done, then shuts down
func (g *GracefulShutdown) ListenAndServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	serveErr := make(chan error, 1)
	if g.server != nil {
		go func() {
			g.logger.Info("Server listening", zap.String("addr", g.server.Addr))
			if err := g.listen(g.server); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		g.logger.Info("Received shutdown signal")
	case err = <-serveErr:
		g.logger.Error("Server error", zap.Error(err))
	}

	g.Shutdown()
	return err
}

// Shutdown runs the shutdown sequence within the configured timeout
func (g *GracefulShutdown) Shutdown() {
	g.logger.Info("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), g.shutdownTimeout)
	defer cancel()

	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Warn("HTTP server shutdown incomplete, forcing close", zap.Error(err))
			_ = g.server.Close()
		}
	}

	g.mu.Lock()
	components := make([]Shutdownable, len(g.shutdownables))
	copy(components, g.shutdownables)
	g.mu.Unlock()

	for _, c := range components {
		if err := c.Shutdown(ctx); err != nil {
			g.logger.Error("Error shutting down component",
				zap.String("component", c.Name()),
				zap.Error(err))
			continue
		}
		g.logger.Info("Component shutdown complete", zap.String("component", c.Name()))
	}

	g.logger.Info("Graceful shutdown complete")
}

// CloseDB returns a Shutdownable closing a database connection
func CloseDB(db interface{ Close() error }) Shutdownable {
	return NewShutdownFunc("database", func(ctx context.Context) error {
		return db.Close()
	})
}

// CloseRedis returns a Shutdownable closing a Redis connection
func CloseRedis(redis interface{ Close() error }) Shutdownable {
	return NewShutdownFunc("redis", func(ctx context.Context) error {
		return redis.Close()
	})
}

// CloseTracer returns a Shutdownable flushing an OpenTelemetry tracer provider
func CloseTracer(shutdownFunc func(context.Context) error) Shutdownable {
	return NewShutdownFunc("tracer", shutdownFunc)
}
