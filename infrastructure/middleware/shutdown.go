package middleware

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/r3e-network/odata-gateway/infrastructure/logging"
)

// GracefulShutdown drains in-flight requests before the process exits,
// giving sqlstore.Manager.Close and the endpoint registry's file watcher a
// chance to run via OnShutdown before httpServer.Shutdown forcibly returns.
type GracefulShutdown struct {
	mu           sync.Mutex
	server       *http.Server
	timeout      time.Duration
	shutdownChan chan struct{}
	callbacks    []func()
	logger       *logging.Logger
}

// NewGracefulShutdown creates a new graceful shutdown manager. logger may be
// nil (shutdown still runs, it's just silent).
func NewGracefulShutdown(server *http.Server, timeout time.Duration, logger *logging.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GracefulShutdown{
		server:       server,
		timeout:      timeout,
		shutdownChan: make(chan struct{}),
		logger:       logger,
	}
}

// OnShutdown registers a callback to run during shutdown, in registration
// order, before the HTTP server itself stops accepting in-flight work.
func (g *GracefulShutdown) OnShutdown(callback func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks = append(g.callbacks, callback)
}

// ListenForSignals starts listening for SIGINT/SIGTERM/SIGQUIT and triggers
// Shutdown on the first one received.
func (g *GracefulShutdown) ListenForSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		if g.logger != nil {
			g.logger.Info(context.Background(), "shutdown signal received", map[string]interface{}{"signal": sig.String()})
		}
		g.Shutdown()
	}()
}

// Shutdown runs the registered callbacks, then stops the HTTP server within
// the configured timeout.
func (g *GracefulShutdown) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, callback := range g.callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil && g.logger != nil {
					g.logger.WithField("panic", r).Error("panic in shutdown callback")
				}
			}()
			callback()
		}()
	}

	if g.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()

		if err := g.server.Shutdown(ctx); err != nil && g.logger != nil {
			g.logger.WithError(err).Error("error during server shutdown")
		}
	}

	close(g.shutdownChan)
}

// Wait blocks until Shutdown has finished running.
func (g *GracefulShutdown) Wait() {
	<-g.shutdownChan
}
