package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

type ServiceCtx struct {
	deps            *dependencies
	shutdownChannel chan os.Signal
	serverCtx       context.Context
	serverStopFunc  context.CancelFunc
	serverReady     chan struct{}
}

func New(opts ...ServiceOption) *ServiceCtx {
	ctx := &ServiceCtx{
		shutdownChannel: make(chan os.Signal, 1),
	}

	for _, opt := range opts {
		opt(ctx)
	}

	return ctx
}

func (c *ServiceCtx) Run() {
	if err := c.build(); err != nil {
		log.Fatalf("failed to build service: %v", err)
	}

	c.startService()
	c.shutdownHook()
	c.monitorConfigChanges()

	// Waits for one of the following shutdown conditions to happen.
	select {
	case <-c.serverCtx.Done():
	case <-c.shutdownChannel:
		defer close(c.shutdownChannel)
	}

	c.shutdown()
}

func (c *ServiceCtx) build() error {
	c.serverCtx, c.serverStopFunc = context.WithCancel(context.Background())

	var err error

	c.deps, err = initializeDependencies(c.serverCtx)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}

	return nil
}

// startService launches the primary stdio JSON-RPC loop alongside the
// secondary admin HTTP and gRPC surfaces.
func (c *ServiceCtx) startService() {
	go c.serveStdio()

	c.startAdminServer()
	c.startAdminGRPCServer()

	if c.serverReady != nil {
		close(c.serverReady)
	}
}

// serveStdio reads newline-delimited JSON-RPC requests from stdin and
// writes one response line per request to stdout, per §6: no
// WebSocket transport, just a line-oriented request/response loop.
// EOF on stdin (the parent process closing the pipe) is treated as a
// normal shutdown trigger.
func (c *ServiceCtx) serveStdio() {
	c.deps.infra.logger.Info().Msg("serving JSON-RPC over stdio")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		out := c.deps.apps.rpcServer.Handle(c.serverCtx, line)

		if _, err := os.Stdout.Write(append(out, '\n')); err != nil {
			c.deps.infra.logger.Error().Err(err).Msg("writing rpc response")
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		c.deps.infra.logger.Error().Err(err).Msg("reading rpc requests from stdin")
	}

	c.serverStopFunc()
}

func (c *ServiceCtx) startAdminServer() {
	if c.deps.infra.adminHTTPServer == nil {
		return
	}

	go func() {
		cfg := c.deps.config.AdminHTTPServer
		addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			log.Fatalf("failed to listen on admin server %s: %v", addr, err)
		}

		c.deps.infra.logger.Info().
			Str("address", addr).
			Msg("starting the admin http server")

		if err := c.deps.infra.adminHTTPServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("admin http server error: %v", err)
		}
	}()
}

func (c *ServiceCtx) startAdminGRPCServer() {
	if c.deps.infra.adminGRPCServer == nil {
		return
	}

	go func() {
		cfg := c.deps.config.AdminGRPCServer
		addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			log.Fatalf("failed to listen on admin grpc server %s: %v", addr, err)
		}

		c.deps.infra.logger.Info().
			Str("address", addr).
			Msg("starting the admin grpc server")

		if err := c.deps.infra.adminGRPCServer.Serve(listener); err != nil {
			log.Fatalf("admin grpc server error: %v", err)
		}
	}()
}

func (c *ServiceCtx) monitorConfigChanges() {
	if c.deps.configLoader == nil {
		return
	}

	reloadErrors := c.deps.configLoader.WatchConfigSignals(c.serverCtx)
	go func() {
		for err := range reloadErrors {
			if err != nil {
				c.deps.infra.logger.Error().Err(err).Msg("config reload failed")
			} else {
				c.deps.infra.logger.Info().Msg("config reloaded successfully")
			}
		}
	}()
}

func (c *ServiceCtx) shutdownHook() {
	signal.Notify(c.shutdownChannel, syscall.SIGINT, syscall.SIGTERM)
}

func (c *ServiceCtx) shutdown() {
	c.deps.infra.logger.Info().Msg("shutting down service...")

	// Cancel context that underlying processes would start cleanup.
	c.serverStopFunc()

	// Shutdown signal with a grace period, derived from a fresh
	// background context since serverCtx is already cancelled above.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.deps.config.AdminHTTPServer.ShutdownTimeout)

	go func() {
		<-shutdownCtx.Done()

		if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
			c.deps.infra.logger.Error().Msg("graceful shutdown timed out.. forcing exit.")
			cancel()
			os.Exit(1)
		}
	}()

	if c.deps.infra.adminHTTPServer != nil {
		_ = c.deps.infra.adminHTTPServer.Shutdown(shutdownCtx)
	}

	if c.deps.infra.adminGRPCServer != nil {
		c.deps.infra.adminGRPCServer.GracefulStop()
	}

	c.cleanup(shutdownCtx)
	cancel()

	c.deps.infra.logger.Info().Msg("service shutdown complete")
}

// WaitForServer blocks until the stdio and admin servers are running.
// If you want to be notified when the server is running,
// make sure you instantiate your server with WithWaitingForServer.
//
// Example:
//
//	srv := runtime.New(WithWaitingForServer())
//	go func() {
//		srv.Run()
//	}()
//
//	srv.WaitForServer()
func (c *ServiceCtx) WaitForServer() {
	if c.serverReady != nil {
		<-c.serverReady
	}
}

func (c *ServiceCtx) cleanup(shutdownCtx context.Context) {
	c.deps.infra.logger.Info().Msg("cleaning up resources...")

	for resource, cleanupFn := range c.deps.cleanupFuncs {
		if err := cleanupFn(shutdownCtx); err != nil {
			c.deps.infra.logger.Error().
				Err(err).
				Str("resource", resource).
				Msg("failed to shutdown the resource gracefully")
		}
	}

	c.deps.infra.logger.Info().Msg("cleanup completed")
}
