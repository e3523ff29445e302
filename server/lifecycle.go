package server

import (
	"fmt"
	"net/http"
	"time"

	appcfg "github.com/meshgate/gateway/am"
	"github.com/meshgate/gateway/errors"
)

// setState atomically updates the server state.
func (s *Gateway) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.logger.Infow("server state changed", "new_state", newState.String())
}

// startBackgroundServices starts the cron ticker, async-exec daemon, and
// the async-exec completion pipeline's retry/GC loop, honoring whatever
// enabled/disabled state was persisted across restarts.
func (s *Gateway) startBackgroundServices() {
	if s.daemon != nil {
		s.daemon.Start()
		s.logger.Infow("async-exec daemon started")
	}
	if s.ticker != nil {
		s.ticker.Start()
		s.logger.Infow("cron ticker started")
	}
	s.runAsyncExecRetryLoop()
}

// Start starts the server on the given port, finding an alternative if it's
// already in use, and blocks serving HTTP until Stop cancels the context.
func (s *Gateway) Start(port int) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run()
	}()

	s.startBackgroundServices()

	actualPort, err := findAvailablePort(port)
	if err != nil {
		return errors.Wrap(err, "failed to find available port")
	}
	if actualPort != port {
		s.logger.Infow("port in use, using alternative", "requested_port", port, "actual_port", actualPort)
	}

	s.setupHTTPRoutes()

	cfg, _ := appcfg.Load()
	useTLS := cfg != nil && cfg.Auth.TLS.Enabled && cfg.Auth.TLS.CertFile != "" && cfg.Auth.TLS.KeyFile != ""

	protocol := "http"
	if useTLS {
		protocol = "https"
	}
	s.logger.Infow("server ready", "url", fmt.Sprintf("%s://localhost:%d", protocol, actualPort), "port", actualPort, "tls", useTLS)

	addr := fmt.Sprintf(":%d", actualPort)
	s.httpServer = &http.Server{Addr: addr}

	if useTLS {
		return s.httpServer.ListenAndServeTLS(cfg.Auth.TLS.CertFile, cfg.Auth.TLS.KeyFile)
	}
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the server: drains connections, cancels the
// hub context, and waits (bounded by ShutdownTimeout) for every goroutine
// Run/readPump/writePump/runBroadcastWorker spawned to exit.
func (s *Gateway) Stop() error {
	s.logger.Infow("initiating server shutdown")
	s.setState(ServerStateDraining)

	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.daemon != nil {
		s.daemon.Stop()
	}

	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.connections = make(map[string]*Connection)
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}

	if s.httpServer != nil {
		s.httpServer.Close()
	}

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infow("all goroutines stopped cleanly")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("goroutine shutdown timed out, forcing exit", "timeout", ShutdownTimeout)
	}

	if s.configWatcher != nil {
		if err := s.configWatcher.Stop(); err != nil {
			s.logger.Warnw("failed to stop config watcher", "error", err.Error())
		}
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("server shutdown complete", "broadcast_drops", s.broadcastDrops.Load())
	return nil
}
