// SPDX-License-Identifier: MIT

package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// serverStopGrace bounds the HTTP server's own graceful shutdown.
const serverStopGrace = 5 * time.Second

// Server runs the API handler as a supervised service: Serve blocks until
// ctx is cancelled, then drains in-flight requests.
type Server struct {
	addr    string
	handler http.Handler
	logger  *slog.Logger
}

// NewServer creates a supervised HTTP server for the API handler.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{addr: addr, handler: handler, logger: logger}
}

// String names the service in supervisor logs.
func (s *Server) String() string { return "httpapi@" + s.addr }

// Serve implements the supervisor's service interface.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	if s.logger != nil {
		s.logger.Info("http api listening", "addr", ln.Addr().String())
	}

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), serverStopGrace)
		defer cancel()
		_ = srv.Shutdown(stopCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
