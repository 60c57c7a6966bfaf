// Package gateway provides the Luthien gateway's external interface layer.
//
// lifecycle.go contains server startup and graceful shutdown.
package gateway

import (
	"context"
	"fmt"
	"time"
)

// Start begins serving HTTP requests. It returns once the listener is
// serving in the background; call Stop to shut it down.
func (s *Server) Start(ctx context.Context) error {
	s.startTime = time.Now()

	if err := s.startHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}

	s.logger.Info(ctx, "gateway started", "addr", s.httpServer.Addr)
	return nil
}

// Stop gracefully shuts down the HTTP server, waiting for in-flight
// requests (including open streams) to finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info(ctx, "stopping gateway", "uptime", time.Since(s.startTime).String())
	s.stopHTTPServer(ctx)
	s.wg.Wait()
	return nil
}
