package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/alis2001/chat-service/internal/log"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
// Header reads share the WebSocket handshake timeout. Upgraded connections
// manage their own deadlines.
func CreateServer(port string, handler http.Handler, handshakeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: handshakeTimeout,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer serves HTTP on ln until the server is shut down.
// It always returns a non-nil error; http.ErrServerClosed after a shutdown.
func StartServer(server *http.Server, ln net.Listener) error {
	log.Info("server listening", zap.String("addr", ln.Addr().String()))
	return server.Serve(ln)
}

// ShutdownServer stops accepting connections and waits for in-flight HTTP
// requests until ctx is done. Hijacked WebSocket connections are not waited on.
func ShutdownServer(ctx context.Context, server *http.Server) error {
	log.Info("shutting down HTTP server")

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	log.Info("HTTP server shutdown completed")
	return nil
}
