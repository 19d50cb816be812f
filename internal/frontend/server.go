// Package frontend serves the read-only introspection surface and the
// action-producer endpoint over HTTP. It is meant for local or trusted
// callers; the default bind address is loopback.
package frontend

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"

	"github.com/vircadia/vircadia-world-sub011/internal/config"
	"github.com/vircadia/vircadia-world-sub011/internal/logger"
	"github.com/vircadia/vircadia-world-sub011/internal/logger/tag"
)

// Server is the HTTP introspection server.
type Server struct {
	api        *API
	cfg        *config.Config
	httpServer *http.Server
}

// NewServer creates the frontend server around the API handlers.
func NewServer(api *API, cfg *config.Config) *Server {
	return &Server{api: api, cfg: cfg}
}

// Serve runs the HTTP server until the context is canceled or Shutdown is
// called.
func (srv *Server) Serve(ctx context.Context) error {
	requestLogger := httplog.NewLogger("http", httplog.Options{
		LogLevel:         slog.LevelDebug,
		JSON:             srv.cfg.Global.LogFormat == "json",
		Concise:          true,
		MessageFieldName: "msg",
	})

	r := chi.NewMux()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Route("/api/v1", srv.api.ConfigureRoutes)

	addr := net.JoinHostPort(srv.cfg.Server.Host, strconv.Itoa(srv.cfg.Server.Port))
	srv.httpServer = &http.Server{
		Handler:           r,
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info(ctx, "Frontend server starting", tag.Addr(addr))

	err := srv.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (srv *Server) Shutdown(ctx context.Context) {
	if srv.httpServer == nil {
		return
	}
	if err := srv.httpServer.Shutdown(ctx); err != nil {
		logger.Error(ctx, "Failed to shut down frontend server", tag.Error(err))
	}
}
