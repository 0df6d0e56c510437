// Package server wires the relay's full HTTP surface onto a single
// Echo v4 instance: the federation-facing endpoints (actor, nodeinfo,
// webfinger, inbox) from internal/ingest, the authenticated
// management API from internal/api, and a Prometheus /metrics
// endpoint.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/activityrelay/activityrelay/internal/api"
	"github.com/activityrelay/activityrelay/internal/ingest"
	"github.com/activityrelay/activityrelay/internal/logging"
)

// shutdownDeadline bounds how long graceful shutdown waits for
// in-flight requests before forcing the listener closed (§4.I).
const shutdownDeadline = 20 * time.Second

// listenTimeout bounds how long the listener waits on a slow or
// stalled client before giving up, independent of any per-request
// context deadline applied further up the handler chain (§5).
const listenTimeout = 60 * time.Second

// Server wraps the Echo instance the supervisor starts and stops.
type Server struct {
	echo       *echo.Echo
	listenAddr string
	log        *logging.Logger
}

// New builds the Echo instance and mounts every route group.
func New(listenAddr string, log *logging.Logger, ingestHandler *ingest.Handler, apiHandler *api.Handler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = listenTimeout
	e.Server.WriteTimeout = listenTimeout
	e.Server.IdleTimeout = listenTimeout

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	ingestHandler.Register(e)
	apiHandler.Register(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	return &Server{echo: e, listenAddr: listenAddr, log: log}
}

// Start binds the listener and blocks until ctx is cancelled, then
// performs a graceful shutdown bounded by shutdownDeadline (§4.I).
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening on %s", s.listenAddr)
		if err := s.echo.Start(s.listenAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}
