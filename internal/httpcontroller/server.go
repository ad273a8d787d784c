// internal/httpcontroller/server.go
package httpcontroller

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/leafguard-go/internal/api/v2"
	"github.com/tphakala/leafguard-go/internal/artifact"
	"github.com/tphakala/leafguard-go/internal/conf"
	"github.com/tphakala/leafguard-go/internal/datastore"
	"github.com/tphakala/leafguard-go/internal/detection"
	"github.com/tphakala/leafguard-go/internal/logging"
	"github.com/tphakala/leafguard-go/internal/observability"
)

// Server encapsulates the Echo server and its wiring.
type Server struct {
	Echo     *echo.Echo
	DS       datastore.Interface
	Settings *conf.Settings
	Store    artifact.Store
	Manager  *detection.Manager
	APIV2    *api.Controller

	metrics   *observability.Metrics
	webLogger *slog.Logger
}

// New initializes the HTTP server with its dependencies. It registers the
// JSON API under /api/v2 and the Prometheus endpoint under /metrics.
func New(settings *conf.Settings, dataStore datastore.Interface, store artifact.Store,
	manager *detection.Manager, metrics *observability.Metrics) (*Server, error) {

	s := &Server{
		Echo:      echo.New(),
		DS:        dataStore,
		Settings:  settings,
		Store:     store,
		Manager:   manager,
		metrics:   metrics,
		webLogger: logging.ForService("http"),
	}

	s.Echo.HideBanner = true
	s.Echo.IPExtractor = echo.ExtractIPFromXFFHeader()
	s.Echo.Use(middleware.Recover())

	apiController, err := api.New(s.Echo, dataStore, settings, store, manager, log.Default(), metrics)
	if err != nil {
		return nil, fmt.Errorf("initializing API v2: %w", err)
	}
	s.APIV2 = apiController

	if metrics != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// listener fails or the server is shut down.
func (s *Server) Start() error {
	addr := ":" + s.Settings.WebServer.Port
	s.webLogger.Info("HTTP server starting", "addr", addr)

	if err := s.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully, draining in-flight requests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.APIV2 != nil {
		s.APIV2.Shutdown()
	}

	s.webLogger.Info("HTTP server shutting down")
	return s.Echo.Shutdown(ctx)
}
