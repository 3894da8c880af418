// Package status reports what the denoiser is doing: a periodic metrics log
// and an optional HTTP API serving the same counters.
package status

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/rustyguts/streamclean/internal/bridge"
)

// Source supplies bridge counters.
type Source interface {
	Stats() bridge.Stats
}

// APIServer provides HTTP endpoints for health checking and block statistics.
type APIServer struct {
	src     Source
	running func() bool
	echo    *echo.Echo
}

// NewAPIServer constructs an APIServer and registers all routes. running
// reports whether the audio streams are up; nil means always.
func NewAPIServer(src Source, running func() bool) *APIServer {
	if running == nil {
		running = func() bool { return true }
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logrus.WithFields(logrus.Fields{
				"function": "APIServer",
				"method":   v.Method,
				"uri":      v.URI,
				"status":   v.Status,
			}).Debug("Handled request")
			return nil
		},
	}))
	e.Use(middleware.Recover())

	s := &APIServer{src: src, running: running, echo: e}
	s.registerRoutes()
	return s
}

func (s *APIServer) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/stats", s.handleStats)
}

// Run starts the HTTP server on addr and blocks until ctx is cancelled.
func (s *APIServer) Run(ctx context.Context, addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logrus.WithFields(logrus.Fields{
				"function": "APIServer.Run",
				"addr":     addr,
				"error":    err,
			}).Error("Status server failed")
		}
	}()
	logrus.WithFields(logrus.Fields{
		"function": "APIServer.Run",
		"addr":     addr,
	}).Info("Status server listening")

	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutCtx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "APIServer.Run",
			"error":    err,
		}).Warn("Status server shutdown")
	}
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Streaming bool   `json:"streaming"`
	Processed uint64 `json:"processed"`
}

func (s *APIServer) handleHealth(c echo.Context) error {
	streaming := s.running()
	resp := HealthResponse{
		Status:    "ok",
		Streaming: streaming,
		Processed: s.src.Stats().Processed,
	}
	if !streaming {
		resp.Status = "stopped"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *APIServer) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.src.Stats())
}
