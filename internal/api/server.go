// Package api exposes the HTTP surface: predictions, training control, the
// registry, health, metrics, and the websocket event stream.
package api

import (
	"context"
	"fmt"
	"net/http"

	"hybrid-learning-bot-go/internal/logger"
	"hybrid-learning-bot-go/internal/models"
	"hybrid-learning-bot-go/internal/orchestrator"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wraps the echo instance and its handlers.
type Server struct {
	echo *echo.Echo
	cfg  *models.Config
}

// NewServer builds the HTTP server over the orchestrator.
func NewServer(cfg *models.Config, orch *orchestrator.Orchestrator) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	h := &handler{orch: orch}
	hub := newHub()
	orch.RegisterSink(hub.Broadcast)

	e.GET("/health", h.health)
	e.GET("/status", h.status)
	e.GET("/predict", h.predict)
	e.POST("/train/sample", h.trainSample)
	e.POST("/train/batch", h.trainBatch)
	e.GET("/train/batch/status", h.batchStatus)
	e.POST("/train/online/update", h.onlineUpdate)
	e.POST("/online/reset", h.onlineReset)
	e.GET("/models", h.listModels)
	e.POST("/models/promote", h.promote)
	e.POST("/collector/pause", h.pauseCollector)
	e.POST("/collector/resume", h.resumeCollector)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/ws/events", hub.serve)

	return &Server{echo: e, cfg: cfg}
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.HTTPPort)
	logger.S().Infof("http server listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }
