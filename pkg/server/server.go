// Package server exposes the engine over HTTP. Platform adapters (the
// notes plugin, the browser extension, the web client) all call the same
// endpoints; the server never renders platform-specific markup.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/yukioka/tsuzuki/pkg/bus"
	"github.com/yukioka/tsuzuki/pkg/engine"
	"github.com/yukioka/tsuzuki/pkg/logger"
	"github.com/yukioka/tsuzuki/pkg/memory"
	"github.com/yukioka/tsuzuki/pkg/persona"
)

type Options struct {
	Host string
	Port int
	// ProfilePath is where persona updates are persisted. Empty keeps
	// updates in-memory only.
	ProfilePath string
}

type Server struct {
	engine   *engine.Engine
	memory   *memory.Synchronizer
	profiles *persona.Holder
	bus      *bus.EventBus
	echo     *echo.Echo
	opts     Options
	log      *zap.Logger
}

func New(eng *engine.Engine, mem *memory.Synchronizer, profiles *persona.Holder, eventBus *bus.EventBus, opts Options) *Server {
	s := &Server{
		engine:   eng,
		memory:   mem,
		profiles: profiles,
		bus:      eventBus,
		opts:     opts,
		log:      logger.Named("server"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(s.requestLogger)

	e.GET("/healthz", s.handleHealthz)
	api := e.Group("/api/v1")
	api.POST("/chat", s.handleChat)
	api.POST("/memory/search", s.handleMemorySearch)
	api.GET("/persona", s.handleGetPersona)
	api.PUT("/persona", s.handlePutPersona)

	s.echo = e
	return s
}

// Start blocks until the listener stops. Shutdown drains in-flight
// requests.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	s.log.Info("http server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.log.Info("request",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Request().URL.Path),
			zap.Int("status", c.Response().Status),
			zap.Duration("took", time.Since(start)))
		return err
	}
}
