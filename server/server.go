package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aryan-ct/memedin/pkg/records"
	"github.com/aryan-ct/memedin/pkg/relay"
	"github.com/aryan-ct/memedin/pkg/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Server serves the relay websocket and the records and session APIs
type Server struct {
	store           *session.Store
	hub             *relay.Hub
	records         records.Repository
	router          *gin.Engine
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// NewServer wires the handlers. The caller keeps ownership of store and repo.
func NewServer(cfg *Config, store *session.Store, hub *relay.Hub, repo records.Repository) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		store:           store,
		hub:             hub,
		records:         repo,
		router:          router,
		shutdownTimeout: cfg.ShutdownTimeout,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 5 * time.Second
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/ws", gin.WrapF(s.hub.ServeWS))
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.GET("/employees", s.handleListEmployees)
	api.POST("/employees", s.handleCreateEmployee)
	api.GET("/employees/:id", s.handleGetEmployee)
	api.PUT("/employees/:id", s.handleUpdateEmployee)
	api.DELETE("/employees/:id", s.handleDeleteEmployee)

	api.GET("/session", s.handleGetSession)
	api.PUT("/session/selection", s.handleSetSelection)
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is done or a termination signal arrives, then
// shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("Capture relay listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context canceled")
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Received signal")
	case err := <-errCh:
		return err
	}

	return s.Shutdown()
}

// Shutdown stops accepting requests and closes every relay connection
func (s *Server) Shutdown() error {
	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	// hijacked websocket connections are not tracked by http.Server
	s.hub.Close()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request")
	}
}
