// Package toolserver exposes the memory system's tool surface over HTTP
// as thin JSON handlers: an Echo instance with the usual middleware stack
// (logger, recover, CORS, request ID) and graceful shutdown, with handlers
// bound to internal/memory, internal/retrieval, internal/graphtraversal,
// internal/entity, and internal/community.
package toolserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/SergiySeletsky/mem0-sub000/internal/community"
	"github.com/SergiySeletsky/mem0-sub000/internal/entity"
	"github.com/SergiySeletsky/mem0-sub000/internal/graphtraversal"
	"github.com/SergiySeletsky/mem0-sub000/internal/memory"
	"github.com/SergiySeletsky/mem0-sub000/internal/retrieval"
)

// Config configures the HTTP surface.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
	// RateLimit caps requests per second per client; 0 disables limiting.
	RateLimit float64
}

// Server wires the tool-surface handlers onto an Echo instance.
type Server struct {
	echo        *echo.Echo
	cfg         Config
	log         *logrus.Entry
	memory      *memory.Pipeline
	search      *retrieval.Searcher
	graph       *graphtraversal.Traverser
	entity      *entity.Resolver
	communities *community.Builder
}

func New(cfg Config, log *logrus.Entry, mem *memory.Pipeline, search *retrieval.Searcher, graph *graphtraversal.Traverser, resolver *entity.Resolver, communities *community.Builder) *Server {
	s := &Server{
		echo:        newEcho(cfg),
		cfg:         cfg,
		log:         log,
		memory:      mem,
		search:      search,
		graph:       graph,
		entity:      resolver,
		communities: communities,
	}
	s.routes()
	return s
}

func newEcho(cfg Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
	}))
	e.Use(middleware.RequestID())

	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit))))
	}
	return e
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.handleHealth)

	s.echo.POST("/memories", s.handleAddMemories)
	s.echo.GET("/memories/:id", s.handleGetMemory)
	s.echo.GET("/memories", s.handleListMemories)
	s.echo.PUT("/memories/:id", s.handleUpdateMemory)
	s.echo.DELETE("/memories/:id", s.handleDeleteMemory)

	s.echo.POST("/search", s.handleSearch)
	s.echo.POST("/search/graph", s.handleGraphSearch)

	s.echo.DELETE("/entities/:id", s.handleDeleteEntity)
	s.echo.POST("/communities/rebuild", s.handleRebuildCommunities)
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully within cfg.ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("toolserver: listen failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("toolserver: shutdown: %w", err)
	}
	return nil
}
