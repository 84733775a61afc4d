package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/eventscout/config"
	"example.com/eventscout/internal/api/handlers"
	"example.com/eventscout/internal/api/middleware"
	"example.com/eventscout/internal/cache"
	"example.com/eventscout/internal/calendar"
	"example.com/eventscout/internal/metrics"
	"example.com/eventscout/internal/pipeline"
	"example.com/eventscout/internal/repositories"
	"example.com/eventscout/internal/search"
)

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
}

// Dependencies bundles everything the HTTP surface needs
type Dependencies struct {
	Repo     *repositories.EventRepository
	Cache    *cache.RedisCache
	Elastic  *search.ElasticClient
	Calendar calendar.Sink
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Metrics
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, deps Dependencies) *Server {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{config: cfg}
	server.router = server.setupRouter(deps)
	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())

	eventsHandler := handlers.NewEventsHandler(deps.Repo, deps.Cache, deps.Elastic, deps.Calendar, deps.Pipeline)
	eventsHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(deps.Metrics)
	metricsHandler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
