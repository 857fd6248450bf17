package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pathwatch/pathwatch-engine/internal/config"
)

// Server wraps the HTTP API server and lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
}

// NewServer constructs the API server with routes bound to the handlers.
func NewServer(cfg config.ServerConfig, handlers *Handlers, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	v1 := router.Group("/v1/orgs/:orgId")
	{
		v1.POST("/incidents", handlers.CreateIncident)
		v1.GET("/incidents", handlers.ListIncidents)
		v1.GET("/incidents/:incidentId", handlers.IncidentDetails)
		v1.GET("/incidents/:incidentId/events", handlers.IncidentEvents)
		v1.GET("/incidents/:incidentId/graph", handlers.IncidentGraph)
		v1.POST("/incidents/:incidentId/status", handlers.ChangeStatus)
		v1.POST("/incidents/:incidentId/severity", handlers.ChangeSeverity)
		v1.POST("/incidents/:incidentId/signals", handlers.AttachSignal)
		v1.POST("/incidents/:incidentId/actions", handlers.AddAction)
		v1.POST("/incidents/:incidentId/notes", handlers.AddNote)
		v1.POST("/incidents/:incidentId/resolve", handlers.ResolveIncident)
		v1.GET("/correlations/:key/incidents", handlers.IncidentsByCorrelationKey)
		v1.GET("/services/:serviceName/incidents", handlers.RecentIncidentsForService)

		v1.POST("/events", handlers.IngestEvent)
		v1.GET("/flows", handlers.ListFlows)
		v1.GET("/watchlist", handlers.ListWatchlist)
		v1.POST("/watchlist/:entryId/clear", handlers.ClearWatchEntry)
	}

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Address,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request handled",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}

// Start serves incoming requests until Shutdown is invoked.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) {
	_ = s.httpServer.Shutdown(ctx)
}

// Address exposes the configured listen address (useful for tests).
func (s *Server) Address() string {
	return s.httpServer.Addr
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
