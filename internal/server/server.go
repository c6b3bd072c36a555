// Package server exposes the REST, WebSocket, and metrics surface.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hdnguyen/soc-sentinel/internal/actions"
	"github.com/hdnguyen/soc-sentinel/internal/auth"
	"github.com/hdnguyen/soc-sentinel/internal/chat"
	"github.com/hdnguyen/soc-sentinel/internal/config"
	"github.com/hdnguyen/soc-sentinel/internal/hub"
	"github.com/hdnguyen/soc-sentinel/internal/observability"
	"github.com/hdnguyen/soc-sentinel/internal/scenario"
	"github.com/hdnguyen/soc-sentinel/internal/store"
)

// ServiceName and Version identify the service in health responses.
const (
	ServiceName = "SOC Sentinel"
	Version     = "1.0.0"
)

// Server holds everything the handlers need.
type Server struct {
	settings  *config.Settings
	store     *store.Store
	hub       *hub.Hub
	actions   *actions.Coordinator
	scenarios *scenario.Coordinator
	auth      *auth.Authenticator
	responder chat.Responder
	telemetry *observability.Telemetry
	logger    *zap.Logger
}

// New assembles the server.
func New(
	settings *config.Settings,
	st *store.Store,
	h *hub.Hub,
	actionCoord *actions.Coordinator,
	scenarioCoord *scenario.Coordinator,
	authn *auth.Authenticator,
	responder chat.Responder,
	tel *observability.Telemetry,
) *Server {
	return &Server{
		settings:  settings,
		store:     st,
		hub:       h,
		actions:   actionCoord,
		scenarios: scenarioCoord,
		auth:      authn,
		responder: responder,
		telemetry: tel,
		logger:    tel.Logger(),
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	if !s.settings.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.settings.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": ServiceName,
			"version": Version,
			"docs":    "/api/health",
		})
	})

	if s.settings.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(s.telemetry.MetricsHandler()))
	}

	api := r.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.POST("/auth/login", s.handleLogin)

		api.GET("/incidents", s.handleListIncidents)
		api.GET("/incidents/:id", s.handleGetIncident)
		api.PATCH("/incidents/:id/resolve", s.handleResolveIncident)

		api.POST("/actions/propose", s.handleProposeActions)
		api.GET("/actions", s.handleListActions)

		reviewed := api.Group("/actions", s.auth.Middleware())
		{
			reviewed.POST("/:id/approve", s.handleApproveAction)
			reviewed.POST("/:id/reject", s.handleRejectAction)
		}

		api.GET("/simulation/scenarios", s.handleListScenarios)
		api.POST("/simulation/run", s.handleRunScenario)
		api.POST("/simulation/stop", s.handleStopScenario)
		api.GET("/simulation/status", s.handleScenarioStatus)

		api.GET("/export/incidents.csv", s.handleExportIncidents)
		api.GET("/export/actions.csv", s.handleExportActions)

		api.POST("/chat", s.handleChat)
	}

	r.GET("/ws/logs", s.handleWebSocket)

	return r
}

// requestLogger logs each request with latency at debug level, errors
// at warn.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= 500 {
			s.logger.Warn("Request failed", fields...)
		} else {
			s.logger.Debug("Request handled", fields...)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   ServiceName,
		"version":   Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// respondError maps domain errors to HTTP status codes.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, scenario.ErrUnknownScenario):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConflict), errors.Is(err, scenario.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, store.ErrImmutableField):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
