package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"trading-decision-engine/internal/auth"
	"trading-decision-engine/internal/engine"
	"trading-decision-engine/internal/events"
	"trading-decision-engine/internal/logging"
	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/monitor"
	"trading-decision-engine/internal/strategy"
)

// EngineAPI is the slice of the decision engine the HTTP surface needs
type EngineAPI interface {
	IsRunning() bool
	Assets() []models.Asset
	Asset(id string) (models.Asset, bool)
	CurrentConfidence(assetID string) (models.ConfidenceScore, bool)
	CurrentRegime(assetID string) (engine.RegimeView, bool)
	CurrentWeights(assetID string, name strategy.Name) (models.WeightHistory, error)
	WeightSeries(assetID string, name strategy.Name) []models.WeightHistory
	RecentVetoes(ctx context.Context, assetID string, limit int) ([]models.AuditLogEntry, error)
	RiskSummary(ctx context.Context) []engine.RiskView
	Positions(openOnly bool) []models.Position
	ClosePosition(ctx context.Context, id string) (models.Position, error)
	Settings() *strategy.Settings
	UpdateProfile(p strategy.Profile) ([]monitor.RefreshReport, error)
	SetActiveTier(name strategy.TierName) ([]monitor.RefreshReport, error)
	BreakerStats() map[string]interface{}
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int      `json:"port" default:"8090" validate:"gt=0,lte=65535"`
	Host           string   `json:"host" default:"0.0.0.0"`
	ProductionMode bool     `json:"production_mode"`
	AllowOrigins   []string `json:"allow_origins"`
	AuthEnabled    bool     `json:"auth_enabled"`
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	engine     EngineAPI
	hub        *EventHub
	metrics    http.Handler
	jwt        *auth.JWTManager
	config     ServerConfig
	logger     *logging.Logger
}

// NewServer creates the API server. jwt may be nil when auth is disabled;
// metricsHandler may be nil when metrics are not exported.
func NewServer(config ServerConfig, eng EngineAPI, bus *events.EventBus, jwt *auth.JWTManager, metricsHandler http.Handler) (*Server, error) {
	if config.AuthEnabled && jwt == nil {
		return nil, fmt.Errorf("auth enabled without a token manager")
	}

	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.AllowOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8090"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:  router,
		engine:  eng,
		hub:     NewEventHub(),
		metrics: metricsHandler,
		jwt:     jwt,
		config:  config,
		logger:  logging.Default().WithComponent("api"),
	}
	router.Use(s.requestLogger())
	if bus != nil {
		bus.SubscribeAll(s.hub.BroadcastEvent)
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/api/health", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := s.router.Group("/api")
	ws := s.router.Group("/ws")
	if s.config.AuthEnabled {
		api.Use(auth.Middleware(s.jwt))
		ws.Use(auth.Middleware(s.jwt))
	}
	ws.GET("", s.hub.Handle)

	api.GET("/assets", s.handleAssets)
	api.GET("/assets/:id/confidence", s.handleConfidence)
	api.GET("/assets/:id/regime", s.handleRegime)
	api.GET("/assets/:id/weights", s.handleWeights)
	api.GET("/audit", s.handleAudit)
	api.GET("/risk", s.handleRisk)
	api.GET("/positions", s.handlePositions)
	api.GET("/settings", s.handleSettings)

	write := api.Group("")
	if s.config.AuthEnabled {
		write.Use(auth.RequireRole(auth.RoleOperator))
	}
	write.POST("/positions/:id/close", s.handleClosePosition)
	write.PUT("/strategies/:name", s.handleUpdateStrategy)
	write.PUT("/tier", s.handleSetTier)
}

// Handler exposes the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *EventHub {
	return s.hub
}

// Start runs the hub and serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	go s.hub.Run()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting API server", "addr", addr, "auth", s.config.AuthEnabled)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/api/health" || c.Request.URL.Path == "/metrics" {
			return
		}
		s.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"subject", auth.Subject(c))
	}
}
