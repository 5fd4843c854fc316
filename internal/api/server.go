package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"collab-trading-bot/config"
	"collab-trading-bot/internal/auth"
	"collab-trading-bot/internal/database"
	"collab-trading-bot/internal/engine"
	"collab-trading-bot/internal/events"
	"collab-trading-bot/internal/logging"
)

// Server is the HTTP surface: auth, engine control, portfolio reads, and
// the SSE event gateway.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        config.ServerConfig
	bus        *events.Bus
	engine     *engine.Controller
	jwt        *auth.JWTManager
	repo       *database.Repository
	db         *database.DB
	sseTokens  *sseTokenRegistry
	logger     *logging.Logger
}

// NewServer builds the router. repo and db may be nil when persistence is
// disabled; authService must not be.
func NewServer(
	cfg config.ServerConfig,
	bus *events.Bus,
	ctrl *engine.Controller,
	authService *auth.Service,
	repo *database.Repository,
	db *database.DB,
) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:    router,
		cfg:       cfg,
		bus:       bus,
		engine:    ctrl,
		jwt:       authService.GetJWTManager(),
		repo:      repo,
		db:        db,
		sseTokens: newSSETokenRegistry(),
		logger:    logging.Default().WithComponent("api"),
	}
	s.setupRoutes(authService)
	return s
}

func (s *Server) setupRoutes(authService *auth.Service) {
	s.router.GET("/health", s.handleHealth)

	authHandlers := auth.NewHandlers(authService)
	authHandlers.RegisterRoutes(s.router.Group("/api/auth"))

	// The stream endpoint does its own token dance; everything else rides
	// the JWT middleware.
	s.router.GET("/api/autonomous/events", s.handleEventStream)

	protected := s.router.Group("/api")
	protected.Use(auth.Middleware(s.jwt))
	{
		protected.POST("/autonomous/sse-token", s.handleSSETokenRequest)
		protected.POST("/autonomous/start", s.handleStart)
		protected.POST("/autonomous/stop", s.handleStop)
		protected.GET("/autonomous/status", s.handleStatus)
		protected.GET("/autonomous/analysts", s.handleAnalysts)

		protected.GET("/portfolio/summary", s.handlePortfolioSummary)
		protected.POST("/portfolio/create", s.handlePortfolioCreate)
		protected.GET("/portfolio/:agentId", s.handlePortfolio)
		protected.GET("/portfolio/:agentId/positions", s.handlePortfolioPositions)

		protected.GET("/trades", s.handleTrades)
		protected.GET("/ai-logs", s.handleAILogs)
	}
}

// Start runs the HTTP server until Shutdown. WriteTimeout stays zero
// because SSE streams are long-lived.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("HTTP server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops the server and the SSE token sweeper.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sseTokens.Stop()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dbStatus := "disabled"
	if s.db != nil {
		dbStatus = "healthy"
		if err := s.db.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbStatus,
		"engine":   s.engine.IsRunning(),
	})
}
