package api

import (
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"

	"collab-trading-bot/internal/auth"
	"collab-trading-bot/internal/database"
)

var agentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

// handleStart launches the engine for the authenticated user.
// POST /api/autonomous/start
func (s *Server) handleStart(c *gin.Context) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
		return
	}

	portfolioID := ""
	if s.repo != nil {
		p, err := s.repo.GetOrCreatePortfolio(c.Request.Context(), userID)
		if err != nil {
			s.logger.Error("Portfolio lookup failed", "userId", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load portfolio"})
			return
		}
		portfolioID = p.ID
	}

	if err := s.engine.Start(c.Request.Context(), userID, portfolioID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "ALREADY_RUNNING", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "engine started",
		"status":  s.engine.GetStatus(),
	})
}

// handleStop halts the engine.
// POST /api/autonomous/stop
func (s *Server) handleStop(c *gin.Context) {
	if !s.engine.IsRunning() {
		c.JSON(http.StatusOK, gin.H{"message": "engine not running"})
		return
	}
	s.engine.Stop()
	c.JSON(http.StatusOK, gin.H{"message": "engine stopped"})
}

// handleStatus returns the engine snapshot.
// GET /api/autonomous/status
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.GetStatus())
}

// handleAnalysts returns the per-analyst portfolio view.
// GET /api/autonomous/analysts
func (s *Server) handleAnalysts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"analysts": s.engine.Analysts()})
}

// handlePortfolio returns the persisted portfolio row for an agent id.
// GET /api/portfolio/:agentId
func (s *Server) handlePortfolio(c *gin.Context) {
	agentID := c.Param("agentId")
	if !agentIDPattern.MatchString(agentID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_AGENT_ID"})
		return
	}
	if agentID != database.CollaborativeAgentID {
		c.JSON(http.StatusNotFound, gin.H{"error": "UNKNOWN_AGENT"})
		return
	}

	userID, _ := auth.UserIDFromContext(c)
	if s.repo == nil {
		// Persistence off: serve the live in-memory view.
		c.JSON(http.StatusOK, gin.H{"analysts": s.engine.Analysts()})
		return
	}

	p, err := s.repo.GetOrCreatePortfolio(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load portfolio"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"portfolio": p,
		"analysts":  s.engine.Analysts(),
	})
}

// handlePortfolioSummary returns the caller's portfolio with the live
// engine status folded in.
// GET /api/portfolio/summary
func (s *Server) handlePortfolioSummary(c *gin.Context) {
	status := s.engine.GetStatus()
	if s.repo == nil {
		c.JSON(http.StatusOK, gin.H{"status": status, "analysts": s.engine.Analysts()})
		return
	}

	userID, _ := auth.UserIDFromContext(c)
	p, err := s.repo.GetOrCreatePortfolio(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load portfolio"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"portfolio": p,
		"status":    status,
		"analysts":  s.engine.Analysts(),
	})
}

// handlePortfolioCreate ensures the caller's collaborative portfolio row
// exists. Idempotent.
// POST /api/portfolio/create
func (s *Server) handlePortfolioCreate(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "PERSISTENCE_DISABLED"})
		return
	}
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
		return
	}

	p, err := s.repo.GetOrCreatePortfolio(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create portfolio"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolio": p})
}

// handlePortfolioPositions returns the mirrored open positions for an agent.
// GET /api/portfolio/:agentId/positions
func (s *Server) handlePortfolioPositions(c *gin.Context) {
	agentID := c.Param("agentId")
	if !agentIDPattern.MatchString(agentID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_AGENT_ID"})
		return
	}
	if agentID != database.CollaborativeAgentID {
		c.JSON(http.StatusNotFound, gin.H{"error": "UNKNOWN_AGENT"})
		return
	}
	if s.repo == nil {
		c.JSON(http.StatusOK, gin.H{"positions": []database.PositionRow{}})
		return
	}

	userID, _ := auth.UserIDFromContext(c)
	p, err := s.repo.GetOrCreatePortfolio(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load portfolio"})
		return
	}
	positions, err := s.repo.GetPositions(c.Request.Context(), p.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load positions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

// handleTrades lists recent trades for the caller.
// GET /api/trades?limit=50
func (s *Server) handleTrades(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusOK, gin.H{"trades": []database.Trade{}})
		return
	}
	userID, _ := auth.UserIDFromContext(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	trades, err := s.repo.GetRecentTrades(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// handleAILogs lists recent AI decision disclosures for the caller.
// GET /api/ai-logs?limit=50
func (s *Server) handleAILogs(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusOK, gin.H{"logs": []database.AILog{}})
		return
	}
	userID, _ := auth.UserIDFromContext(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := s.repo.GetAILogs(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load ai logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
