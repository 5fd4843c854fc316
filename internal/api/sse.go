package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"collab-trading-bot/internal/events"
)

const sseKeepaliveInterval = 30 * time.Second

// handleSSETokenRequest mints a one-time stream token for the caller.
// POST /api/autonomous/sse-token
func (s *Server) handleSSETokenRequest(c *gin.Context) {
	userID := c.GetString("user_id")
	token, err := s.sseTokens.Issue(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sseToken":  token,
		"expiresIn": int(sseTokenTTL.Seconds()),
	})
}

// authenticateStream resolves the caller of the SSE endpoint. Bearer header
// first, then a one-time sseToken, then (optionally) a raw JWT in the token
// query param for older dashboard builds.
func (s *Server) authenticateStream(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if claims, err := s.jwt.ValidateAccessToken(parts[1]); err == nil {
				return claims.UserID, true
			}
		}
		return "", false
	}

	if token := c.Query("sseToken"); token != "" {
		return s.sseTokens.Claim(token)
	}

	if s.cfg.AllowLegacySSETokenParam {
		if token := c.Query("token"); token != "" {
			if claims, err := s.jwt.ValidateAccessToken(token); err == nil {
				return claims.UserID, true
			}
		}
	}

	return "", false
}

// handleEventStream is the SSE gateway.
// GET /api/autonomous/events
func (s *Server) handleEventStream(c *gin.Context) {
	userID, ok := s.authenticateStream(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "valid credentials required"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	// Buffered so a slow client drops events instead of blocking the bus.
	stream := make(chan events.Event, 64)
	subID := s.bus.SubscribeAll(func(ev events.Event) {
		select {
		case stream <- ev:
		default:
		}
	})
	defer s.bus.Unsubscribe(subID)

	s.logger.Info("SSE stream opened", "userId", userID)
	defer s.logger.Info("SSE stream closed", "userId", userID)

	// Initial frame so the dashboard renders current state immediately.
	writeSSE(c, "status", s.engine.GetStatus())
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case <-keepalive.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			flusher.Flush()
		case ev := <-stream:
			writeSSE(c, string(ev.Type), ev.Data)
			flusher.Flush()
		}
	}
}

// writeSSE emits one bare data frame. The payload's fields are flattened
// into a single JSON object carrying a top-level type, so clients switch
// on one field instead of parsing named event lines.
func writeSSE(c *gin.Context, eventType string, payload interface{}) {
	flat := map[string]interface{}{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		if err := json.Unmarshal(raw, &flat); err != nil {
			return
		}
	}
	flat["type"] = eventType
	data, err := json.Marshal(flat)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
}
