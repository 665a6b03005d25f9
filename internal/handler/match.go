package handler

import (
	"net/http"

	"manifest/internal/model"
	"manifest/internal/service"

	"github.com/gin-gonic/gin"
)

// MatchHandler serves the intention matching endpoint
type MatchHandler struct {
	matcher service.IntentionMatcher
}

// NewMatchHandler creates a new match handler
func NewMatchHandler(matcher service.IntentionMatcher) *MatchHandler {
	return &MatchHandler{matcher: matcher}
}

// Match handles POST /api/match. It is registered for every method so
// other methods get a 405 body instead of a 404.
func (h *MatchHandler) Match(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}

	var req model.MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing fields"})
		return
	}

	result, err := h.matcher.Match(c.Request.Context(), req)
	if err != nil {
		writeMatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
