package handler

import (
	"context"
	"net/http"
	"strconv"

	"manifest/internal/middleware"
	"manifest/internal/model"

	"github.com/gin-gonic/gin"
)

// IntentionService is the part of service.IntentionService used over HTTP
type IntentionService interface {
	CreateIntention(ctx context.Context, req model.CreateIntentionRequest) (*model.CreateIntentionResponse, error)
	GetIntention(ctx context.Context, intentionID string) (*model.Intention, error)
	Timeline(ctx context.Context, limit int) (*model.TimelineResponse, error)
	Group(ctx context.Context, groupID string) (*model.GroupResponse, error)
	AddComment(ctx context.Context, intentionID, authorID, text string) (*model.Comment, error)
	Backfill(ctx context.Context, limit int) (*model.BackfillResponse, error)
}

// IntentionHandler handles intention, timeline and comment requests
type IntentionHandler struct {
	svc IntentionService
}

// NewIntentionHandler creates a new intention handler
func NewIntentionHandler(svc IntentionService) *IntentionHandler {
	return &IntentionHandler{svc: svc}
}

// Create handles POST /api/v1/intentions
func (h *IntentionHandler) Create(c *gin.Context) {
	var req model.CreateIntentionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if userID, ok := middleware.UserID(c); ok {
		req.OwnerID = userID
	}

	resp, err := h.svc.CreateIntention(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Timeline handles GET /api/v1/intentions
func (h *IntentionHandler) Timeline(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	resp, err := h.svc.Timeline(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Get handles GET /api/v1/intentions/:id
func (h *IntentionHandler) Get(c *gin.Context) {
	intention, err := h.svc.GetIntention(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, intention)
}

// Group handles GET /api/v1/groups/:id
func (h *IntentionHandler) Group(c *gin.Context) {
	resp, err := h.svc.Group(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// AddComment handles POST /api/v1/intentions/:id/comments
func (h *IntentionHandler) AddComment(c *gin.Context) {
	var req model.CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	authorID := req.AuthorID
	if userID, ok := middleware.UserID(c); ok {
		authorID = userID
	}

	comment, err := h.svc.AddComment(c.Request.Context(), c.Param("id"), authorID, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, comment)
}

// Backfill handles POST /api/v1/embeddings/backfill
func (h *IntentionHandler) Backfill(c *gin.Context) {
	var req model.BackfillRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}
	}

	resp, err := h.svc.Backfill(c.Request.Context(), req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}

	if len(resp.Errors) > 0 {
		c.JSON(http.StatusPartialContent, resp)
	} else {
		c.JSON(http.StatusOK, resp)
	}
}
