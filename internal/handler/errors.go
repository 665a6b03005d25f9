package handler

import (
	"errors"
	"net/http"

	"manifest/internal/repository"
	"manifest/internal/service"

	"github.com/gin-gonic/gin"
)

// writeMatchError translates a matcher failure into a status and error body
func writeMatchError(c *gin.Context, err error) {
	var me *service.MatchError
	if !errors.As(err, &me) {
		writeError(c, err)
		return
	}

	switch me.Kind {
	case service.KindInvalidRequest:
		c.JSON(http.StatusBadRequest, gin.H{"error": me.Message})
	case service.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": me.Message})
	case service.KindEmbeddingFailure:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Embedding failed"})
	default:
		msg := me.Error()
		if msg == "" {
			msg = "Server error"
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

// writeError maps service and storage errors for the non-matching endpoints
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
	}
}
