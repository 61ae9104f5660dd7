package httpapi

import (
	"errors"
	"net/http"

	"voiceline/internal/apperr"
	"voiceline/internal/audio"
	"voiceline/internal/reporting"
	"voiceline/pkg/logger"

	"github.com/gin-gonic/gin"
)

// abortWithError maps the shared error taxonomy onto management responses.
// Anything unrecognised is logged and reported as a bare 500.
func abortWithError(c *gin.Context, err error) {
	var v *apperr.ValidationError
	switch {
	case errors.As(err, &v):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": v.Fields})
	case errors.Is(err, apperr.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, apperr.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "conflict"})
	case errors.Is(err, apperr.ErrInsufficientFunds):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_funds"})
	case errors.Is(err, audio.ErrTooManyUploads):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too_many_uploads"})
	case errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case apperr.IsProvider(err):
		logger.FromGin(c).Warn("provider failure", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "provider_unavailable"})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
