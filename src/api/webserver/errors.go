package webserver

import (
	"errors"
	"net/http"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"github.com/gin-gonic/gin"
)

const quotaDetail = "You are rate limited until midnight."

// abortWithError replies with the status and detail mapped from err.
func abortWithError(c *gin.Context, err error) {
	status, detail := statusFor(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, moderation.ErrQuotaExceeded):
		return http.StatusTooManyRequests, quotaDetail
	case errors.Is(err, moderation.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, moderation.ErrMessageConflict):
		return http.StatusConflict, "Message id already used"
	case errors.Is(err, moderation.ErrInconsistentState):
		return http.StatusInternalServerError, "Inconsistent state"
	case errors.Is(err, moderation.ErrClassifierUnavailable):
		return http.StatusServiceUnavailable, "Classifier unavailable"
	case errors.Is(err, moderation.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "Storage unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func abortWithDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}
