package webserver

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/data"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/patreon"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Patreon struct {
	oauth   PatreonOAuth
	service *patreon.Service
	rdb     *redis.Client
	appURL  string
}

func NewPatreon(oauth PatreonOAuth, service *patreon.Service, rdb *redis.Client, appURL string) Patreon {
	return Patreon{oauth: oauth, service: service, rdb: rdb, appURL: appURL}
}

// OAuth returns the authorization URL with a fresh state bound to the caller.
func (h Patreon) OAuth(c *gin.Context) {
	if h.oauth == nil || !h.oauth.Configured() {
		abortWithDetail(c, http.StatusInternalServerError, "Patreon client ID not configured")
		return
	}
	state := uuid.NewString()
	if err := data.SetOAuthState(c.Request.Context(), h.rdb, state, c.GetString(ctxUserID)); err != nil {
		_ = c.Error(err)
		abortWithDetail(c, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"oauth_url": h.oauth.AuthCodeURL(state), "state": state})
}

// Callback bounces the browser back to the dashboard, which then calls Link.
func (h Patreon) Callback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.Redirect(http.StatusTemporaryRedirect, h.appURL+"/patreon/error?error=authorization_code_missing")
		return
	}
	q := url.Values{}
	q.Set("code", code)
	q.Set("state", c.Query("state"))
	c.Redirect(http.StatusTemporaryRedirect, h.appURL+"/patreon/callback?"+q.Encode())
}

func (h Patreon) Link(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString(ctxUserID)

	code := c.Query("code")
	if code == "" {
		abortWithDetail(c, http.StatusBadRequest, "Authorization code missing")
		return
	}
	if state := c.Query("state"); state != "" {
		owner, err := data.TakeOAuthState(ctx, h.rdb, state)
		if err != nil || owner != userID {
			abortWithDetail(c, http.StatusBadRequest, "Invalid OAuth state")
			return
		}
	}

	id, err := h.service.Link(ctx, userID, code)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"status":        "success",
			"message":       "Patreon account linked successfully",
			"is_subscriber": id.Subscriber,
		})
	case errors.Is(err, patreon.ErrAlreadyLinked):
		abortWithDetail(c, http.StatusBadRequest, "This Patreon account is already linked to another user")
	case errors.Is(err, moderation.ErrNotFound):
		abortWithDetail(c, http.StatusNotFound, "User not found")
	default:
		_ = c.Error(err)
		abortWithDetail(c, http.StatusInternalServerError, "Patreon linking failed")
	}
}

func (h Patreon) Unlink(c *gin.Context) {
	err := h.service.Unlink(c.Request.Context(), c.GetString(ctxUserID))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Patreon account unlinked successfully"})
	case errors.Is(err, patreon.ErrNotLinked):
		abortWithDetail(c, http.StatusBadRequest, "No Patreon account linked")
	case errors.Is(err, moderation.ErrNotFound):
		abortWithDetail(c, http.StatusNotFound, "User not found")
	default:
		abortWithError(c, err)
	}
}

// Status re-checks the membership with Patreon before answering.
func (h Patreon) Status(c *gin.Context) {
	acct, err := h.service.Sync(c.Request.Context(), c.GetString(ctxUserID))
	switch {
	case err == nil:
		var connected *string
		if acct.ConnectedAt != nil {
			s := acct.ConnectedAt.Format(time.RFC3339)
			connected = &s
		}
		c.JSON(http.StatusOK, gin.H{
			"linked":        true,
			"is_subscriber": acct.Subscriber,
			"patreon_id":    acct.PatreonID,
			"connected_at":  connected,
		})
	case errors.Is(err, patreon.ErrNotLinked):
		c.JSON(http.StatusOK, gin.H{"linked": false, "is_subscriber": false, "message": "No Patreon account linked"})
	case errors.Is(err, moderation.ErrNotFound):
		abortWithDetail(c, http.StatusNotFound, "User not found")
	default:
		_ = c.Error(err)
		c.JSON(http.StatusOK, gin.H{"linked": true, "is_subscriber": false, "error": "Failed to verify subscription status"})
	}
}
