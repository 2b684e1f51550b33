package webserver

import (
	"errors"
	"net/http"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/discord"
	"github.com/gin-gonic/gin"
)

type Discord struct {
	api DiscordAPI
}

func NewDiscord(api DiscordAPI) Discord {
	return Discord{api: api}
}

func (h Discord) Me(c *gin.Context) {
	h.currentUser(c, "Failed to fetch user")
}

func (h Discord) Presence(c *gin.Context) {
	h.currentUser(c, "Failed to fetch presence")
}

func (h Discord) currentUser(c *gin.Context, failure string) {
	user, err := h.api.CurrentUser(c.Request.Context(), c.GetString(ctxAccessToken))
	if err != nil {
		_ = c.Error(err)
		if errors.Is(err, discord.ErrUnauthorized) {
			abortWithDetail(c, http.StatusUnauthorized, "Discord session expired")
			return
		}
		abortWithDetail(c, http.StatusInternalServerError, failure)
		return
	}
	c.JSON(http.StatusOK, user)
}
