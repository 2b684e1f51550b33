package webserver

import (
	"errors"
	"html"
	"net/http"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/data"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/types"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
)

type Guilds struct {
	guilds    *data.Guilds
	sanitizer *bluemonday.Policy
}

func NewGuilds(guilds *data.Guilds, sanitizer *bluemonday.Policy) Guilds {
	return Guilds{guilds: guilds, sanitizer: sanitizer}
}

// Register is called by the bot when it joins a guild.
func (h Guilds) Register(c *gin.Context) {
	var req struct {
		OwnerID   types.Snowflake `json:"owner_id" binding:"required"`
		OwnerName *string         `json:"owner_name"`
		OwnerIcon *string         `json:"owner_icon"`
		GuildID   types.Snowflake `json:"guild_id" binding:"required"`
		GuildName string          `json:"guild_name" binding:"required,max=128"`
		GuildIcon *string         `json:"guild_icon"`
		Moderate  *bool           `json:"moderate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithDetail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	moderate := true
	if req.Moderate != nil {
		moderate = *req.Moderate
	}

	guild, err := h.guilds.Register(c.Request.Context(), data.Registration{
		OwnerID:   req.OwnerID.String(),
		OwnerName: req.OwnerName,
		OwnerIcon: req.OwnerIcon,
		GuildID:   req.GuildID.String(),
		GuildName: req.GuildName,
		GuildIcon: req.GuildIcon,
		Moderate:  moderate,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "guild_id": guild.GuildID})
}

// Disable is called by the bot when it leaves a guild.
func (h Guilds) Disable(c *gin.Context) {
	guildID := c.Param("guild_id")
	if err := h.guilds.Disable(c.Request.Context(), guildID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_guild_id": guildID})
}

func (h Guilds) List(c *gin.Context) {
	guilds, err := h.guilds.ListOwned(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "guilds": guilds})
}

func (h Guilds) Get(c *gin.Context) {
	guild, err := h.guilds.Owned(c.Request.Context(), c.GetString(ctxUserID), c.Param("guild_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "guild": guild})
}

func (h Guilds) UpdateSettings(c *gin.Context) {
	var req struct {
		ConfidenceLimit   *float64 `json:"confidence_limit" binding:"required,gte=0,lte=1"`
		ModerationMessage *string  `json:"moderation_message" binding:"required,max=512"`
		EnableH           *bool    `json:"enable_h" binding:"required"`
		EnableV           *bool    `json:"enable_v" binding:"required"`
		EnableS           *bool    `json:"enable_s" binding:"required"`
		EnableH2          *bool    `json:"enable_h2" binding:"required"`
		EnableV2          *bool    `json:"enable_v2" binding:"required"`
		EnableS3          *bool    `json:"enable_s3" binding:"required"`
		EnableHR          *bool    `json:"enable_hr" binding:"required"`
		EnableSH          *bool    `json:"enable_sh" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithDetail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	err := h.guilds.UpdateSettings(c.Request.Context(), c.GetString(ctxUserID), c.Param("guild_id"), data.SettingsUpdate{
		ConfidenceLimit:   *req.ConfidenceLimit,
		ModerationMessage: h.plainText(*req.ModerationMessage),
		EnableH:           *req.EnableH,
		EnableV:           *req.EnableV,
		EnableS:           *req.EnableS,
		EnableH2:          *req.EnableH2,
		EnableV2:          *req.EnableV2,
		EnableS3:          *req.EnableS3,
		EnableHR:          *req.EnableHR,
		EnableSH:          *req.EnableSH,
	})
	if errors.Is(err, moderation.ErrNotFound) {
		abortWithDetail(c, http.StatusUnauthorized, "Unauthorised to access this guild")
		return
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// plainText strips markup. Discord renders the message as text, so entities
// are decoded again after sanitizing.
func (h Guilds) plainText(s string) string {
	return html.UnescapeString(h.sanitizer.Sanitize(s))
}
