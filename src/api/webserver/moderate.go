package webserver

import (
	"errors"
	"net/http"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/types"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"github.com/gin-gonic/gin"
)

type Moderation struct {
	pipeline Moderator
}

func NewModeration(pipeline Moderator) Moderation {
	return Moderation{pipeline: pipeline}
}

type moderateRequest struct {
	InputText *string `json:"input_text" binding:"required"`
	Metadata  struct {
		MessageID  types.Snowflake `json:"message_id" binding:"required"`
		AuthorID   types.Snowflake `json:"author_id" binding:"required"`
		AuthorName string          `json:"author_name"`
		GuildID    types.Snowflake `json:"guild_id" binding:"required"`
	} `json:"metadata"`
}

func (m Moderation) Moderate(c *gin.Context) {
	var req moderateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithDetail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res, err := m.pipeline.Moderate(c.Request.Context(), moderation.Request{
		Text:       *req.InputText,
		MessageID:  req.Metadata.MessageID.String(),
		AuthorID:   req.Metadata.AuthorID.String(),
		AuthorName: req.Metadata.AuthorName,
		GuildID:    req.Metadata.GuildID.String(),
	})
	if err != nil {
		// The bot treats an unregistered guild as a server fault, not a missing resource.
		if errors.Is(err, moderation.ErrNotFound) {
			_ = c.Error(err)
			abortWithDetail(c, http.StatusInternalServerError, "Guild not found")
			return
		}
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": res.Results})
}
