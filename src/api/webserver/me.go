package webserver

import (
	"net/http"
	"time"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/data"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"github.com/gin-gonic/gin"
)

type Me struct {
	guilds *data.Guilds
	now    func() time.Time
}

// NewMe returns the account handlers. A nil clock means time.Now.
func NewMe(guilds *data.Guilds, clock func() time.Time) Me {
	if clock == nil {
		clock = time.Now
	}
	return Me{guilds: guilds, now: clock}
}

func (h Me) Me(c *gin.Context) {
	owner, err := h.guilds.Owner(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, owner)
}

// MessageStats lists today's moderated messages across the caller's guilds.
func (h Me) MessageStats(c *gin.Context) {
	since := moderation.StartOfDay(h.now())
	records, err := h.guilds.RecordsSince(c.Request.Context(), c.GetString(ctxUserID), since)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": records})
}
