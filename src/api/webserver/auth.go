package webserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Auth struct {
	discord   DiscordAPI
	jwtSecret []byte
	ttl       time.Duration
}

func NewAuth(discord DiscordAPI, secret []byte, ttl time.Duration) Auth {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return Auth{discord: discord, jwtSecret: secret, ttl: ttl}
}

// Login exchanges a Discord authorization code and returns a session token
// as the raw response body.
func (a Auth) Login(c *gin.Context) {
	code := c.Query("code")
	redirectURI := c.Query("redirect_uri")
	if code == "" || redirectURI == "" {
		abortWithDetail(c, http.StatusUnprocessableEntity, "code and redirect_uri are required")
		return
	}

	tok, err := a.discord.Exchange(c.Request.Context(), code, redirectURI)
	if err != nil {
		_ = c.Error(err)
		abortWithDetail(c, http.StatusInternalServerError, "Authentication failed")
		return
	}
	user, err := a.discord.CurrentUser(c.Request.Context(), tok.AccessToken)
	if err != nil {
		_ = c.Error(err)
		abortWithDetail(c, http.StatusInternalServerError, "Failed to fetch user")
		return
	}

	expires := tok.Expiry
	if expires.IsZero() {
		expires = time.Now().Add(a.ttl)
	}
	signed, err := issueJWT(a.jwtSecret, user.ID, tok.AccessToken, expires)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(signed))
}
