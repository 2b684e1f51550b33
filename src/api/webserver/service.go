package webserver

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServiceTokenHeader authenticates the bot on service routes.
const ServiceTokenHeader = "X-Service-Token"

// ServiceTokenMiddleware requires the shared service token. An empty token
// leaves the routes open.
func ServiceTokenMiddleware(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got := []byte(c.GetHeader(ServiceTokenHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			abortWithDetail(c, http.StatusUnauthorized, "Invalid service token")
			return
		}
		c.Next()
	}
}
