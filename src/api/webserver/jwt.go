package webserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxUserID      = "user_id"
	ctxAccessToken = "access_token"
)

// Claims is the session token issued after Discord sign-in.
type Claims struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	jwt.RegisteredClaims
}

func issueJWT(secret []byte, userID, accessToken string, expires time.Time) (string, error) {
	claims := Claims{
		UserID:      userID,
		AccessToken: accessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// JWTMiddleware reads the session token from header. The "Bearer " prefix is optional.
func JWTMiddleware(secret []byte, header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(header))
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
		if raw == "" {
			abortWithDetail(c, http.StatusUnauthorized, "Authorization header missing")
			return
		}

		var claims Claims
		tok, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !tok.Valid || claims.UserID == "" {
			abortWithDetail(c, http.StatusUnauthorized, "Invalid token")
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxAccessToken, claims.AccessToken)
		c.Next()
	}
}
