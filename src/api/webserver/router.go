package webserver

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
)

func attachRoutes(r *gin.Engine, d Deps) {
	cfg := d.Config

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", cfg.Auth.HeaderName, ServiceTokenHeader},
		ExposeHeaders: []string{"Content-Length"},
	}
	if cfg.AppURL != "" {
		corsCfg.AllowOrigins = []string{cfg.AppURL}
		corsCfg.AllowCredentials = true
	} else {
		corsCfg.AllowAllOrigins = true
	}
	r.Use(cors.New(corsCfg))

	secret := []byte(cfg.Auth.JWTSecret)
	modH := NewModeration(d.Moderator)
	guildH := NewGuilds(d.Guilds, bluemonday.StrictPolicy())
	meH := NewMe(d.Guilds, nil)
	authH := NewAuth(d.Discord, secret, cfg.Auth.SessionTTL)
	discordH := NewDiscord(d.Discord)
	patreonH := NewPatreon(d.PatreonOAuth, d.Patreon, d.Redis, cfg.AppURL)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/auth", RateLimitMiddleware(NewRateLimiter(cfg.Auth.LoginRate)), authH.Login)
	r.GET("/patreon/callback", patreonH.Callback)

	service := r.Group("/", ServiceTokenMiddleware(cfg.Service.Token))
	{
		service.POST("/moderate", modH.Moderate)
		service.POST("/guild", guildH.Register)
		service.DELETE("/guild/:guild_id", guildH.Disable)
	}

	user := r.Group("/", JWTMiddleware(secret, cfg.Auth.HeaderName))
	{
		user.GET("/guilds", guildH.List)
		user.GET("/guilds/:guild_id", guildH.Get)
		user.POST("/guild/:guild_id/settings", guildH.UpdateSettings)

		user.GET("/me", meH.Me)
		user.GET("/message-stats", meH.MessageStats)

		user.GET("/discord/me", discordH.Me)
		user.GET("/discord/presence", discordH.Presence)

		user.GET("/patreon/oauth", patreonH.OAuth)
		user.POST("/patreon/link", patreonH.Link)
		user.DELETE("/patreon/unlink", patreonH.Unlink)
		user.GET("/patreon/status", patreonH.Status)
	}
}
