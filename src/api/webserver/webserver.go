package webserver

import (
	"context"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/config"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/data"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/logging"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/patreon"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Moderator runs one moderation request.
type Moderator interface {
	Moderate(ctx context.Context, req moderation.Request) (*moderation.Result, error)
}

// DiscordAPI signs users in and reads their profile.
type DiscordAPI interface {
	Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error)
	CurrentUser(ctx context.Context, accessToken string) (*discordgo.User, error)
}

// PatreonOAuth builds the Patreon authorization URL.
type PatreonOAuth interface {
	Configured() bool
	AuthCodeURL(state string) string
}

// Deps are everything the HTTP surface needs.
type Deps struct {
	Config       config.Config
	Redis        *redis.Client
	Moderator    Moderator
	Guilds       *data.Guilds
	Discord      DiscordAPI
	PatreonOAuth PatreonOAuth
	Patreon      *patreon.Service
	Logger       *zap.Logger
}

func New(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	g := gin.New()
	g.Use(logging.GinMiddleware(d.Logger), gin.Recovery())
	attachRoutes(g, d)
	return g
}
