// Package discord signs users in with Discord OAuth and reads their profile.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/webclient"
	"github.com/bwmarrin/discordgo"
	"golang.org/x/oauth2"
)

const DefaultAPIEndpoint = "https://discord.com/api/v10"

// ErrUnauthorized is returned when Discord rejects the access token.
var ErrUnauthorized = errors.New("discord: access token rejected")

type Config struct {
	ClientID     string
	ClientSecret string
	APIEndpoint  string
	HTTPClient   *http.Client
}

// Client exchanges OAuth codes and looks up the signed-in user.
type Client struct {
	clientID     string
	clientSecret string
	tokenURL     string
	httpClient   *http.Client
}

func New(cfg Config) *Client {
	api := strings.TrimRight(cfg.APIEndpoint, "/")
	if api == "" {
		api = DefaultAPIEndpoint
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = webclient.NewDefault(20 * time.Second)
	}
	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURL:     api + "/oauth2/token",
		httpClient:   httpClient,
	}
}

// Exchange trades an authorization code for a token. redirectURI must match
// the one the code was issued for.
func (c *Client) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{"identify", "guilds"},
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	tok, err := conf.Exchange(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), code)
	if err != nil {
		return nil, fmt.Errorf("discord: exchange code: %w", err)
	}
	return tok, nil
}

// CurrentUser returns the user that owns accessToken.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*discordgo.User, error) {
	s, err := discordgo.New("Bearer " + accessToken)
	if err != nil {
		return nil, fmt.Errorf("discord: session: %w", err)
	}
	s.Client = c.httpClient
	s.MaxRestRetries = 1

	u, err := s.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("discord: current user: %w", err)
	}
	return u, nil
}
