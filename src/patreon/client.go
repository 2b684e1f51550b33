// Package patreon links owners to Patreon accounts and tracks whether they
// are active patrons.
package patreon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/webclient"
	"github.com/bytedance/sonic"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL = "https://www.patreon.com"

	identityPath     = "/api/oauth2/v2/identity"
	activePatron     = "active_patron"
	memberType       = "member"
	defaultTimeout   = 30 * time.Second
	maxIdentityBytes = 1 << 20
)

var (
	// ErrUnauthorized is returned when Patreon rejects the access token.
	ErrUnauthorized = errors.New("patreon: access token rejected")
	// ErrNotLinked is returned for owners without a linked Patreon account.
	ErrNotLinked = errors.New("patreon: no account linked")
	// ErrRefreshFailed is returned when an expired token could not be refreshed.
	ErrRefreshFailed = errors.New("patreon: token refresh failed")
)

// Config describes the OAuth client registered with Patreon.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// BaseURL overrides DefaultBaseURL.
	BaseURL    string
	HTTPClient *http.Client
	Retry      webclient.RetryOptions
}

// Client talks to the Patreon OAuth and identity APIs.
type Client struct {
	oauth      *oauth2.Config
	baseURL    string
	httpClient *http.Client
	retry      webclient.RetryOptions
}

// Token is an OAuth token pair issued by Patreon.
type Token = oauth2.Token

// Identity is the part of a Patreon identity the service cares about.
type Identity struct {
	ID         string
	Subscriber bool
}

func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = webclient.NewDefault(defaultTimeout)
	}
	retry := cfg.Retry
	if retry.Attempts == 0 {
		retry = webclient.DefaultRetryOptions()
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"identity", "identity[email]", "identity.memberships"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth2/authorize",
				TokenURL:  base + "/api/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		baseURL:    base,
		httpClient: httpClient,
		retry:      retry,
	}
}

// Configured reports whether a client id was provided.
func (c *Client) Configured() bool {
	return c.oauth.ClientID != ""
}

// AuthCodeURL is where the user is sent to authorize the link.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

func (c *Client) Exchange(ctx context.Context, code string) (*Token, error) {
	tok, err := c.oauth.Exchange(c.withClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("patreon: exchange code: %w", err)
	}
	return tok, nil
}

// Refresh trades a refresh token for a new token pair. Patreon may omit the
// refresh token in the response, in which case the old one is kept.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	tok, err := c.oauth.TokenSource(c.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

// Identity fetches the user behind accessToken and their memberships.
func (c *Client) Identity(ctx context.Context, accessToken string) (*Identity, error) {
	q := url.Values{}
	q.Set("include", "memberships")
	q.Set("fields[member]", "patron_status,currently_entitled_amount_cents")
	endpoint := c.baseURL + identityPath + "?" + q.Encode()

	status, body, err := webclient.DoWithRetry(ctx, c.retry, func() (int, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxIdentityBytes))
		return resp.StatusCode, body, err
	})
	if err != nil {
		return nil, fmt.Errorf("patreon: identity: %w", err)
	}
	if status == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("patreon: identity status %d: %s", status, truncate(body, 200))
	}

	var doc identityDocument
	if err := sonic.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("patreon: decode identity: %w", err)
	}
	if doc.Data.ID == "" {
		return nil, errors.New("patreon: identity has no user id")
	}
	return &Identity{ID: doc.Data.ID, Subscriber: doc.subscriber()}, nil
}

func (c *Client) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

type identityDocument struct {
	Data struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"data"`
	Included []struct {
		Type       string `json:"type"`
		Attributes struct {
			PatronStatus string `json:"patron_status"`
		} `json:"attributes"`
	} `json:"included"`
}

func (d identityDocument) subscriber() bool {
	for _, inc := range d.Included {
		if inc.Type == memberType && inc.Attributes.PatronStatus == activePatron {
			return true
		}
	}
	return false
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
