package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/config"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/data"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/logging"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/patreon"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/shared/tokenbox"
	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/oauth2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testSecret       = "test-secret"
	testServiceToken = "svc-token"
	testAppURL       = "http://dash.test"
	testDailyLimit   = 3
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockDiscord is a mock type for the DiscordAPI interface.
type MockDiscord struct {
	mock.Mock
}

func (m *MockDiscord) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	args := m.Called(ctx, code, redirectURI)
	tok, _ := args.Get(0).(*oauth2.Token)
	return tok, args.Error(1)
}

func (m *MockDiscord) CurrentUser(ctx context.Context, accessToken string) (*discordgo.User, error) {
	args := m.Called(ctx, accessToken)
	u, _ := args.Get(0).(*discordgo.User)
	return u, args.Error(1)
}

// MockPatreonAPI is a mock type for the patreon.API interface.
type MockPatreonAPI struct {
	mock.Mock
}

func (m *MockPatreonAPI) Exchange(ctx context.Context, code string) (*patreon.Token, error) {
	args := m.Called(ctx, code)
	tok, _ := args.Get(0).(*patreon.Token)
	return tok, args.Error(1)
}

func (m *MockPatreonAPI) Refresh(ctx context.Context, refreshToken string) (*patreon.Token, error) {
	args := m.Called(ctx, refreshToken)
	tok, _ := args.Get(0).(*patreon.Token)
	return tok, args.Error(1)
}

func (m *MockPatreonAPI) Identity(ctx context.Context, accessToken string) (*patreon.Identity, error) {
	args := m.Called(ctx, accessToken)
	id, _ := args.Get(0).(*patreon.Identity)
	return id, args.Error(1)
}

var testScores = []moderation.LabelScore{
	{Label: "H", Probability: 0.1},
	{Label: "OK", Probability: 0.7},
	{Label: "S", Probability: 0.2},
}

// classify fails for the text "offline" and scores everything else with testScores.
func classify(_ context.Context, text string) ([]moderation.LabelScore, error) {
	if text == "offline" {
		return nil, errors.New("dial tcp: connection refused")
	}
	return testScores, nil
}

type testServer struct {
	engine     *gin.Engine
	db         *gorm.DB
	redis      *miniredis.Miniredis
	rdb        *redis.Client
	discord    *MockDiscord
	patreonAPI *MockPatreonAPI

	// classified counts classifier invocations.
	classified *atomic.Int64
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:web_"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logging.Gorm(zaptest.NewLogger(t)),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, data.Migrate(db))
	return db
}

// newTestServer wires the full router over sqlite and miniredis. opts may
// adjust the configuration before the router is built.
func newTestServer(t *testing.T, opts ...func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Defaults()
	cfg.AppURL = testAppURL
	cfg.Auth.JWTSecret = testSecret
	cfg.Service.Token = testServiceToken
	cfg.Auth.LoginRate = 100
	cfg.Patreon.ClientID = "patreon-client"
	cfg.Patreon.ClientSecret = "patreon-secret"
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := zaptest.NewLogger(t)
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	guilds := data.NewGuilds(db, testDailyLimit)
	records := data.NewRecords(db, time.Now)
	classified := &atomic.Int64{}
	pipeline := moderation.NewPipeline(moderation.Deps{
		Ledger: moderation.NewLedger(guilds, records, time.Now),
		Classifier: moderation.ClassifierFunc(func(ctx context.Context, text string) ([]moderation.LabelScore, error) {
			classified.Add(1)
			return classify(ctx, text)
		}),
		Store:      records,
		Publisher:  data.NewStreamPublisher(rdb, ""),
		Logger:     logger,
	})

	box, err := tokenbox.New(testSecret)
	require.NoError(t, err)
	patreonAPI := &MockPatreonAPI{}
	discordAPI := &MockDiscord{}

	engine := New(Deps{
		Config:    cfg,
		Redis:     rdb,
		Moderator: pipeline,
		Guilds:    guilds,
		Discord:   discordAPI,
		PatreonOAuth: patreon.New(patreon.Config{
			ClientID:     cfg.Patreon.ClientID,
			ClientSecret: cfg.Patreon.ClientSecret,
			RedirectURI:  cfg.Patreon.RedirectURI,
		}),
		Patreon: patreon.NewService(patreonAPI, data.NewPatreonAccounts(db, box), logger),
		Logger:  logger,
	})

	return &testServer{
		engine:     engine,
		db:         db,
		redis:      mr,
		rdb:        rdb,
		discord:    discordAPI,
		patreonAPI: patreonAPI,
		classified: classified,
	}
}

type request struct {
	method  string
	path    string
	body    any
	headers map[string]string
}

func (s *testServer) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	switch b := r.body.(type) {
	case nil:
		body = bytes.NewReader(nil)
	case string:
		body = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(r.method, r.path, body)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

// service sends a request as the bot.
func (s *testServer) service(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, request{method: method, path: path, body: body, headers: map[string]string{
		ServiceTokenHeader: testServiceToken,
	}})
}

// user sends a request with a session for userID.
func (s *testServer) user(t *testing.T, userID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	tok, err := issueJWT([]byte(testSecret), userID, "discord-access", time.Now().Add(time.Hour))
	require.NoError(t, err)
	return s.do(t, request{method: method, path: path, body: body, headers: map[string]string{
		"Authorization": "Bearer " + tok,
	}})
}

// register adds guildID for ownerID through the bot route.
func (s *testServer) register(t *testing.T, ownerID, guildID string) {
	t.Helper()
	rec := s.service(t, http.MethodPost, "/guild", map[string]any{
		"owner_id":   ownerID,
		"owner_name": "owner " + ownerID,
		"guild_id":   guildID,
		"guild_name": "guild " + guildID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
