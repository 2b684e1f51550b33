package webserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func moderateBody(guildID string, n int, text string) map[string]any {
	return map[string]any{
		"input_text": text,
		"metadata": map[string]any{
			"message_id":  fmt.Sprintf("%s%03d", guildID, n),
			"author_id":   "42",
			"author_name": "someone",
			"guild_id":    guildID,
		},
	}
}

func TestModerateReturnsRankedResults(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.register(t, "100", "900")

	rec := s.service(t, http.MethodPost, "/moderate", moderateBody("900", 1, "hello"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Results []struct {
			Label       string  `json:"label"`
			Probability float64 `json:"probability"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Results, 3)
	assert.Equal(t, "OK", out.Results[0].Label)
	assert.Equal(t, "S", out.Results[1].Label)
	assert.Equal(t, "H", out.Results[2].Label)

	n, err := s.rdb.XLen(t.Context(), "aidle.moderations").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestModerateAcceptsNumericIDs(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.register(t, "100", "900")

	rec := s.service(t, http.MethodPost, "/moderate",
		`{"input_text":"hi","metadata":{"message_id":1234,"author_id":42,"guild_id":900}}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestModerateRateLimitedUntilMidnight(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.register(t, "100", "900")
	s.register(t, "100", "901")

	for i := range testDailyLimit {
		guild := "900"
		if i%2 == 1 {
			guild = "901"
		}
		rec := s.service(t, http.MethodPost, "/moderate", moderateBody(guild, i, "hello"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := s.service(t, http.MethodPost, "/moderate", moderateBody("901", 50, "hello"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "You are rate limited until midnight.", decode(t, rec)["detail"])

	// A retry of an already recorded message is denied like any other request.
	rec = s.service(t, http.MethodPost, "/moderate", moderateBody("900", 0, "hello"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, rec.Body.String())
	assert.Equal(t, int64(testDailyLimit), s.classified.Load())

	var count int64
	require.NoError(t, s.db.Table("messages").Count(&count).Error)
	assert.Equal(t, int64(testDailyLimit), count)
}

func TestModerateReusedMessageIDOverLimit(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.register(t, "100", "900")
	require.NoError(t, s.db.Model(&types.Plan{}).Where("1 = 1").Update("max_requests", 1).Error)

	rec := s.service(t, http.MethodPost, "/moderate", moderateBody("900", 1, "hello"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.service(t, http.MethodPost, "/moderate", moderateBody("900", 2, "hello"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code, rec.Body.String())

	for i := range 50 {
		rec := s.service(t, http.MethodPost, "/moderate", moderateBody("900", 1, fmt.Sprintf("text %d", i)))
		require.Equal(t, http.StatusTooManyRequests, rec.Code, rec.Body.String())
	}

	assert.Equal(t, int64(1), s.classified.Load())
	var count int64
	require.NoError(t, s.db.Table("messages").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestModerateReusedMessageIDConflicts(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.register(t, "100", "900")

	rec := s.service(t, http.MethodPost, "/moderate", moderateBody("900", 1, "hello"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The identical resend is answered again.
	rec = s.service(t, http.MethodPost, "/moderate", moderateBody("900", 1, "hello"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.service(t, http.MethodPost, "/moderate", moderateBody("900", 1, "edited"))
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, int64(2), s.classified.Load())

	var count int64
	require.NoError(t, s.db.Table("messages").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	n, err := s.rdb.XLen(t.Context(), "aidle.moderations").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestModerateErrors(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.register(t, "100", "900")

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{
			name:   "unknown guild",
			body:   moderateBody("555", 1, "hello"),
			status: http.StatusInternalServerError,
		},
		{
			name:   "classifier down",
			body:   moderateBody("900", 2, "offline"),
			status: http.StatusServiceUnavailable,
		},
		{
			name:   "missing text",
			body:   map[string]any{"metadata": moderateBody("900", 3, "")["metadata"]},
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "missing metadata",
			body:   map[string]any{"input_text": "hello"},
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "non numeric id",
			body:   `{"input_text":"hi","metadata":{"message_id":"abc","author_id":"42","guild_id":"900"}}`,
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "malformed json",
			body:   `{"input_text":`,
			status: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.service(t, http.MethodPost, "/moderate", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, decode(t, rec), "detail")
		})
	}

	var count int64
	require.NoError(t, s.db.Table("messages").Count(&count).Error)
	assert.Zero(t, count)
}

func TestModerateEmptyTextIsClassified(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.register(t, "100", "900")

	rec := s.service(t, http.MethodPost, "/moderate", moderateBody("900", 1, ""))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestModerateRequiresServiceToken(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	rec := s.do(t, request{method: http.MethodPost, path: "/moderate", body: moderateBody("900", 1, "hello")})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, request{
		method:  http.MethodPost,
		path:    "/moderate",
		body:    moderateBody("900", 1, "hello"),
		headers: map[string]string{ServiceTokenHeader: "wrong"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
