package classifier_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/classifier"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func countingClassifier(calls *atomic.Int32) moderation.Classifier {
	return moderation.ClassifierFunc(func(_ context.Context, text string) ([]moderation.LabelScore, error) {
		calls.Add(1)
		return []moderation.LabelScore{
			{Label: "OK", Probability: 0.7},
			{Label: "H", Probability: 0.3},
		}, nil
	})
}

func TestCachedServesRepeatedText(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var calls atomic.Int32
	cached := classifier.NewCached(countingClassifier(&calls), rdb, "m1", time.Hour, zaptest.NewLogger(t))
	ctx := t.Context()

	first, err := cached.Classify(ctx, "hello")
	require.NoError(t, err)
	second, err := cached.Classify(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, mr.Exists(cached.Key("hello")))
	assert.Equal(t, time.Hour, mr.TTL(cached.Key("hello")))

	_, err = cached.Classify(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	// Keys are scoped by model.
	other := classifier.NewCached(countingClassifier(&calls), rdb, "m2", time.Hour, nil)
	assert.NotEqual(t, cached.Key("hello"), other.Key("hello"))
}

func TestCachedBypassesBrokenRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	var calls atomic.Int32
	cached := classifier.NewCached(countingClassifier(&calls), rdb, "m1", time.Hour, zaptest.NewLogger(t))

	got, err := cached.Classify(t.Context(), "hello")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCachedIgnoresCorruptEntries(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var calls atomic.Int32
	cached := classifier.NewCached(countingClassifier(&calls), rdb, "m1", time.Hour, zaptest.NewLogger(t))
	require.NoError(t, mr.Set(cached.Key("hello"), "not json"))

	got, err := cached.Classify(t.Context(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "OK", got[0].Label)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCachedDisabledWithoutTTL(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var calls atomic.Int32
	cached := classifier.NewCached(countingClassifier(&calls), rdb, "m1", 0, nil)
	for range 3 {
		_, err := cached.Classify(t.Context(), "hello")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Empty(t, mr.Keys())
}
