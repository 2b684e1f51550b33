package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"github.com/OneOfOne/xxhash"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cached serves repeated texts from Redis. Cache failures fall through to the
// wrapped classifier.
type Cached struct {
	next   moderation.Classifier
	rdb    *redis.Client
	model  string
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached wraps next. A non-positive ttl or nil client disables caching.
func NewCached(next moderation.Classifier, rdb *redis.Client, model string, ttl time.Duration, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{
		next:   next,
		rdb:    rdb,
		model:  model,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "classifier_cache")),
	}
}

// Key is the cache key of text.
func (c *Cached) Key(text string) string {
	return fmt.Sprintf("classify:%s:%016x", c.model, xxhash.ChecksumString64(text))
}

func (c *Cached) Classify(ctx context.Context, text string) ([]moderation.LabelScore, error) {
	if c.rdb == nil || c.ttl <= 0 {
		return c.next.Classify(ctx, text)
	}

	key := c.Key(text)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var scores []moderation.LabelScore
		if err := sonic.Unmarshal(raw, &scores); err == nil {
			return scores, nil
		}
		c.logger.Warn("Discarding undecodable cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("Classifier cache read failed", zap.Error(err))
	}

	scores, err := c.next.Classify(ctx, text)
	if err != nil {
		return nil, err
	}

	if raw, err := sonic.Marshal(scores); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("Classifier cache write failed", zap.Error(err))
		}
	}
	return scores, nil
}
