package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	oauthStatePrefix = "oauth:state:"
	oauthStateTTL    = 10 * time.Minute

	// StreamModerations carries one entry per recorded moderation.
	StreamModerations = "aidle.moderations"
	streamMaxLen      = 10000
)

// ErrStateNotFound is returned when an OAuth state is unknown or expired.
var ErrStateNotFound = errors.New("oauth state not found")

func MustRedis(url string, logger *zap.Logger) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	return redis.NewClient(opt)
}

// SetOAuthState binds a one-time OAuth state to the owner that requested it.
func SetOAuthState(ctx context.Context, rdb *redis.Client, state, ownerID string) error {
	return rdb.Set(ctx, oauthStatePrefix+state, ownerID, oauthStateTTL).Err()
}

// TakeOAuthState returns the owner bound to state and forgets it.
func TakeOAuthState(ctx context.Context, rdb *redis.Client, state string) (string, error) {
	ownerID, err := rdb.GetDel(ctx, oauthStatePrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrStateNotFound
	}
	return ownerID, err
}

// StreamPublisher appends moderation events to a Redis stream.
type StreamPublisher struct {
	rdb    *redis.Client
	stream string
}

func NewStreamPublisher(rdb *redis.Client, stream string) *StreamPublisher {
	if stream == "" {
		stream = StreamModerations
	}
	return &StreamPublisher{rdb: rdb, stream: stream}
}

func (p *StreamPublisher) Publish(ctx context.Context, ev moderation.Event) error {
	_, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"message_id":      ev.MessageID,
			"guild_id":        ev.GuildID,
			"author_id":       ev.AuthorID,
			"violation_score": strconv.FormatFloat(ev.ViolationScore, 'f', -1, 64),
			"top_label":       ev.TopLabel,
			"created_at":      ev.CreatedAt.Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}
