package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisLastSeen keeps last-activity timestamps in Redis so that frequent
// connection churn does not hit the document store.
type RedisLastSeen struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLastSeen returns a recorder writing keys "<prefix>:lastseen:<user>".
// A zero ttl keeps keys forever.
func NewRedisLastSeen(client *redis.Client, prefix string, ttl time.Duration) *RedisLastSeen {
	return &RedisLastSeen{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisLastSeen) key(userID string) string {
	return fmt.Sprintf("%s:lastseen:%s", r.prefix, userID)
}

// Touch implements LastSeen.
func (r *RedisLastSeen) Touch(ctx context.Context, userID string, at time.Time) error {
	if err := r.client.Set(ctx, r.key(userID), at.UTC().UnixMilli(), r.ttl).Err(); err != nil {
		return errors.Wrapf(err, "touch %s", userID)
	}
	return nil
}

// LastSeen returns the recorded time for userID. ok is false when nothing
// was recorded.
func (r *RedisLastSeen) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	raw, err := r.client.Get(ctx, r.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "last seen %s", userID)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "parse last seen %s", userID)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}
