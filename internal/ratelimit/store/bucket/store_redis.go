package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"civicwatch/internal/ratelimit/models"
)

const keyPrefix = "civicwatch:ratelimit:"

// RedisBucketStore shares sliding windows across instances. Each key is a
// sorted set of request IDs scored by arrival time in milliseconds.
type RedisBucketStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisBucketStore(client *redis.Client) *RedisBucketStore {
	return &RedisBucketStore{client: client, now: time.Now}
}

// Allow records the request optimistically and removes it again when the
// window turns out to be full.
func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	now := s.now()
	k := keyPrefix + key
	member := uuid.NewString()
	nowMs := now.UnixMilli()
	cutoff := now.Add(-window).UnixMilli()

	var (
		count  *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff, 10))
		pipe.ZAdd(ctx, k, redis.Z{Score: float64(nowMs), Member: member})
		count = pipe.ZCard(ctx, k)
		oldest = pipe.ZRangeWithScores(ctx, k, 0, 0)
		pipe.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("check rate limit: %w", err)
	}

	resetAt := now.Add(window)
	if zs := oldest.Val(); len(zs) > 0 {
		resetAt = time.UnixMilli(int64(zs[0].Score)).Add(window)
	}
	n := int(count.Val())
	if n <= limit {
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - n,
			ResetAt:   resetAt,
		}, nil
	}

	if err := s.client.ZRem(ctx, k, member).Err(); err != nil {
		return nil, fmt.Errorf("undo rejected request: %w", err)
	}
	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter(resetAt.Sub(now)),
	}, nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}
