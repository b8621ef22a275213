package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "civicwatch:view:"
	fieldRevision = "rev"
	fieldPayload  = "payload"
)

// Redis keeps each view in a hash of {rev, payload} with a TTL, so instances
// behind a load balancer share computed projections.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	vals, err := r.client.HMGet(ctx, keyPrefix+key, fieldRevision, fieldPayload).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read cached view: %w", err)
	}
	rev, ok1 := vals[0].(string)
	payload, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return Entry{}, false, nil
	}
	n, err := strconv.ParseInt(rev, 10, 64)
	if err != nil {
		return Entry{}, false, nil
	}
	return Entry{Revision: n, Payload: []byte(payload)}, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, e Entry) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, keyPrefix+key, fieldRevision, e.Revision, fieldPayload, e.Payload)
		if r.ttl > 0 {
			pipe.Expire(ctx, keyPrefix+key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write cached view: %w", err)
	}
	return nil
}
