package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrLockTimeout is returned when a Redis lock could not be taken in time.
var ErrLockTimeout = errors.New("lock wait timed out")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisConfig tunes the distributed lock.
type RedisConfig struct {
	Prefix   string
	TTL      time.Duration
	RetryGap time.Duration
	MaxWait  time.Duration
}

// Redis is a lock shared between processes. The key expires after TTL so a
// crashed holder cannot block a worker forever; release only deletes the key
// while it still carries the holder's token.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
	logger *zerolog.Logger
}

// NewRedis creates a Redis-backed lock.
func NewRedis(client *redis.Client, cfg RedisConfig, logger *zerolog.Logger) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "rota:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.RetryGap <= 0 {
		cfg.RetryGap = 25 * time.Millisecond
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Second
	}
	return &Redis{client: client, cfg: cfg, logger: logger}
}

// Lock polls SET NX until it wins, ctx ends or MaxWait elapses.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := r.cfg.Prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.cfg.MaxWait)

	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", fullKey, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("acquire %s: %w", fullKey, ErrLockTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.RetryGap):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{fullKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				r.logger.Warn().Err(err).Str("key", fullKey).Msg("failed to release lock")
			}
		})
	}, nil
}
