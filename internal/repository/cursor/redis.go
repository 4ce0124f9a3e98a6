package cursor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"
)

// RedisConfig holds connection parameters for the Redis cursor store.
type RedisConfig struct {
	Addrs     []string
	Password  string
	KeyPrefix string
}

// Redis stores cursors in Redis via rueidis, surviving process restarts and
// shared across replicas reading the same sources.
type Redis struct {
	client rueidis.Client
	prefix string
}

// NewRedis creates a Redis cursor store.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Password:     cfg.Password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "logsieve:"
	}
	return &Redis{client: client, prefix: prefix}, nil
}

// Accepted returns the highest sequence accepted by the gateway for a source.
func (r *Redis) Accepted(ctx context.Context, sourceKey string) (uint64, error) {
	return r.get(ctx, r.key("accepted", sourceKey))
}

// SetAccepted advances the accepted cursor.
func (r *Redis) SetAccepted(ctx context.Context, sourceKey string, seq uint64) error {
	return r.set(ctx, r.key("accepted", sourceKey), seq)
}

// Committed returns the highest sequence indexed for a source.
func (r *Redis) Committed(ctx context.Context, sourceKey string) (uint64, error) {
	return r.get(ctx, r.key("committed", sourceKey))
}

// SetCommitted advances the committed cursor.
func (r *Redis) SetCommitted(ctx context.Context, sourceKey string, seq uint64) error {
	return r.set(ctx, r.key("committed", sourceKey), seq)
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	cmd := r.client.B().Ping().Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (r *Redis) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for cursor store: %w", ctx.Err())
		case <-ticker.C:
			if err := r.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// Close shuts down the client.
func (r *Redis) Close() {
	r.client.Close()
}

func (r *Redis) key(kind, sourceKey string) string {
	return r.prefix + "cursor:" + kind + ":" + sourceKey
}

func (r *Redis) get(ctx context.Context, key string) (uint64, error) {
	cmd := r.client.B().Get().Key(key).Build()
	val, err := r.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get cursor %s: %w", key, err)
	}
	return uint64(val), nil
}

func (r *Redis) set(ctx context.Context, key string, seq uint64) error {
	// Monotonic advance only; a stale writer must not move a cursor back.
	val := strconv.FormatUint(seq, 10)
	cmd := r.client.B().Eval().
		Script("local c = tonumber(redis.call('GET', KEYS[1]) or '0') " +
			"if tonumber(ARGV[1]) > c then redis.call('SET', KEYS[1], ARGV[1]) end return 1").
		Numkeys(1).Key(key).Arg(val).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("set cursor %s: %w", key, err)
	}
	return nil
}
