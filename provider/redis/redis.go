// Package redis keeps cached artifact entries in Redis, so every replica
// reads the same copy and an eviction on one replica is seen by all.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/entrysync/provider"
)

var ErrNilClient = errors.New("redis entry cache: client is required")

type Config struct {
	Client goredis.UniversalClient
	// Namespace prefixes every entry key ("<ns>:<key>"); "" keeps keys as is.
	Namespace string
	// CloseClient hands ownership of Client to the provider.
	CloseClient bool
}

// Redis is a provider.Provider over a go-redis client. Entry cost is not
// tracked; Redis memory policy bounds the cache.
type Redis struct {
	rdb    goredis.UniversalClient
	prefix string
	owned  bool
}

var _ provider.Provider = (*Redis)(nil)

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	r := &Redis{rdb: cfg.Client, owned: cfg.CloseClient}
	if cfg.Namespace != "" {
		r.prefix = cfg.Namespace + ":"
	}
	return r, nil
}

func (r *Redis) k(key string) string { return r.prefix + key }

// Get reports a missing entry as (nil, false, nil).
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, r.k(key)).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("redis entry cache: read %s: %w", key, err)
	}
	return b, true, nil
}

// Set stores an encoded entry; ttl <= 0 keeps it until evicted.
func (r *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	ttl = max(ttl, 0)
	if err := r.rdb.Set(ctx, r.k(key), value, ttl).Err(); err != nil {
		return false, fmt.Errorf("redis entry cache: write %s: %w", key, err)
	}
	return true, nil
}

// Del evicts key; evicting an absent entry succeeds.
func (r *Redis) Del(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.k(key)).Err(); err != nil {
		return fmt.Errorf("redis entry cache: evict %s: %w", key, err)
	}
	return nil
}

// Close releases the client only when the provider owns it. Repeated calls
// are harmless.
func (r *Redis) Close(context.Context) error {
	if !r.owned {
		return nil
	}
	if err := r.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
