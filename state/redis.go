package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ben-leadtech/etlkit"
)

// RedisKeyPrefix is prepended to every checkpoint key.
const RedisKeyPrefix = "etlkit:checkpoint:"

// Redis keeps checkpoints as JSON strings under RedisKeyPrefix + key.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	owned  bool
}

var _ Store = (*Redis)(nil)

// NewRedis uses an existing client. Close does not close it.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// OpenRedis connects to addr and pings it.
func OpenRedis(addr string, ttl time.Duration) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("state: redis backend needs an address")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("state: connect to redis at %s: %w", addr, err)
	}
	return &Redis{client: client, ttl: ttl, owned: true}, nil
}

func (r *Redis) LoadCheckpoint(ctx context.Context, key string) (*etlkit.Checkpoint, error) {
	data, err := r.client.Get(ctx, RedisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read %s: %w", key, err)
	}
	return decode(key, data)
}

func (r *Redis) SaveCheckpoint(ctx context.Context, key string, cp *etlkit.Checkpoint) error {
	data, err := encode(key, cp)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, RedisKeyPrefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("state: write %s: %w", key, err)
	}
	return nil
}

func (r *Redis) ClearCheckpoint(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, RedisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("state: delete %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
