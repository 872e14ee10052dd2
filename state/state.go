// Package state stores pipeline checkpoints between runs.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ben-leadtech/etlkit"
)

// Backend names accepted by Open.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

var ErrUnknownBackend = errors.New("state: unknown backend")

// Store is a Checkpointer holding resources that must be released.
type Store interface {
	etlkit.Checkpointer
	Close() error
}

// Options configures Open.
type Options struct {
	// Path is the bbolt database file.
	Path string

	// RedisAddr is host:port of the Redis server.
	RedisAddr string

	// TTL expires Redis checkpoints. Zero keeps them forever.
	TTL time.Duration
}

// Open returns the store for backend. BackendNone and "" return a nil store.
func Open(backend string, opts Options) (Store, error) {
	switch backend {
	case "", BackendNone:
		return nil, nil
	case BackendMemory:
		return NewMemory(), nil
	case BackendBolt:
		b, err := OpenBolt(opts.Path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendRedis:
		r, err := OpenRedis(opts.RedisAddr, opts.TTL)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

func encode(key string, cp *etlkit.Checkpoint) ([]byte, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("state: encode %s: %w", key, err)
	}
	return data, nil
}

func decode(key string, data []byte) (*etlkit.Checkpoint, error) {
	var cp etlkit.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return &cp, nil
}
