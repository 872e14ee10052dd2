package state

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ben-leadtech/etlkit"
)

var bucketCheckpoints = []byte("checkpoints")

// Bolt keeps checkpoints in a bbolt file, one JSON value per key in the
// checkpoints bucket.
type Bolt struct {
	db *bolt.DB
}

var _ Store = (*Bolt)(nil)

// OpenBolt opens or creates the database at path. It waits up to a second
// for another process to release the file lock.
func OpenBolt(path string) (*Bolt, error) {
	if path == "" {
		return nil, errors.New("state: bolt backend needs a path")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCheckpoints)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("state: create bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) LoadCheckpoint(ctx context.Context, key string) (*etlkit.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		// Values are only valid inside the transaction.
		data = slices.Clone(tx.Bucket(bucketCheckpoints).Get([]byte(key)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("state: read %s: %w", key, err)
	}
	if data == nil {
		return nil, nil
	}
	return decode(key, data)
}

func (b *Bolt) SaveCheckpoint(ctx context.Context, key string, cp *etlkit.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(key, cp)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).Put([]byte(key), data)
	})
}

func (b *Bolt) ClearCheckpoint(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).Delete([]byte(key))
	})
}

func (b *Bolt) Close() error { return b.db.Close() }
