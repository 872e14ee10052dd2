package state

import (
	"context"
	"sync"

	"github.com/ben-leadtech/etlkit"
)

// Memory keeps checkpoints in process. Checkpoints are stored encoded, so
// callers never share a *Checkpoint with the store.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) LoadCheckpoint(_ context.Context, key string) (*etlkit.Checkpoint, error) {
	m.mu.Lock()
	data, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decode(key, data)
}

func (m *Memory) SaveCheckpoint(_ context.Context, key string, cp *etlkit.Checkpoint) error {
	data, err := encode(key, cp)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) ClearCheckpoint(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
