package statestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	pebblestore "github.com/rzbill/maestro/internal/storage/pebble"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("statestore: not found")

// Store is a small shared key/value store. Replicas of a deployment point at
// the same Store to see each other's published state.
type Store interface {
	Set(ctx context.Context, key string, value []byte) error
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every key with prefix and its value.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

// Keys returns the stored keys in order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// pebbleNamespace separates state entries from queue data in a shared DB.
const pebbleNamespace = "ss/"

// Pebble stores entries in a local pebble DB. It is only shared between
// processes on one node and suits single-replica deployments.
type Pebble struct {
	db *pebblestore.DB
}

// NewPebble wraps db.
func NewPebble(db *pebblestore.DB) *Pebble {
	return &Pebble{db: db}
}

func (p *Pebble) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.db.Set([]byte(pebbleNamespace+key), value)
}

func (p *Pebble) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := p.db.Get([]byte(pebbleNamespace + key))
	if pebblestore.IsNotFound(err) {
		return nil, ErrNotFound
	}
	return v, err
}

func (p *Pebble) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string][]byte)
	err := p.db.ScanPrefix([]byte(pebbleNamespace+prefix), func(k, v []byte) error {
		out[strings.TrimPrefix(string(k), pebbleNamespace)] = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
