// Package blobstore provides durable key/value blob stores. Writes are atomic
// per key: a reader sees either the previous value or the new one, never a
// mix.
package blobstore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Read when no blob exists under a key.
var ErrNotFound = errors.New("blob not found")

// Store is a durable blob store.
type Store interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
}

// MemoryStore keeps blobs in a map. It is used in tests and for throwaway
// compositions.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Write stores a copy of data.
func (m *MemoryStore) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := append([]byte(nil), data...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = buf
	return nil
}

// Read returns a copy of the blob.
func (m *MemoryStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}
