// Package storage contains the in-memory upload task and build stores used
// when no database is configured. Records live only as long as the process.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/photobook/internal/upload"
)

var (
	// ErrNotFound is returned by Get for unknown asset identifiers.
	ErrNotFound = errors.New("upload task not found")
)

// MemoryStore keeps upload tasks in a map guarded by an RWMutex. Every value
// crossing the API is a copy, so callers never share state with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*upload.Task
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*upload.Task),
	}
}

// Save inserts or replaces the task for t.AssetID.
func (m *MemoryStore) Save(_ context.Context, t *upload.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	c := *t
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	m.tasks[c.AssetID] = &c
	return nil
}

// Get returns a copy of the task for an asset identifier.
func (m *MemoryStore) Get(_ context.Context, assetID string) (*upload.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[assetID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

// List returns copies of every task, oldest first.
func (m *MemoryStore) List(_ context.Context) ([]*upload.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*upload.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AssetID < out[j].AssetID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ResetInFlight moves in-flight tasks back to pending.
func (m *MemoryStore) ResetInFlight(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.State != upload.StateInFlight {
			continue
		}
		t.State = upload.StatePending
		t.NextAttemptAt = time.Time{}
		t.UpdatedAt = time.Now().UTC()
		n++
	}
	return n, nil
}
