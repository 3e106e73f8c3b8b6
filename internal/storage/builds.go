package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/dharsanguruparan/photobook/internal/build"
	"github.com/dharsanguruparan/photobook/internal/repository"
)

// BuildStore records build jobs in memory. Lookups fail with
// repository.ErrNotFound so callers treat both stores alike.
type BuildStore struct {
	mu     sync.RWMutex
	jobs   map[string]build.Job
	latest map[string]string
}

// NewBuildStore constructs a BuildStore.
func NewBuildStore() *BuildStore {
	return &BuildStore{
		jobs:   make(map[string]build.Job),
		latest: make(map[string]string),
	}
}

// RecordBuild inserts or replaces a job.
func (b *BuildStore) RecordBuild(_ context.Context, job build.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, seen := b.jobs[job.ID]; !seen {
		if cur, ok := b.jobs[b.latest[job.OrderID]]; !ok || !job.SubmittedAt.Before(cur.SubmittedAt) {
			b.latest[job.OrderID] = job.ID
		}
	}
	b.jobs[job.ID] = job
	return nil
}

// Get returns the job with the given id.
func (b *BuildStore) Get(_ context.Context, id string) (*build.Job, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	job, ok := b.jobs[id]
	if !ok {
		return nil, fmt.Errorf("build job %s: %w", id, repository.ErrNotFound)
	}
	return &job, nil
}

// LatestForOrder returns the most recently submitted job of an order.
func (b *BuildStore) LatestForOrder(ctx context.Context, orderID string) (*build.Job, error) {
	b.mu.RLock()
	id, ok := b.latest[orderID]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("build job for order %s: %w", orderID, repository.ErrNotFound)
	}
	return b.Get(ctx, id)
}
