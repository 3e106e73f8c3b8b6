package order

import (
	"context"
	"fmt"
	"sync"

	"github.com/dharsanguruparan/photobook/internal/build"
	"github.com/dharsanguruparan/photobook/internal/catalog"
	"github.com/dharsanguruparan/photobook/internal/composition"
	"github.com/dharsanguruparan/photobook/internal/queue"
)

// Loader reads a frozen composition.
type Loader interface {
	LoadFrom(ctx context.Context, key string) (composition.Composition, error)
}

// Builder turns a dispatched order into a submitted build.
type Builder struct {
	loader      Loader
	catalog     *catalog.Catalog
	coordinator *build.Coordinator
}

// NewBuilder creates a builder.
func NewBuilder(loader Loader, cat *catalog.Catalog, coordinator *build.Coordinator) *Builder {
	return &Builder{loader: loader, catalog: cat, coordinator: coordinator}
}

// Request restores the order's composition and derives its build request.
// A composition the request cannot be built from yields a
// build.SubmissionError wrapping the MissingTemplateInfoError.
func (b *Builder) Request(ctx context.Context, payload queue.BuildPayload) (*build.Request, error) {
	comp, err := b.loader.LoadFrom(ctx, payload.StateKey)
	if err != nil {
		return nil, fmt.Errorf("restore order %s: %w", payload.OrderID, err)
	}
	req, err := build.NewRequest(comp, b.catalog, payload.RemoteRefs)
	if err != nil {
		return nil, &build.SubmissionError{Err: err}
	}
	return req, nil
}

// Submit sends req for the order. Polling runs until ctx is cancelled or the
// job is terminal.
func (b *Builder) Submit(ctx context.Context, orderID string, req *build.Request) (*build.Handle, error) {
	return b.coordinator.Submit(ctx, orderID, req)
}

// Resume keeps polling a job submitted earlier.
func (b *Builder) Resume(ctx context.Context, job build.Job) *build.Handle {
	return b.coordinator.Resume(ctx, job)
}

// LocalDispatcher builds orders in-process instead of through the queue.
type LocalDispatcher struct {
	builder *Builder
	// ctx scopes the polling of every dispatched build.
	ctx context.Context

	mu      sync.Mutex
	handles map[string]*build.Handle
}

// NewLocalDispatcher creates a dispatcher whose builds poll until ctx ends.
func NewLocalDispatcher(ctx context.Context, builder *Builder) *LocalDispatcher {
	return &LocalDispatcher{builder: builder, ctx: ctx, handles: make(map[string]*build.Handle)}
}

// Dispatch submits the build and keeps its handle.
func (d *LocalDispatcher) Dispatch(ctx context.Context, payload queue.BuildPayload) error {
	req, err := d.builder.Request(ctx, payload)
	if err != nil {
		return err
	}
	h, err := d.builder.Submit(d.ctx, payload.OrderID, req)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.handles[payload.OrderID] = h
	d.mu.Unlock()
	return nil
}

// Handle returns the build handle of a dispatched order.
func (d *LocalDispatcher) Handle(orderID string) (*build.Handle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.handles[orderID]
	return h, ok
}
