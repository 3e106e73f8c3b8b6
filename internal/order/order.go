// Package order runs the checkout flow: persist the composition, upload its
// assets, and once every upload succeeded hand a frozen snapshot to the PDF
// build.
package order

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photobook/internal/composition"
	"github.com/dharsanguruparan/photobook/internal/queue"
	"github.com/dharsanguruparan/photobook/internal/upload"
)

// Dispatcher starts the build of a finalized order.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload queue.BuildPayload) error
}

// Snapshotter stores a composition under an explicit key.
type Snapshotter interface {
	SaveAs(ctx context.Context, key string, c composition.Composition) error
}

// StateKey is the blob key of an order's frozen composition.
func StateKey(orderID string) string {
	return fmt.Sprintf("orders/%s.json", orderID)
}

// Service owns the order flow for one composition store.
type Service struct {
	store      *composition.Store
	uploads    *upload.Orchestrator
	snapshots  Snapshotter
	dispatcher Dispatcher
	logger     zerolog.Logger
}

// NewService wires a service.
func NewService(store *composition.Store, uploads *upload.Orchestrator, snapshots Snapshotter, dispatcher Dispatcher, logger zerolog.Logger) *Service {
	return &Service{
		store:      store,
		uploads:    uploads,
		snapshots:  snapshots,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "order").Logger(),
	}
}

// Start persists the composition and enqueues an upload for every placed
// asset. The uploads read from a snapshot, so edits made afterwards do not
// affect them. It returns the number of assets in the order.
func (s *Service) Start(ctx context.Context) (int, error) {
	if err := s.store.Persist(ctx); err != nil {
		return 0, fmt.Errorf("persist composition: %w", err)
	}
	snapshot := s.store.Snapshot()
	ids := snapshot.AssetIdentifiers()
	if err := s.uploads.EnqueueFrom(ctx, snapshot, ids); err != nil {
		return 0, fmt.Errorf("enqueue uploads: %w", err)
	}
	s.logger.Info().Int("assets", len(ids)).Msg("order started")
	return len(ids), nil
}

// Finalize freezes the composition, blocks until the uploads of its assets
// settle and dispatches its build. Uploads of assets the composition no
// longer uses are ignored. It fails without dispatching while any asset is
// not uploaded, and returns the new order id.
func (s *Service) Finalize(ctx context.Context) (string, error) {
	snapshot := s.store.Snapshot()
	if snapshot.ProductID == "" {
		return "", composition.ErrNoProduct
	}
	ids := snapshot.AssetIdentifiers()
	summary, err := s.uploads.WaitFor(ctx, ids)
	if err != nil {
		return "", fmt.Errorf("uploads not ready: %w", err)
	}

	all := s.uploads.RemoteRefs()
	refs := make(map[string]string, len(ids))
	for _, id := range ids {
		ref, ok := all[id]
		if !ok {
			return "", fmt.Errorf("asset %q: %w", id, upload.ErrUploadsPending)
		}
		refs[id] = ref
	}

	orderID := uuid.NewString()
	key := StateKey(orderID)
	if err := s.snapshots.SaveAs(ctx, key, snapshot); err != nil {
		return "", fmt.Errorf("freeze order %s: %w", orderID, err)
	}
	payload := queue.BuildPayload{OrderID: orderID, StateKey: key, RemoteRefs: refs}
	if err := s.dispatcher.Dispatch(ctx, payload); err != nil {
		return "", fmt.Errorf("dispatch order %s: %w", orderID, err)
	}
	s.logger.Info().Str("order_id", orderID).Int("uploaded", summary.Succeeded).Msg("order finalized")
	return orderID, nil
}
