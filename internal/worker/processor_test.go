package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photobook/internal/asset"
	"github.com/dharsanguruparan/photobook/internal/blobstore"
	"github.com/dharsanguruparan/photobook/internal/build"
	"github.com/dharsanguruparan/photobook/internal/catalog"
	"github.com/dharsanguruparan/photobook/internal/composition"
	"github.com/dharsanguruparan/photobook/internal/geometry"
	"github.com/dharsanguruparan/photobook/internal/order"
	pdfutil "github.com/dharsanguruparan/photobook/internal/pdf"
	"github.com/dharsanguruparan/photobook/internal/persistence"
	"github.com/dharsanguruparan/photobook/internal/queue"
	"github.com/dharsanguruparan/photobook/internal/repository"
	"github.com/dharsanguruparan/photobook/internal/signing"
)

func testCatalog() *catalog.Catalog {
	full := &catalog.Box{Width: 1, Height: 1}
	return catalog.New(
		[]*catalog.Product{{
			ID:           "square",
			CoverSize:    geometry.Size{Width: 210, Height: 210},
			PageSize:     geometry.Size{Width: 200, Height: 200},
			CoverLayouts: []catalog.LayoutID{1},
			Layouts:      []catalog.LayoutID{2},
		}},
		[]*catalog.Layout{
			{ID: 1, Category: "cover", ImageBox: full},
			{ID: 2, Category: "portrait", ImageBox: full},
		},
	)
}

type client struct {
	mu      sync.Mutex
	submits int
}

func (c *client) Submit(ctx context.Context, req *build.Request) (build.Submission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submits++
	return build.Submission{JobID: "remote-1", CoverURL: "https://pdf/cover.pdf", InsideURL: "https://pdf/inside.pdf"}, nil
}

func (c *client) Status(ctx context.Context, jobID string) (build.Status, error) {
	return build.Status{State: build.RemoteSucceeded}, nil
}

func (c *client) submitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submits
}

type jobs struct {
	prev *build.Job
}

func (j *jobs) LatestForOrder(ctx context.Context, orderID string) (*build.Job, error) {
	if j.prev == nil {
		return nil, fmt.Errorf("build job %s: %w", orderID, repository.ErrNotFound)
	}
	return j.prev, nil
}

type verifier struct {
	pages int
	url   string
	want  int
}

func (v *verifier) Verify(ctx context.Context, url string, want int) (int, error) {
	v.url, v.want = url, want
	if v.pages != want {
		return v.pages, fmt.Errorf("%w: got %d pages, want %d", pdfutil.ErrPageCountMismatch, v.pages, want)
	}
	return v.pages, nil
}

type fixture struct {
	processor *Processor
	client    *client
	verifier  *verifier
	payload   queue.BuildPayload
}

func newFixture(t *testing.T, prev *build.Job, pages int) *fixture {
	t.Helper()
	photos := []asset.Asset{
		asset.NewStaticAsset("cover", geometry.Size{Width: 300, Height: 400}, nil),
		asset.NewStaticAsset("p1", geometry.Size{Width: 300, Height: 400}, nil),
		asset.NewStaticAsset("p2", geometry.Size{Width: 300, Height: 400}, nil),
	}
	registry := asset.NewRegistry(nil)
	registry.Register(asset.KindStatic, func(ref asset.Ref) (asset.Asset, error) {
		for _, a := range photos {
			if a.Identifier() == ref.Identifier {
				return a, nil
			}
		}
		return nil, errors.New("unknown asset")
	})
	adapter := persistence.New(blobstore.NewMemoryStore(), "current", signing.NewSigner([]byte("secret")), registry)

	comp := composition.Composition{ProductID: "square", CoverColor: composition.ColorWhite, PageColor: composition.ColorWhite}
	refs := make(map[string]string)
	for i, a := range photos {
		layout := catalog.LayoutID(2)
		if i == 0 {
			layout = 1
		}
		comp.Pages = append(comp.Pages, composition.Page{
			LayoutID:  layout,
			Placement: composition.RestorePlacement(a, geometry.Identity, geometry.Size{Width: 200, Height: 200}),
		})
		refs[a.Identifier()] = "https://cdn/" + a.Identifier()
	}
	payload := queue.BuildPayload{OrderID: "order-1", StateKey: order.StateKey("order-1"), RemoteRefs: refs}
	if err := adapter.SaveAs(context.Background(), payload.StateKey, comp); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	c := &client{}
	coordinator := build.NewCoordinator(c, build.Options{PollInterval: time.Millisecond, Logger: zerolog.Nop()})
	v := &verifier{pages: pages}
	p := NewProcessor(order.NewBuilder(adapter, testCatalog(), coordinator), &jobs{prev: prev}, v, zerolog.Nop())
	return &fixture{processor: p, client: c, verifier: v, payload: payload}
}

func (f *fixture) run(t *testing.T, payload queue.BuildPayload) error {
	t.Helper()
	task, err := queue.NewBuildTask(payload, 0)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.processor.handleBuild(ctx, task)
}

func TestHandleBuildSubmitsAndVerifies(t *testing.T) {
	f := newFixture(t, nil, 2)
	if err := f.run(t, f.payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.client.submitCount() != 1 {
		t.Fatalf("expected one submission, got %d", f.client.submitCount())
	}
	if f.verifier.url != "https://pdf/inside.pdf" || f.verifier.want != 2 {
		t.Fatalf("unexpected verification %+v", f.verifier)
	}
}

func TestHandleBuildResumesEarlierJob(t *testing.T) {
	prev := &build.Job{
		ID:          "job-1",
		OrderID:     "order-1",
		RemoteID:    "remote-1",
		State:       build.StateAwaitingCompletion,
		CoverURL:    "https://pdf/cover.pdf",
		InsideURL:   "https://pdf/inside.pdf",
		SubmittedAt: time.Now().UTC(),
	}
	f := newFixture(t, prev, 2)
	if err := f.run(t, f.payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.client.submitCount() != 0 {
		t.Fatalf("a pending job must not be submitted again")
	}
}

func TestHandleBuildSkipsRetryWhenFinal(t *testing.T) {
	t.Run("page count mismatch", func(t *testing.T) {
		f := newFixture(t, nil, 5)
		err := f.run(t, f.payload)
		if !errors.Is(err, asynq.SkipRetry) || !errors.Is(err, pdfutil.ErrPageCountMismatch) {
			t.Fatalf("expected a final mismatch, got %v", err)
		}
	})
	t.Run("missing remote reference", func(t *testing.T) {
		f := newFixture(t, nil, 2)
		payload := f.payload
		payload.RemoteRefs = map[string]string{"cover": "https://cdn/cover"}
		err := f.run(t, payload)
		var missing *build.MissingTemplateInfoError
		if !errors.Is(err, asynq.SkipRetry) || !errors.As(err, &missing) {
			t.Fatalf("expected final missing info, got %v", err)
		}
		if f.client.submitCount() != 0 {
			t.Fatalf("nothing should be submitted")
		}
	})
}

func TestHandleBuildRetriesMissingSnapshot(t *testing.T) {
	f := newFixture(t, nil, 2)
	payload := f.payload
	payload.StateKey = order.StateKey("other")
	err := f.run(t, payload)
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected a retryable error, got %v", err)
	}
}
