package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photobook/internal/build"
	"github.com/dharsanguruparan/photobook/internal/catalog"
	"github.com/dharsanguruparan/photobook/internal/composition"
	"github.com/dharsanguruparan/photobook/internal/storage"
	"github.com/dharsanguruparan/photobook/internal/upload"
)

type fakeUploads struct {
	summary upload.Summary
	tasks   []upload.Task
	retried int
}

func (f *fakeUploads) Summary() upload.Summary { return f.summary }
func (f *fakeUploads) Tasks() []upload.Task     { return f.tasks }
func (f *fakeUploads) Retry(ctx context.Context) (int, error) {
	f.retried++
	return f.summary.FailedTransient, nil
}

type fakeOrders struct {
	startErr    error
	finalizeErr error
}

func (f *fakeOrders) Start(ctx context.Context) (int, error) { return 3, f.startErr }
func (f *fakeOrders) Finalize(ctx context.Context) (string, error) {
	if f.finalizeErr != nil {
		return "", f.finalizeErr
	}
	return "order-1", nil
}

type nopPersister struct{}

func (nopPersister) Save(ctx context.Context, c composition.Composition) error { return nil }
func (nopPersister) Load(ctx context.Context) (composition.Composition, error) {
	return composition.Composition{}, nil
}

func newTestServer(t *testing.T, uploads *fakeUploads, orders *fakeOrders) (*httptest.Server, *storage.BuildStore) {
	t.Helper()
	builds := storage.NewBuildStore()
	store := composition.NewStore(catalog.New(nil, nil), nopPersister{}, zerolog.Nop())
	srv := New(":0", store, uploads, orders, builds, zerolog.Nop())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, builds
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, &fakeUploads{}, &fakeOrders{})
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUploadsReportsReadiness(t *testing.T) {
	uploads := &fakeUploads{
		summary: upload.Summary{Total: 2, Succeeded: 1, FailedTransient: 1},
		tasks:   []upload.Task{{ID: "t1", AssetID: "a", State: upload.StateSucceeded}, {ID: "t2", AssetID: "b", State: upload.StateFailedTransient}},
	}
	ts, _ := newTestServer(t, uploads, &fakeOrders{})

	resp, err := http.Get(ts.URL + "/uploads")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body uploadsResponse
	decode(t, resp, &body)
	if body.Ready || !strings.Contains(body.Error, "retry") || len(body.Tasks) != 2 {
		t.Fatalf("unexpected body %+v", body)
	}

	resp, err = http.Post(ts.URL+"/uploads/retry", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var retry map[string]int
	decode(t, resp, &retry)
	if resp.StatusCode != http.StatusAccepted || retry["rearmed"] != 1 || uploads.retried != 1 {
		t.Fatalf("unexpected retry response %d %v", resp.StatusCode, retry)
	}
}

func TestFinalizeMapsErrors(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"ok":         {nil, http.StatusAccepted},
		"failed":     {fmt.Errorf("uploads not ready: %w", upload.ErrUploadsFailed), http.StatusConflict},
		"no product": {composition.ErrNoProduct, http.StatusBadRequest},
		"missing":    {&build.MissingTemplateInfoError{What: "pages"}, http.StatusUnprocessableEntity},
		"other":      {fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ts, _ := newTestServer(t, &fakeUploads{}, &fakeOrders{finalizeErr: tc.err})
			resp, err := http.Post(ts.URL+"/orders/finalize", "application/json", nil)
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestBuildLookup(t *testing.T) {
	ts, builds := newTestServer(t, &fakeUploads{}, &fakeOrders{})
	job := build.Job{ID: "job-1", OrderID: "order-1", State: build.StateSucceeded, InsideURL: "https://pdf/i.pdf", SubmittedAt: time.Now().UTC()}
	if err := builds.RecordBuild(context.Background(), job); err != nil {
		t.Fatalf("record: %v", err)
	}

	resp, err := http.Get(ts.URL + "/orders/order-1/build")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var got build.Job
	decode(t, resp, &got)
	if got.ID != "job-1" || got.InsideURL != "https://pdf/i.pdf" {
		t.Fatalf("unexpected job %+v", got)
	}

	resp, err = http.Get(ts.URL + "/builds/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCompositionRestoreWithoutSnapshot(t *testing.T) {
	ts, _ := newTestServer(t, &fakeUploads{}, &fakeOrders{})
	resp, err := http.Get(ts.URL + "/composition")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body compositionResponse
	decode(t, resp, &body)
	if body.ProductID != "" || body.Pages != 0 {
		t.Fatalf("expected an empty composition, got %+v", body)
	}
}
