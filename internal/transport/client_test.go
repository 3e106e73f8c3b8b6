package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photobook/internal/asset"
	"github.com/dharsanguruparan/photobook/internal/build"
	"github.com/dharsanguruparan/photobook/internal/geometry"
	"github.com/dharsanguruparan/photobook/internal/upload"
)

const catalogJSON = `{
  "products": [{"id": "square", "name": "Square", "coverSize": {"width": 210, "height": 210}, "pageSize": {"width": 200, "height": 200}, "coverLayouts": [1], "layouts": [1]}],
  "layouts": [{"id": 1, "category": "full", "imageBox": {"x": 0, "y": 0, "width": 1, "height": 1}}]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "secret", srv.Client(), zerolog.Nop())
}

func payload() upload.Payload {
	return upload.Payload{
		AssetID: "album/IMG_0001",
		Data:    []byte("\x89PNG\r\n\x1a\nfake"),
		Format:  asset.FormatPNG,
		Size:    geometry.Size{Width: 4032, Height: 3024},
	}
}

func TestFetchCatalogSendsAPIKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != catalogPath {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "ApiKey secret" {
			http.Error(w, "bad key "+got, http.StatusUnauthorized)
			return
		}
		io.WriteString(w, catalogJSON)
	})
	cat, err := client.FetchCatalog(context.Background())
	if err != nil {
		t.Fatalf("fetch catalog: %v", err)
	}
	if _, ok := cat.Product("square"); !ok {
		t.Fatalf("product missing from catalog")
	}
}

func TestUploadSendsMultipartForm(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != uploadPath {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("identifier") != "album/IMG_0001" || r.FormValue("width") != "4032" || r.FormValue("format") != "png" {
			http.Error(w, "bad fields", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "album_IMG_0001.png" || header.Header.Get("Content-Type") != "image/png" {
			http.Error(w, "bad file part", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn/img-1.png"})
	})
	ref, err := client.Upload(context.Background(), payload())
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if ref != "https://cdn/img-1.png" {
		t.Fatalf("unexpected ref %q", ref)
	}
}

func TestUploadClassifiesFailures(t *testing.T) {
	cases := map[string]struct {
		handler   http.HandlerFunc
		permanent bool
	}{
		"server error": {
			handler:   func(w http.ResponseWriter, r *http.Request) { http.Error(w, "boom", http.StatusServiceUnavailable) },
			permanent: false,
		},
		"rate limited": {
			handler:   func(w http.ResponseWriter, r *http.Request) { http.Error(w, "slow down", http.StatusTooManyRequests) },
			permanent: false,
		},
		"rejected": {
			handler:   func(w http.ResponseWriter, r *http.Request) { http.Error(w, "bad image", http.StatusBadRequest) },
			permanent: true,
		},
		"garbage": {
			handler:   func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "<html>") },
			permanent: true,
		},
		"no url": {
			handler:   func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, `{}`) },
			permanent: true,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newTestClient(t, tc.handler).Upload(context.Background(), payload())
			if err == nil {
				t.Fatalf("expected error")
			}
			if upload.IsPermanent(err) != tc.permanent {
				t.Fatalf("permanent=%v, want %v (%v)", upload.IsPermanent(err), tc.permanent, err)
			}
		})
	}
}

func TestUploadNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, "", nil, zerolog.Nop()).Upload(context.Background(), payload())
	var transient *upload.TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestSubmitAndStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == buildPath:
			var req build.Request
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProductID != "square" {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			io.WriteString(w, `{"jobId": "job 7", "coverUrl": "https://pdf/c.pdf", "insideUrl": "https://pdf/i.pdf"}`)
		case r.URL.Path == statusPath+"job 7":
			io.WriteString(w, `{"status": "succeeded", "insideUrl": "https://pdf/i2.pdf"}`)
		case r.URL.Path == statusPath+"unknown":
			http.NotFound(w, r)
		case r.URL.Path == statusPath+"broken":
			io.WriteString(w, `{"status":`)
		default:
			http.Error(w, "unexpected "+r.URL.Path, http.StatusInternalServerError)
		}
	})
	ctx := context.Background()

	sub, err := client.Submit(ctx, &build.Request{ProductID: "square"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.JobID != "job 7" || sub.CoverURL != "https://pdf/c.pdf" {
		t.Fatalf("unexpected submission %+v", sub)
	}

	status, err := client.Status(ctx, sub.JobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != build.RemoteSucceeded || status.InsideURL != "https://pdf/i2.pdf" {
		t.Fatalf("unexpected status %+v", status)
	}

	if _, err := client.Status(ctx, "unknown"); !errors.Is(err, build.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if _, err := client.Status(ctx, "broken"); !errors.Is(err, build.ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
	if _, err := client.Submit(ctx, &build.Request{ProductID: "poster"}); !errors.Is(err, build.ErrRejected) {
		t.Fatalf("expected ErrRejected for a refused submission, got %v", err)
	}
}
