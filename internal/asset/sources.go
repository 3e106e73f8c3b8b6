package asset

import (
	"context"
	"errors"
	"fmt"
	"image"
	// Decoders registered for image.DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dharsanguruparan/photobook/internal/geometry"
)

// FileAsset is a photo stored on the local disk. The album is the directory
// holding the file.
type FileAsset struct {
	path  string
	album string
	size  geometry.Size
}

// OpenFile reads the image header to learn its dimensions without decoding
// the pixels.
func OpenFile(path string) (*FileAsset, error) {
	clean := filepath.Clean(path)
	f, err := os.Open(clean)
	if err != nil {
		return nil, fmt.Errorf("open asset: %w", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("read image header %s: %w", clean, err)
	}
	return &FileAsset{
		path:  clean,
		album: filepath.Dir(clean),
		size:  geometry.Size{Width: float64(cfg.Width), Height: float64(cfg.Height)},
	}, nil
}

func (a *FileAsset) Identifier() string  { return a.path }
func (a *FileAsset) Size() geometry.Size { return a.size }

func (a *FileAsset) Ref() Ref {
	return Ref{Kind: KindFile, Identifier: a.path, Album: a.album, Location: a.path, Width: a.size.Width, Height: a.size.Height}
}

func (a *FileAsset) Data(ctx context.Context) (*Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", a.path, err)
	}
	return newData(b)
}

// URLAsset is a photo served over HTTP, e.g. from a social network album.
type URLAsset struct {
	client     *http.Client
	identifier string
	url        string
	size       geometry.Size
}

// NewURLAsset builds a URL backed asset. A nil client uses http.DefaultClient.
func NewURLAsset(client *http.Client, identifier, url string, size geometry.Size) *URLAsset {
	if client == nil {
		client = http.DefaultClient
	}
	return &URLAsset{client: client, identifier: identifier, url: url, size: size}
}

func (a *URLAsset) Identifier() string  { return a.identifier }
func (a *URLAsset) Size() geometry.Size { return a.size }

func (a *URLAsset) Ref() Ref {
	return Ref{Kind: KindURL, Identifier: a.identifier, Location: a.url, Width: a.size.Width, Height: a.size.Height}
}

func (a *URLAsset) Data(ctx context.Context) (*Data, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", a.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", a.url, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", a.url, err)
	}
	return newData(b)
}

// ErrNoData is returned by a StaticAsset built without bytes.
var ErrNoData = errors.New("asset has no data")

// StaticAsset keeps its bytes in memory.
type StaticAsset struct {
	identifier string
	size       geometry.Size
	data       []byte
}

// NewStaticAsset builds an in-memory asset.
func NewStaticAsset(identifier string, size geometry.Size, data []byte) *StaticAsset {
	return &StaticAsset{identifier: identifier, size: size, data: data}
}

func (a *StaticAsset) Identifier() string  { return a.identifier }
func (a *StaticAsset) Size() geometry.Size { return a.size }

func (a *StaticAsset) Ref() Ref {
	return Ref{Kind: KindStatic, Identifier: a.identifier, Width: a.size.Width, Height: a.size.Height}
}

func (a *StaticAsset) Data(ctx context.Context) (*Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(a.data) == 0 {
		return nil, ErrNoData
	}
	return newData(a.data)
}
