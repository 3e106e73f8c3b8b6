// Package asset describes the photos a photobook is made of. Photos come from
// several sources (local files, remote URLs, in-memory data) and every source
// satisfies the same Asset interface.
package asset

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/dharsanguruparan/photobook/internal/geometry"
)

// Kind tags the source an asset comes from so it can be rebuilt after a restart.
type Kind string

const (
	KindFile   Kind = "file"
	KindURL    Kind = "url"
	KindStatic Kind = "static"
)

// Format is the encoded image format of an asset's raw bytes.
type Format string

const (
	FormatJPEG        Format = "jpg"
	FormatPNG         Format = "png"
	FormatGIF         Format = "gif"
	FormatUnsupported Format = "unsupported"
)

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

var (
	// ErrUnsupportedFormat is returned when raw data is not jpeg, png or gif.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrUnknownKind is returned by a Registry asked to rebuild an unregistered kind.
	ErrUnknownKind = errors.New("unknown asset kind")
)

// Data is the raw, encoded image data of an asset.
type Data struct {
	Bytes  []byte
	Format Format
}

// Ref is the serialisable description of an asset.
type Ref struct {
	Kind       Kind    `json:"kind"`
	Identifier string  `json:"identifier"`
	Album      string  `json:"album,omitempty"`
	Location   string  `json:"location,omitempty"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// Size returns the pixel dimensions recorded in the ref.
func (r Ref) Size() geometry.Size {
	return geometry.Size{Width: r.Width, Height: r.Height}
}

// Asset is a photo that can be placed on a page and uploaded.
type Asset interface {
	// Identifier is unique within the asset's album.
	Identifier() string
	// Size is the pixel size of the full resolution image.
	Size() geometry.Size
	// Ref describes the asset well enough for a Registry to rebuild it.
	Ref() Ref
	// Data loads the encoded image bytes.
	Data(ctx context.Context) (*Data, error)
}

// IsLandscape reports whether the asset is wider than tall.
func IsLandscape(a Asset) bool {
	return a.Size().Landscape()
}

// DetectFormat sniffs the image format from the leading bytes.
func DetectFormat(data []byte) Format {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return FormatJPEG
	case "image/png":
		return FormatPNG
	case "image/gif":
		return FormatGIF
	default:
		return FormatUnsupported
	}
}

func newData(b []byte) (*Data, error) {
	format := DetectFormat(b)
	if format == FormatUnsupported {
		return nil, ErrUnsupportedFormat
	}
	return &Data{Bytes: b, Format: format}, nil
}

// Factory rebuilds an asset from its ref.
type Factory func(ref Ref) (Asset, error)

// Registry maps asset kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
}

// NewRegistry returns a registry that knows every built-in kind.
func NewRegistry(client *http.Client) *Registry {
	r := &Registry{factories: make(map[Kind]Factory)}
	r.Register(KindFile, func(ref Ref) (Asset, error) {
		return &FileAsset{path: ref.Location, album: ref.Album, size: ref.Size()}, nil
	})
	r.Register(KindURL, func(ref Ref) (Asset, error) {
		return NewURLAsset(client, ref.Identifier, ref.Location, ref.Size()), nil
	})
	r.Register(KindStatic, func(ref Ref) (Asset, error) {
		return NewStaticAsset(ref.Identifier, ref.Size(), nil), nil
	})
	return r
}

// Register installs or replaces the factory for a kind.
func (r *Registry) Register(kind Kind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Resolve rebuilds an asset.
func (r *Registry) Resolve(ref Ref) (Asset, error) {
	r.mu.RLock()
	f, ok := r.factories[ref.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", ref.Kind, ErrUnknownKind)
	}
	a, err := f(ref)
	if err != nil {
		return nil, fmt.Errorf("resolve %s asset %s: %w", ref.Kind, ref.Identifier, err)
	}
	return a, nil
}
