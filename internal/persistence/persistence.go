// Package persistence saves the composition to a blob store and loads it
// back. Blobs are sealed with an HMAC so a torn or foreign blob is rejected
// instead of being half applied.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dharsanguruparan/photobook/internal/asset"
	"github.com/dharsanguruparan/photobook/internal/blobstore"
	"github.com/dharsanguruparan/photobook/internal/catalog"
	"github.com/dharsanguruparan/photobook/internal/composition"
	"github.com/dharsanguruparan/photobook/internal/geometry"
	"github.com/dharsanguruparan/photobook/internal/signing"
)

const stateFormat = "photobook/v1"

var (
	// ErrBadSignature is returned when a blob's signature does not match.
	ErrBadSignature = errors.New("state signature mismatch")
	// ErrUnsupportedFormat is returned for blobs written by an unknown format.
	ErrUnsupportedFormat = errors.New("unsupported state format")
)

// Error reports a failed write, read or decode.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("persistence %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type envelope struct {
	Format    string          `json:"format"`
	Signature string          `json:"signature"`
	Payload   json.RawMessage `json:"payload"`
}

type document struct {
	ProductID  string            `json:"productId"`
	CoverColor composition.Color `json:"coverColor"`
	PageColor  composition.Color `json:"pageColor"`
	Pages      []pageDocument    `json:"pages"`
}

type pageDocument struct {
	LayoutID  catalog.LayoutID     `json:"layoutId"`
	Text      string               `json:"text,omitempty"`
	Font      composition.FontType `json:"font"`
	Placement placementDocument    `json:"placement"`
}

type placementDocument struct {
	Asset     *asset.Ref    `json:"asset,omitempty"`
	Transform [6]float64    `json:"transform"`
	Container geometry.Size `json:"containerSize"`
}

// Adapter persists compositions, by default under one fixed key. Writes and
// reads are mutually exclusive.
type Adapter struct {
	mu       sync.Mutex
	blobs    blobstore.Store
	key      string
	signer   *signing.Signer
	registry *asset.Registry
}

// New creates an adapter.
func New(blobs blobstore.Store, key string, signer *signing.Signer, registry *asset.Registry) *Adapter {
	return &Adapter{blobs: blobs, key: key, signer: signer, registry: registry}
}

// Key returns the blob key the adapter writes to.
func (a *Adapter) Key() string {
	return a.key
}

// Save encodes and writes c under the adapter's key.
func (a *Adapter) Save(ctx context.Context, c composition.Composition) error {
	return a.SaveAs(ctx, a.key, c)
}

// Load reads and decodes the composition stored under the adapter's key.
func (a *Adapter) Load(ctx context.Context) (composition.Composition, error) {
	return a.LoadFrom(ctx, a.key)
}

// SaveAs encodes and writes c under key, e.g. to freeze an order's snapshot.
func (a *Adapter) SaveAs(ctx context.Context, key string, c composition.Composition) error {
	blob, err := a.encode(key, c)
	if err != nil {
		return &Error{Op: "encode", Key: key, Err: err}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.blobs.Write(ctx, key, blob); err != nil {
		return &Error{Op: "write", Key: key, Err: err}
	}
	return nil
}

// LoadFrom reads and decodes the composition stored under key.
func (a *Adapter) LoadFrom(ctx context.Context, key string) (composition.Composition, error) {
	a.mu.Lock()
	blob, err := a.blobs.Read(ctx, key)
	a.mu.Unlock()
	if err != nil {
		return composition.Composition{}, &Error{Op: "read", Key: key, Err: err}
	}
	c, err := a.decode(key, blob)
	if err != nil {
		return composition.Composition{}, &Error{Op: "decode", Key: key, Err: err}
	}
	return c, nil
}

func (a *Adapter) encode(key string, c composition.Composition) ([]byte, error) {
	doc := document{
		ProductID:  c.ProductID,
		CoverColor: c.CoverColor,
		PageColor:  c.PageColor,
		Pages:      make([]pageDocument, len(c.Pages)),
	}
	for i, p := range c.Pages {
		pd := pageDocument{LayoutID: p.LayoutID, Text: p.Text, Font: p.Font}
		if pl := p.Placement; pl != nil {
			pd.Placement.Transform = pl.Transform().Components()
			pd.Placement.Container = pl.ContainerSize()
			if placed := pl.Asset(); placed != nil {
				ref := placed.Ref()
				pd.Placement.Asset = &ref
			}
		} else {
			pd.Placement.Transform = geometry.Identity.Components()
		}
		doc.Pages[i] = pd
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Format:    stateFormat,
		Signature: a.signer.Sign(key, payload),
		Payload:   payload,
	})
}

func (a *Adapter) decode(key string, blob []byte) (composition.Composition, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return composition.Composition{}, err
	}
	if env.Format != stateFormat {
		return composition.Composition{}, fmt.Errorf("%q: %w", env.Format, ErrUnsupportedFormat)
	}
	if !a.signer.Validate(key, env.Payload, env.Signature) {
		return composition.Composition{}, ErrBadSignature
	}
	var doc document
	if err := json.Unmarshal(env.Payload, &doc); err != nil {
		return composition.Composition{}, err
	}
	c := composition.Composition{
		ProductID:  doc.ProductID,
		CoverColor: doc.CoverColor,
		PageColor:  doc.PageColor,
		Pages:      make([]composition.Page, len(doc.Pages)),
	}
	for i, pd := range doc.Pages {
		var placed asset.Asset
		if pd.Placement.Asset != nil {
			resolved, err := a.registry.Resolve(*pd.Placement.Asset)
			if err != nil {
				return composition.Composition{}, fmt.Errorf("page %d: %w", i, err)
			}
			placed = resolved
		}
		c.Pages[i] = composition.Page{
			LayoutID:  pd.LayoutID,
			Text:      pd.Text,
			Font:      pd.Font,
			Placement: composition.RestorePlacement(placed, geometry.FromComponents(pd.Placement.Transform), pd.Placement.Container),
		}
	}
	return c, nil
}
