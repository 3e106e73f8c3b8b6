// Package composition owns the user's in-progress photobook: the selected
// product, the colours and the ordered pages with their photo placements.
package composition

import (
	"github.com/dharsanguruparan/photobook/internal/asset"
	"github.com/dharsanguruparan/photobook/internal/catalog"
	"github.com/dharsanguruparan/photobook/internal/geometry"
)

// Color is a cover or page colour.
type Color string

const (
	ColorWhite Color = "white"
	ColorBlack Color = "black"
)

// Valid reports whether c is a known colour.
func (c Color) Valid() bool {
	return c == ColorWhite || c == ColorBlack
}

// FontType is the typeface used for a page's text.
type FontType int

const (
	FontPlain FontType = iota
	FontClassic
	FontSolid
)

// Placement binds an asset to a page container. Its transform always makes
// the asset cover the container once both are known.
type Placement struct {
	asset         asset.Asset
	transform     geometry.Transform
	containerSize geometry.Size
	shouldRefit   bool
}

// NewPlacement returns an empty placement.
func NewPlacement() *Placement {
	return &Placement{transform: geometry.Identity}
}

// RestorePlacement rebuilds a placement exactly as it was saved, without
// recomputing its transform.
func RestorePlacement(a asset.Asset, t geometry.Transform, container geometry.Size) *Placement {
	return &Placement{asset: a, transform: t, containerSize: container}
}

// Asset returns the placed asset, or nil.
func (p *Placement) Asset() asset.Asset { return p.asset }

// Transform returns the current transform.
func (p *Placement) Transform() geometry.Transform { return p.transform }

// ContainerSize returns the last known container size.
func (p *Placement) ContainerSize() geometry.Size { return p.containerSize }

// ShouldRefit reports whether the next container size change refits the asset.
func (p *Placement) ShouldRefit() bool { return p.shouldRefit }

func (p *Placement) setAsset(a asset.Asset) {
	p.asset = a
	p.fit()
}

func (p *Placement) setContainerSize(size geometry.Size) {
	old := p.containerSize
	p.containerSize = size
	if p.asset == nil {
		return
	}
	if p.shouldRefit || !old.Valid() {
		p.shouldRefit = false
		p.fit()
		return
	}
	rescaled := geometry.Rescale(old, size, p.transform)
	p.transform = geometry.Adjust(rescaled, p.asset.Size(), size)
}

func (p *Placement) setTransform(t geometry.Transform) {
	if p.asset == nil {
		p.transform = t
		return
	}
	p.transform = geometry.Adjust(t, p.asset.Size(), p.containerSize)
}

func (p *Placement) fit() {
	if p.asset == nil {
		p.transform = geometry.Identity
		return
	}
	p.transform = geometry.Fit(p.asset.Size(), p.containerSize)
}

func (p *Placement) clone() *Placement {
	if p == nil {
		return NewPlacement()
	}
	c := *p
	return &c
}

// Page is one page of the photobook.
type Page struct {
	LayoutID  catalog.LayoutID
	Placement *Placement
	Text      string
	Font      FontType
}

func (p Page) clone() Page {
	p.Placement = p.Placement.clone()
	return p
}

// Composition is the full photobook. Values returned by the Store are deep
// copies and safe to read from other goroutines.
type Composition struct {
	ProductID  string
	CoverColor Color
	PageColor  Color
	Pages      []Page
}

// Clone returns a deep copy.
func (c Composition) Clone() Composition {
	out := c
	out.Pages = make([]Page, len(c.Pages))
	for i, p := range c.Pages {
		out.Pages[i] = p.clone()
	}
	return out
}

// AssetIdentifiers returns the distinct asset identifiers in page order.
func (c Composition) AssetIdentifiers() []string {
	seen := make(map[string]struct{}, len(c.Pages))
	ids := make([]string, 0, len(c.Pages))
	for _, p := range c.Pages {
		if p.Placement == nil || p.Placement.asset == nil {
			continue
		}
		id := p.Placement.asset.Identifier()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// Asset returns the first placed asset with the given identifier.
func (c Composition) Asset(id string) (asset.Asset, bool) {
	for _, p := range c.Pages {
		if p.Placement != nil && p.Placement.asset != nil && p.Placement.asset.Identifier() == id {
			return p.Placement.asset, true
		}
	}
	return nil, false
}
