// Package catalog holds the product and layout templates fetched from the
// photobook API. Catalog data is immutable once parsed; pages refer to layouts
// by id.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/dharsanguruparan/photobook/internal/geometry"
)

// ErrEmptyCatalog is returned when a catalog payload has no usable products or
// layouts.
var ErrEmptyCatalog = errors.New("catalog has no usable entries")

// LayoutID identifies a layout template.
type LayoutID int

// Box is a container expressed as fractions of the page size.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect scales the box to a concrete page size.
func (b Box) Rect(page geometry.Size) geometry.Rect {
	return geometry.Rect{
		X:      b.X * page.Width,
		Y:      b.Y * page.Height,
		Width:  b.Width * page.Width,
		Height: b.Height * page.Height,
	}
}

// Layout describes the containers on a page.
type Layout struct {
	ID             LayoutID `json:"id"`
	Category       string   `json:"category"`
	ImageBox       *Box     `json:"imageBox,omitempty"`
	SecondImageBox *Box     `json:"secondImageBox,omitempty"`
	TextBox        *Box     `json:"textBox,omitempty"`
	Landscape      bool     `json:"isLandscape"`
	DoublePage     bool     `json:"isDoubleLayout"`
}

// Empty reports whether the layout holds no photo.
func (l *Layout) Empty() bool {
	return l.ImageBox == nil
}

// Product is a photobook product (size, binding) offered by the API.
type Product struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	CoverSize    geometry.Size `json:"coverSize"`
	PageSize     geometry.Size `json:"pageSize"`
	CoverLayouts []LayoutID    `json:"coverLayouts"`
	Layouts      []LayoutID    `json:"layouts"`
	MinPages     int           `json:"minPages,omitempty"`
}

// Catalog is the arena of products and layouts.
type Catalog struct {
	products []*Product
	layouts  map[LayoutID]*Layout
}

// New builds a catalog from already validated templates. Products are kept
// sorted by cover width.
func New(products []*Product, layouts []*Layout) *Catalog {
	c := &Catalog{layouts: make(map[LayoutID]*Layout, len(layouts))}
	for _, l := range layouts {
		c.layouts[l.ID] = l
	}
	c.products = append(c.products, products...)
	sort.SliceStable(c.products, func(i, j int) bool {
		return c.products[i].CoverSize.Width < c.products[j].CoverSize.Width
	})
	return c
}

// Products returns the products ordered by cover width.
func (c *Catalog) Products() []*Product {
	out := make([]*Product, len(c.products))
	copy(out, c.products)
	return out
}

// Product looks a product up by id.
func (c *Catalog) Product(id string) (*Product, bool) {
	for _, p := range c.products {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Layout looks a layout up by id.
func (c *Catalog) Layout(id LayoutID) (*Layout, bool) {
	l, ok := c.layouts[id]
	return l, ok
}

// CoverLayouts returns the cover layout pool of p in catalog order.
func (c *Catalog) CoverLayouts(p *Product) []*Layout {
	return c.resolve(p.CoverLayouts)
}

// Layouts returns the content layout pool of p in catalog order.
func (c *Catalog) Layouts(p *Product) []*Layout {
	return c.resolve(p.Layouts)
}

func (c *Catalog) resolve(ids []LayoutID) []*Layout {
	out := make([]*Layout, 0, len(ids))
	for _, id := range ids {
		if l, ok := c.layouts[id]; ok {
			out = append(out, l)
		}
	}
	return out
}

// ContainerSize returns the size of the photo container of a layout on a page
// of the given size. Layouts without a photo container yield a zero size.
func (c *Catalog) ContainerSize(id LayoutID, page geometry.Size) geometry.Size {
	l, ok := c.layouts[id]
	if !ok || l.ImageBox == nil {
		return geometry.Size{}
	}
	return l.ImageBox.Rect(page).Size()
}

type payload struct {
	Products []json.RawMessage `json:"products"`
	Layouts  []json.RawMessage `json:"layouts"`
}

// Parse decodes the catalog returned by the initial data endpoint. Entries
// that fail to decode or validate are skipped; a catalog left without products
// or layouts is an error.
func Parse(r io.Reader) (*Catalog, error) {
	var p payload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	var layouts []*Layout
	for _, raw := range p.Layouts {
		var l Layout
		if err := json.Unmarshal(raw, &l); err != nil || l.Category == "" {
			continue
		}
		layouts = append(layouts, &l)
	}
	if len(layouts) == 0 {
		return nil, fmt.Errorf("layouts: %w", ErrEmptyCatalog)
	}
	var products []*Product
	for _, raw := range p.Products {
		var prod Product
		if err := json.Unmarshal(raw, &prod); err != nil || prod.ID == "" || !prod.CoverSize.Valid() {
			continue
		}
		products = append(products, &prod)
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("products: %w", ErrEmptyCatalog)
	}
	return New(products, layouts), nil
}
