package composition

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photobook/internal/asset"
	"github.com/dharsanguruparan/photobook/internal/catalog"
	"github.com/dharsanguruparan/photobook/internal/geometry"
)

// Persister saves and loads a whole composition.
type Persister interface {
	Save(ctx context.Context, c Composition) error
	Load(ctx context.Context) (Composition, error)
}

// Store is the single owner of a composition. Mutations are serialised by a
// mutex; readers take a Snapshot.
type Store struct {
	mu        sync.RWMutex
	catalog   *catalog.Catalog
	persister Persister
	logger    zerolog.Logger
	comp      Composition
}

// NewStore creates an empty store backed by the given catalog.
func NewStore(cat *catalog.Catalog, persister Persister, logger zerolog.Logger) *Store {
	return &Store{
		catalog:   cat,
		persister: persister,
		logger:    logger.With().Str("component", "composition").Logger(),
		comp:      Composition{CoverColor: ColorWhite, PageColor: ColorWhite},
	}
}

// Catalog returns the catalog the store resolves layouts against.
func (s *Store) Catalog() *catalog.Catalog {
	return s.catalog
}

// SelectProduct picks a product using its catalog layout pools.
func (s *Store) SelectProduct(productID string, assets []asset.Asset) error {
	product, ok := s.catalog.Product(productID)
	if !ok {
		return fmt.Errorf("select %q: %w", productID, ErrUnknownProduct)
	}
	return s.SelectProductWithPools(product, assets, s.catalog.CoverLayouts(product), s.catalog.Layouts(product))
}

// SelectProductWithPools lays assets out on new pages the first time a
// product is chosen: the first asset goes on the cover and every other asset
// gets a page whose layout matches its orientation, cycling through the pool.
// Once a product is selected, choosing another one only remaps each page to a
// layout of the same category in the new pools, keeping assets and text.
func (s *Store) SelectProductWithPools(product *catalog.Product, assets []asset.Asset, coverPool, contentPool []*catalog.Layout) error {
	if len(coverPool) == 0 {
		return &MissingLayoutsError{ProductID: product.ID, Pool: "cover"}
	}
	if len(contentPool) == 0 {
		return &MissingLayoutsError{ProductID: product.ID, Pool: "content"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.comp.ProductID == "" {
		pages, err := layOut(product.ID, assets, coverPool, contentPool)
		if err != nil {
			return err
		}
		s.comp.Pages = pages
		s.comp.ProductID = product.ID
		s.logger.Info().Str("product_id", product.ID).Int("pages", len(pages)).Msg("product selected")
		return nil
	}

	for i := range s.comp.Pages {
		pool := contentPool
		if i == 0 {
			pool = coverPool
		}
		page := &s.comp.Pages[i]
		next := remap(s.catalog, page.LayoutID, pool)
		if next.ID == page.LayoutID {
			continue
		}
		page.LayoutID = next.ID
		if page.Placement == nil {
			page.Placement = NewPlacement()
		}
		page.Placement.shouldRefit = true
	}
	s.logger.Info().Str("from", s.comp.ProductID).Str("to", product.ID).Msg("product switched")
	s.comp.ProductID = product.ID
	return nil
}

func layOut(productID string, assets []asset.Asset, coverPool, contentPool []*catalog.Layout) ([]Page, error) {
	var portrait, landscape []*catalog.Layout
	for _, l := range contentPool {
		if l.Empty() || l.DoublePage {
			continue
		}
		if l.Landscape {
			landscape = append(landscape, l)
		} else {
			portrait = append(portrait, l)
		}
	}

	cover := Page{LayoutID: coverPool[0].ID, Placement: NewPlacement()}
	remaining := assets
	if len(remaining) > 0 {
		cover.Placement.setAsset(remaining[0])
		remaining = remaining[1:]
	}
	pages := []Page{cover}

	var nextPortrait, nextLandscape int
	for _, a := range remaining {
		pool, next, name := portrait, &nextPortrait, "portrait"
		if asset.IsLandscape(a) {
			pool, next, name = landscape, &nextLandscape, "landscape"
		}
		if len(pool) == 0 {
			return nil, &MissingLayoutsError{ProductID: productID, Pool: name}
		}
		layout := pool[*next]
		if *next < len(pool)-1 {
			*next++
		} else {
			*next = 0
		}
		placement := NewPlacement()
		placement.setAsset(a)
		pages = append(pages, Page{LayoutID: layout.ID, Placement: placement})
	}
	return pages, nil
}

func remap(cat *catalog.Catalog, current catalog.LayoutID, pool []*catalog.Layout) *catalog.Layout {
	old, ok := cat.Layout(current)
	if ok {
		for _, l := range pool {
			if l.Category == old.Category {
				return l
			}
		}
	}
	return pool[0]
}

// SetLayout assigns a layout to a page. The layout must belong to the
// selected product's cover pool for page 0 and to its content pool
// elsewhere. The page's photo is refitted on the next container size update.
func (s *Store) SetLayout(page int, id catalog.LayoutID) error {
	if _, ok := s.catalog.Layout(id); !ok {
		return fmt.Errorf("set layout %d: %w", id, ErrUnknownLayout)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if page < 0 || page >= len(s.comp.Pages) {
		return &InvalidPageIndexError{Index: page, Count: len(s.comp.Pages)}
	}
	product, ok := s.catalog.Product(s.comp.ProductID)
	if !ok {
		return ErrNoProduct
	}
	pool := s.catalog.Layouts(product)
	if page == 0 {
		pool = s.catalog.CoverLayouts(product)
	}
	if !inPool(pool, id) {
		return fmt.Errorf("set layout %d on page %d of %q: %w", id, page, product.ID, ErrLayoutNotOffered)
	}
	return s.mutateLocked(page, func(p *Page) {
		if p.LayoutID != id {
			p.LayoutID = id
			p.Placement.shouldRefit = true
		}
	})
}

func inPool(pool []*catalog.Layout, id catalog.LayoutID) bool {
	for _, l := range pool {
		if l.ID == id {
			return true
		}
	}
	return false
}

// SetAsset places an asset on a page and fits it to the container.
func (s *Store) SetAsset(page int, a asset.Asset) error {
	return s.mutate(page, func(p *Page) { p.Placement.setAsset(a) })
}

// SetText sets a page's text.
func (s *Store) SetText(page int, text string) error {
	return s.mutate(page, func(p *Page) { p.Text = text })
}

// SetFont sets a page's typeface.
func (s *Store) SetFont(page int, font FontType) error {
	return s.mutate(page, func(p *Page) { p.Font = font })
}

// SetTransform applies a user pan/zoom/rotate, corrected to keep the
// container covered.
func (s *Store) SetTransform(page int, t geometry.Transform) error {
	return s.mutate(page, func(p *Page) { p.Placement.setTransform(t) })
}

// UpdateContainerSize records a new container size for a page. The existing
// crop is rescaled unless the page was flagged for refit.
func (s *Store) UpdateContainerSize(page int, size geometry.Size) error {
	return s.mutate(page, func(p *Page) { p.Placement.setContainerSize(size) })
}

// SizeContainers derives every page's container from its layout, using the
// product's cover size for page 0 and its page size elsewhere. Layouts without
// a photo container are skipped. All pages are sized under one lock.
func (s *Store) SizeContainers() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.catalog.Product(s.comp.ProductID)
	if !ok {
		return ErrNoProduct
	}
	for i := range s.comp.Pages {
		pageSize := product.PageSize
		if i == 0 {
			pageSize = product.CoverSize
		}
		size := s.catalog.ContainerSize(s.comp.Pages[i].LayoutID, pageSize)
		if size.Width <= 0 || size.Height <= 0 {
			continue
		}
		if err := s.mutateLocked(i, func(p *Page) { p.Placement.setContainerSize(size) }); err != nil {
			return err
		}
	}
	return nil
}

// SetColors sets the cover and page colours.
func (s *Store) SetColors(cover, page Color) error {
	if !cover.Valid() || !page.Valid() {
		return fmt.Errorf("colors %q/%q: %w", cover, page, ErrInvalidColor)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comp.CoverColor = cover
	s.comp.PageColor = page
	return nil
}

func (s *Store) mutate(page int, fn func(p *Page)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateLocked(page, fn)
}

// mutateLocked applies fn to one page. mu must be held.
func (s *Store) mutateLocked(page int, fn func(p *Page)) error {
	if page < 0 || page >= len(s.comp.Pages) {
		return &InvalidPageIndexError{Index: page, Count: len(s.comp.Pages)}
	}
	p := &s.comp.Pages[page]
	if p.Placement == nil {
		p.Placement = NewPlacement()
	}
	fn(p)
	return nil
}

// Page returns a copy of one page.
func (s *Store) Page(page int) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if page < 0 || page >= len(s.comp.Pages) {
		return Page{}, &InvalidPageIndexError{Index: page, Count: len(s.comp.Pages)}
	}
	return s.comp.Pages[page].clone(), nil
}

// PageCount returns the number of pages.
func (s *Store) PageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.comp.Pages)
}

// Snapshot returns a deep copy of the composition.
func (s *Store) Snapshot() Composition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.comp.Clone()
}

// AssetIdentifiers returns the distinct placed asset identifiers.
func (s *Store) AssetIdentifiers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.comp.AssetIdentifiers()
}

// Asset looks up a placed asset by identifier.
func (s *Store) Asset(id string) (asset.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.comp.Asset(id)
}

// Reset discards the composition.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comp = Composition{CoverColor: ColorWhite, PageColor: ColorWhite}
}

// Persist writes the composition through the persister.
func (s *Store) Persist(ctx context.Context) error {
	snapshot := s.Snapshot()
	if snapshot.ProductID == "" {
		return ErrNoProduct
	}
	if err := s.persister.Save(ctx, snapshot); err != nil {
		return err
	}
	s.logger.Debug().Int("pages", len(snapshot.Pages)).Msg("composition persisted")
	return nil
}

// Restore replaces the composition with the persisted one. On failure the
// in-memory composition is left as it was.
func (s *Store) Restore(ctx context.Context) (Composition, error) {
	loaded, err := s.persister.Load(ctx)
	if err != nil {
		return Composition{}, err
	}
	s.mu.Lock()
	s.comp = loaded.Clone()
	s.mu.Unlock()
	s.logger.Debug().Str("product_id", loaded.ProductID).Int("pages", len(loaded.Pages)).Msg("composition restored")
	return loaded, nil
}
