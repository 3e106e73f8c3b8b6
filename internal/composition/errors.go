package composition

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProduct is returned when an operation needs a selected product.
	ErrNoProduct = errors.New("no product selected")
	// ErrUnknownProduct is returned when the catalog has no such product.
	ErrUnknownProduct = errors.New("unknown product")
	// ErrUnknownLayout is returned when the catalog has no such layout.
	ErrUnknownLayout = errors.New("unknown layout")
	// ErrLayoutNotOffered is returned when a layout exists but is not in the
	// product's pool for that page.
	ErrLayoutNotOffered = errors.New("layout not offered for this page")
	// ErrInvalidColor is returned for colours other than white and black.
	ErrInvalidColor = errors.New("invalid color")
)

// InvalidPageIndexError reports a page index outside the page list.
type InvalidPageIndexError struct {
	Index int
	Count int
}

func (e *InvalidPageIndexError) Error() string {
	return fmt.Sprintf("page index %d out of range [0,%d)", e.Index, e.Count)
}

// MissingLayoutsError reports a product without a usable layout pool.
type MissingLayoutsError struct {
	ProductID string
	Pool      string
}

func (e *MissingLayoutsError) Error() string {
	return fmt.Sprintf("product %q has no %s layouts", e.ProductID, e.Pool)
}
