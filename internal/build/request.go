package build

import (
	"fmt"

	"github.com/dharsanguruparan/photobook/internal/catalog"
	"github.com/dharsanguruparan/photobook/internal/composition"
	"github.com/dharsanguruparan/photobook/internal/geometry"
)

// Request is the body of a PDF generation request.
type Request struct {
	ProductID  string        `json:"productId"`
	CoverColor string        `json:"coverColor"`
	PageColor  string        `json:"pageColor"`
	CoverSize  geometry.Size `json:"coverSize"`
	PageSize   geometry.Size `json:"pageSize"`
	Pages      []Page        `json:"pages"`
}

// Page is one page of a build request. The first page is the cover.
type Page struct {
	LayoutID catalog.LayoutID `json:"layoutId"`
	Text     string           `json:"text,omitempty"`
	Font     int              `json:"font"`
	Image    *Image           `json:"image,omitempty"`
}

// Image is an uploaded asset and the transform placing it in its container.
type Image struct {
	URL       string        `json:"url"`
	Size      geometry.Size `json:"size"`
	Container geometry.Size `json:"containerSize"`
	Transform [6]float64    `json:"transform"`
}

// InsidePages is the number of pages after the cover.
func (r *Request) InsidePages() int {
	if len(r.Pages) == 0 {
		return 0
	}
	return len(r.Pages) - 1
}

// NewRequest derives a build request from a composition snapshot. remoteRefs
// maps asset identifiers to the references returned by the uploads.
func NewRequest(comp composition.Composition, cat *catalog.Catalog, remoteRefs map[string]string) (*Request, error) {
	if comp.ProductID == "" {
		return nil, &MissingTemplateInfoError{What: "product"}
	}
	product, ok := cat.Product(comp.ProductID)
	if !ok {
		return nil, &MissingTemplateInfoError{What: fmt.Sprintf("product %q", comp.ProductID)}
	}
	if len(comp.Pages) == 0 {
		return nil, &MissingTemplateInfoError{What: "pages"}
	}

	req := &Request{
		ProductID:  product.ID,
		CoverColor: string(comp.CoverColor),
		PageColor:  string(comp.PageColor),
		CoverSize:  product.CoverSize,
		PageSize:   product.PageSize,
		Pages:      make([]Page, 0, len(comp.Pages)),
	}
	for i, p := range comp.Pages {
		if _, ok := cat.Layout(p.LayoutID); !ok {
			return nil, &MissingTemplateInfoError{What: fmt.Sprintf("layout %d on page %d", p.LayoutID, i)}
		}
		page := Page{LayoutID: p.LayoutID, Text: p.Text, Font: int(p.Font)}
		if p.Placement != nil && p.Placement.Asset() != nil {
			a := p.Placement.Asset()
			ref, ok := remoteRefs[a.Identifier()]
			if !ok || ref == "" {
				return nil, &MissingTemplateInfoError{What: fmt.Sprintf("remote reference for asset %q", a.Identifier())}
			}
			page.Image = &Image{
				URL:       ref,
				Size:      a.Size(),
				Container: p.Placement.ContainerSize(),
				Transform: p.Placement.Transform().Components(),
			}
		}
		req.Pages = append(req.Pages, page)
	}
	return req, nil
}
