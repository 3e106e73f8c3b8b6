package build

import (
	"errors"
	"testing"

	"github.com/dharsanguruparan/photobook/internal/asset"
	"github.com/dharsanguruparan/photobook/internal/catalog"
	"github.com/dharsanguruparan/photobook/internal/composition"
	"github.com/dharsanguruparan/photobook/internal/geometry"
)

func testCatalog() *catalog.Catalog {
	full := &catalog.Box{Width: 1, Height: 1}
	return catalog.New(
		[]*catalog.Product{{
			ID:           "square",
			CoverSize:    geometry.Size{Width: 210, Height: 210},
			PageSize:     geometry.Size{Width: 200, Height: 200},
			CoverLayouts: []catalog.LayoutID{1},
			Layouts:      []catalog.LayoutID{2},
		}},
		[]*catalog.Layout{
			{ID: 1, Category: "cover", ImageBox: full},
			{ID: 2, Category: "A", ImageBox: full},
		},
	)
}

func testComposition() composition.Composition {
	cover := asset.NewStaticAsset("cover", geometry.Size{Width: 300, Height: 400}, nil)
	inside := asset.NewStaticAsset("inside", geometry.Size{Width: 400, Height: 300}, nil)
	t := geometry.Make(0.7, 0.1, geometry.Point{X: 3, Y: -2})
	return composition.Composition{
		ProductID:  "square",
		CoverColor: composition.ColorBlack,
		PageColor:  composition.ColorWhite,
		Pages: []composition.Page{
			{LayoutID: 1, Placement: composition.RestorePlacement(cover, geometry.Identity, geometry.Size{Width: 210, Height: 210})},
			{LayoutID: 2, Placement: composition.RestorePlacement(inside, t, geometry.Size{Width: 200, Height: 200}), Text: "day one", Font: composition.FontClassic},
			{LayoutID: 2, Placement: composition.NewPlacement()},
		},
	}
}

func TestNewRequest(t *testing.T) {
	comp := testComposition()
	refs := map[string]string{"cover": "https://img/cover", "inside": "https://img/inside"}

	req, err := NewRequest(comp, testCatalog(), refs)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if req.ProductID != "square" || req.CoverColor != "black" || req.InsidePages() != 2 {
		t.Fatalf("unexpected request %+v", req)
	}
	page := req.Pages[1]
	if page.Image == nil || page.Image.URL != "https://img/inside" || page.Text != "day one" || page.Font != int(composition.FontClassic) {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Image.Transform != comp.Pages[1].Placement.Transform().Components() {
		t.Fatalf("transform not carried over")
	}
	if req.Pages[2].Image != nil {
		t.Fatalf("empty placement should have no image")
	}
}

func TestNewRequestMissingTemplateInfo(t *testing.T) {
	refs := map[string]string{"cover": "c", "inside": "i"}
	cases := map[string]func(c *composition.Composition) map[string]string{
		"no product":      func(c *composition.Composition) map[string]string { c.ProductID = ""; return refs },
		"unknown product": func(c *composition.Composition) map[string]string { c.ProductID = "poster"; return refs },
		"no pages":        func(c *composition.Composition) map[string]string { c.Pages = nil; return refs },
		"unknown layout":  func(c *composition.Composition) map[string]string { c.Pages[1].LayoutID = 99; return refs },
		"missing upload": func(c *composition.Composition) map[string]string {
			return map[string]string{"cover": "c"}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			comp := testComposition()
			refs := mutate(&comp)
			_, err := NewRequest(comp, testCatalog(), refs)
			var missing *MissingTemplateInfoError
			if !errors.As(err, &missing) {
				t.Fatalf("expected MissingTemplateInfoError, got %v", err)
			}
		})
	}
}
