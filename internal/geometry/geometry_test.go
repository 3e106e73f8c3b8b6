package geometry

import (
	"math"
	"math/rand"
	"testing"
)

const epsilon = 1e-9

func approx(a, b float64) bool {
	return math.Abs(a-b) <= epsilon*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// covers maps each container corner back into the asset's frame and checks it
// lands inside the asset.
func covers(t Transform, asset, container Size) bool {
	scale := t.Scale()
	sin, cos := math.Sincos(t.Angle())
	hw, hh := container.Width/2, container.Height/2
	for _, q := range []Point{{-hw, -hh}, {hw, -hh}, {hw, hh}, {-hw, hh}} {
		dx, dy := q.X-t.TX, q.Y-t.TY
		x := (dx*cos + dy*sin) / scale
		y := (-dx*sin + dy*cos) / scale
		if math.Abs(x) > asset.Width/2*(1+epsilon) || math.Abs(y) > asset.Height/2*(1+epsilon) {
			return false
		}
	}
	return true
}

func TestFitCoversContainer(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		asset := Size{Width: 1 + rng.Float64()*6000, Height: 1 + rng.Float64()*6000}
		container := Size{Width: 1 + rng.Float64()*800, Height: 1 + rng.Float64()*800}
		tr := Fit(asset, container)
		box := tr.BoundingBox(asset)
		if box.Width < container.Width*(1-epsilon) || box.Height < container.Height*(1-epsilon) {
			t.Fatalf("fit %v into %v leaves a gap: box %v", asset, container, box)
		}
		if !approx(box.Width, container.Width) && !approx(box.Height, container.Height) {
			t.Fatalf("fit %v into %v overscales: box %v", asset, container, box)
		}
		if tr.B != 0 || tr.C != 0 || tr.TX != 0 || tr.TY != 0 {
			t.Fatalf("fit should be a pure scale, got %+v", tr)
		}
	}
}

func TestFitIgnoresAspectOfCover(t *testing.T) {
	tr := Fit(Size{Width: 400, Height: 200}, Size{Width: 100, Height: 100})
	if tr.A != 0.5 || tr.D != 0.5 {
		t.Fatalf("expected height driven scale 0.5, got %+v", tr)
	}
}

func TestDegenerateInputsStayFinite(t *testing.T) {
	degenerate := []Size{
		{},
		{Width: 0, Height: 10},
		{Width: 10, Height: 0},
		{Width: math.Inf(1), Height: 10},
		{Width: math.NaN(), Height: 10},
		{Width: -5, Height: 10},
	}
	good := Size{Width: 300, Height: 200}
	current := Make(1.5, 0.3, Point{X: 4, Y: -2})
	for _, d := range degenerate {
		for _, tr := range []Transform{
			Fit(d, good),
			Fit(good, d),
			Rescale(d, good, current),
			Rescale(good, d, current),
			Adjust(current, d, good),
			Adjust(current, good, d),
		} {
			if !tr.IsFinite() {
				t.Fatalf("non finite transform for %v: %+v", d, tr)
			}
		}
		if Fit(d, good) != Identity {
			t.Fatalf("expected identity for degenerate asset %v", d)
		}
	}
	nan := Transform{A: math.NaN(), D: 1}
	if got := Rescale(good, good, nan); got != Identity {
		t.Fatalf("expected identity for non finite input, got %+v", got)
	}
}

func TestRescaleUsesDominantAxis(t *testing.T) {
	current := Make(2, 0, Point{X: 10, Y: 6})
	wide := Rescale(Size{Width: 100, Height: 50}, Size{Width: 200, Height: 60}, current)
	if !approx(wide.Scale(), 4) || !approx(wide.TX, 20) || !approx(wide.TY, 12) {
		t.Fatalf("width ratio expected, got %+v", wide)
	}
	tall := Rescale(Size{Width: 100, Height: 50}, Size{Width: 120, Height: 150}, current)
	if !approx(tall.Scale(), 6) {
		t.Fatalf("height ratio expected, got %+v", tall)
	}
}

func TestAdjustRestoresCoverAndKeepsRotation(t *testing.T) {
	asset := Size{Width: 3000, Height: 2000}
	container := Size{Width: 300, Height: 300}
	rotated := Make(0.05, math.Pi/6, Point{X: 500, Y: -400})
	adjusted := Adjust(rotated, asset, container)
	if !approx(adjusted.Angle(), math.Pi/6) {
		t.Fatalf("rotation lost: %v", adjusted.Angle())
	}
	if !covers(adjusted, asset, container) {
		t.Fatalf("adjusted transform leaves gaps: %+v", adjusted)
	}
	if adjusted.Scale() < ScaleToFill(container, asset, math.Pi/6)*(1-epsilon) {
		t.Fatalf("scale below cover minimum: %v", adjusted.Scale())
	}
}

func TestAdjustKeepsValidTranslation(t *testing.T) {
	asset := Size{Width: 1000, Height: 1000}
	container := Size{Width: 100, Height: 100}
	tr := Make(0.5, 0, Point{X: 20, Y: -10})
	adjusted := Adjust(tr, asset, container)
	if !approx(adjusted.TX, 20) || !approx(adjusted.TY, -10) || !approx(adjusted.Scale(), 0.5) {
		t.Fatalf("valid transform should be untouched, got %+v", adjusted)
	}
}

func TestAdjustAfterRescaleCovers(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		asset := Size{Width: 100 + rng.Float64()*4000, Height: 100 + rng.Float64()*4000}
		oldC := Size{Width: 50 + rng.Float64()*500, Height: 50 + rng.Float64()*500}
		newC := Size{Width: 50 + rng.Float64()*500, Height: 50 + rng.Float64()*500}
		tr := Adjust(Rescale(oldC, newC, Fit(asset, oldC)), asset, newC)
		if !covers(tr, asset, newC) {
			t.Fatalf("gap after rescale %v -> %v: %+v", oldC, newC, tr)
		}
	}
}

func TestConcatMatchesSequentialApply(t *testing.T) {
	first := Make(2, 0.4, Point{X: 3, Y: 1})
	second := Make(0.5, -1.1, Point{X: -7, Y: 2})
	p := Point{X: 11, Y: -4}
	direct := second.Apply(first.Apply(p))
	combined := first.Concat(second).Apply(p)
	if !approx(direct.X, combined.X) || !approx(direct.Y, combined.Y) {
		t.Fatalf("concat mismatch: %v vs %v", direct, combined)
	}
}
