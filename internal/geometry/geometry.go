// Package geometry holds the affine maths used to place a photo inside a page
// container. Every function here is pure so callers can use them from any
// goroutine.
package geometry

import "math"

// Size is a width/height pair in points (containers) or pixels (assets).
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether both dimensions are positive and finite.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0 && finite(s.Width) && finite(s.Height)
}

// Landscape reports whether the size is wider than tall.
func (s Size) Landscape() bool {
	return s.Width > s.Height
}

// Point is a 2D coordinate.
type Point struct {
	X float64
	Y float64
}

// Rect is an axis aligned rectangle.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Size returns the rectangle dimensions.
func (r Rect) Size() Size {
	return Size{Width: r.Width, Height: r.Height}
}

// Transform is a 2D affine transform using the row-vector convention:
//
//	x' = A*x + C*y + TX
//	y' = B*x + D*y + TY
//
// Assets are transformed around their centre, and the translation is the
// offset of the asset centre from the container centre.
type Transform struct {
	A  float64
	B  float64
	C  float64
	D  float64
	TX float64
	TY float64
}

// Identity is the transform that leaves every point unchanged.
var Identity = Transform{A: 1, D: 1}

// Scaling returns a transform scaling x and y independently.
func Scaling(sx, sy float64) Transform {
	return Transform{A: sx, D: sy}
}

// Rotation returns a transform rotating by angle radians.
func Rotation(angle float64) Transform {
	sin, cos := math.Sincos(angle)
	return Transform{A: cos, B: sin, C: -sin, D: cos}
}

// Translation returns a transform offsetting points by (tx, ty).
func Translation(tx, ty float64) Transform {
	return Transform{A: 1, D: 1, TX: tx, TY: ty}
}

// Make builds the transform that scales uniformly, rotates, then translates.
func Make(scale, angle float64, translation Point) Transform {
	sin, cos := math.Sincos(angle)
	return Transform{
		A:  scale * cos,
		B:  scale * sin,
		C:  -scale * sin,
		D:  scale * cos,
		TX: translation.X,
		TY: translation.Y,
	}
}

// Concat returns the transform applying t first and then next.
func (t Transform) Concat(next Transform) Transform {
	return Transform{
		A:  t.A*next.A + t.B*next.C,
		B:  t.A*next.B + t.B*next.D,
		C:  t.C*next.A + t.D*next.C,
		D:  t.C*next.B + t.D*next.D,
		TX: t.TX*next.A + t.TY*next.C + next.TX,
		TY: t.TX*next.B + t.TY*next.D + next.TY,
	}
}

// ScaledBy multiplies the whole transform, translation included, by factor.
func (t Transform) ScaledBy(factor float64) Transform {
	return t.Concat(Scaling(factor, factor))
}

// Apply maps p through the transform.
func (t Transform) Apply(p Point) Point {
	return Point{
		X: t.A*p.X + t.C*p.Y + t.TX,
		Y: t.B*p.X + t.D*p.Y + t.TY,
	}
}

// Scale returns the uniform scale factor encoded in the transform.
func (t Transform) Scale() float64 {
	return math.Hypot(t.A, t.B)
}

// Angle returns the rotation in radians.
func (t Transform) Angle() float64 {
	return math.Atan2(t.B, t.A)
}

// Translation returns the translation component.
func (t Transform) Translation() Point {
	return Point{X: t.TX, Y: t.TY}
}

// IsFinite reports whether no component is NaN or infinite.
func (t Transform) IsFinite() bool {
	for _, v := range [...]float64{t.A, t.B, t.C, t.D, t.TX, t.TY} {
		if !finite(v) {
			return false
		}
	}
	return true
}

// Components returns the six coefficients in a, b, c, d, tx, ty order.
func (t Transform) Components() [6]float64 {
	return [6]float64{t.A, t.B, t.C, t.D, t.TX, t.TY}
}

// FromComponents is the inverse of Components.
func FromComponents(c [6]float64) Transform {
	return Transform{A: c[0], B: c[1], C: c[2], D: c[3], TX: c[4], TY: c[5]}
}

// BoundingBox returns the axis aligned box covered by an asset of the given
// size, centred on the origin, after applying t.
func (t Transform) BoundingBox(size Size) Rect {
	hw, hh := size.Width/2, size.Height/2
	corners := [4]Point{{-hw, -hh}, {hw, -hh}, {hw, hh}, {-hw, hh}}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		p := t.Apply(c)
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// ScaleToFill returns the smallest uniform scale at which an asset rotated by
// angle covers the container without gaps. Degenerate sizes yield 1.
func ScaleToFill(container, asset Size, angle float64) float64 {
	if !container.Valid() || !asset.Valid() || !finite(angle) {
		return 1
	}
	bw, bh := rotatedExtent(container, angle)
	return math.Max(bw/asset.Width, bh/asset.Height)
}

// Fit returns the uniform scale transform making asset cover container,
// dropping any rotation or translation. Degenerate input yields Identity.
func Fit(asset, container Size) Transform {
	if !asset.Valid() || !container.Valid() {
		return Identity
	}
	scale := ScaleToFill(container, asset, 0)
	return Scaling(scale, scale)
}

// Rescale carries a transform over to a resized container without refitting.
//
// A single ratio is used for both axes: the width ratio when the new container
// is at least as wide as it is tall, the height ratio otherwise. The crop keeps
// its aspect; the non-dominant axis may end up slightly over or under filled,
// which Adjust then corrects.
func Rescale(oldContainer, newContainer Size, t Transform) Transform {
	if !t.IsFinite() {
		return Identity
	}
	if !oldContainer.Valid() || !newContainer.Valid() {
		return t
	}
	ratio := newContainer.Height / oldContainer.Height
	if newContainer.Width >= newContainer.Height {
		ratio = newContainer.Width / oldContainer.Width
	}
	if !finite(ratio) || ratio <= 0 {
		return t
	}
	return t.ScaledBy(ratio)
}

// Adjust re-derives a transform after the asset or container changed shape.
// Rotation is kept, the scale is raised to the cover minimum for that rotation
// and the translation is clamped so the container stays inside the asset.
func Adjust(t Transform, asset, container Size) Transform {
	if !t.IsFinite() {
		t = Identity
	}
	if !asset.Valid() || !container.Valid() {
		return t
	}
	angle := t.Angle()
	scale := t.Scale()
	if minimum := ScaleToFill(container, asset, angle); !(scale >= minimum) {
		scale = minimum
	}

	// Work in the asset's rotated frame where the limits are axis aligned.
	sin, cos := math.Sincos(angle)
	u := Point{
		X: t.TX*cos + t.TY*sin,
		Y: -t.TX*sin + t.TY*cos,
	}
	bw, bh := rotatedExtent(container, angle)
	limitX := math.Max(0, (scale*asset.Width-bw)/2)
	limitY := math.Max(0, (scale*asset.Height-bh)/2)
	u.X = clamp(u.X, -limitX, limitX)
	u.Y = clamp(u.Y, -limitY, limitY)

	translation := Point{
		X: u.X*cos - u.Y*sin,
		Y: u.X*sin + u.Y*cos,
	}
	return Make(scale, angle, translation)
}

// rotatedExtent is the bounding box of the container seen from a frame rotated
// by -angle.
func rotatedExtent(container Size, angle float64) (float64, float64) {
	sin, cos := math.Sincos(angle)
	sin, cos = math.Abs(sin), math.Abs(cos)
	return container.Width*cos + container.Height*sin, container.Width*sin + container.Height*cos
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
