package scanmatch

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Rectangle is an axis-aligned set of candidate translations in meters.
// The horizontal axis is X, the vertical axis is Y. A rectangle with
// zero-length sides is a single point.
type Rectangle struct {
	bound orb.Bound
}

// NewRectangle creates a rectangle from its bottom, top, left and right
// edges. Swapped edges are reordered.
func NewRectangle(bottom, top, left, right float64) Rectangle {
	if bottom > top {
		bottom, top = top, bottom
	}
	if left > right {
		left, right = right, left
	}
	return Rectangle{bound: orb.Bound{
		Min: orb.Point{left, bottom},
		Max: orb.Point{right, top},
	}}
}

// PointRectangle creates a degenerate rectangle holding a single translation
func PointRectangle(x, y float64) Rectangle {
	return NewRectangle(y, y, x, x)
}

// Bound returns the underlying orb bound
func (r Rectangle) Bound() orb.Bound { return r.bound }

func (r Rectangle) Left() float64   { return r.bound.Left() }
func (r Rectangle) Right() float64  { return r.bound.Right() }
func (r Rectangle) Bottom() float64 { return r.bound.Bottom() }
func (r Rectangle) Top() float64    { return r.bound.Top() }

// HSideLength returns the extent along X
func (r Rectangle) HSideLength() float64 {
	return r.bound.Right() - r.bound.Left()
}

// VSideLength returns the extent along Y
func (r Rectangle) VSideLength() float64 {
	return r.bound.Top() - r.bound.Bottom()
}

// Area returns the rectangle area in square meters
func (r Rectangle) Area() float64 {
	return r.HSideLength() * r.VSideLength()
}

// Center returns the rectangle center
func (r Rectangle) Center() Point {
	c := r.bound.Center()
	return Point{X: c.X(), Y: c.Y()}
}

// Corners returns the four corners: bottom-left, bottom-right, top-right, top-left
func (r Rectangle) Corners() [4]Point {
	return [4]Point{
		{X: r.Left(), Y: r.Bottom()},
		{X: r.Right(), Y: r.Bottom()},
		{X: r.Right(), Y: r.Top()},
		{X: r.Left(), Y: r.Top()},
	}
}

// Contains reports whether the point lies inside or on the edge of the rectangle
func (r Rectangle) Contains(p Point) bool {
	return r.bound.Contains(orb.Point{p.X, p.Y})
}

// SplitHoriz splits the rectangle across its horizontal side into a left and
// a right half sharing the vertical midline.
func (r Rectangle) SplitHoriz() []Rectangle {
	mid := r.hMid()
	return []Rectangle{
		NewRectangle(r.Bottom(), r.Top(), r.Left(), mid),
		NewRectangle(r.Bottom(), r.Top(), mid, r.Right()),
	}
}

// SplitVert splits the rectangle across its vertical side into a bottom and
// a top half sharing the horizontal midline.
func (r Rectangle) SplitVert() []Rectangle {
	mid := r.vMid()
	return []Rectangle{
		NewRectangle(r.Bottom(), mid, r.Left(), r.Right()),
		NewRectangle(mid, r.Top(), r.Left(), r.Right()),
	}
}

// SplitQuad splits the rectangle into four quadrants sharing both midlines
func (r Rectangle) SplitQuad() []Rectangle {
	hm, vm := r.hMid(), r.vMid()
	return []Rectangle{
		NewRectangle(r.Bottom(), vm, r.Left(), hm),
		NewRectangle(r.Bottom(), vm, hm, r.Right()),
		NewRectangle(vm, r.Top(), hm, r.Right()),
		NewRectangle(vm, r.Top(), r.Left(), hm),
	}
}

func (r Rectangle) hMid() float64 { return r.Left() + (r.Right()-r.Left())/2 }
func (r Rectangle) vMid() float64 { return r.Bottom() + (r.Top()-r.Bottom())/2 }

func (r Rectangle) String() string {
	return fmt.Sprintf("[x: %.4f..%.4f, y: %.4f..%.4f]", r.Left(), r.Right(), r.Bottom(), r.Top())
}

// Distance returns the euclidean distance between two points
func Distance(a, b Point) float64 {
	return planar.Distance(orb.Point{a.X, a.Y}, orb.Point{b.X, b.Y})
}

// areEqual compares two floats with the search tolerance
func areEqual(a, b float64) bool {
	return math.Abs(a-b) <= searchTolerance
}
