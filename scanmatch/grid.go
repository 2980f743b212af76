package scanmatch

import (
	"fmt"
	"math"
	"sync"
)

const (
	// UnknownOccupancy is the value of unobserved cells and of everything
	// outside the map.
	UnknownOccupancy = 0.5

	// OccupiedThreshold is the value at or above which a cell counts as an obstacle
	OccupiedThreshold = 0.65
)

// GridMap is an occupancy grid. Cell (ix, iy) covers
// [Origin.X + ix*Resolution, Origin.X + (ix+1)*Resolution) along X and the
// same along Y. Values are occupancy probabilities in [0, 1].
//
// A GridMap must not be modified once it is used for matching: the
// pyramid returned by Level is built lazily from the cell values.
type GridMap struct {
	Width      int
	Height     int
	Resolution float64 // meters per cell
	Origin     Point

	cells []float64

	mu     sync.Mutex
	levels []*GridMap // levels[0] is the map itself
}

// NewGridMap creates a grid with every cell unknown
func NewGridMap(width, height int, resolution float64, origin Point) (*GridMap, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("grid size must be positive, got %dx%d", width, height)
	}
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return nil, fmt.Errorf("grid resolution must be positive and finite, got %v", resolution)
	}
	g := &GridMap{
		Width:      width,
		Height:     height,
		Resolution: resolution,
		Origin:     origin,
		cells:      make([]float64, width*height),
	}
	for i := range g.cells {
		g.cells[i] = UnknownOccupancy
	}
	return g, nil
}

// InBounds reports whether the cell index lies inside the grid
func (g *GridMap) InBounds(ix, iy int) bool {
	return ix >= 0 && iy >= 0 && ix < g.Width && iy < g.Height
}

// At returns the occupancy of a cell, UnknownOccupancy outside the grid
func (g *GridMap) At(ix, iy int) float64 {
	if !g.InBounds(ix, iy) {
		return UnknownOccupancy
	}
	return g.cells[iy*g.Width+ix]
}

// Set stores the occupancy of a cell. Values are clamped to [0, 1] and
// out-of-range indices are ignored.
func (g *GridMap) Set(ix, iy int, v float64) {
	if !g.InBounds(ix, iy) {
		return
	}
	g.cells[iy*g.Width+ix] = math.Max(0, math.Min(1, v))
}

// CellIndex returns the index of the cell containing p
func (g *GridMap) CellIndex(p Point) (int, int) {
	return g.cellCoord(p.X - g.Origin.X), g.cellCoord(p.Y - g.Origin.Y)
}

func (g *GridMap) cellCoord(offset float64) int {
	return int(math.Floor(offset / g.Resolution))
}

// CellCenter returns the world coordinate of a cell center
func (g *GridMap) CellCenter(ix, iy int) Point {
	return Point{
		X: g.Origin.X + (float64(ix)+0.5)*g.Resolution,
		Y: g.Origin.Y + (float64(iy)+0.5)*g.Resolution,
	}
}

// ValueAt returns the occupancy of the cell containing p
func (g *GridMap) ValueAt(p Point) float64 {
	ix, iy := g.CellIndex(p)
	return g.At(ix, iy)
}

// Extent returns the world-space bounding rectangle of the grid
func (g *GridMap) Extent() Rectangle {
	return NewRectangle(
		g.Origin.Y, g.Origin.Y+float64(g.Height)*g.Resolution,
		g.Origin.X, g.Origin.X+float64(g.Width)*g.Resolution,
	)
}

// MaxInRange returns the highest occupancy over the inclusive index box
// [ix0, ix1] x [iy0, iy1]. Boxes reaching outside the grid include
// UnknownOccupancy.
func (g *GridMap) MaxInRange(ix0, iy0, ix1, iy1 int) float64 {
	if ix0 > ix1 {
		ix0, ix1 = ix1, ix0
	}
	if iy0 > iy1 {
		iy0, iy1 = iy1, iy0
	}

	best := math.Inf(-1)
	if ix0 < 0 || iy0 < 0 || ix1 >= g.Width || iy1 >= g.Height {
		best = UnknownOccupancy
	}

	x0, y0 := max(ix0, 0), max(iy0, 0)
	x1, y1 := min(ix1, g.Width-1), min(iy1, g.Height-1)
	for iy := y0; iy <= y1; iy++ {
		row := g.cells[iy*g.Width : (iy+1)*g.Width]
		for ix := x0; ix <= x1; ix++ {
			if row[ix] > best {
				best = row[ix]
				if best >= 1 {
					return best
				}
			}
		}
	}
	return best
}

// Level returns the k-th level of the max-pooling pyramid. Level k has
// resolution Resolution*2^k and the same origin, and each of its cells holds
// the maximum of the 2^k x 2^k fine cells it covers (UnknownOccupancy for
// the parts outside the map). Level 0 is the map itself.
func (g *GridMap) Level(k int) *GridMap {
	if k <= 0 {
		return g
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.levels) == 0 {
		g.levels = []*GridMap{g}
	}
	for len(g.levels) <= k {
		g.levels = append(g.levels, g.levels[len(g.levels)-1].downsample())
	}
	return g.levels[k]
}

// downsample builds the next pyramid level by 2x2 max pooling
func (g *GridMap) downsample() *GridMap {
	w, h := (g.Width+1)/2, (g.Height+1)/2
	coarse := &GridMap{
		Width:      w,
		Height:     h,
		Resolution: g.Resolution * 2,
		Origin:     g.Origin,
		cells:      make([]float64, w*h),
	}
	for iy := 0; iy < h; iy++ {
		for ix := 0; ix < w; ix++ {
			coarse.cells[iy*w+ix] = g.MaxInRange(2*ix, 2*iy, 2*ix+1, 2*iy+1)
		}
	}
	return coarse
}

// ApplyLikelihoodField raises cells near obstacles to a gaussian falloff of
// the given radius (meters), so that nearly aligned scans still score. Cells
// are only ever raised. Must be called before the map is used for matching.
func (g *GridMap) ApplyLikelihoodField(radius float64) {
	if radius <= 0 {
		return
	}
	r := int(math.Ceil(radius / g.Resolution))
	sigma := radius / 2

	var occupied [][2]int
	for iy := 0; iy < g.Height; iy++ {
		for ix := 0; ix < g.Width; ix++ {
			if g.cells[iy*g.Width+ix] >= OccupiedThreshold {
				occupied = append(occupied, [2]int{ix, iy})
			}
		}
	}

	for _, c := range occupied {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				ix, iy := c[0]+dx, c[1]+dy
				if !g.InBounds(ix, iy) {
					continue
				}
				d := math.Hypot(float64(dx), float64(dy)) * g.Resolution
				if d > radius {
					continue
				}
				v := math.Exp(-d * d / (2 * sigma * sigma))
				if idx := iy*g.Width + ix; v > g.cells[idx] {
					g.cells[idx] = v
				}
			}
		}
	}

	g.mu.Lock()
	g.levels = nil
	g.mu.Unlock()
}
