package scanmatch

import "math"

// MapApproximator supplies a map that is cheap to evaluate over a large
// translation region. Returned maps must only ever over-estimate the fine
// map, and must converge back to it as regions shrink. Returning fine
// unchanged is always valid.
type MapApproximator interface {
	CoarseMap(fine *GridMap, region Rectangle) *GridMap
}

// DefaultPyramidLevels caps the pyramid depth used by PyramidApproximator
const DefaultPyramidLevels = 6

// PyramidApproximator picks a max-pooling pyramid level whose cells are
// about half the size of the region, so each scan endpoint covers at most
// a few cells when its bound is computed.
type PyramidApproximator struct {
	MaxLevel int
}

// NewPyramidApproximator creates an approximator limited to maxLevel
func NewPyramidApproximator(maxLevel int) *PyramidApproximator {
	if maxLevel < 0 {
		maxLevel = 0
	}
	return &PyramidApproximator{MaxLevel: maxLevel}
}

// CoarseMap returns fine.Level(k) for the level matching the region size.
// The level never increases as the region shrinks.
func (a *PyramidApproximator) CoarseMap(fine *GridMap, region Rectangle) *GridMap {
	return fine.Level(a.level(fine.Resolution, region))
}

func (a *PyramidApproximator) level(resolution float64, region Rectangle) int {
	side := math.Max(region.HSideLength(), region.VSideLength())
	if side <= 2*resolution {
		return 0
	}
	k := int(math.Ceil(math.Log2(side / (2 * resolution))))
	return min(max(k, 0), a.MaxLevel)
}

// coarseMap resolves an optional approximator; nil means no coarsening
func coarseMap(fine *GridMap, region Rectangle, apx MapApproximator) *GridMap {
	if apx == nil {
		return fine
	}
	return apx.CoarseMap(fine, region)
}
