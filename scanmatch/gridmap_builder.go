package scanmatch

import (
	"fmt"
	"math"
)

// Occupancy values written for Valetudo layers
const (
	FreeOccupancy = 0.0
	WallOccupancy = 1.0
)

// GridOptions controls how a Valetudo map is rasterized into a GridMap
type GridOptions struct {
	// LikelihoodRadius, in meters, blurs walls with ApplyLikelihoodField. 0 disables it.
	LikelihoodRadius float64
}

// GridFromValetudo converts a Valetudo map into an occupancy grid in meters.
// Floor and segment pixels become free, wall pixels become occupied and
// everything else stays unknown. Cell (ix, iy) is Valetudo pixel (ix, iy), so
// world coordinates are pixel index * pixelSize / 100.
func GridFromValetudo(vm *ValetudoMap, opts GridOptions) (*GridMap, error) {
	if vm == nil {
		return nil, ErrNilMap
	}
	if vm.PixelSize <= 0 {
		return nil, fmt.Errorf("map pixelSize must be positive, got %d", vm.PixelSize)
	}

	width := int(math.Ceil(float64(vm.Size.X) / float64(vm.PixelSize)))
	height := int(math.Ceil(float64(vm.Size.Y) / float64(vm.PixelSize)))
	for _, layer := range vm.Layers {
		for _, c := range layer.Cells() {
			width = max(width, c[0]+1)
			height = max(height, c[1]+1)
		}
	}

	grid, err := NewGridMap(width, height, float64(vm.PixelSize)/100, Point{})
	if err != nil {
		return nil, fmt.Errorf("building grid: %w", err)
	}

	// walls last so that they win over overlapping floor pixels
	for _, kind := range []string{LayerFloor, LayerSegment, LayerWall} {
		v := FreeOccupancy
		if kind == LayerWall {
			v = WallOccupancy
		}
		for _, layer := range vm.LayersOf(kind) {
			for _, c := range layer.Cells() {
				grid.Set(c[0], c[1], v)
			}
		}
	}

	grid.ApplyLikelihoodField(opts.LikelihoodRadius)
	return grid, nil
}

// RobotPoseFromMap returns the robot pose recorded in a Valetudo map, in
// meters and radians. The angle is measured from +X towards +Y in the grid
// frame (0 = East, 90 = South on the rendered image).
func RobotPoseFromMap(vm *ValetudoMap) (RobotPose, bool) {
	px, py, angle, ok := vm.RobotPosition()
	if !ok {
		return RobotPose{}, false
	}
	return RobotPose{
		X:     float64(px) / 100,
		Y:     float64(py) / 100,
		Theta: NormalizeAngle(DegToRad(angle)),
	}, true
}
