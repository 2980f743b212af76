package scanmatch

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// paraboloidEstimator ignores scan and map: the score is a paraboloid
// peaking at target, which makes the optimum known in advance.
type paraboloidEstimator struct {
	target    RobotPose
	rotWeight float64
}

func (e paraboloidEstimator) ScanProbability(_ []Point, pose RobotPose, _ *GridMap) float64 {
	dx, dy, dth := pose.X-e.target.X, pose.Y-e.target.Y, pose.Theta-e.target.Theta
	return -(dx*dx + dy*dy) - e.rotWeight*dth*dth
}

// ScanProbabilityBound scores the translation of region nearest to target
func (e paraboloidEstimator) ScanProbabilityBound(_ []Point, pose RobotPose, _ *GridMap, region Rectangle) float64 {
	nx := math.Min(math.Max(e.target.X, pose.X+region.Left()), pose.X+region.Right())
	ny := math.Min(math.Max(e.target.Y, pose.Y+region.Bottom()), pose.Y+region.Top())
	dx, dy, dth := nx-e.target.X, ny-e.target.Y, pose.Theta-e.target.Theta
	return -(dx*dx + dy*dy) - e.rotWeight*dth*dth
}

// flatEstimator scores every pose the same
type flatEstimator struct{}

func (flatEstimator) ScanProbability([]Point, RobotPose, *GridMap) float64 { return 0 }
func (flatEstimator) ScanProbabilityBound([]Point, RobotPose, *GridMap, Rectangle) float64 {
	return 0
}

// growingBoundEstimator breaks the refinement contract: smaller regions get
// higher bounds. Exact scores stay below every bound so regions are expanded.
type growingBoundEstimator struct{}

func (growingBoundEstimator) ScanProbability([]Point, RobotPose, *GridMap) float64 { return -100 }
func (growingBoundEstimator) ScanProbabilityBound(_ []Point, _ RobotPose, _ *GridMap, region Rectangle) float64 {
	return -region.Area()
}

// roomOrigin is deliberately off the cell lattice so scan endpoints do not
// land on cell boundaries
var roomOrigin = Point{X: -0.013, Y: 0.021}

// newRoomGrid returns a 4 m x 3 m room at 5 cm resolution with an inner wall
// and a box, so that no two poses see the same scan.
func newRoomGrid(t testing.TB) *GridMap {
	t.Helper()
	g, err := NewGridMap(80, 60, 0.05, roomOrigin)
	require.NoError(t, err)

	for iy := 5; iy <= 54; iy++ {
		for ix := 5; ix <= 74; ix++ {
			v := FreeOccupancy
			switch {
			case ix == 5 || ix == 74 || iy == 5 || iy == 54:
				v = WallOccupancy
			case ix == 30 && iy <= 30:
				v = WallOccupancy
			case ix >= 50 && ix <= 55 && iy >= 35 && iy <= 40:
				v = WallOccupancy
			}
			g.Set(ix, iy, v)
		}
	}
	return g
}

// roomTruth is a free pose inside newRoomGrid
var roomTruth = RobotPose{X: 1.6, Y: 1.9, Theta: 0.3}

func roomScan(t testing.TB, g *GridMap, pose RobotPose) []Point {
	t.Helper()
	points := SimulateScan(g, pose, 180, 6).Points()
	require.Greater(t, len(points), 150, "simulated scan should hit walls")
	return points
}

// recoverViolation runs f and returns the *InvariantViolation it panics with
func recoverViolation(f func()) (v *InvariantViolation) {
	defer func() {
		if r := recover(); r != nil {
			v, _ = r.(*InvariantViolation)
		}
	}()
	f()
	return nil
}

// testValetudoMap returns a 4 m x 3 m room at 5 cm per pixel: floor sent as
// compressed runs, walls as plain pixels, and the robot at (1.62, 1.87) m
// heading 30 degrees.
func testValetudoMap() *ValetudoMap {
	var floor, walls []int
	for y := 6; y <= 53; y++ {
		floor = append(floor, 6, y, 68)
	}
	for x := 5; x <= 74; x++ {
		walls = append(walls, x, 5, x, 54)
	}
	for y := 6; y <= 53; y++ {
		walls = append(walls, 5, y, 74, y)
	}
	for y := 6; y <= 30; y++ {
		walls = append(walls, 30, y)
	}

	return &ValetudoMap{
		Class:     "ValetudoMap",
		MetaData:  MapMetaData{Version: 2, Nonce: "test"},
		Size:      Size{X: 400, Y: 300},
		PixelSize: 5,
		Layers: []MapLayer{
			{Class: "MapLayer", Type: "floor", CompressedPixels: floor},
			{Class: "MapLayer", Type: "wall", Pixels: walls},
		},
		Entities: []MapEntity{
			{
				Class:    "PointMapEntity",
				Type:     "robot_position",
				Points:   []int{162, 187},
				MetaData: map[string]interface{}{"angle": 30.0},
			},
			{
				Class:  "PointMapEntity",
				Type:   "charger_location",
				Points: []int{50, 50},
			},
		},
	}
}

func testMapJSON(t testing.TB) []byte {
	t.Helper()
	data, err := json.Marshal(testValetudoMap())
	require.NoError(t, err)
	return data
}
