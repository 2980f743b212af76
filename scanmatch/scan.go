package scanmatch

import (
	"encoding/json"
	"fmt"
	"math"
)

// LaserScan is a planar range scan. Beam i points at
// AngleMin + i*AngleIncrement (radians, sensor frame).
type LaserScan struct {
	AngleMin       float64   `json:"angleMin"`
	AngleIncrement float64   `json:"angleIncrement"`
	RangeMin       float64   `json:"rangeMin,omitempty"`
	RangeMax       float64   `json:"rangeMax,omitempty"` // 0 means unlimited
	Ranges         []float64 `json:"ranges"`
}

// Points converts the scan to endpoints in the sensor frame. Beams with a
// non-finite range, or a range outside [RangeMin, RangeMax], are dropped.
func (s LaserScan) Points() []Point {
	points := make([]Point, 0, len(s.Ranges))
	for i, r := range s.Ranges {
		if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 || r < s.RangeMin {
			continue
		}
		if s.RangeMax > 0 && r > s.RangeMax {
			continue
		}
		a := s.AngleMin + float64(i)*s.AngleIncrement
		points = append(points, Point{X: r * math.Cos(a), Y: r * math.Sin(a)})
	}
	return points
}

// ScanRequest asks for the correction of a prior pose given a scan
type ScanRequest struct {
	RobotID   string    `json:"robotId"`
	Timestamp int64     `json:"timestamp,omitempty"`
	Pose      RobotPose `json:"pose"`
	Scan      LaserScan `json:"scan"`
}

// ParseScanRequest decodes and validates a JSON scan request
func ParseScanRequest(data []byte) (*ScanRequest, error) {
	var req ScanRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing scan request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate rejects requests the matcher cannot use
func (r *ScanRequest) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"pose.x", r.Pose.X},
		{"pose.y", r.Pose.Y},
		{"pose.theta", r.Pose.Theta},
		{"scan.angleMin", r.Scan.AngleMin},
		{"scan.angleIncrement", r.Scan.AngleIncrement},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidScan, f.name)
		}
	}
	if len(r.Scan.Ranges) > 1 && r.Scan.AngleIncrement == 0 {
		return fmt.Errorf("%w: angleIncrement is zero for %d beams", ErrInvalidScan, len(r.Scan.Ranges))
	}
	return nil
}

// SimulateScan ray-casts beams evenly spread over a full turn from pose
// against grid. Beams that hit nothing within maxRange are reported as 0
// and dropped by Points.
func SimulateScan(grid *GridMap, pose RobotPose, beams int, maxRange float64) LaserScan {
	if beams <= 0 {
		return LaserScan{RangeMax: maxRange}
	}
	scan := LaserScan{
		AngleMin:       -math.Pi,
		AngleIncrement: 2 * math.Pi / float64(beams),
		RangeMax:       maxRange,
		Ranges:         make([]float64, beams),
	}
	step := grid.Resolution / 4
	for i := range scan.Ranges {
		a := pose.Theta + scan.AngleMin + float64(i)*scan.AngleIncrement
		dx, dy := math.Cos(a), math.Sin(a)
		for r := step; r <= maxRange; r += step {
			p := Point{X: pose.X + r*dx, Y: pose.Y + r*dy}
			ix, iy := grid.CellIndex(p)
			if !grid.InBounds(ix, iy) {
				break
			}
			if grid.At(ix, iy) >= OccupiedThreshold {
				scan.Ranges[i] = r
				break
			}
		}
	}
	return scan
}
