package scanmatch

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaserScan_Points(t *testing.T) {
	s := LaserScan{
		AngleMin:       0,
		AngleIncrement: math.Pi / 2,
		RangeMin:       0.1,
		RangeMax:       5,
		Ranges:         []float64{1, 0.05, 2, math.NaN(), 6, math.Inf(1), 0, 3},
	}

	got := s.Points()
	require.Len(t, got, 3)
	assert.InDelta(t, 1, got[0].X, 1e-12)
	assert.InDelta(t, 0, got[0].Y, 1e-12)
	assert.InDelta(t, -2, got[1].X, 1e-12, "beam 2 points along -X")
	assert.InDelta(t, 0, got[1].Y, 1e-12)
	assert.InDelta(t, 0, got[2].X, 1e-9)
	assert.InDelta(t, -3, got[2].Y, 1e-9, "beam 7 points along -Y")
}

func TestLaserScan_PointsUnlimitedRange(t *testing.T) {
	s := LaserScan{AngleIncrement: 0.1, Ranges: []float64{100, 200}}
	assert.Len(t, s.Points(), 2)
}

func TestParseScanRequest(t *testing.T) {
	data := []byte(`{
		"robotId": "rocky",
		"timestamp": 1700000000,
		"pose": {"x": 1.5, "y": -0.5, "theta": 0.25},
		"scan": {"angleMin": -1.57, "angleIncrement": 0.01, "rangeMax": 8, "ranges": [1.0, 1.1, 1.2]}
	}`)

	req, err := ParseScanRequest(data)
	require.NoError(t, err)
	assert.Equal(t, "rocky", req.RobotID)
	assert.Equal(t, int64(1700000000), req.Timestamp)
	assert.Equal(t, RobotPose{X: 1.5, Y: -0.5, Theta: 0.25}, req.Pose)
	assert.Len(t, req.Scan.Ranges, 3)
	assert.Equal(t, 8.0, req.Scan.RangeMax)
}

func TestParseScanRequest_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		invalid bool
	}{
		{"malformed JSON", `{"robotId":`, false},
		{"zero increment", `{"scan": {"angleIncrement": 0, "ranges": [1, 2]}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScanRequest([]byte(tt.data))
			require.Error(t, err)
			assert.Equal(t, tt.invalid, errors.Is(err, ErrInvalidScan))
		})
	}
}

func TestScanRequest_Validate(t *testing.T) {
	valid := ScanRequest{
		Pose: RobotPose{X: 1, Y: 2},
		Scan: LaserScan{AngleIncrement: 0.01, Ranges: []float64{1, 2}},
	}
	require.NoError(t, valid.Validate())

	single := ScanRequest{Scan: LaserScan{Ranges: []float64{1}}}
	assert.NoError(t, single.Validate(), "a single beam needs no increment")

	tests := []struct {
		name    string
		modify  func(*ScanRequest)
		message string
	}{
		{"NaN x", func(r *ScanRequest) { r.Pose.X = math.NaN() }, "pose.x is not finite"},
		{"infinite theta", func(r *ScanRequest) { r.Pose.Theta = math.Inf(-1) }, "pose.theta is not finite"},
		{"NaN angleMin", func(r *ScanRequest) { r.Scan.AngleMin = math.NaN() }, "scan.angleMin is not finite"},
		{"zero increment", func(r *ScanRequest) { r.Scan.AngleIncrement = 0 }, "angleIncrement is zero for 2 beams"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			r.Scan.Ranges = append([]float64(nil), valid.Scan.Ranges...)
			tt.modify(&r)
			err := r.Validate()
			assert.ErrorIs(t, err, ErrInvalidScan)
			assert.ErrorContains(t, err, tt.message)
		})
	}
}

func TestSimulateScan(t *testing.T) {
	g := newRoomGrid(t)

	s := SimulateScan(g, roomTruth, 360, 10)
	require.Len(t, s.Ranges, 360)
	assert.Equal(t, -math.Pi, s.AngleMin)
	assert.InDelta(t, 2*math.Pi/360, s.AngleIncrement, 1e-15)

	for i, r := range s.Ranges {
		require.Greater(t, r, 0.0, "beam %d should hit a wall inside the room", i)
	}

	// every endpoint lands in an occupied cell
	for _, p := range roomTruth.Transform().ApplyAll(s.Points()) {
		assert.GreaterOrEqual(t, g.ValueAt(p), OccupiedThreshold, "endpoint %+v", p)
	}
}

func TestSimulateScan_MissesBeyondRange(t *testing.T) {
	g := newRoomGrid(t)

	s := SimulateScan(g, roomTruth, 8, 0.2)
	for _, r := range s.Ranges {
		assert.Zero(t, r)
	}
	assert.Empty(t, s.Points())

	assert.Empty(t, SimulateScan(g, roomTruth, 0, 5).Ranges)
}
