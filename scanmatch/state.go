package scanmatch

import (
	"sort"
	"sync"
	"time"
)

// LivePose is the latest corrected pose of a robot
type LivePose struct {
	RobotID    string    `json:"robotId"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Theta      float64   `json:"theta"` // radians
	Prior      RobotPose `json:"prior"`
	Correction PoseDelta `json:"correction"`
	Score      float64   `json:"score"`
	Timestamp  time.Time `json:"timestamp"`
	Color      string    `json:"color"`
}

// Pose returns the corrected pose
func (p LivePose) Pose() RobotPose {
	return RobotPose{X: p.X, Y: p.Y, Theta: p.Theta}
}

// StateTracker tracks the latest corrected pose and scan of each robot for
// the HTTP endpoints
type StateTracker struct {
	mu     sync.RWMutex
	poses  map[string]*LivePose
	scans  map[string][]Point
	colors map[string]string
}

// NewStateTracker creates a new state tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{
		poses:  make(map[string]*LivePose),
		scans:  make(map[string][]Point),
		colors: make(map[string]string),
	}
}

// SetColor sets the display color for a robot
func (st *StateTracker) SetColor(robotID, hexColor string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.colors[robotID] = hexColor
}

// Record stores the result of a match along with the scan it was computed from
func (st *StateTracker) Record(robotID string, prior RobotPose, scan []Point, result MatchResult) {
	st.mu.Lock()
	defer st.mu.Unlock()

	color := st.colors[robotID]
	if color == "" {
		color = "#FF0000"
	}

	st.poses[robotID] = &LivePose{
		RobotID:    robotID,
		X:          result.Pose.X,
		Y:          result.Pose.Y,
		Theta:      result.Pose.Theta,
		Prior:      prior,
		Correction: result.Correction,
		Score:      result.Score,
		Timestamp:  time.Now(),
		Color:      color,
	}
	st.scans[robotID] = append([]Point(nil), scan...)
}

// GetPose returns a copy of the latest pose for a robot
func (st *StateTracker) GetPose(robotID string) (LivePose, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	p, ok := st.poses[robotID]
	if !ok {
		return LivePose{}, false
	}
	return *p, true
}

// GetPoses returns copies of all known poses ordered by robot ID
func (st *StateTracker) GetPoses() []LivePose {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make([]LivePose, 0, len(st.poses))
	for _, p := range st.poses {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RobotID < result[j].RobotID })
	return result
}

// GetScan returns the scan (sensor frame) behind the latest pose of a robot
func (st *StateTracker) GetScan(robotID string) ([]Point, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.scans[robotID]
	if !ok {
		return nil, false
	}
	return append([]Point(nil), s...), true
}

// Overlay returns the latest match of a robot ready for rendering. Without a
// recorded match only the robot ID is set.
func (st *StateTracker) Overlay(robotID string) MatchOverlay {
	o := MatchOverlay{RobotID: robotID}
	p, ok := st.GetPose(robotID)
	if !ok {
		return o
	}
	prior := p.Prior
	o.Prior = &prior
	o.Color = p.Color
	o.Result = &MatchResult{Pose: p.Pose(), Correction: p.Correction, Score: p.Score}
	o.Scan, _ = st.GetScan(robotID)
	return o
}
