package scanmatch

// ScanProbabilityEstimator scores how well a scan taken at a pose fits a map.
//
// ScanProbabilityBound must never be lower than ScanProbability at any
// translation inside region (relative to pose, at the pose's rotation), and
// must not grow when the region shrinks or the map gets finer. The
// branch-and-bound search is only correct for estimators that keep both
// promises.
type ScanProbabilityEstimator interface {
	ScanProbability(scan []Point, pose RobotPose, m *GridMap) float64
	ScanProbabilityBound(scan []Point, pose RobotPose, m *GridMap, region Rectangle) float64
}

// OccupancyEstimator scores a scan by the mean occupancy of the cells its
// endpoints fall into. The bound over a region takes, per endpoint, the
// highest occupancy among all cells the endpoint can reach when the pose is
// shifted anywhere inside the region.
type OccupancyEstimator struct{}

// NewOccupancyEstimator returns the default grid estimator
func NewOccupancyEstimator() *OccupancyEstimator {
	return &OccupancyEstimator{}
}

// ScanProbability returns the mean occupancy hit by the scan endpoints.
// An empty scan scores 0.
func (e *OccupancyEstimator) ScanProbability(scan []Point, pose RobotPose, m *GridMap) float64 {
	if len(scan) == 0 {
		return 0
	}
	tf := pose.Transform()
	sum := 0.0
	for _, p := range scan {
		sum += m.ValueAt(tf.Apply(p))
	}
	return sum / float64(len(scan))
}

// ScanProbabilityBound returns the mean, over scan endpoints, of the best
// cell reachable by translating the endpoint anywhere inside region.
func (e *OccupancyEstimator) ScanProbabilityBound(scan []Point, pose RobotPose, m *GridMap, region Rectangle) float64 {
	if len(scan) == 0 {
		return 0
	}
	tf := pose.Transform()
	sum := 0.0
	for _, p := range scan {
		w := tf.Apply(p)
		ix0 := m.cellCoord(w.X + region.Left() - m.Origin.X)
		ix1 := m.cellCoord(w.X + region.Right() - m.Origin.X)
		iy0 := m.cellCoord(w.Y + region.Bottom() - m.Origin.Y)
		iy1 := m.cellCoord(w.Y + region.Top() - m.Origin.Y)
		sum += m.MaxInRange(ix0, iy0, ix1, iy1)
	}
	return sum / float64(len(scan))
}
