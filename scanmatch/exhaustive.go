package scanmatch

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// ExhaustiveMatcher scores every translation on a TranslationStep lattice
// for every rotation step. It is slow but trivially correct, and serves as
// the reference the branch-and-bound search is checked against.
type ExhaustiveMatcher struct {
	estimator ScanProbabilityEstimator
	bounds    SearchBounds
	logger    *zap.Logger
}

var _ ScanMatcher = (*ExhaustiveMatcher)(nil)

// NewExhaustiveMatcher creates an exhaustive matcher
func NewExhaustiveMatcher(est ScanProbabilityEstimator, bounds SearchBounds, logger *zap.Logger) (*ExhaustiveMatcher, error) {
	if est == nil {
		return nil, fmt.Errorf("exhaustive matcher: estimator is nil")
	}
	if err := bounds.Validate(); err != nil {
		return nil, fmt.Errorf("exhaustive matcher: %w", err)
	}
	return &ExhaustiveMatcher{estimator: est, bounds: bounds, logger: orNop(logger)}, nil
}

// MatchScan scores the whole lattice and returns the best correction. Ties
// go to the smaller rotation, then to the smaller translation.
func (m *ExhaustiveMatcher) MatchScan(scan []Point, prior RobotPose, grid *GridMap) (MatchResult, error) {
	if grid == nil {
		return MatchResult{}, ErrNilMap
	}

	start := time.Now()
	var stats SearchStats
	xs := lattice(m.bounds.MaxTranslationErrorX, m.bounds.TranslationStep)
	ys := lattice(m.bounds.MaxTranslationErrorY, m.bounds.TranslationStep)

	best := PoseDelta{}
	bestScore := math.Inf(-1)
	for _, th := range m.bounds.rotations() {
		stats.Rotations++
		for _, dx := range xs {
			for _, dy := range ys {
				corr := PoseDelta{DX: dx, DY: dy, DTheta: th}
				score := m.estimator.ScanProbability(scan, prior.Add(corr), grid)
				stats.Evaluations++
				if score > bestScore+searchTolerance ||
					(areEqual(score, bestScore) && preferCorrection(corr, best)) {
					best, bestScore = corr, score
				}
			}
		}
	}

	pose := prior.Add(best)
	result := MatchResult{
		Correction: best,
		Pose:       pose,
		Score:      m.estimator.ScanProbability(scan, pose, grid),
		Stats:      stats,
	}
	result.Stats.Duration = time.Since(start)

	m.logger.Debug("exhaustive scan match",
		zap.Stringer("correction", best),
		zap.Float64("score", result.Score),
		zap.Int("evaluations", stats.Evaluations),
		zap.Duration("duration", result.Stats.Duration),
	)
	return result, nil
}

// lattice returns -half, -half+step, ... up to +half
func lattice(half, step float64) []float64 {
	n := int(math.Floor(2*half/step + searchTolerance))
	out := make([]float64, 0, n+1)
	for i := 0; i <= n; i++ {
		out = append(out, -half+float64(i)*step)
	}
	return out
}

func preferCorrection(a, b PoseDelta) bool {
	if ra, rb := math.Abs(a.DTheta), math.Abs(b.DTheta); !areEqual(ra, rb) {
		return ra < rb
	}
	return a.Magnitude() < b.Magnitude()
}
