package scanmatch

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Default search window and target accuracy
const (
	DefaultMaxTranslationError = 1.0  // meters
	DefaultMaxRotationErrorDeg = 5.0  // degrees
	DefaultAngleStepDeg        = 0.1  // degrees
	DefaultTranslationStep     = 0.05 // meters
)

// MaxSearchSteps caps how many steps fit across one axis of the search
// window: rotation steps across the rotation window, translation steps
// across each translation window.
const MaxSearchSteps = 1 << 14

// Matcher strategies selectable from configuration
const (
	StrategyBranchAndBound = "branch-and-bound"
	StrategyExhaustive     = "exhaustive"
)

// ScanMatcher finds the pose correction that best aligns a scan with a map
type ScanMatcher interface {
	MatchScan(scan []Point, prior RobotPose, grid *GridMap) (MatchResult, error)
}

// MatchResult is the outcome of one match request
type MatchResult struct {
	Correction PoseDelta   `json:"correction"`
	Pose       RobotPose   `json:"pose"`  // prior + correction
	Score      float64     `json:"score"` // exact score at Pose on the full-resolution map
	Stats      SearchStats `json:"stats"`
}

// SearchStats describes the work done by one match
type SearchStats struct {
	Rotations    int           `json:"rotations"`
	Expansions   int           `json:"expansions"`
	Evaluations  int           `json:"evaluations"`
	PeakFrontier int           `json:"peakFrontier"`
	Duration     time.Duration `json:"duration"`
}

// SearchBounds is the search window around the prior pose and the
// resolution the search stops at.
type SearchBounds struct {
	MaxTranslationErrorX float64 // meters, half-extent
	MaxTranslationErrorY float64 // meters, half-extent
	MaxRotationError     float64 // radians, half-extent
	AngleStep            float64 // radians
	TranslationStep      float64 // meters
}

// DefaultSearchBounds returns a 1 m / 5° window at 0.1° / 5 cm accuracy
func DefaultSearchBounds() SearchBounds {
	return SearchBounds{
		MaxTranslationErrorX: DefaultMaxTranslationError,
		MaxTranslationErrorY: DefaultMaxTranslationError,
		MaxRotationError:     DegToRad(DefaultMaxRotationErrorDeg),
		AngleStep:            DegToRad(DefaultAngleStepDeg),
		TranslationStep:      DefaultTranslationStep,
	}
}

// Validate rejects bounds the search cannot run with
func (b SearchBounds) Validate() error {
	window := []struct {
		name  string
		value float64
	}{
		{"maxTranslationErrorX", b.MaxTranslationErrorX},
		{"maxTranslationErrorY", b.MaxTranslationErrorY},
		{"maxRotationError", b.MaxRotationError},
	}
	for _, w := range window {
		if math.IsNaN(w.value) || math.IsInf(w.value, 0) || w.value < 0 {
			return fmt.Errorf("%w: %s must be finite and non-negative, got %v", ErrInvalidBounds, w.name, w.value)
		}
	}
	if err := validateStep("angleStep", b.AngleStep); err != nil {
		return err
	}
	if err := validateStep("translationStep", b.TranslationStep); err != nil {
		return err
	}

	spans := []struct {
		window, step string
		half, size   float64
	}{
		{"maxRotationError", "angleStep", b.MaxRotationError, b.AngleStep},
		{"maxTranslationErrorX", "translationStep", b.MaxTranslationErrorX, b.TranslationStep},
		{"maxTranslationErrorY", "translationStep", b.MaxTranslationErrorY, b.TranslationStep},
	}
	for _, sp := range spans {
		if n := 2 * sp.half / sp.size; n > MaxSearchSteps {
			return fmt.Errorf("%w: %s spans %.3g steps of %s, at most %d allowed",
				ErrInvalidBounds, sp.window, n, sp.step, MaxSearchSteps)
		}
	}
	return nil
}

func validateStep(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("%w: %s must be finite and positive, got %v", ErrInvalidBounds, name, v)
	}
	return nil
}

// rotations lists the rotation offsets to seed: -max, -max+step, ... up to
// +max. Offsets are computed from their index so the upper end does not
// drift, and a final offset within tolerance of +max is snapped to it.
func (b SearchBounds) rotations() []float64 {
	n := int(math.Floor(2*b.MaxRotationError/b.AngleStep + searchTolerance))
	out := make([]float64, 0, n+1)
	for i := 0; i <= n; i++ {
		out = append(out, -b.MaxRotationError+float64(i)*b.AngleStep)
	}
	if last := len(out) - 1; areEqual(out[last], b.MaxRotationError) {
		out[last] = b.MaxRotationError
	}
	return out
}

// Expansion describes a hypothesis as it is taken off the frontier
type Expansion struct {
	Bound    float64
	Rotation float64
	Region   Rectangle
	Resolved bool
}

// MatcherOption configures a BranchAndBoundMatcher
type MatcherOption func(*BranchAndBoundMatcher)

// WithApproximator sets the map approximator used for large regions
func WithApproximator(apx MapApproximator) MatcherOption {
	return func(m *BranchAndBoundMatcher) {
		m.approximator = apx
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) MatcherOption {
	return func(m *BranchAndBoundMatcher) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithExpansionHook registers a callback invoked for every hypothesis taken
// off the frontier, in order.
func WithExpansionHook(hook func(Expansion)) MatcherOption {
	return func(m *BranchAndBoundMatcher) {
		m.onExpand = hook
	}
}

// BranchAndBoundMatcher finds the globally best correction inside the search
// window by best-first refinement of translation regions, one rotation step
// at a time. It only holds configuration: every call works on its own
// frontier. It is still not meant to be reconfigured while a match runs.
type BranchAndBoundMatcher struct {
	estimator    ScanProbabilityEstimator
	bounds       SearchBounds
	approximator MapApproximator // nil: always match against the full-resolution map
	logger       *zap.Logger
	onExpand     func(Expansion)
}

var _ ScanMatcher = (*BranchAndBoundMatcher)(nil)

// NewBranchAndBoundMatcher creates a matcher. Bounds are validated here so a
// malformed configuration never reaches the search.
func NewBranchAndBoundMatcher(est ScanProbabilityEstimator, bounds SearchBounds, opts ...MatcherOption) (*BranchAndBoundMatcher, error) {
	if est == nil {
		return nil, fmt.Errorf("scan matcher: estimator is nil")
	}
	if err := bounds.Validate(); err != nil {
		return nil, fmt.Errorf("scan matcher: %w", err)
	}
	m := &BranchAndBoundMatcher{
		estimator: est,
		bounds:    bounds,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Bounds returns the configured search bounds
func (m *BranchAndBoundMatcher) Bounds() SearchBounds { return m.bounds }

// SetMapApproximator replaces the map approximator; nil disables coarsening
func (m *BranchAndBoundMatcher) SetMapApproximator(apx MapApproximator) {
	m.approximator = apx
}

// SetTargetAccuracy changes the resolution the search stops at
func (m *BranchAndBoundMatcher) SetTargetAccuracy(angleStep, translationStep float64) error {
	b := m.bounds
	b.AngleStep = angleStep
	b.TranslationStep = translationStep
	if err := b.Validate(); err != nil {
		return err
	}
	m.bounds = b
	return nil
}

// MatchScan returns the correction of prior that best aligns scan (points
// in the sensor frame) with grid, and its exact score.
//
// A collaborator breaking its contract makes MatchScan panic with an
// *InvariantViolation.
func (m *BranchAndBoundMatcher) MatchScan(scan []Point, prior RobotPose, grid *GridMap) (MatchResult, error) {
	if grid == nil {
		return MatchResult{}, ErrNilMap
	}

	start := time.Now()
	var f frontier
	result := m.match(matchRequest{scan: scan, pose: prior, grid: grid}, &f)
	result.Stats.Duration = time.Since(start)

	m.logger.Debug("scan matched",
		zap.Stringer("prior", prior),
		zap.Stringer("correction", result.Correction),
		zap.Float64("score", result.Score),
		zap.Int("rotations", result.Stats.Rotations),
		zap.Int("expansions", result.Stats.Expansions),
		zap.Int("evaluations", result.Stats.Evaluations),
		zap.Duration("duration", result.Stats.Duration),
	)
	return result, nil
}

// match runs one request on f and leaves f empty
func (m *BranchAndBoundMatcher) match(req matchRequest, f *frontier) MatchResult {
	defer f.reset()

	var stats SearchStats
	m.seedFrontier(req, f, &stats)
	best := m.findBestPoseDelta(req, f, &stats)

	center := best.region.Center()
	correction := PoseDelta{DX: center.X, DY: center.Y, DTheta: best.rotation}
	pose := req.pose.Add(correction)

	// Rescore on the fine map: the winner may carry a bound from a coarse level.
	score := m.estimator.ScanProbability(req.scan, pose, req.grid)
	stats.Evaluations++

	return MatchResult{Correction: correction, Pose: pose, Score: score, Stats: stats}
}

// NewMatcher builds the matcher selected by cfg. Defaults must already be
// applied to cfg (LoadConfig does this).
func NewMatcher(cfg MatcherConfig, logger *zap.Logger) (ScanMatcher, error) {
	bounds := cfg.SearchBounds()
	est := NewOccupancyEstimator()

	switch cfg.Strategy {
	case "", StrategyBranchAndBound:
		var apx MapApproximator
		if cfg.Coarsening == CoarseningPyramid {
			apx = NewPyramidApproximator(cfg.PyramidLevels)
		}
		return NewBranchAndBoundMatcher(est, bounds, WithApproximator(apx), WithLogger(logger))
	case StrategyExhaustive:
		return NewExhaustiveMatcher(est, bounds, logger)
	default:
		return nil, fmt.Errorf("unknown matcher strategy %q", cfg.Strategy)
	}
}
