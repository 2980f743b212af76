package scanmatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// PosePublisher receives every corrected pose the localizer produces
type PosePublisher interface {
	PublishPose(pose LivePose) error
}

// session is the per-robot localization state. The mutex serializes matches
// and map updates of one robot; different robots run in parallel.
type session struct {
	mu      sync.Mutex
	matcher ScanMatcher
	vmap    *ValetudoMap
	grid    *GridMap
	last    *MatchResult
}

// match runs the matcher under the session lock. The lock is released even
// when the matcher panics with an *InvariantViolation.
func (s *session) match(ctx context.Context, points []Point, prior RobotPose) (MatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.grid == nil {
		return MatchResult{}, ErrNoMap
	}
	if err := ctx.Err(); err != nil {
		return MatchResult{}, err
	}
	result, err := s.matcher.MatchScan(points, prior, s.grid)
	if err != nil {
		return MatchResult{}, err
	}
	s.last = &result
	return result, nil
}

// Localizer corrects robot poses by matching their scans against the
// robot's latest map
type Localizer struct {
	cfg       MatcherConfig
	sessions  map[string]*session
	state     *StateTracker
	publisher PosePublisher
	logger    *zap.Logger
}

// NewLocalizer creates a localizer with one session per configured robot.
// state and publisher may be nil.
func NewLocalizer(cfg *Config, state *StateTracker, publisher PosePublisher, logger *zap.Logger) (*Localizer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("localizer: config is nil")
	}
	logger = orNop(logger)

	l := &Localizer{
		cfg:       cfg.Matcher,
		sessions:  make(map[string]*session, len(cfg.Robots)),
		state:     state,
		publisher: publisher,
		logger:    logger,
	}
	for _, rc := range cfg.Robots {
		m, err := NewMatcher(cfg.Matcher, logger.With(zap.String("robot", rc.ID)))
		if err != nil {
			return nil, fmt.Errorf("localizer: robot %s: %w", rc.ID, err)
		}
		l.sessions[rc.ID] = &session{matcher: m}
		if state != nil && rc.Color != "" {
			state.SetColor(rc.ID, rc.Color)
		}
	}
	return l, nil
}

// Robots returns the configured robot IDs in sorted order
func (l *Localizer) Robots() []string {
	ids := make([]string, 0, len(l.sessions))
	for id := range l.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UpdateMap replaces the map a robot is localized against
func (l *Localizer) UpdateMap(robotID string, vm *ValetudoMap) error {
	s, ok := l.sessions[robotID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRobot, robotID)
	}

	grid, err := GridFromValetudo(vm, GridOptions{LikelihoodRadius: l.cfg.LikelihoodRadius})
	if err != nil {
		MapUpdatesTotal.WithLabelValues(robotID, "error").Inc()
		return fmt.Errorf("map for %s: %w", robotID, err)
	}

	s.mu.Lock()
	s.vmap = vm
	s.grid = grid
	s.mu.Unlock()

	MapUpdatesTotal.WithLabelValues(robotID, "ok").Inc()
	l.logger.Info("map updated",
		zap.String("robot", robotID),
		zap.Int("width", grid.Width),
		zap.Int("height", grid.Height),
		zap.Float64("resolution", grid.Resolution),
	)
	return nil
}

// Map returns the grid and source map a robot is localized against
func (l *Localizer) Map(robotID string) (*GridMap, *ValetudoMap, error) {
	s, ok := l.sessions[robotID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownRobot, robotID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grid == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoMap, robotID)
	}
	return s.grid, s.vmap, nil
}

// LastResult returns the most recent match of a robot
func (l *Localizer) LastResult(robotID string) (MatchResult, bool) {
	s, ok := l.sessions[robotID]
	if !ok {
		return MatchResult{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return MatchResult{}, false
	}
	return *s.last, true
}

// Match corrects the pose in req against the robot's map. The corrected pose
// is recorded in the state tracker and handed to the publisher; publish
// failures are logged, not returned.
func (l *Localizer) Match(ctx context.Context, req ScanRequest) (MatchResult, error) {
	if err := ctx.Err(); err != nil {
		return MatchResult{}, err
	}
	s, ok := l.sessions[req.RobotID]
	if !ok {
		return MatchResult{}, fmt.Errorf("%w: %s", ErrUnknownRobot, req.RobotID)
	}
	if err := req.Validate(); err != nil {
		MatchesTotal.WithLabelValues(req.RobotID, "invalid").Inc()
		return MatchResult{}, err
	}

	points := req.Scan.Points()

	result, err := s.match(ctx, points, req.Pose)
	switch {
	case errors.Is(err, ErrNoMap):
		MatchesTotal.WithLabelValues(req.RobotID, "no_map").Inc()
		return MatchResult{}, fmt.Errorf("%w: %s", ErrNoMap, req.RobotID)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return MatchResult{}, err
	case err != nil:
		MatchesTotal.WithLabelValues(req.RobotID, "error").Inc()
		return MatchResult{}, fmt.Errorf("matching %s: %w", req.RobotID, err)
	}

	observeMatch(req.RobotID, result)
	l.logger.Info("scan matched",
		zap.String("robot", req.RobotID),
		zap.Int("points", len(points)),
		zap.Stringer("correction", result.Correction),
		zap.Float64("score", result.Score),
		zap.Int("expansions", result.Stats.Expansions),
		zap.Duration("duration", result.Stats.Duration),
	)

	if l.state != nil {
		l.state.Record(req.RobotID, req.Pose, points, result)
	}
	if l.publisher != nil {
		live := LivePose{
			RobotID:    req.RobotID,
			X:          result.Pose.X,
			Y:          result.Pose.Y,
			Theta:      result.Pose.Theta,
			Prior:      req.Pose,
			Correction: result.Correction,
			Score:      result.Score,
		}
		if l.state != nil {
			if p, ok := l.state.GetPose(req.RobotID); ok {
				live = p
			}
		}
		if err := l.publisher.PublishPose(live); err != nil {
			l.logger.Warn("publishing pose failed", zap.String("robot", req.RobotID), zap.Error(err))
		}
	}
	return result, nil
}
