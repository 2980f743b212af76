package scanmatch

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBounds is returned for malformed search bounds or step sizes
	ErrInvalidBounds = errors.New("invalid search bounds")

	// ErrNilMap is returned when a match is requested without a map
	ErrNilMap = errors.New("map is nil")

	// ErrUnknownRobot is returned for requests naming a robot that is not configured
	ErrUnknownRobot = errors.New("unknown robot")

	// ErrNoMap is returned when a robot has not delivered a map yet
	ErrNoMap = errors.New("no map received for robot")

	// ErrInvalidScan is returned for scan payloads that cannot be used
	ErrInvalidScan = errors.New("invalid scan")
)

// InvariantViolation is the panic value raised when the search detects a
// broken contract of its collaborators: an estimator whose refined bound
// exceeds the parent bound, or a frontier that runs dry. It is never
// recovered inside this package.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string {
	return "scanmatch: invariant violated: " + e.Reason
}

func violate(format string, args ...any) {
	panic(&InvariantViolation{Reason: fmt.Sprintf(format, args...)})
}
