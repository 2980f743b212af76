package scanmatch

import "fmt"

// RobotPose is a robot pose in map coordinates (meters, radians)
type RobotPose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// PoseDelta is a rigid correction applied on top of a pose
type PoseDelta struct {
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
	DTheta float64 `json:"dtheta"`
}

// Add applies a correction to the pose. Components are added independently,
// the translation is not rotated into the robot frame.
func (p RobotPose) Add(d PoseDelta) RobotPose {
	return RobotPose{X: p.X + d.DX, Y: p.Y + d.DY, Theta: p.Theta + d.DTheta}
}

// Transform returns the sensor-to-map transform for this pose
func (p RobotPose) Transform() Rigid {
	return NewRigid(p.Theta, p.X, p.Y)
}

func (p RobotPose) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.2f°)", p.X, p.Y, RadToDeg(p.Theta))
}

// Translation returns the translational part of the correction
func (d PoseDelta) Translation() Point {
	return Point{X: d.DX, Y: d.DY}
}

// Magnitude returns the length of the translational part of the correction
func (d PoseDelta) Magnitude() float64 {
	return Distance(Point{}, d.Translation())
}

func (d PoseDelta) String() string {
	return fmt.Sprintf("(%+.3f, %+.3f, %+.2f°)", d.DX, d.DY, RadToDeg(d.DTheta))
}
