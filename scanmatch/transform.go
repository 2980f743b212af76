package scanmatch

import "math"

// Rigid is a planar rotation about the origin followed by a translation. The
// rotation is kept as its cosine and sine so applying it to a whole scan
// costs no trigonometry.
type Rigid struct {
	Cos, Sin float64
	Tx, Ty   float64
}

// NewRigid returns the transform rotating by theta radians, then moving by
// (tx, ty)
func NewRigid(theta, tx, ty float64) Rigid {
	return Rigid{Cos: math.Cos(theta), Sin: math.Sin(theta), Tx: tx, Ty: ty}
}

// Apply transforms one point
func (r Rigid) Apply(p Point) Point {
	return Point{
		X: r.Cos*p.X - r.Sin*p.Y + r.Tx,
		Y: r.Sin*p.X + r.Cos*p.Y + r.Ty,
	}
}

// ApplyAll transforms points into a new slice
func (r Rigid) ApplyAll(points []Point) []Point {
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = r.Apply(p)
	}
	return out
}

// DegToRad converts degrees to radians
func DegToRad(deg float64) float64 { return deg * math.Pi / 180 }

// RadToDeg converts radians to degrees
func RadToDeg(rad float64) float64 { return rad * 180 / math.Pi }

// NormalizeAngle wraps an angle to (-pi, pi]
func NormalizeAngle(rad float64) float64 {
	rad = math.Mod(rad, 2*math.Pi)
	switch {
	case rad <= -math.Pi:
		rad += 2 * math.Pi
	case rad > math.Pi:
		rad -= 2 * math.Pi
	}
	return rad
}
