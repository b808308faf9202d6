package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"

	"github.com/nar3128/swervepose/utils"
)

// Pose2D is a position and heading on the field plane. Theta is in radians, always wrapped to (-pi, pi].
type Pose2D struct {
	X     float64
	Y     float64
	Theta float64
}

// NewPose2D returns a pose with its heading normalized.
func NewPose2D(x, y, theta float64) Pose2D {
	return Pose2D{X: x, Y: y, Theta: NormalizeAngle(theta)}
}

// NormalizeAngle wraps an angle in radians to (-pi, pi].
func NormalizeAngle(theta float64) float64 {
	return utils.AngleModulus(theta)
}

// Translation returns the position of the pose.
func (p Pose2D) Translation() r2.Point {
	return r2.Point{X: p.X, Y: p.Y}
}

// WithTranslation returns a copy of p with its position replaced.
func (p Pose2D) WithTranslation(pt r2.Point) Pose2D {
	return Pose2D{X: pt.X, Y: pt.Y, Theta: p.Theta}
}

// WithTheta returns a copy of p with its heading replaced.
func (p Pose2D) WithTheta(theta float64) Pose2D {
	return Pose2D{X: p.X, Y: p.Y, Theta: NormalizeAngle(theta)}
}

// DistanceTo is the euclidean distance between the positions of two poses. Headings are ignored.
func (p Pose2D) DistanceTo(other Pose2D) float64 {
	return p.Translation().Sub(other.Translation()).Norm()
}

// Rotate rotates a vector counter-clockwise by theta radians.
func Rotate(v r2.Point, theta float64) r2.Point {
	s, c := math.Sincos(theta)
	return r2.Point{X: v.X*c - v.Y*s, Y: v.X*s + v.Y*c}
}

// TransformBy applies a robot-frame offset (dx, dy, dtheta) to the pose.
func (p Pose2D) TransformBy(offset Pose2D) Pose2D {
	t := p.Translation().Add(Rotate(offset.Translation(), p.Theta))
	return NewPose2D(t.X, t.Y, p.Theta+offset.Theta)
}

// RelativeTo expresses p in the frame of origin.
func (p Pose2D) RelativeTo(origin Pose2D) Pose2D {
	t := Rotate(p.Translation().Sub(origin.Translation()), -origin.Theta)
	return NewPose2D(t.X, t.Y, p.Theta-origin.Theta)
}

// Exp integrates a robot-frame twist along a constant-curvature arc starting at p.
func (p Pose2D) Exp(twist Twist2D) Pose2D {
	dx, dy, dtheta := twist.VX, twist.VY, twist.Omega
	sinTheta, cosTheta := math.Sincos(dtheta)

	var s, c float64
	if math.Abs(dtheta) < 1e-9 {
		s = 1.0 - dtheta*dtheta/6.0
		c = 0.5 * dtheta
	} else {
		s = sinTheta / dtheta
		c = (1 - cosTheta) / dtheta
	}
	return p.TransformBy(Pose2D{X: dx*s - dy*c, Y: dx*c + dy*s, Theta: dtheta})
}

// Log returns the twist that Exp would need to move from p to end.
func (p Pose2D) Log(end Pose2D) Twist2D {
	transform := end.RelativeTo(p)
	dtheta := transform.Theta
	halfDtheta := dtheta / 2.0
	cosMinusOne := math.Cos(dtheta) - 1

	var halfThetaByTanOfHalfDtheta float64
	if math.Abs(cosMinusOne) < 1e-9 {
		halfThetaByTanOfHalfDtheta = 1.0 - dtheta*dtheta/12.0
	} else {
		halfThetaByTanOfHalfDtheta = -(halfDtheta * math.Sin(dtheta)) / cosMinusOne
	}

	// multiply by the complex number (halfThetaByTanOfHalfDtheta - i*halfDtheta)
	tx, ty := transform.X, transform.Y
	return Twist2D{
		VX:    tx*halfThetaByTanOfHalfDtheta + ty*halfDtheta,
		VY:    ty*halfThetaByTanOfHalfDtheta - tx*halfDtheta,
		Omega: dtheta,
	}
}

// Interpolate moves a fraction t in [0, 1] of the way from p to end along the connecting arc.
func (p Pose2D) Interpolate(end Pose2D, t float64) Pose2D {
	switch {
	case t <= 0:
		return p
	case t >= 1:
		return end
	}
	return p.Exp(p.Log(end).Scale(t))
}

// AlmostEqual compares positions and headings within epsilon.
func (p Pose2D) AlmostEqual(other Pose2D, epsilon float64) bool {
	return utils.Float64AlmostEqual(p.X, other.X, epsilon) &&
		utils.Float64AlmostEqual(p.Y, other.Y, epsilon) &&
		math.Abs(utils.AngleDiff(p.Theta, other.Theta)) <= epsilon
}

func (p Pose2D) String() string {
	return fmt.Sprintf("Pose2D(X: %.3f, Y: %.3f, Theta: %.2f°)", p.X, p.Y, utils.RadToDeg(p.Theta))
}
