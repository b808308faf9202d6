package kinematics

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/nar3128/swervepose/spatialmath"
	"github.com/nar3128/swervepose/utils"
)

// DesaturateWheelSpeeds scales every module speed by the same factor so that none exceeds
// maxSpeed. Speeds are never clamped individually since that would change the chassis path.
// maxSpeed must not be negative.
func DesaturateWheelSpeeds(states []ModuleState, maxSpeed float64) []ModuleState {
	if maxSpeed < 0 {
		panic(errors.Errorf("max module speed must not be negative, got %v", maxSpeed))
	}
	out := append([]ModuleState(nil), states...)
	realMax := 0.0
	for _, s := range out {
		realMax = math.Max(realMax, math.Abs(s.Speed))
	}
	if realMax <= maxSpeed || realMax == 0 {
		return out
	}
	scale := maxSpeed / realMax
	for i := range out {
		out[i].Speed *= scale
	}
	return out
}

// Optimize picks the equivalent target closest to currentAngle: when the steering change would
// exceed 90 degrees the module is pointed the other way and driven in reverse.
func Optimize(desired ModuleState, currentAngle float64) ModuleState {
	if math.Abs(utils.AngleDiff(currentAngle, desired.Angle)) > math.Pi/2 {
		return ModuleState{
			Speed: -desired.Speed,
			Angle: utils.AngleModulus(desired.Angle + math.Pi),
		}
	}
	return ModuleState{Speed: desired.Speed, Angle: utils.AngleModulus(desired.Angle)}
}

// Discretize corrects a twist for being held constant over a period of dt seconds. The returned
// twist, applied along an arc for dt, lands on the pose the original twist describes when its
// translation and rotation are applied independently. dt must be positive.
func Discretize(twist spatialmath.Twist2D, dt float64) spatialmath.Twist2D {
	if dt <= 0 {
		panic(errors.Errorf("discretization period must be positive, got %v", dt))
	}
	desired := spatialmath.NewPose2D(twist.VX*dt, twist.VY*dt, twist.Omega*dt)
	return spatialmath.Pose2D{}.Log(desired).Scale(1 / dt)
}

// FromFieldRelative converts a field-relative twist to the robot frame given the robot heading.
func FromFieldRelative(twist spatialmath.Twist2D, robotHeading float64) spatialmath.Twist2D {
	v := spatialmath.Rotate(r2.Point{X: twist.VX, Y: twist.VY}, -robotHeading)
	return spatialmath.Twist2D{VX: v.X, VY: v.Y, Omega: twist.Omega}
}

// FromRobotRelative converts a robot-relative twist to the field frame given the robot heading.
func FromRobotRelative(twist spatialmath.Twist2D, robotHeading float64) spatialmath.Twist2D {
	v := spatialmath.Rotate(r2.Point{X: twist.VX, Y: twist.VY}, robotHeading)
	return spatialmath.Twist2D{VX: v.X, VY: v.Y, Omega: twist.Omega}
}
