// Package spatialmath defines the planar and spatial types used by the pose estimator: 2D poses and
// twists for the drivetrain, and 3D rigid transforms for marker and camera geometry.
package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a 3D rigid transform stored as a unit dual quaternion. The real part is the rotation and
// the dual part is half the translation multiplied by the rotation.
type Pose struct {
	dq dualquat.Number
}

// NewZeroPose returns the identity transform.
func NewZeroPose() Pose {
	return Pose{dualquat.Number{Real: quat.Number{Real: 1}}}
}

// NewPose builds a pose from a translation and a rotation quaternion. The quaternion is normalized;
// a zero quaternion is treated as the identity rotation.
func NewPose(pt r3.Vector, q quat.Number) Pose {
	if n := quat.Abs(q); n == 0 {
		q = quat.Number{Real: 1}
	} else if n != 1 {
		q = quat.Scale(1/n, q)
	}
	t := quat.Number{Imag: pt.X, Jmag: pt.Y, Kmag: pt.Z}
	return Pose{dualquat.Number{
		Real: q,
		Dual: quat.Scale(0.5, quat.Mul(t, q)),
	}}
}

// NewPoseFromPoint returns a pure translation.
func NewPoseFromPoint(pt r3.Vector) Pose {
	return NewPose(pt, quat.Number{Real: 1})
}

// NewPoseFromRPY builds a pose from a translation and extrinsic roll (x), pitch (y) and yaw (z) in radians.
func NewPoseFromRPY(pt r3.Vector, roll, pitch, yaw float64) Pose {
	return NewPose(pt, RPYToQuat(roll, pitch, yaw))
}

// Point returns the translation of the pose.
func (p Pose) Point() r3.Vector {
	t := quat.Scale(2, quat.Mul(p.dq.Dual, quat.Conj(p.dq.Real)))
	return r3.Vector{X: t.Imag, Y: t.Jmag, Z: t.Kmag}
}

// Quaternion returns the rotation of the pose.
func (p Pose) Quaternion() quat.Number {
	return p.dq.Real
}

// RPY returns the extrinsic roll, pitch and yaw of the pose rotation.
func (p Pose) RPY() (roll, pitch, yaw float64) {
	return QuatToRPY(p.dq.Real)
}

// Compose returns the transform that applies b in the frame of a.
func Compose(a, b Pose) Pose {
	return Pose{dualquat.Mul(a.dq, b.dq)}
}

// Invert returns the inverse transform, so that Compose(p, p.Invert()) is the identity.
func (p Pose) Invert() Pose {
	qInv := quat.Conj(p.dq.Real)
	pt := p.Point()
	rotated := quat.Mul(quat.Mul(qInv, quat.Number{Imag: pt.X, Jmag: pt.Y, Kmag: pt.Z}), p.dq.Real)
	return NewPose(r3.Vector{X: -rotated.Imag, Y: -rotated.Jmag, Z: -rotated.Kmag}, qInv)
}

// ToPose2D projects the pose onto the ground plane, dropping elevation, roll and pitch.
func (p Pose) ToPose2D() Pose2D {
	pt := p.Point()
	_, _, yaw := p.RPY()
	return NewPose2D(pt.X, pt.Y, yaw)
}

// PoseAlmostEqual compares translations within epsilon and rotations within epsilon, treating q and
// -q as the same rotation.
func PoseAlmostEqual(a, b Pose, epsilon float64) bool {
	if a.Point().Sub(b.Point()).Norm() > epsilon {
		return false
	}
	qa, qb := a.dq.Real, b.dq.Real
	dot := qa.Real*qb.Real + qa.Imag*qb.Imag + qa.Jmag*qb.Jmag + qa.Kmag*qb.Kmag
	if dot < 0 {
		dot = -dot
	}
	return 1-dot <= epsilon
}

func (p Pose) String() string {
	roll, pitch, yaw := p.RPY()
	pt := p.Point()
	return fmt.Sprintf("Pose(X: %.3f, Y: %.3f, Z: %.3f, R: %.3f, P: %.3f, Y: %.3f)", pt.X, pt.Y, pt.Z, roll, pitch, yaw)
}
