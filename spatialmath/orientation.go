package spatialmath

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

func axisQuat(x, y, z, angle float64) quat.Number {
	s := math.Sin(angle / 2)
	return quat.Number{Real: math.Cos(angle / 2), Imag: x * s, Jmag: y * s, Kmag: z * s}
}

// RPYToQuat converts extrinsic roll (x), pitch (y), yaw (z) to a unit quaternion. The rotations are
// applied about the fixed axes in roll, pitch, yaw order.
func RPYToQuat(roll, pitch, yaw float64) quat.Number {
	return quat.Mul(axisQuat(0, 0, 1, yaw), quat.Mul(axisQuat(0, 1, 0, pitch), axisQuat(1, 0, 0, roll)))
}

// QuatToRPY converts a unit quaternion to extrinsic roll, pitch and yaw.
func QuatToRPY(q quat.Number) (roll, pitch, yaw float64) {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	sinp := 2 * (w*y - z*x)
	// clamp for floating point error at the poles
	pitch = math.Asin(math.Max(-1, math.Min(1, sinp)))
	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return roll, pitch, yaw
}

// RotateBy returns the rotation that applies q first and then by, both about fixed axes.
func RotateBy(q, by quat.Number) quat.Number {
	return quat.Mul(by, q)
}

// YawQuat returns a rotation about +z.
func YawQuat(yaw float64) quat.Number {
	return axisQuat(0, 0, 1, yaw)
}

// PitchQuat returns a rotation about +y.
func PitchQuat(pitch float64) quat.Number {
	return axisQuat(0, 1, 0, pitch)
}

// RollQuat returns a rotation about +x.
func RollQuat(roll float64) quat.Number {
	return axisQuat(1, 0, 0, roll)
}
