package spatialmath

import (
	"fmt"
	"math"
)

// Twist2D is an instantaneous planar velocity, or a displacement when integrated over one cycle.
// Whether it is field or robot relative is decided by the caller, not the type.
type Twist2D struct {
	VX    float64
	VY    float64
	Omega float64
}

// Scale multiplies every component by k.
func (t Twist2D) Scale(k float64) Twist2D {
	return Twist2D{VX: t.VX * k, VY: t.VY * k, Omega: t.Omega * k}
}

// IsZero reports whether all components are exactly zero.
func (t Twist2D) IsZero() bool {
	return t.VX == 0 && t.VY == 0 && t.Omega == 0
}

// LinearSpeed is the magnitude of the translational part.
func (t Twist2D) LinearSpeed() float64 {
	return math.Hypot(t.VX, t.VY)
}

func (t Twist2D) String() string {
	return fmt.Sprintf("Twist2D(VX: %.3f, VY: %.3f, Omega: %.3f)", t.VX, t.VY, t.Omega)
}
