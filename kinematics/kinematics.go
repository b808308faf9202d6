// Package kinematics converts between chassis twists and the states of independently steered and
// driven wheel modules.
package kinematics

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nar3128/swervepose/spatialmath"
	"github.com/nar3128/swervepose/utils"
)

// ModuleState is the speed and steering angle of one module.
type ModuleState struct {
	Speed float64
	Angle float64
}

// ModulePosition is the accumulated drive distance and current steering angle of one module.
type ModulePosition struct {
	Distance float64
	Angle    float64
}

// Kinematics holds the fixed lever arm of every module relative to the chassis center.
type Kinematics struct {
	locations []r2.Point
	forward   *mat.Dense
	qr        mat.QR
}

// New builds the kinematics for modules at the given chassis-frame locations.
func New(locations ...r2.Point) (*Kinematics, error) {
	if len(locations) < 2 {
		return nil, errors.Errorf("need at least 2 modules, got %d", len(locations))
	}
	for i := range locations {
		for j := i + 1; j < len(locations); j++ {
			if locations[i] == locations[j] {
				return nil, errors.Errorf("modules %d and %d share location %v", i, j, locations[i])
			}
		}
	}

	// v_i = [1 0 -y_i; 0 1 x_i] * [vx vy omega]
	forward := mat.NewDense(2*len(locations), 3, nil)
	for i, loc := range locations {
		forward.SetRow(2*i, []float64{1, 0, -loc.Y})
		forward.SetRow(2*i+1, []float64{0, 1, loc.X})
	}

	k := &Kinematics{
		locations: append([]r2.Point(nil), locations...),
		forward:   forward,
	}
	k.qr.Factorize(forward)
	return k, nil
}

// NumModules is the number of modules.
func (k *Kinematics) NumModules() int {
	return len(k.locations)
}

// Locations returns a copy of the module locations.
func (k *Kinematics) Locations() []r2.Point {
	return append([]r2.Point(nil), k.locations...)
}

// ToModuleStates solves for the speed and angle each module needs so the chassis moves with the
// given robot-relative twist. previous supplies the angles kept by modules that do not need to
// move; it may be nil, in which case those angles are zero.
func (k *Kinematics) ToModuleStates(twist spatialmath.Twist2D, previous []ModuleState) ([]ModuleState, error) {
	if previous != nil && len(previous) != len(k.locations) {
		return nil, utils.NewLengthMismatchError("previous module states", len(k.locations), len(previous))
	}
	states := make([]ModuleState, len(k.locations))
	for i, loc := range k.locations {
		if previous != nil {
			states[i].Angle = previous[i].Angle
		}
		if twist.IsZero() {
			continue
		}
		vx := twist.VX - twist.Omega*loc.Y
		vy := twist.VY + twist.Omega*loc.X
		speed := math.Hypot(vx, vy)
		if speed == 0 {
			continue
		}
		states[i] = ModuleState{Speed: speed, Angle: math.Atan2(vy, vx)}
	}
	return states, nil
}

// ToChassisSpeeds returns the least squares robot-relative twist that best explains the given
// module states.
func (k *Kinematics) ToChassisSpeeds(states []ModuleState) (spatialmath.Twist2D, error) {
	if len(states) != len(k.locations) {
		return spatialmath.Twist2D{}, utils.NewLengthMismatchError("module states", len(k.locations), len(states))
	}
	b := mat.NewVecDense(2*len(states), nil)
	for i, s := range states {
		sin, cos := math.Sincos(s.Angle)
		b.SetVec(2*i, s.Speed*cos)
		b.SetVec(2*i+1, s.Speed*sin)
	}
	return k.solve(b)
}

// ToTwist returns the least squares robot-relative displacement that best explains the given
// per-module distance deltas, as produced by Deltas.
func (k *Kinematics) ToTwist(deltas []ModulePosition) (spatialmath.Twist2D, error) {
	if len(deltas) != len(k.locations) {
		return spatialmath.Twist2D{}, utils.NewLengthMismatchError("module deltas", len(k.locations), len(deltas))
	}
	b := mat.NewVecDense(2*len(deltas), nil)
	for i, d := range deltas {
		sin, cos := math.Sincos(d.Angle)
		b.SetVec(2*i, d.Distance*cos)
		b.SetVec(2*i+1, d.Distance*sin)
	}
	return k.solve(b)
}

func (k *Kinematics) solve(b *mat.VecDense) (spatialmath.Twist2D, error) {
	var x mat.VecDense
	if err := k.qr.SolveVecTo(&x, false, b); err != nil {
		return spatialmath.Twist2D{}, errors.Wrap(err, "solving module least squares")
	}
	return spatialmath.Twist2D{VX: x.AtVec(0), VY: x.AtVec(1), Omega: x.AtVec(2)}, nil
}

// Deltas returns the distance each module traveled between two readings, paired with its current angle.
func Deltas(previous, current []ModulePosition) ([]ModulePosition, error) {
	if len(previous) != len(current) {
		return nil, utils.NewLengthMismatchError("module positions", len(previous), len(current))
	}
	deltas := make([]ModulePosition, len(current))
	for i := range current {
		deltas[i] = ModulePosition{Distance: current[i].Distance - previous[i].Distance, Angle: current[i].Angle}
	}
	return deltas, nil
}
