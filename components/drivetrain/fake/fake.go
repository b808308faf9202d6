// Package fake implements a simulated swerve drivetrain: module hardware, a gyro and the true
// robot pose they move.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nar3128/swervepose/components/drivetrain"
	"github.com/nar3128/swervepose/kinematics"
	"github.com/nar3128/swervepose/spatialmath"
	"github.com/nar3128/swervepose/utils"
)

var (
	_ drivetrain.ModuleHardware = (*Simulator)(nil)
	_ drivetrain.HeadingSource  = (*Simulator)(nil)
)

// Simulator is a drivetrain whose modules reach their targets instantly and never slip. It
// implements both ModuleHardware and HeadingSource.
type Simulator struct {
	kin *kinematics.Kinematics

	mu        sync.Mutex
	targets   []kinematics.ModuleState
	distances []float64
	truth     spatialmath.Pose2D
	// gyroOffset is the difference between the true heading and the reported heading.
	gyroOffset float64
	gyroDrift  float64
	brake      bool

	// SlipFactor scales the distance the modules report relative to what the chassis moved.
	SlipFactor float64
}

// NewSimulator returns a simulated drivetrain at the true pose start.
func NewSimulator(kin *kinematics.Kinematics, start spatialmath.Pose2D) *Simulator {
	return &Simulator{
		kin:        kin,
		targets:    make([]kinematics.ModuleState, kin.NumModules()),
		distances:  make([]float64, kin.NumModules()),
		truth:      start,
		gyroOffset: start.Theta,
		SlipFactor: 1,
	}
}

func (s *Simulator) checkIndex(index int) error {
	if index < 0 || index >= len(s.targets) {
		return errors.Errorf("no module %d", index)
	}
	return nil
}

// SetModuleTarget sets the module's speed and angle.
func (s *Simulator) SetModuleTarget(ctx context.Context, index int, target kinematics.ModuleState) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[index] = kinematics.ModuleState{Speed: target.Speed, Angle: utils.AngleModulus(target.Angle)}
	return nil
}

// ModulePosition returns the module's distance and angle.
func (s *Simulator) ModulePosition(ctx context.Context, index int) (kinematics.ModulePosition, error) {
	if err := s.checkIndex(index); err != nil {
		return kinematics.ModulePosition{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return kinematics.ModulePosition{Distance: s.distances[index], Angle: s.targets[index].Angle}, nil
}

// ModuleState returns the module's speed and angle.
func (s *Simulator) ModuleState(ctx context.Context, index int) (kinematics.ModuleState, error) {
	if err := s.checkIndex(index); err != nil {
		return kinematics.ModuleState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets[index], nil
}

// ResetModuleDistance sets the module's accumulated distance.
func (s *Simulator) ResetModuleDistance(ctx context.Context, index int, distance float64) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distances[index] = distance
	return nil
}

// SetBrakeMode records the brake mode.
func (s *Simulator) SetBrakeMode(ctx context.Context, brake bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brake = brake
	return nil
}

// Brake reports the last brake mode set.
func (s *Simulator) Brake() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.brake
}

// Heading returns the simulated gyro heading.
func (s *Simulator) Heading(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return utils.AngleModulus(s.truth.Theta - s.gyroOffset + s.gyroDrift), nil
}

// ResetHeading makes the gyro report heading for the current true heading.
func (s *Simulator) ResetHeading(ctx context.Context, heading float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gyroOffset = s.truth.Theta - heading
	s.gyroDrift = 0
	return nil
}

// Pose is the true robot pose.
func (s *Simulator) Pose() spatialmath.Pose2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.truth
}

// Teleport moves the true pose without the modules or gyro noticing, as when the robot is bumped
// or placed by hand.
func (s *Simulator) Teleport(pose spatialmath.Pose2D) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gyroOffset += pose.Theta - s.truth.Theta
	s.truth = pose
}

// Step advances the simulation by dt with the current module targets.
func (s *Simulator) Step(dt time.Duration) error {
	seconds := dt.Seconds()
	s.mu.Lock()
	defer s.mu.Unlock()

	twist, err := s.kin.ToChassisSpeeds(s.targets)
	if err != nil {
		return err
	}
	s.truth = s.truth.Exp(twist.Scale(seconds))
	for i, target := range s.targets {
		s.distances[i] += target.Speed * seconds * s.SlipFactor
	}
	return nil
}

// AddGyroDrift biases the reported heading by radians.
func (s *Simulator) AddGyroDrift(radians float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gyroDrift += radians
}
