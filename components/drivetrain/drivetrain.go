// Package drivetrain implements a swerve drivetrain: independently steered and driven wheel
// modules, a heading source and the pose estimator fed by both.
package drivetrain

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/nar3128/swervepose/estimator"
	"github.com/nar3128/swervepose/kinematics"
	"github.com/nar3128/swervepose/logging"
	"github.com/nar3128/swervepose/spatialmath"
	rutils "github.com/nar3128/swervepose/utils"
)

// DefaultDiscretizeDt is the period, in seconds, commanded twists are discretized over.
const DefaultDiscretizeDt = 0.009

// ModuleHardware drives the wheel modules. Indexes match the kinematics module order and all
// units are meters, meters per second and radians.
type ModuleHardware interface {
	SetModuleTarget(ctx context.Context, index int, target kinematics.ModuleState) error
	ModulePosition(ctx context.Context, index int) (kinematics.ModulePosition, error)
	ModuleState(ctx context.Context, index int) (kinematics.ModuleState, error)
	ResetModuleDistance(ctx context.Context, index int, distance float64) error
	SetBrakeMode(ctx context.Context, brake bool) error
}

// HeadingSource is an absolute heading sensor such as a gyroscope. Headings are radians,
// counter-clockwise positive.
type HeadingSource interface {
	Heading(ctx context.Context) (float64, error)
	ResetHeading(ctx context.Context, heading float64) error
}

// Config is how you configure a swerve drivetrain.
type Config struct {
	Modules       []ModuleConfig `json:"modules"`
	MaxSpeed      float64        `json:"max_speed"`
	Throttle      float64        `json:"throttle,omitempty"`
	FieldRelative bool           `json:"field_relative"`
	Discretize    bool           `json:"discretize"`
	DiscretizeDt  float64        `json:"discretize_dt,omitempty"`
}

// ModuleConfig is the location of one module relative to the chassis center, x forward and y left.
type ModuleConfig struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if len(cfg.Modules) < 2 {
		return utils.NewConfigValidationFieldRequiredError(path, "modules")
	}
	if cfg.MaxSpeed <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "max_speed")
	}
	if cfg.Throttle < 0 || cfg.Throttle > 1 {
		return utils.NewConfigValidationError(path, fmt.Errorf("throttle must be in [0, 1], got %v", cfg.Throttle))
	}
	if cfg.DiscretizeDt < 0 {
		return utils.NewConfigValidationError(path, errors.New("discretize_dt must not be negative"))
	}
	return nil
}

// Kinematics builds the module kinematics described by the config.
func (cfg *Config) Kinematics() (*kinematics.Kinematics, error) {
	return kinematics.New(lo.Map(cfg.Modules, func(m ModuleConfig, _ int) r2.Point {
		return r2.Point{X: m.X, Y: m.Y}
	})...)
}

// Drivetrain is a swerve drivetrain.
type Drivetrain struct {
	kin    *kinematics.Kinematics
	hw     ModuleHardware
	gyro   HeadingSource
	est    *estimator.Estimator
	clk    clock.Clock
	logger logging.Logger

	maxSpeed     float64
	discretize   bool
	discretizeDt float64

	mu            sync.Mutex
	fieldRelative bool
	throttle      float64
}

// New reads the current sensors and returns a drivetrain whose pose belief starts at initial.
func New(
	ctx context.Context,
	cfg Config,
	estCfg estimator.Config,
	hw ModuleHardware,
	gyro HeadingSource,
	initial spatialmath.Pose2D,
	clk clock.Clock,
	logger logging.Logger,
) (*Drivetrain, error) {
	if err := cfg.Validate("drivetrain"); err != nil {
		return nil, err
	}
	if hw == nil || gyro == nil {
		return nil, errors.New("drivetrain requires module hardware and a heading source")
	}
	kin, err := cfg.Kinematics()
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}

	d := &Drivetrain{
		kin:           kin,
		hw:            hw,
		gyro:          gyro,
		clk:           clk,
		logger:        logger,
		maxSpeed:      cfg.MaxSpeed,
		discretize:    cfg.Discretize,
		discretizeDt:  cfg.DiscretizeDt,
		fieldRelative: cfg.FieldRelative,
		throttle:      cfg.Throttle,
	}
	if d.discretizeDt == 0 {
		d.discretizeDt = DefaultDiscretizeDt
	}
	if d.throttle == 0 {
		d.throttle = 1
	}

	heading, err := gyro.Heading(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading heading")
	}
	positions, err := d.ModulePositions(ctx)
	if err != nil {
		return nil, err
	}
	d.est, err = estimator.New(kin, estCfg, heading, positions, initial, logger.Sublogger("estimator"), estimator.WithClock(clk))
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Kinematics returns the module kinematics.
func (d *Drivetrain) Kinematics() *kinematics.Kinematics {
	return d.kin
}

// Estimator returns the pose estimator fed by Periodic.
func (d *Drivetrain) Estimator() *estimator.Estimator {
	return d.est
}

// NumModules is the number of modules.
func (d *Drivetrain) NumModules() int {
	return d.kin.NumModules()
}

// Drive commands a chassis velocity. It is interpreted in the field frame when field relative
// mode is on and in the robot frame otherwise.
func (d *Drivetrain) Drive(ctx context.Context, twist spatialmath.Twist2D) error {
	d.mu.Lock()
	fieldRelative, throttle := d.fieldRelative, d.throttle
	d.mu.Unlock()

	if fieldRelative {
		twist = kinematics.FromFieldRelative(twist, d.Pose().Theta)
	}
	return d.assign(ctx, twist, throttle)
}

// DriveRobotRelative commands a robot frame chassis velocity regardless of field relative mode.
func (d *Drivetrain) DriveRobotRelative(ctx context.Context, vx, vy, omega float64) error {
	d.mu.Lock()
	throttle := d.throttle
	d.mu.Unlock()
	return d.assign(ctx, spatialmath.Twist2D{VX: vx, VY: vy, Omega: omega}, throttle)
}

func (d *Drivetrain) assign(ctx context.Context, twist spatialmath.Twist2D, throttle float64) error {
	if d.discretize {
		twist = kinematics.Discretize(twist, d.discretizeDt)
	}
	twist = twist.Scale(throttle)
	if twist.IsZero() {
		// hold the current steering angles
		return d.Stop(ctx)
	}
	states, err := d.kin.ToModuleStates(twist, d.measuredAngles(ctx))
	if err != nil {
		return err
	}
	return d.SetModuleStates(ctx, states)
}

// measuredAngles returns each module's measured angle at zero speed, so that modules the twist
// does not move keep pointing where they are. Unreadable modules are reported by SetModuleStates.
func (d *Drivetrain) measuredAngles(ctx context.Context) []kinematics.ModuleState {
	previous := make([]kinematics.ModuleState, d.kin.NumModules())
	for i := range previous {
		if s, err := d.hw.ModuleState(ctx, i); err == nil {
			previous[i].Angle = s.Angle
		}
	}
	return previous
}

// SetModuleStates desaturates the targets, optimizes each against the module's measured angle
// and commands every module. A failing module does not stop the others.
func (d *Drivetrain) SetModuleStates(ctx context.Context, states []kinematics.ModuleState) error {
	if len(states) != d.kin.NumModules() {
		return rutils.NewLengthMismatchError("module states", d.kin.NumModules(), len(states))
	}
	states = kinematics.DesaturateWheelSpeeds(states, d.maxSpeed)

	var errs error
	for i, target := range states {
		current, err := d.hw.ModuleState(ctx, i)
		if err != nil {
			errs = multierr.Combine(errs, errors.Wrapf(err, "module %d", i))
			continue
		}
		if err := d.hw.SetModuleTarget(ctx, i, kinematics.Optimize(target, current.Angle)); err != nil {
			errs = multierr.Combine(errs, errors.Wrapf(err, "module %d", i))
		}
	}
	return errs
}

// Stop sets every module speed to zero, keeping its steering angle.
func (d *Drivetrain) Stop(ctx context.Context) error {
	var errs error
	for i := 0; i < d.kin.NumModules(); i++ {
		current, err := d.hw.ModuleState(ctx, i)
		if err != nil {
			errs = multierr.Combine(errs, errors.Wrapf(err, "module %d", i))
			continue
		}
		if err := d.hw.SetModuleTarget(ctx, i, kinematics.ModuleState{Angle: current.Angle}); err != nil {
			errs = multierr.Combine(errs, errors.Wrapf(err, "module %d", i))
		}
	}
	return errs
}

// SetBrakeMode sets whether stopped modules hold position.
func (d *Drivetrain) SetBrakeMode(ctx context.Context, brake bool) error {
	return d.hw.SetBrakeMode(ctx, brake)
}

// ToggleFieldRelative flips field relative mode and returns the new mode.
func (d *Drivetrain) ToggleFieldRelative() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fieldRelative = !d.fieldRelative
	return d.fieldRelative
}

// FieldRelative reports whether Drive takes field frame velocities.
func (d *Drivetrain) FieldRelative() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fieldRelative
}

// SetThrottle scales every subsequent commanded velocity.
func (d *Drivetrain) SetThrottle(throttle float64) error {
	if throttle < 0 || throttle > 1 {
		return errors.Errorf("throttle must be in [0, 1], got %v", throttle)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.throttle = throttle
	return nil
}

// Throttle is the current velocity scale.
func (d *Drivetrain) Throttle() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.throttle
}

// XLock points every module at the chassis center so the robot resists being pushed.
func (d *Drivetrain) XLock(ctx context.Context) error {
	return d.lock(ctx, 0)
}

// OLock points every module tangentially, as for spinning in place.
func (d *Drivetrain) OLock(ctx context.Context) error {
	return d.lock(ctx, math.Pi/2)
}

// ZeroLock points every module straight ahead.
func (d *Drivetrain) ZeroLock(ctx context.Context) error {
	var errs error
	for i := 0; i < d.kin.NumModules(); i++ {
		errs = multierr.Combine(errs, d.hw.SetModuleTarget(ctx, i, kinematics.ModuleState{}))
	}
	return errs
}

// lock sets each module to its radial angle plus offset with zero speed.
func (d *Drivetrain) lock(ctx context.Context, offset float64) error {
	var errs error
	for i, loc := range d.kin.Locations() {
		angle := rutils.AngleModulus(math.Atan2(loc.Y, loc.X) + offset)
		errs = multierr.Combine(errs, d.hw.SetModuleTarget(ctx, i, kinematics.ModuleState{Angle: angle}))
	}
	return errs
}

// Periodic reads the heading and module positions and integrates them into the pose belief.
func (d *Drivetrain) Periodic(ctx context.Context) (spatialmath.Pose2D, error) {
	heading, err := d.gyro.Heading(ctx)
	if err != nil {
		return d.est.Pose(), errors.Wrap(err, "reading heading")
	}
	positions, err := d.ModulePositions(ctx)
	if err != nil {
		return d.est.Pose(), err
	}
	return d.est.Update(d.clk.Now(), heading, positions)
}

// ResetOdometry resets the heading source to the pose heading, zeroes the module distances and
// overwrites the pose belief.
func (d *Drivetrain) ResetOdometry(ctx context.Context, pose spatialmath.Pose2D) error {
	if err := d.gyro.ResetHeading(ctx, pose.Theta); err != nil {
		return errors.Wrap(err, "resetting heading")
	}
	var errs error
	for i := 0; i < d.kin.NumModules(); i++ {
		errs = multierr.Combine(errs, d.hw.ResetModuleDistance(ctx, i, 0))
	}
	if errs != nil {
		return errs
	}
	heading, err := d.gyro.Heading(ctx)
	if err != nil {
		return errors.Wrap(err, "reading heading")
	}
	positions, err := d.ModulePositions(ctx)
	if err != nil {
		return err
	}
	if err := d.est.ResetPosition(heading, positions, pose); err != nil {
		return err
	}
	d.logger.Infow("odometry reset", "pose", pose)
	return nil
}

// ResetAll resets odometry to the field origin.
func (d *Drivetrain) ResetAll(ctx context.Context) error {
	return d.ResetOdometry(ctx, spatialmath.Pose2D{})
}

// Pose is the current pose belief.
func (d *Drivetrain) Pose() spatialmath.Pose2D {
	return d.est.Pose()
}

// ModulePositions reads every module position.
func (d *Drivetrain) ModulePositions(ctx context.Context) ([]kinematics.ModulePosition, error) {
	positions := make([]kinematics.ModulePosition, d.kin.NumModules())
	for i := range positions {
		p, err := d.hw.ModulePosition(ctx, i)
		if err != nil {
			return nil, errors.Wrapf(err, "reading module %d position", i)
		}
		positions[i] = p
	}
	return positions, nil
}

// ModuleStates reads every module's measured speed and angle.
func (d *Drivetrain) ModuleStates(ctx context.Context) ([]kinematics.ModuleState, error) {
	states := make([]kinematics.ModuleState, d.kin.NumModules())
	for i := range states {
		s, err := d.hw.ModuleState(ctx, i)
		if err != nil {
			return nil, errors.Wrapf(err, "reading module %d state", i)
		}
		states[i] = s
	}
	return states, nil
}

// RobotVelocity is the measured chassis velocity in the robot frame.
func (d *Drivetrain) RobotVelocity(ctx context.Context) (spatialmath.Twist2D, error) {
	states, err := d.ModuleStates(ctx)
	if err != nil {
		return spatialmath.Twist2D{}, err
	}
	return d.kin.ToChassisSpeeds(states)
}

// FieldVelocity is the measured chassis velocity in the field frame.
func (d *Drivetrain) FieldVelocity(ctx context.Context) (spatialmath.Twist2D, error) {
	robot, err := d.RobotVelocity(ctx)
	if err != nil {
		return spatialmath.Twist2D{}, err
	}
	return kinematics.FromRobotRelative(robot, d.Pose().Theta), nil
}

// Speed is the measured linear speed of the chassis.
func (d *Drivetrain) Speed(ctx context.Context) (float64, error) {
	robot, err := d.RobotVelocity(ctx)
	if err != nil {
		return 0, err
	}
	return robot.LinearSpeed(), nil
}

// PredictedPose extrapolates the pose by a field frame velocity held for dt seconds.
func (d *Drivetrain) PredictedPose(velocity spatialmath.Twist2D, dt float64) spatialmath.Pose2D {
	p := d.Pose()
	return spatialmath.NewPose2D(p.X+velocity.VX*dt, p.Y+velocity.VY*dt, p.Theta+velocity.Omega*dt)
}

// DistanceTo is the distance from the robot to a field point.
func (d *Drivetrain) DistanceTo(point r2.Point) float64 {
	return d.Pose().Translation().Sub(point).Norm()
}

// AngleTo is the signed rotation from the given field heading to the robot heading.
func (d *Drivetrain) AngleTo(heading float64) float64 {
	return rutils.AngleDiff(heading, d.Pose().Theta)
}

// Nearest returns the pose closest to the robot. poses must not be empty.
func (d *Drivetrain) Nearest(poses []spatialmath.Pose2D) spatialmath.Pose2D {
	current := d.Pose()
	return lo.MinBy(poses, func(a, b spatialmath.Pose2D) bool {
		return a.DistanceTo(current) < b.DistanceTo(current)
	})
}

// Module returns one module. It panics if index is not in [0, NumModules()).
func (d *Drivetrain) Module(index int) *Module {
	if index < 0 || index >= d.kin.NumModules() {
		panic(errors.Errorf("module index must be in [0, %d), got %d", d.kin.NumModules(), index))
	}
	return &Module{index: index, location: d.kin.Locations()[index], hw: d.hw}
}

// Module is a view of a single wheel module.
type Module struct {
	index    int
	location r2.Point
	hw       ModuleHardware
}

// Index is the module's position in the kinematics order.
func (m *Module) Index() int {
	return m.index
}

// Location is the module position relative to the chassis center.
func (m *Module) Location() r2.Point {
	return m.location
}

// Position reads the module's accumulated distance and angle.
func (m *Module) Position(ctx context.Context) (kinematics.ModulePosition, error) {
	return m.hw.ModulePosition(ctx, m.index)
}

// State reads the module's measured speed and angle.
func (m *Module) State(ctx context.Context) (kinematics.ModuleState, error) {
	return m.hw.ModuleState(ctx, m.index)
}

// SetTarget commands the module directly, bypassing desaturation and optimization.
func (m *Module) SetTarget(ctx context.Context, target kinematics.ModuleState) error {
	return m.hw.SetModuleTarget(ctx, m.index, target)
}
