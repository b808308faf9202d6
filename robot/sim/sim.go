// Package sim assembles a simulated swerve robot from a config: simulated modules and gyro, a
// drivetrain with its pose estimator, simulated cameras feeding a camera registry, and the control
// loop that runs them.
package sim

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	camfake "github.com/nar3128/swervepose/components/camera/fake"
	"github.com/nar3128/swervepose/components/drivetrain"
	dtfake "github.com/nar3128/swervepose/components/drivetrain/fake"
	"github.com/nar3128/swervepose/config"
	"github.com/nar3128/swervepose/control"
	"github.com/nar3128/swervepose/estimator"
	"github.com/nar3128/swervepose/logging"
	"github.com/nar3128/swervepose/services/localization"
	"github.com/nar3128/swervepose/spatialmath"
	"github.com/nar3128/swervepose/utils"
	"github.com/nar3128/swervepose/vision/fiducial"
)

// Robot is a running simulated robot.
type Robot struct {
	cfg    *config.Config
	clk    clock.Clock
	logger logging.Logger

	world    *dtfake.Simulator
	drive    *drivetrain.Drivetrain
	registry *localization.Registry
	cameras  []*camfake.Camera
	loop     *control.Loop

	mu      sync.Mutex
	command spatialmath.Twist2D
}

// New builds a robot from cfg. The robot believes it starts where it truly is. Nothing runs until
// Start.
func New(ctx context.Context, cfg *config.Config, clk clock.Clock, logger logging.Logger) (_ *Robot, err error) {
	if clk == nil {
		clk = clock.New()
	}
	start := spatialmath.NewPose2D(cfg.Start.X, cfg.Start.Y, utils.DegToRad(cfg.Start.Theta))

	kin, err := cfg.Drivetrain.Kinematics()
	if err != nil {
		return nil, err
	}
	r := &Robot{
		cfg:      cfg,
		clk:      clk,
		logger:   logger,
		world:    dtfake.NewSimulator(kin, start),
		registry: localization.NewRegistry(logger.Sublogger("localization")),
	}
	r.drive, err = drivetrain.New(ctx, cfg.Drivetrain, cfg.Estimator, r.world, r.world, start, clk,
		logger.Sublogger("drivetrain"))
	if err != nil {
		return nil, err
	}

	locCfg, err := cfg.Localization()
	if err != nil {
		return nil, err
	}
	if err := r.registry.Configure(locCfg, r.drive.Estimator(), r.drive); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, r.registry.Close(ctx))
		}
	}()
	for _, camCfg := range cfg.Cameras {
		offset := camCfg.Offset.Pose()
		cam, err := camfake.NewCamera(camCfg.Config, locCfg.Markers, offset, r.world, clk,
			logger.Sublogger("camera").Sublogger(camCfg.Name))
		if err != nil {
			return nil, errors.Wrapf(err, "camera %q", camCfg.Name)
		}
		if _, err := r.registry.Register(cam, offset); err != nil {
			return nil, multierr.Combine(err, cam.Close(ctx))
		}
		r.cameras = append(r.cameras, cam)
	}

	r.loop, err = control.NewLoop(cfg.Loop, clk, logger.Sublogger("loop"),
		r.stepWorld,
		r.stepOdometry,
		r.registry.UpdateAll,
		r.stepDrive,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// stepWorld advances the simulated world by one loop period.
func (r *Robot) stepWorld(ctx context.Context) error {
	return r.world.Step(r.cfg.Loop.Period())
}

func (r *Robot) stepOdometry(ctx context.Context) error {
	_, err := r.drive.Periodic(ctx)
	return err
}

func (r *Robot) stepDrive(ctx context.Context) error {
	r.mu.Lock()
	command := r.command
	r.mu.Unlock()
	return r.drive.Drive(ctx, command)
}

// Start runs the control loop.
func (r *Robot) Start() error {
	return r.loop.Start()
}

// Close stops the loop and the cameras.
func (r *Robot) Close(ctx context.Context) error {
	r.loop.Stop()
	return r.registry.Close(ctx)
}

// SetCommand sets the velocity the drivetrain is driven at every cycle.
func (r *Robot) SetCommand(twist spatialmath.Twist2D) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.command = twist
}

// ResetOdometry resets the pose belief between two cycles.
func (r *Robot) ResetOdometry(ctx context.Context, pose spatialmath.Pose2D) error {
	return r.loop.Do(ctx, func(ctx context.Context) error {
		return r.drive.ResetOdometry(ctx, pose)
	})
}

// Bump moves the true pose between two cycles without the sensors noticing.
func (r *Robot) Bump(ctx context.Context, pose spatialmath.Pose2D) error {
	return r.loop.Do(ctx, func(ctx context.Context) error {
		r.world.Teleport(pose)
		return nil
	})
}

// ApplyVision updates the camera registry knobs. The change applies from the next cycle.
func (r *Robot) ApplyVision(v config.VisionConfig) error {
	th := v.Thresholds()
	if th.Ambiguity == 0 {
		th.Ambiguity = fiducial.DefaultAmbiguityThreshold
	}
	if th.Distance == 0 {
		th.Distance = fiducial.DefaultDistanceThreshold
	}
	return multierr.Combine(
		r.registry.SetAmbiguityThreshold(th.Ambiguity),
		r.registry.SetDistanceThreshold(th.Distance),
		r.registry.RemoveIgnoredMarkers(r.registry.IgnoredMarkers()...),
		r.registry.AddIgnoredMarkers(v.IgnoredMarkers...),
	)
}

// Pose is the estimated pose.
func (r *Robot) Pose() spatialmath.Pose2D {
	return r.drive.Pose()
}

// Truth is the simulated true pose.
func (r *Robot) Truth() spatialmath.Pose2D {
	return r.world.Pose()
}

// Drivetrain is the robot's drivetrain.
func (r *Robot) Drivetrain() *drivetrain.Drivetrain {
	return r.drive
}

// Registry is the robot's camera registry.
func (r *Robot) Registry() *localization.Registry {
	return r.registry
}

// Summary summarizes the estimator's recent vision corrections.
func (r *Robot) Summary() estimator.Summary {
	return r.drive.Estimator().Diagnostics().Summary()
}

// Cycles is the number of control cycles run.
func (r *Robot) Cycles() int64 {
	return r.loop.Cycles()
}
