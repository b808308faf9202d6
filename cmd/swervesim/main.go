// Package main runs a simulated swerve robot and reports how well its pose estimate tracks the
// simulated truth.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"github.com/nar3128/swervepose/config"
	"github.com/nar3128/swervepose/estimator"
	"github.com/nar3128/swervepose/logging"
	"github.com/nar3128/swervepose/robot/sim"
	"github.com/nar3128/swervepose/spatialmath"
	"github.com/nar3128/swervepose/utils"
)

const (
	flagConfig   = "config"
	flagDebug    = "debug"
	flagDuration = "duration"
	flagReport   = "report-every"
	flagVX       = "vx"
	flagVY       = "vy"
	flagOmega    = "omega-degs"
	flagBumpX    = "bump-x"
	flagBumpY    = "bump-y"
	flagBumpAt   = "bump-at"
	flagWatch    = "watch"
	flagLogFile  = "log-file"
	flagEvents   = "events"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	var logger logging.Logger
	var fileAppender *logging.FileAppender

	return &cli.App{
		Name:  "swervesim",
		Usage: "drive a simulated swerve robot and watch its pose estimate",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load robot configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.DurationFlag{
				Name:  flagDuration,
				Value: 5 * time.Second,
				Usage: "how long to drive",
			},
			&cli.DurationFlag{
				Name:  flagReport,
				Value: time.Second,
				Usage: "how often to print the pose",
			},
			&cli.Float64Flag{Name: flagVX, Usage: "field x velocity in m/s"},
			&cli.Float64Flag{Name: flagVY, Usage: "field y velocity in m/s"},
			&cli.Float64Flag{Name: flagOmega, Usage: "angular velocity in degrees per second"},
			&cli.Float64Flag{Name: flagBumpX, Usage: "push the robot this far in x without its sensors noticing"},
			&cli.Float64Flag{Name: flagBumpY, Usage: "push the robot this far in y without its sensors noticing"},
			&cli.DurationFlag{
				Name:  flagBumpAt,
				Value: time.Second,
				Usage: "when to apply the bump",
			},
			&cli.BoolFlag{
				Name:  flagWatch,
				Usage: "apply vision knob changes made to the config file while running",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to `FILE`, rotated every 10MB",
			},
			&cli.IntFlag{
				Name:  flagEvents,
				Value: 10,
				Usage: "how many of the latest vision corrections to print at the end",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Int(flagEvents) < 0 {
				return errors.Errorf("--%s must not be negative, got %d", flagEvents, c.Int(flagEvents))
			}
			if c.Duration(flagReport) <= 0 {
				return errors.Errorf("--%s must be positive", flagReport)
			}
			if c.Bool(flagDebug) {
				logger = logging.NewDebugLogger("swervesim")
			} else {
				logger = logging.NewLogger("swervesim")
			}
			if path := c.String(flagLogFile); path != "" {
				fileAppender = logging.NewFileAppender(path, 10, 3)
				logger.AddAppender(fileAppender)
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			return run(c, logger)
		},
		After: func(c *cli.Context) error {
			if fileAppender != nil {
				return fileAppender.Close()
			}
			return nil
		},
	}
}

func readConfig(c *cli.Context, logger logging.Logger) (*config.Config, error) {
	if path := c.String(flagConfig); path != "" {
		return config.Read(c.Context, path, logger)
	}
	return config.FromReader(c.Context, "", strings.NewReader("{}"), logger)
}

func run(c *cli.Context, logger logging.Logger) (err error) {
	cfg, err := readConfig(c, logger)
	if err != nil {
		return err
	}
	if !c.Bool(flagDebug) {
		logger.SetLevel(cfg.Level())
	}
	if c.Bool(flagWatch) && cfg.ConfigFilePath == "" {
		return errors.New("--watch requires --config")
	}

	runID := uuid.New()
	logger = logger.Sublogger(runID.String()[:8])
	logger.Infow("starting simulation", "run", runID, "config", cfg.ConfigFilePath)

	robot, err := sim.New(c.Context, cfg, nil, logger)
	if err != nil {
		return errors.Wrap(err, "building robot")
	}
	defer func() {
		err = multierr.Combine(err, errors.Wrap(robot.Close(context.Background()), "closing robot"))
	}()
	if err := robot.Start(); err != nil {
		return err
	}

	var watcher *config.Watcher
	if c.Bool(flagWatch) {
		if watcher, err = config.NewWatcher(cfg.ConfigFilePath, logger.Sublogger("config")); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// ending the drive ends the watcher too
		defer cancel()
		return drive(gctx, c, robot, logger)
	})
	if watcher != nil {
		g.Go(func() error {
			return watch(gctx, watcher, robot, logger)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := c.App.Writer
	fmt.Fprintf(out, "run %s: %d cycles\n", runID, robot.Cycles())
	fmt.Fprintln(out, summaryTable(robot.Summary()))
	fmt.Fprintln(out, eventsTable(robot.Drivetrain().Estimator().Diagnostics().Events(), c.Int(flagEvents)))
	return nil
}

// drive commands the robot for the configured duration, bumping it once if asked.
func drive(ctx context.Context, c *cli.Context, robot *sim.Robot, logger logging.Logger) error {
	robot.SetCommand(spatialmath.Twist2D{
		VX:    c.Float64(flagVX),
		VY:    c.Float64(flagVY),
		Omega: utils.DegToRad(c.Float64(flagOmega)),
	})
	defer robot.SetCommand(spatialmath.Twist2D{})

	start := time.Now()
	bumped := c.Float64(flagBumpX) == 0 && c.Float64(flagBumpY) == 0
	for time.Since(start) < c.Duration(flagDuration) {
		if !goutils.SelectContextOrWait(ctx, c.Duration(flagReport)) {
			return nil
		}
		if !bumped && time.Since(start) >= c.Duration(flagBumpAt) {
			truth := robot.Truth()
			to := spatialmath.NewPose2D(truth.X+c.Float64(flagBumpX), truth.Y+c.Float64(flagBumpY), truth.Theta)
			if err := robot.Bump(ctx, to); err != nil {
				return err
			}
			bumped = true
			logger.Infow("bumped robot", "from", truth, "to", to)
		}
		report(c.App.Writer, robot)
	}
	return nil
}

// watch applies vision knob changes from the config file until ctx is done.
func watch(ctx context.Context, watcher *config.Watcher, robot *sim.Robot, logger logging.Logger) error {
	defer goutils.UncheckedErrorFunc(watcher.Close)
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg := <-watcher.Config():
			if err := robot.ApplyVision(cfg.Vision); err != nil {
				logger.Warnw("cannot apply vision config", "error", err)
				continue
			}
			logger.Infow("applied vision config", "vision", cfg.Vision)
		}
	}
}

func report(w io.Writer, robot *sim.Robot) {
	pose, truth := robot.Pose(), robot.Truth()
	fmt.Fprintf(w, "estimate %v truth %v error %.3f m\n", pose, truth, pose.DistanceTo(truth))
}

func summaryTable(summary estimator.Summary) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Accepted", "Overrides", "Outliers", "Stale", "Mean (m)", "Median (m)", "P95 (m)", "Max (m)"})
	t.AppendRow(table.Row{
		summary.Accepted, summary.Overrides, summary.Outliers, summary.Stale,
		fmt.Sprintf("%.3f", summary.MeanDistance),
		fmt.Sprintf("%.3f", summary.MedianDistance),
		fmt.Sprintf("%.3f", summary.P95Distance),
		fmt.Sprintf("%.3f", summary.MaxDistance),
	})
	return t.Render()
}

// eventsTable renders the last n events.
func eventsTable(events []estimator.CorrectionEvent, n int) string {
	n = max(n, 0)
	if n < len(events) {
		events = events[len(events)-n:]
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Time", "Camera", "Marker", "Distance (m)", "Divergence", "Outcome"})
	for _, e := range events {
		t.AppendRow(table.Row{
			e.Time.Format("15:04:05.000"),
			e.Camera,
			e.MarkerID,
			fmt.Sprintf("%.3f", e.Distance),
			e.DivergenceCount,
			e.Outcome,
		})
	}
	return t.Render()
}
