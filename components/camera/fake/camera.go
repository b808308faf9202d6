// Package fake implements a simulated fiducial camera that reports the markers visible from a
// ground truth robot pose.
package fake

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"github.com/nar3128/swervepose/components/camera"
	"github.com/nar3128/swervepose/logging"
	"github.com/nar3128/swervepose/spatialmath"
	"github.com/nar3128/swervepose/utils"
	"github.com/nar3128/swervepose/vision/fiducial"
)

// Config are the attributes of a simulated camera.
type Config struct {
	Name string `json:"name"`
	// FPS is how many frames are captured per second.
	FPS float64 `json:"fps"`
	// Latency is the delay between capture and the frame becoming available.
	Latency time.Duration `json:"latency"`
	// FOVDegs is the horizontal field of view.
	FOVDegs  float64 `json:"fov_degs"`
	MaxRange float64 `json:"max_range"`
	// NoiseStdDev is the standard deviation, in meters, added to each detected marker position.
	NoiseStdDev float64 `json:"noise_std_dev"`
	Seed        int64   `json:"seed"`
}

// Validate checks that the config attributes are valid for a simulated camera.
func (conf *Config) Validate(path string) error {
	if conf.Name == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if conf.FPS <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("fps must be positive"))
	}
	if conf.Latency < 0 {
		return goutils.NewConfigValidationError(path, errors.New("latency must not be negative"))
	}
	if conf.FOVDegs <= 0 || conf.FOVDegs > 360 {
		return goutils.NewConfigValidationError(path, errors.New("fov_degs must be in (0, 360]"))
	}
	if conf.MaxRange <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_range must be positive"))
	}
	if conf.NoiseStdDev < 0 {
		return goutils.NewConfigValidationError(path, errors.New("noise_std_dev must not be negative"))
	}
	return nil
}

var _ camera.Camera = (*Camera)(nil)

// Camera is a simulated camera mounted on a robot whose true pose is read from truth.
type Camera struct {
	name    string
	conf    Config
	markers fiducial.MarkerMap
	offset  spatialmath.Pose
	truth   fiducial.PoseSource
	clk     clock.Clock
	logger  logging.Logger

	buffer  camera.FrameBuffer
	ticker  *clock.Ticker
	workers utils.StoppableWorkers

	mu      sync.Mutex
	pending []fiducial.Frame
	rnd     *rand.Rand

	captured *atomic.Int64
}

// NewCamera starts a simulated camera.
func NewCamera(
	conf Config,
	markers fiducial.MarkerMap,
	offset spatialmath.Pose,
	truth fiducial.PoseSource,
	clk clock.Clock,
	logger logging.Logger,
) (*Camera, error) {
	if err := conf.Validate("camera"); err != nil {
		return nil, err
	}
	if truth == nil {
		return nil, errors.New("simulated camera requires a ground truth pose source")
	}
	if clk == nil {
		clk = clock.New()
	}
	cam := &Camera{
		name:     conf.Name,
		conf:     conf,
		markers:  markers,
		offset:   offset,
		truth:    truth,
		clk:      clk,
		logger:   logger,
		ticker:   clk.Ticker(time.Duration(float64(time.Second) / conf.FPS)),
		rnd:      rand.New(rand.NewSource(conf.Seed)), //nolint:gosec
		captured: atomic.NewInt64(0),
	}
	cam.workers = utils.NewStoppableWorkers(cam.run)
	return cam, nil
}

func (c *Camera) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-c.ticker.C:
			c.capture(now)
			c.publish(now)
		}
	}
}

func (c *Camera) capture(now time.Time) {
	frame := c.Observe(c.truth.Pose())
	frame.Timestamp = now

	c.mu.Lock()
	c.pending = append(c.pending, frame)
	c.mu.Unlock()
	c.captured.Inc()
}

// publish makes every pending frame whose latency has elapsed available, newest last.
func (c *Camera) publish(now time.Time) {
	c.mu.Lock()
	ready := 0
	for ready < len(c.pending) && !c.pending[ready].Timestamp.Add(c.conf.Latency).After(now) {
		ready++
	}
	frames := c.pending[:ready]
	c.pending = append([]fiducial.Frame(nil), c.pending[ready:]...)
	c.mu.Unlock()

	for _, frame := range frames {
		c.buffer.Store(frame)
	}
}

// Observe returns the detections the camera would make with the robot at robotPose.
func (c *Camera) Observe(robotPose spatialmath.Pose2D) fiducial.Frame {
	robot := spatialmath.NewPoseFromRPY(r3.Vector{X: robotPose.X, Y: robotPose.Y}, 0, 0, robotPose.Theta)
	cameraInvr := spatialmath.Compose(robot, c.offset).Invert()
	halfFOV := utils.DegToRad(c.conf.FOVDegs) / 2

	var frame fiducial.Frame
	for _, id := range c.markers.IDs() {
		markerPose, _ := c.markers.Pose(id)
		cameraToMarker := spatialmath.Compose(cameraInvr, markerPose)
		pt := cameraToMarker.Point()

		dist := math.Hypot(pt.X, pt.Y)
		if dist > c.conf.MaxRange || dist == 0 {
			continue
		}
		if math.Abs(math.Atan2(pt.Y, pt.X)) > halfFOV {
			continue
		}
		if c.conf.NoiseStdDev > 0 {
			c.mu.Lock()
			pt.X += c.rnd.NormFloat64() * c.conf.NoiseStdDev
			pt.Y += c.rnd.NormFloat64() * c.conf.NoiseStdDev
			c.mu.Unlock()
			cameraToMarker = spatialmath.NewPose(pt, cameraToMarker.Quaternion())
		}
		frame.Detections = append(frame.Detections, fiducial.Detection{
			MarkerID:       id,
			CameraToMarker: cameraToMarker,
			// farther markers resolve fewer pixels
			Ambiguity: 0.25 * dist / c.conf.MaxRange,
		})
	}
	return frame
}

// Name returns the configured camera name.
func (c *Camera) Name() string {
	return c.name
}

// LatestFrame returns the newest frame whose latency has elapsed.
func (c *Camera) LatestFrame(ctx context.Context) (fiducial.Frame, bool, error) {
	if err := ctx.Err(); err != nil {
		return fiducial.Frame{}, false, err
	}
	return c.buffer.Latest()
}

// Captured is the number of frames captured so far.
func (c *Camera) Captured() int64 {
	return c.captured.Load()
}

// Close stops acquisition.
func (c *Camera) Close(ctx context.Context) error {
	c.ticker.Stop()
	c.workers.Stop()
	c.logger.Debugw("camera closed", "camera", c.name, "frames", c.Captured())
	return nil
}
