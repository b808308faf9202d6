// Package estimator maintains a single planar pose belief by integrating wheel odometry every
// control cycle and correcting it with vision candidates as they arrive.
//
// Heading always comes from the heading source; vision only ever corrects position. Candidates
// carry their capture time and are applied to the belief as of that time, after which the
// buffered odometry is replayed on top of the correction.
package estimator

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nar3128/swervepose/kinematics"
	"github.com/nar3128/swervepose/logging"
	"github.com/nar3128/swervepose/spatialmath"
	"github.com/nar3128/swervepose/utils"
	"github.com/nar3128/swervepose/vision/fiducial"
)

// Option configures optional parts of an Estimator.
type Option func(*Estimator)

// WithClock sets the clock used to timestamp resets and diagnostics. A reset is moved onto the
// odometry time base by the first Update after it, so the clock need not match Update timestamps.
func WithClock(clk clock.Clock) Option {
	return func(e *Estimator) {
		e.clk = clk
	}
}

// Estimator is the pose fusion state. Update, Correct and ResetPosition are expected to be called
// from one goroutine; the read accessors are safe from any goroutine.
type Estimator struct {
	kin    *kinematics.Kinematics
	cfg    Config
	logger logging.Logger
	clk    clock.Clock
	gain   *mat.Dense

	mu            sync.Mutex
	pose          spatialmath.Pose2D
	prevPositions []kinematics.ModulePosition
	// headingOffset maps heading source readings onto the field heading.
	headingOffset float64
	prevHeading   float64
	divergence    int
	buffer        poseBuffer

	diagnostics *Diagnostics
}

// New returns an estimator whose belief starts at initial, with heading and positions as the
// current sensor readings.
func New(
	kin *kinematics.Kinematics,
	cfg Config,
	heading float64,
	positions []kinematics.ModulePosition,
	initial spatialmath.Pose2D,
	logger logging.Logger,
	opts ...Option,
) (*Estimator, error) {
	if kin == nil {
		return nil, errors.New("estimator requires kinematics")
	}
	if err := cfg.Validate("estimator"); err != nil {
		return nil, err
	}
	if len(positions) != kin.NumModules() {
		return nil, utils.NewLengthMismatchError("module positions", kin.NumModules(), len(positions))
	}
	cfg = cfg.withDefaults()

	e := &Estimator{
		kin:         kin,
		cfg:         cfg,
		logger:      logger,
		clk:         clock.New(),
		diagnostics: newDiagnostics(cfg.DiagnosticsCapacity),
	}
	for _, opt := range opts {
		opt(e)
	}
	gain, err := kalmanGain(cfg)
	if err != nil {
		return nil, err
	}
	e.gain = gain
	e.resetLocked(heading, positions, initial)
	return e, nil
}

// kalmanGain computes the steady state gain K = P(P+R)^-1 for the x and y axes.
func kalmanGain(cfg Config) (*mat.Dense, error) {
	if cfg.Mode == ModeOverwrite {
		return identity2(), nil
	}
	p := mat.NewDiagDense(2, []float64{utils.Square(cfg.StateStdDevs[0]), utils.Square(cfg.StateStdDevs[1])})
	r := mat.NewDiagDense(2, []float64{utils.Square(cfg.VisionStdDevs[0]), utils.Square(cfg.VisionStdDevs[1])})

	var sum, inv, gain mat.Dense
	sum.Add(p, r)
	if err := inv.Inverse(&sum); err != nil {
		return nil, errors.Wrap(err, "state and vision standard deviations must not both be zero")
	}
	gain.Mul(p, &inv)
	return &gain, nil
}

func identity2() *mat.Dense {
	return mat.NewDense(2, 2, []float64{1, 0, 0, 1})
}

// Update integrates one odometry sample taken at timestamp and returns the new belief.
func (e *Estimator) Update(
	timestamp time.Time,
	heading float64,
	positions []kinematics.ModulePosition,
) (spatialmath.Pose2D, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	deltas, err := kinematics.Deltas(e.prevPositions, positions)
	if err != nil {
		return e.pose, err
	}
	twist, err := e.kin.ToTwist(deltas)
	if err != nil {
		return e.pose, err
	}
	twist.Omega = utils.AngleDiff(e.prevHeading, heading)

	e.pose = e.pose.Exp(twist).WithTheta(heading + e.headingOffset)
	e.prevHeading = heading
	e.prevPositions = append(e.prevPositions[:0], positions...)
	e.buffer.add(sample{t: timestamp, pose: e.pose, twist: twist})
	return e.pose, nil
}

// AddVisionCandidate corrects the belief with a candidate, discarding the outcome.
func (e *Estimator) AddVisionCandidate(candidate fiducial.Candidate) {
	e.Correct(candidate)
}

// Correct gates a vision candidate against the belief at its capture time and applies it when
// accepted.
func (e *Estimator) Correct(candidate fiducial.Candidate) CorrectionEvent {
	event := e.correct(candidate)
	e.diagnostics.record(event)

	switch event.Outcome {
	case OutcomeAccepted:
		e.logger.Debugw("vision correction accepted",
			"camera", event.Camera, "marker_id", event.MarkerID, "distance", event.Distance)
	case OutcomeOverride:
		e.logger.Infow("vision override after repeated divergence",
			"camera", event.Camera, "marker_id", event.MarkerID, "distance", event.Distance, "pose", event.Candidate)
	case OutcomeRejectedOutlier, OutcomeRejectedStale:
		e.logger.Debugw("vision candidate rejected",
			"camera", event.Camera, "marker_id", event.MarkerID, "reason", event.Reason, "divergence", event.DivergenceCount)
	}
	return event
}

func (e *Estimator) correct(candidate fiducial.Candidate) CorrectionEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	event := CorrectionEvent{
		Time:      e.clk.Now(),
		Camera:    candidate.Camera,
		MarkerID:  candidate.MarkerID,
		Candidate: candidate.Pose,
	}

	t := candidate.Timestamp
	if latest := e.buffer.latest().t; t.After(latest) {
		t = latest
	}
	if !e.buffer.covers(t) {
		event.Belief = e.pose
		event.Distance = candidate.Pose.DistanceTo(e.pose)
		event.DivergenceCount = e.divergence
		event.Outcome = OutcomeRejectedStale
		event.Reason = "candidate predates the buffered odometry history"
		return event
	}

	belief := e.buffer.poseAt(t)
	event.Belief = belief
	event.Distance = candidate.Pose.DistanceTo(belief)

	gain := e.gain
	if event.Distance < e.cfg.ValidDist {
		event.Outcome = OutcomeAccepted
		event.Reason = "within consistency radius"
	} else {
		e.divergence++
		if e.divergence <= e.cfg.OverrideThreshold {
			event.DivergenceCount = e.divergence
			event.Outcome = OutcomeRejectedOutlier
			event.Reason = "outside consistency radius"
			return event
		}
		gain = identity2()
		event.Outcome = OutcomeOverride
		event.Reason = "divergence count exceeded override threshold"
	}
	e.divergence = 0

	residual := mat.NewVecDense(2, []float64{candidate.Pose.X - belief.X, candidate.Pose.Y - belief.Y})
	var step mat.VecDense
	step.MulVec(gain, residual)
	e.pose = e.buffer.shift(t, spatialmath.Pose2D{X: step.AtVec(0), Y: step.AtVec(1)})
	return event
}

// ResetPosition overwrites the belief and the odometry baselines and forgets all history.
func (e *Estimator) ResetPosition(heading float64, positions []kinematics.ModulePosition, pose spatialmath.Pose2D) error {
	if len(positions) != e.kin.NumModules() {
		return utils.NewLengthMismatchError("module positions", e.kin.NumModules(), len(positions))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked(heading, positions, pose)
	return nil
}

func (e *Estimator) resetLocked(heading float64, positions []kinematics.ModulePosition, pose spatialmath.Pose2D) {
	e.pose = pose.WithTheta(pose.Theta)
	e.prevPositions = append([]kinematics.ModulePosition(nil), positions...)
	e.prevHeading = heading
	e.headingOffset = utils.AngleDiff(heading, e.pose.Theta)
	e.divergence = 0
	e.buffer.window = e.cfg.BufferWindow
	e.buffer.reset(sample{t: e.clk.Now(), pose: e.pose})
}

// Pose returns the current belief.
func (e *Estimator) Pose() spatialmath.Pose2D {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pose
}

// PoseAt returns the belief as it was at t, if t is still within the buffered history.
func (e *Estimator) PoseAt(t time.Time) (spatialmath.Pose2D, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.buffer.covers(t) {
		return spatialmath.Pose2D{}, false
	}
	return e.buffer.poseAt(t), true
}

// DivergenceCount is the number of consecutive candidates rejected as outliers.
func (e *Estimator) DivergenceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.divergence
}

// ModulePositions returns the module positions of the last update or reset.
func (e *Estimator) ModulePositions() []kinematics.ModulePosition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]kinematics.ModulePosition(nil), e.prevPositions...)
}

// Diagnostics returns the correction event history.
func (e *Estimator) Diagnostics() *Diagnostics {
	return e.diagnostics
}

// Config returns the effective configuration.
func (e *Estimator) Config() Config {
	return e.cfg
}
