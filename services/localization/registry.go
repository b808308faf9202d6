// Package localization drains every registered fiducial camera once per control cycle and forwards
// the resulting pose candidates to a pose estimator.
package localization

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/nar3128/swervepose/components/camera"
	"github.com/nar3128/swervepose/logging"
	"github.com/nar3128/swervepose/spatialmath"
	"github.com/nar3128/swervepose/vision/fiducial"
)

var (
	// ErrNotConfigured is returned when a registry is used before Configure.
	ErrNotConfigured = errors.New("camera registry is not configured")
	// ErrAlreadyConfigured is returned by every Configure call after the first.
	ErrAlreadyConfigured = errors.New("camera registry is already configured")
)

// Config is the configuration shared by all cameras of a registry.
type Config struct {
	Markers  fiducial.MarkerMap
	Strategy fiducial.Strategy
	// Thresholds are the initial filter knobs. Zero values take the fiducial defaults.
	Thresholds fiducial.Thresholds
}

// Handle is a registered camera.
type Handle struct {
	cam       camera.Camera
	offset    spatialmath.Pose
	extractor *fiducial.Extractor
	enabled   *atomic.Bool
}

// Name is the camera name.
func (h *Handle) Name() string {
	return h.cam.Name()
}

// Camera returns the underlying camera.
func (h *Handle) Camera() camera.Camera {
	return h.cam
}

// Offset is the camera pose in the robot frame.
func (h *Handle) Offset() spatialmath.Pose {
	return h.offset
}

// Enable resumes processing of this camera's frames.
func (h *Handle) Enable() {
	h.enabled.Store(true)
}

// Disable skips this camera until re-enabled. Frames it produces meanwhile are not consumed.
func (h *Handle) Disable() {
	h.enabled.Store(false)
}

// Enabled reports whether the camera is processed by UpdateAll.
func (h *Handle) Enabled() bool {
	return h.enabled.Load()
}

// Registry owns the cameras, the marker map and the global filter knobs.
type Registry struct {
	logger   logging.Logger
	reporter *fiducial.UnknownMarkerReporter

	mu         sync.Mutex
	configured bool
	cfg        Config
	sink       fiducial.CandidateSink
	poseSource fiducial.PoseSource
	thresholds fiducial.Thresholds
	handles    []*Handle

	forwarded *atomic.Int64
}

// NewRegistry returns an unconfigured registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		logger:    logger,
		reporter:  fiducial.NewUnknownMarkerReporter(logger),
		forwarded: atomic.NewInt64(0),
	}
}

// Configure sets the marker map, selection strategy, candidate sink and pose source. It may only
// be called once. poseSource is optional and only used for diagnostics.
func (r *Registry) Configure(cfg Config, sink fiducial.CandidateSink, poseSource fiducial.PoseSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.configured {
		return ErrAlreadyConfigured
	}
	if sink == nil {
		return errors.New("camera registry requires a candidate sink")
	}
	if err := cfg.Strategy.Validate(); err != nil {
		return err
	}
	if cfg.Strategy == "" {
		cfg.Strategy = fiducial.LowestAmbiguity
	}
	if cfg.Markers.Len() == 0 {
		r.logger.Warn("camera registry configured with an empty marker map; no candidates will be produced")
	}

	thresholds := fiducial.DefaultThresholds()
	if cfg.Thresholds.Ambiguity > 0 {
		thresholds.Ambiguity = cfg.Thresholds.Ambiguity
	}
	if cfg.Thresholds.Distance > 0 {
		thresholds.Distance = cfg.Thresholds.Distance
	}
	thresholds.Ignored = lo.Assign(cfg.Thresholds.Ignored)

	r.cfg = cfg
	r.sink = sink
	r.poseSource = poseSource
	r.thresholds = thresholds
	r.configured = true
	return nil
}

// Register adds an enabled camera mounted at offset. Registering before Configure fails with
// ErrNotConfigured; callers should treat that as fatal.
func (r *Registry) Register(cam camera.Camera, offset spatialmath.Pose) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.configured {
		return nil, ErrNotConfigured
	}
	if cam == nil {
		return nil, errors.New("cannot register a nil camera")
	}
	if _, ok := lo.Find(r.handles, func(h *Handle) bool { return h.Name() == cam.Name() }); ok {
		return nil, errors.Errorf("camera %q is already registered", cam.Name())
	}
	extractor := fiducial.NewExtractor(cam.Name(), r.reporter)
	extractor.Strategy = r.cfg.Strategy
	h := &Handle{
		cam:       cam,
		offset:    offset,
		extractor: extractor,
		enabled:   atomic.NewBool(true),
	}
	r.handles = append(r.handles, h)
	r.logger.Infow("registered camera", "camera", cam.Name(), "offset", offset)
	return h, nil
}

// Handles returns every registered camera in registration order.
func (r *Registry) Handles() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Handle(nil), r.handles...)
}

// Handle looks up a camera by name.
func (r *Registry) Handle(name string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Find(r.handles, func(h *Handle) bool { return h.Name() == name })
}

// EnableAll enables every registered camera.
func (r *Registry) EnableAll() {
	for _, h := range r.Handles() {
		h.Enable()
	}
}

// DisableAll disables every registered camera.
func (r *Registry) DisableAll() {
	for _, h := range r.Handles() {
		h.Disable()
	}
}

// UpdateAll pulls the latest frame of every enabled camera and forwards each resulting candidate
// to the sink. A failing camera does not stop the others; all failures are returned together.
func (r *Registry) UpdateAll(ctx context.Context) error {
	r.mu.Lock()
	if !r.configured {
		r.mu.Unlock()
		return ErrNotConfigured
	}
	handles := lo.Filter(r.handles, func(h *Handle, _ int) bool { return h.Enabled() })
	thresholds := r.thresholds
	thresholds.Ignored = lo.Assign(r.thresholds.Ignored)
	markers, sink, poseSource := r.cfg.Markers, r.sink, r.poseSource
	r.mu.Unlock()

	var errs error
	for _, h := range handles {
		frame, ok, err := h.cam.LatestFrame(ctx)
		if err != nil {
			errs = multierr.Combine(errs, errors.Wrapf(err, "camera %q", h.Name()))
			continue
		}
		if !ok {
			continue
		}
		candidate, ok := h.extractor.Extract(frame, markers, h.offset, thresholds)
		if !ok {
			continue
		}
		if poseSource != nil {
			r.logger.Debugw("vision candidate",
				"camera", candidate.Camera,
				"marker_id", candidate.MarkerID,
				"ambiguity", candidate.Ambiguity,
				"distance_from_belief", candidate.Pose.DistanceTo(poseSource.Pose()))
		}
		sink.AddVisionCandidate(candidate)
		r.forwarded.Inc()
	}
	return errs
}

// Forwarded is the total number of candidates handed to the sink.
func (r *Registry) Forwarded() int64 {
	return r.forwarded.Load()
}

// Thresholds returns a copy of the current filter knobs.
func (r *Registry) Thresholds() fiducial.Thresholds {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.thresholds
	t.Ignored = lo.Assign(r.thresholds.Ignored)
	return t
}

// SetAmbiguityThreshold changes the ambiguity cutoff for all cameras from the next UpdateAll.
func (r *Registry) SetAmbiguityThreshold(threshold float64) error {
	if threshold <= 0 || threshold > 1 {
		return errors.Errorf("ambiguity threshold must be in (0, 1], got %v", threshold)
	}
	return r.withThresholds(func(t *fiducial.Thresholds) { t.Ambiguity = threshold })
}

// SetDistanceThreshold changes the marker distance cutoff for all cameras from the next UpdateAll.
func (r *Registry) SetDistanceThreshold(meters float64) error {
	if meters <= 0 {
		return errors.Errorf("distance threshold must be positive, got %v", meters)
	}
	return r.withThresholds(func(t *fiducial.Thresholds) { t.Distance = meters })
}

// AddIgnoredMarkers excludes markers from candidate selection.
func (r *Registry) AddIgnoredMarkers(ids ...int) error {
	return r.withThresholds(func(t *fiducial.Thresholds) {
		if t.Ignored == nil {
			t.Ignored = map[int]struct{}{}
		}
		for _, id := range ids {
			t.Ignored[id] = struct{}{}
		}
	})
}

// RemoveIgnoredMarkers allows previously ignored markers again.
func (r *Registry) RemoveIgnoredMarkers(ids ...int) error {
	return r.withThresholds(func(t *fiducial.Thresholds) {
		for _, id := range ids {
			delete(t.Ignored, id)
		}
	})
}

// IgnoredMarkers returns the ignored marker ids in ascending order.
func (r *Registry) IgnoredMarkers() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := lo.Keys(r.thresholds.Ignored)
	sort.Ints(ids)
	return ids
}

func (r *Registry) withThresholds(fn func(t *fiducial.Thresholds)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.configured {
		return ErrNotConfigured
	}
	fn(&r.thresholds)
	return nil
}

// Close closes every registered camera.
func (r *Registry) Close(ctx context.Context) error {
	var errs error
	for _, h := range r.Handles() {
		errs = multierr.Combine(errs, h.cam.Close(ctx))
	}
	return errs
}
