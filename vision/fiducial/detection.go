package fiducial

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/nar3128/swervepose/spatialmath"
)

const (
	// DefaultAmbiguityThreshold rejects detections whose pose ambiguity is at or above this value.
	DefaultAmbiguityThreshold = 0.2
	// DefaultDistanceThreshold rejects markers farther than this many meters from the camera.
	DefaultDistanceThreshold = 3.5
)

// Detection is one marker seen in a camera frame.
type Detection struct {
	MarkerID int
	// CameraToMarker is the marker pose in the camera frame.
	CameraToMarker spatialmath.Pose
	// Ambiguity is in [0, 1]; lower is better. Negative values mean the camera could not compute one.
	Ambiguity float64
}

// Frame is the set of detections captured at a single instant.
type Frame struct {
	Timestamp  time.Time
	Detections []Detection
}

// Candidate is a robot pose recovered from a single marker.
type Candidate struct {
	Pose      spatialmath.Pose2D
	Pose3D    spatialmath.Pose
	Timestamp time.Time
	MarkerID  int
	Ambiguity float64
	Camera    string
}

// Strategy selects which detection of a frame produces the candidate.
type Strategy string

// LowestAmbiguity picks the detection with the strictly lowest ambiguity; the first seen wins ties.
const LowestAmbiguity Strategy = "lowest_ambiguity"

// Validate ensures the strategy is supported.
func (s Strategy) Validate() error {
	switch s {
	case LowestAmbiguity, "":
		return nil
	default:
		return errors.Errorf("unsupported pose strategy %q", string(s))
	}
}

// Thresholds are the filters applied to every detection before selection.
type Thresholds struct {
	Ambiguity float64
	Distance  float64
	Ignored   map[int]struct{}
}

// DefaultThresholds returns the default filters with no ignored markers.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Ambiguity: DefaultAmbiguityThreshold,
		Distance:  DefaultDistanceThreshold,
	}
}

// IsIgnored reports whether the marker was explicitly excluded.
func (t Thresholds) IsIgnored(id int) bool {
	_, ok := t.Ignored[id]
	return ok
}

// NewCameraOffset builds the camera pose in the robot frame. Angles are radians and are applied
// as pitch, then roll, then yaw.
func NewCameraOffset(x, y, z, roll, pitch, yaw float64) spatialmath.Pose {
	q := spatialmath.RotateBy(spatialmath.RotateBy(spatialmath.PitchQuat(pitch), spatialmath.RollQuat(roll)), spatialmath.YawQuat(yaw))
	return spatialmath.NewPose(r3.Vector{X: x, Y: y, Z: z}, q)
}

// CandidateSink receives accepted vision candidates.
type CandidateSink interface {
	AddVisionCandidate(candidate Candidate)
}

// PoseSource exposes the current pose belief.
type PoseSource interface {
	Pose() spatialmath.Pose2D
}

// CandidateSinkFunc adapts a function to a CandidateSink.
type CandidateSinkFunc func(candidate Candidate)

// AddVisionCandidate calls f.
func (f CandidateSinkFunc) AddVisionCandidate(candidate Candidate) {
	f(candidate)
}

// FrameSource is anything producing frames without blocking.
type FrameSource interface {
	Name() string
	LatestFrame(ctx context.Context) (Frame, bool, error)
}
