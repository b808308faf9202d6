package estimator

import (
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// Mode is how an accepted vision candidate moves the position belief.
type Mode string

const (
	// ModeBlend moves the belief toward the candidate by a fixed Kalman gain derived from the state
	// and vision standard deviations.
	ModeBlend Mode = "blend"
	// ModeOverwrite replaces the belief's position with the candidate's.
	ModeOverwrite Mode = "overwrite"
)

// Defaults used when a Config field is left zero.
const (
	DefaultValidDist           = 0.5
	DefaultOverrideThreshold   = 30
	DefaultBufferWindow        = 1500 * time.Millisecond
	DefaultDiagnosticsCapacity = 256
)

// Config tunes the estimator.
type Config struct {
	// ValidDist is the consistency radius in meters. Candidates closer than this to the belief are
	// accepted.
	ValidDist float64 `json:"valid_dist"`
	// OverrideThreshold is how many consecutive far candidates are rejected before the next one is
	// taken as a hard reset. Zero means DefaultOverrideThreshold; the smallest usable value is 1.
	OverrideThreshold int `json:"override_threshold"`
	// BufferWindow is how much odometry history is kept for applying late candidates.
	BufferWindow time.Duration `json:"buffer_window"`
	// StateStdDevs and VisionStdDevs are the x and y standard deviations, in meters, of the odometry
	// belief and of vision candidates.
	StateStdDevs  [2]float64 `json:"state_std_devs"`
	VisionStdDevs [2]float64 `json:"vision_std_devs"`
	Mode          Mode       `json:"mode"`

	DiagnosticsCapacity int `json:"diagnostics_capacity"`
}

// DefaultConfig returns the configuration used on the robot.
func DefaultConfig() Config {
	return Config{
		ValidDist:           DefaultValidDist,
		OverrideThreshold:   DefaultOverrideThreshold,
		BufferWindow:        DefaultBufferWindow,
		StateStdDevs:        [2]float64{0.1, 0.1},
		VisionStdDevs:       [2]float64{0.9, 0.9},
		Mode:                ModeBlend,
		DiagnosticsCapacity: DefaultDiagnosticsCapacity,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.ValidDist == 0 {
		cfg.ValidDist = def.ValidDist
	}
	if cfg.OverrideThreshold == 0 {
		cfg.OverrideThreshold = def.OverrideThreshold
	}
	if cfg.BufferWindow == 0 {
		cfg.BufferWindow = def.BufferWindow
	}
	if cfg.StateStdDevs == [2]float64{} {
		cfg.StateStdDevs = def.StateStdDevs
	}
	if cfg.VisionStdDevs == [2]float64{} {
		cfg.VisionStdDevs = def.VisionStdDevs
	}
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.DiagnosticsCapacity == 0 {
		cfg.DiagnosticsCapacity = def.DiagnosticsCapacity
	}
	return cfg
}

// Validate ensures all parts of the config are valid.
func (cfg Config) Validate(path string) error {
	if cfg.ValidDist < 0 {
		return goutils.NewConfigValidationError(path, errors.New("valid_dist must not be negative"))
	}
	if cfg.OverrideThreshold < 0 {
		return goutils.NewConfigValidationError(path, errors.New("override_threshold must not be negative"))
	}
	if cfg.BufferWindow < 0 {
		return goutils.NewConfigValidationError(path, errors.New("buffer_window must not be negative"))
	}
	for i := range cfg.StateStdDevs {
		if cfg.StateStdDevs[i] < 0 || cfg.VisionStdDevs[i] < 0 {
			return goutils.NewConfigValidationError(path, errors.New("standard deviations must not be negative"))
		}
	}
	switch cfg.Mode {
	case "", ModeBlend, ModeOverwrite:
	default:
		return goutils.NewConfigValidationError(path, errors.Errorf("unknown correction mode %q", cfg.Mode))
	}
	if cfg.DiagnosticsCapacity < 0 {
		return goutils.NewConfigValidationError(path, errors.New("diagnostics_capacity must not be negative"))
	}
	return nil
}
