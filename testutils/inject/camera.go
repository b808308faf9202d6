// Package inject provides hardware implementations whose methods can be replaced per test.
package inject

import (
	"context"

	"github.com/nar3128/swervepose/components/camera"
	"github.com/nar3128/swervepose/vision/fiducial"
)

// Camera is an injected camera.
type Camera struct {
	camera.Camera
	name            string
	LatestFrameFunc func(ctx context.Context) (fiducial.Frame, bool, error)
	CloseFunc       func(ctx context.Context) error
}

// NewCamera returns a new injected camera.
func NewCamera(name string) *Camera {
	return &Camera{name: name}
}

// Name returns the name of the camera.
func (c *Camera) Name() string {
	return c.name
}

// LatestFrame calls the injected LatestFrame or the real version.
func (c *Camera) LatestFrame(ctx context.Context) (fiducial.Frame, bool, error) {
	if c.LatestFrameFunc == nil {
		return c.Camera.LatestFrame(ctx)
	}
	return c.LatestFrameFunc(ctx)
}

// Close calls the injected Close or the real version.
func (c *Camera) Close(ctx context.Context) error {
	if c.CloseFunc == nil {
		if c.Camera == nil {
			return nil
		}
		return c.Camera.Close(ctx)
	}
	return c.CloseFunc(ctx)
}
