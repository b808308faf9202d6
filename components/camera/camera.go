// Package camera defines a fiducial camera: a device that reports the markers it can see along
// with the time the image was captured.
package camera

import (
	"context"
	"sync"

	"github.com/nar3128/swervepose/vision/fiducial"
)

// A Camera produces frames of marker detections. Acquisition happens in the background;
// LatestFrame never waits for a new image.
type Camera interface {
	// Name identifies the camera in logs and diagnostics.
	Name() string

	// LatestFrame returns the most recent completed frame and true, or false when no frame has
	// completed since the previous call.
	LatestFrame(ctx context.Context) (fiducial.Frame, bool, error)

	// Close stops acquisition.
	Close(ctx context.Context) error
}

// FrameBuffer holds the most recently completed frame for a Camera implementation.
type FrameBuffer struct {
	mu     sync.Mutex
	frame  fiducial.Frame
	err    error
	unread bool
}

// Store replaces the held frame.
func (b *FrameBuffer) Store(frame fiducial.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frame = frame
	b.err = nil
	b.unread = true
}

// StoreError records an acquisition failure, reported by the next Latest.
func (b *FrameBuffer) StoreError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Latest returns the held frame if it has not been returned before.
func (b *FrameBuffer) Latest() (fiducial.Frame, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		err := b.err
		b.err = nil
		return fiducial.Frame{}, false, err
	}
	if !b.unread {
		return fiducial.Frame{}, false, nil
	}
	b.unread = false
	return b.frame, true, nil
}
