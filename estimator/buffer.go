package estimator

import (
	"sort"
	"time"

	"github.com/nar3128/swervepose/spatialmath"
)

// sample is the belief right after one odometry update along with the update that produced it.
type sample struct {
	t     time.Time
	pose  spatialmath.Pose2D
	twist spatialmath.Twist2D
}

// maxBufferSamples bounds the history regardless of the window.
const maxBufferSamples = 4096

// poseBuffer is the recent odometry history, oldest first.
type poseBuffer struct {
	window  time.Duration
	samples []sample
	// anchored is false from a reset until the first odometry sample after it. Until then the
	// reset sample carries the estimator's own clock, which may not share the odometry time base.
	anchored bool
}

func (b *poseBuffer) reset(s sample) {
	b.samples = append(b.samples[:0], s)
	b.anchored = false
}

func (b *poseBuffer) latest() sample {
	return b.samples[len(b.samples)-1]
}

// add appends a sample and drops history older than the window, keeping the last sample at or
// before the window edge so the edge itself can still be interpolated.
func (b *poseBuffer) add(s sample) {
	if !b.anchored {
		// the first sample after a reset moves the reset back onto the odometry time base
		if s.t.Before(b.samples[0].t) {
			b.samples[0].t = s.t
		}
		b.anchored = true
	}
	if last := b.latest(); s.t.Before(last.t) {
		s.t = last.t
	}
	b.samples = append(b.samples, s)
	if extra := len(b.samples) - maxBufferSamples; extra > 0 {
		b.samples = append(b.samples[:0], b.samples[extra:]...)
	}

	edge := s.t.Add(-b.window)
	drop := 0
	for drop+1 < len(b.samples) && !b.samples[drop+1].t.After(edge) {
		drop++
	}
	if drop > 0 {
		b.samples = append(b.samples[:0], b.samples[drop:]...)
	}
}

// covers reports whether t falls inside the buffered history.
func (b *poseBuffer) covers(t time.Time) bool {
	latest := b.latest().t
	if t.Before(latest.Add(-b.window)) {
		return false
	}
	return !t.Before(b.samples[0].t)
}

// index returns the last sample taken at or before t.
func (b *poseBuffer) index(t time.Time) int {
	i := sort.Search(len(b.samples), func(i int) bool { return b.samples[i].t.After(t) })
	if i == 0 {
		return 0
	}
	return i - 1
}

// poseAt interpolates the belief at t. t must be covered.
func (b *poseBuffer) poseAt(t time.Time) spatialmath.Pose2D {
	i := b.index(t)
	if i == len(b.samples)-1 {
		return b.samples[i].pose
	}
	before, after := b.samples[i], b.samples[i+1]
	span := after.t.Sub(before.t)
	if span <= 0 {
		return after.pose
	}
	return before.pose.Interpolate(after.pose, float64(t.Sub(before.t))/float64(span))
}

// shift moves the belief at t by delta and replays every later odometry update on top of it,
// returning the replayed latest pose.
func (b *poseBuffer) shift(t time.Time, delta spatialmath.Pose2D) spatialmath.Pose2D {
	i := b.index(t)
	if i == len(b.samples)-1 {
		s := &b.samples[i]
		s.pose = spatialmath.NewPose2D(s.pose.X+delta.X, s.pose.Y+delta.Y, s.pose.Theta)
		return s.pose
	}
	prev := b.samples[i].pose
	prev = spatialmath.NewPose2D(prev.X+delta.X, prev.Y+delta.Y, prev.Theta)
	b.samples[i].pose = prev
	for k := i + 1; k < len(b.samples); k++ {
		s := &b.samples[k]
		s.pose = prev.Exp(s.twist).WithTheta(s.pose.Theta)
		prev = s.pose
	}
	return prev
}
