package estimator

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/nar3128/swervepose/spatialmath"
)

// Outcome is what happened to a vision candidate.
type Outcome string

// Candidate outcomes.
const (
	OutcomeAccepted        Outcome = "accepted"
	OutcomeOverride        Outcome = "override"
	OutcomeRejectedOutlier Outcome = "rejected_outlier"
	OutcomeRejectedStale   Outcome = "rejected_stale"
)

// CorrectionEvent records the handling of one vision candidate.
type CorrectionEvent struct {
	Time      time.Time
	Camera    string
	MarkerID  int
	Candidate spatialmath.Pose2D
	// Belief is the pose the candidate was compared against, as of the candidate's capture time.
	Belief   spatialmath.Pose2D
	Distance float64
	// DivergenceCount is the counter after the event.
	DivergenceCount int
	Outcome         Outcome
	Reason          string
}

// Accepted reports whether the candidate moved the belief.
func (e CorrectionEvent) Accepted() bool {
	return e.Outcome == OutcomeAccepted || e.Outcome == OutcomeOverride
}

// Summary aggregates the events currently held by Diagnostics.
type Summary struct {
	Accepted  int
	Overrides int
	Outliers  int
	Stale     int

	// Distance statistics over accepted (not override) candidates. Zero when there are none.
	MeanDistance   float64
	MedianDistance float64
	MaxDistance    float64
	P95Distance    float64
}

// Diagnostics is a bounded history of correction events with optional subscribers.
type Diagnostics struct {
	mu       sync.Mutex
	capacity int
	events   []CorrectionEvent
	next     int
	full     bool

	subscribers map[int]func(CorrectionEvent)
	nextSubID   int
}

func newDiagnostics(capacity int) *Diagnostics {
	if capacity <= 0 {
		capacity = DefaultDiagnosticsCapacity
	}
	return &Diagnostics{
		capacity:    capacity,
		events:      make([]CorrectionEvent, capacity),
		subscribers: map[int]func(CorrectionEvent){},
	}
}

// Subscribe registers fn to be called with every future event. The returned function removes it.
// fn is called on the goroutine that handled the candidate and must not block.
func (d *Diagnostics) Subscribe(fn func(CorrectionEvent)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSubID
	d.nextSubID++
	d.subscribers[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subscribers, id)
	}
}

func (d *Diagnostics) record(event CorrectionEvent) {
	d.mu.Lock()
	d.events[d.next] = event
	d.next = (d.next + 1) % d.capacity
	if d.next == 0 {
		d.full = true
	}
	subs := make([]func(CorrectionEvent), 0, len(d.subscribers))
	for _, fn := range d.subscribers {
		subs = append(subs, fn)
	}
	d.mu.Unlock()

	for _, fn := range subs {
		fn(event)
	}
}

// Events returns the held events, oldest first.
func (d *Diagnostics) Events() []CorrectionEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.full {
		return append([]CorrectionEvent(nil), d.events[:d.next]...)
	}
	out := make([]CorrectionEvent, 0, d.capacity)
	out = append(out, d.events[d.next:]...)
	return append(out, d.events[:d.next]...)
}

// Summary counts the held events by outcome.
func (d *Diagnostics) Summary() Summary {
	var (
		summary   Summary
		distances stats.Float64Data
	)
	for _, e := range d.Events() {
		switch e.Outcome {
		case OutcomeAccepted:
			summary.Accepted++
			distances = append(distances, e.Distance)
		case OutcomeOverride:
			summary.Overrides++
		case OutcomeRejectedOutlier:
			summary.Outliers++
		case OutcomeRejectedStale:
			summary.Stale++
		}
	}
	if len(distances) == 0 {
		return summary
	}
	// errors only come from empty input
	summary.MeanDistance, _ = distances.Mean()
	summary.MedianDistance, _ = distances.Median()
	summary.MaxDistance, _ = distances.Max()
	summary.P95Distance, _ = distances.Percentile(95)
	return summary
}
