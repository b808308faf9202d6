// Package control runs the periodic robot cycle: every tick it runs a fixed list of steps in order,
// and between ticks it runs requests, such as resets, that must not overlap a cycle.
package control

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/nar3128/swervepose/logging"
	"github.com/nar3128/swervepose/utils"
)

// MaxFrequency is the fastest a loop may run, in Hz.
const MaxFrequency = 200.0

// Step is one stage of a cycle.
type Step func(ctx context.Context) error

// LoopConfig configures a Loop.
type LoopConfig struct {
	// Frequency is how many cycles run per second.
	Frequency float64 `json:"frequency"`
}

// Validate checks the frequency is in (0, MaxFrequency].
func (c LoopConfig) Validate() error {
	if c.Frequency <= 0 || c.Frequency > MaxFrequency {
		return errors.Errorf("loop frequency must be in (0, %v] Hz, got %v", MaxFrequency, c.Frequency)
	}
	return nil
}

// Period is the time between cycles.
func (c LoopConfig) Period() time.Duration {
	return time.Duration(float64(time.Second) / c.Frequency)
}

type request struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Loop runs its steps once per period on a single goroutine.
type Loop struct {
	cfg    LoopConfig
	steps  []Step
	clk    clock.Clock
	logger logging.Logger

	requests chan request
	cycles   atomic.Int64

	mu      sync.Mutex
	workers utils.StoppableWorkers
}

// NewLoop returns a loop that has not been started.
func NewLoop(cfg LoopConfig, clk clock.Clock, logger logging.Logger, steps ...Step) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		cfg:      cfg,
		steps:    steps,
		clk:      clk,
		logger:   logger,
		requests: make(chan request),
	}, nil
}

// Start begins running cycles.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.workers != nil {
		return errors.New("loop already started")
	}
	ticker := l.clk.Ticker(l.cfg.Period())
	l.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		defer ticker.Stop()
		l.run(ctx, ticker)
	})
	l.logger.Debugw("control loop started", "frequency", l.cfg.Frequency)
	return nil
}

// Stop halts the loop and waits for the current cycle to finish. A stopped loop can be started
// again.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.workers == nil {
		return
	}
	l.workers.Stop()
	l.workers = nil
	l.logger.Debugw("control loop stopped", "cycles", l.cycles.Load())
}

func (l *Loop) run(ctx context.Context, ticker *clock.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-l.requests:
			req.done <- req.fn(req.ctx)
		case <-ticker.C:
			if err := l.cycle(ctx); err != nil {
				l.logger.Warnw("control cycle failed", "cycle", l.cycles.Load(), "error", err)
			}
		}
	}
}

func (l *Loop) cycle(ctx context.Context) error {
	var errs error
	for _, step := range l.steps {
		if ctx.Err() != nil {
			break
		}
		errs = multierr.Combine(errs, step(ctx))
	}
	l.cycles.Inc()
	return errs
}

// Do runs fn on the loop goroutine between two cycles and returns its error. When the loop is not
// running fn runs on the caller's goroutine.
func (l *Loop) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	workers := l.workers
	l.mu.Unlock()
	if workers == nil {
		return fn(ctx)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	req := request{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-workers.Context().Done():
		return errors.New("loop stopped")
	case l.requests <- req:
	}
	return <-req.done
}

// Cycles is the number of cycles run so far.
func (l *Loop) Cycles() int64 {
	return l.cycles.Load()
}
