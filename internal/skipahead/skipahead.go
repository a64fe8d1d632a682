// Package skipahead implements the skip-ahead optimizer (C8): before an
// expensive producer does work for a given state type, it asks whether any
// configured pattern is currently waiting on that type, and skips the work
// if not. Grounded on detection/StateDetectorBase.py and
// detection/pattern_detector_task_skipper.py from the reference
// implementation.
package skipahead

import (
	"reflect"
	"sync/atomic"

	"github.com/nightwatch/sentrycam/internal/logger"
	"github.com/nightwatch/sentrycam/internal/metrics"
	"github.com/nightwatch/sentrycam/pkg/types"
)

const logModule = "skipahead"

// Optimizer decides whether a producer should skip doing work for a task
// arriving at timestamp ts.
type Optimizer interface {
	ShouldSkip(ts float64) bool
}

// patternStateSource is the subset of *pattern.Detector a skip-ahead
// optimizer needs; declared locally to avoid an import cycle with
// internal/pattern (pattern never needs to know about its consumers).
type patternStateSource interface {
	StatesInDemand(ts float64) []types.State
}

// speedup tracks the skipped/total counter shared by every optimizer
// variant, mirroring SkipAheadOptimizer.measure_speedup.
type speedup struct {
	total   atomic.Uint64
	skipped atomic.Uint64
	met     *metrics.Metrics
}

func (s *speedup) record(skip bool) {
	s.total.Add(1)
	if s.met != nil {
		s.met.SkipAheadTotal.Add(1)
	}
	if skip {
		s.skipped.Add(1)
		if s.met != nil {
			s.met.SkipAheadSkipped.Add(1)
		}
	}
}

// Ratio returns the current skipped/total ratio, 0 if nothing has been
// measured yet.
func (s *speedup) Ratio() float64 {
	total := s.total.Load()
	if total == 0 {
		return 0
	}
	return float64(s.skipped.Load()) / float64(total)
}

// PatternBased skips a task at ts unless its state type appears in the
// pattern detector's states-in-demand set at that same ts.
type PatternBased struct {
	speedup
	detector      patternStateSource
	skipStateType types.State
}

// NewPatternBased builds an optimizer for a producer whose output state
// type is skipStateType (e.g. types.MotionOutsideMask's underlying type, or
// any sentinel value of the right concrete State type).
func NewPatternBased(detector patternStateSource, skipStateType types.State, met *metrics.Metrics) *PatternBased {
	return &PatternBased{
		speedup:       speedup{met: met},
		detector:      detector,
		skipStateType: skipStateType,
	}
}

// ShouldSkip implements Optimizer.
func (p *PatternBased) ShouldSkip(ts float64) bool {
	wanted := p.detector.StatesInDemand(ts)

	skip := true
	for _, s := range wanted {
		if reflect.TypeOf(s) == reflect.TypeOf(p.skipStateType) {
			skip = false
			break
		}
	}

	p.record(skip)
	logger.Debug(logModule, "%v detector speedup: %.1f%% (%d/%d)", p.skipStateType, p.Ratio()*100, p.skipped.Load(), p.total.Load())
	return skip
}

// Default never skips — used when pattern detection is disabled, so every
// producer always does full work.
type Default struct{}

// ShouldSkip implements Optimizer; Default always returns false.
func (Default) ShouldSkip(ts float64) bool { return false }
