// Package pattern implements the temporal pattern detector (C7): an
// timestamp-ordered state history and a subsequence matcher
// that evaluates configured patterns against it on a fixed interval,
// grounded on detection/pattern_detector.py from the reference
// implementation.
package pattern

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nightwatch/sentrycam/internal/logger"
	"github.com/nightwatch/sentrycam/internal/metrics"
	"github.com/nightwatch/sentrycam/pkg/types"
)

// CommittedOffsetSource is anything that can report how far its producer has
// committed state into the shared history — the state managers (C6) each
// implement this so the detector can compute a lag-safe "now".
type CommittedOffsetSource interface {
	CommittedOffset() types.CommittedOffset
}

// MatchHandler is invoked once per pattern whose evaluation transitions to
// MATCHED, carrying the attributes of the newest OBJECT_DETECTED step seen
// before the match was cleared (nil if no step in the history carries
// attrs).
type MatchHandler func(patternID string, attrs *types.ObjectAttrs, ts float64)

// Detector holds the ordered state history and evaluates configured
// patterns against it every interval, mirroring the reference
// PatternDetector's RepeatedTimer loop.
type Detector struct {
	mu      sync.Mutex
	history []types.StateHistoryStep

	patterns        []types.Pattern
	shortWindow     float64 // state_history_length
	partialWindow   float64 // state_history_length_partial
	interval        time.Duration

	sources []CommittedOffsetSource
	onMatch MatchHandler

	met *metrics.Metrics
}

const logModule = "pattern"

// New constructs a Detector. patterns are evaluated in the given order on
// every tick; shortWindow/partialWindow are retention windows in seconds
// (I3); interval is the evaluation period (Δ).
func New(patterns []types.Pattern, shortWindow, partialWindow float64, interval time.Duration, onMatch MatchHandler, met *metrics.Metrics) *Detector {
	return &Detector{
		patterns:      patterns,
		shortWindow:   shortWindow,
		partialWindow: partialWindow,
		interval:      interval,
		onMatch:       onMatch,
		met:           met,
	}
}

// RegisterSource adds a state-manager handle whose CommittedOffset()
// contributes to the min-committed-offset computation used as "now" for
// lag-aware trailing-NotState evaluation.
func (d *Detector) RegisterSource(src CommittedOffsetSource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources = append(d.sources, src)
}

// AddToStateHistory inserts step into the ordered history, maintaining I1
// (sorted by Ts) via binary-search insertion. When avoidDuplicates is true
// and the immediately preceding entry has the same State, the insert is
// refused (I2) and false is returned.
func (d *Detector) AddToStateHistory(step types.StateHistoryStep, avoidDuplicates bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := sort.Search(len(d.history), func(i int) bool {
		return d.history[i].Ts >= step.Ts
	})

	if avoidDuplicates && idx > 0 {
		prev := d.history[idx-1]
		if statesEqual(prev.State, step.State) {
			return false
		}
	}

	d.history = append(d.history, types.StateHistoryStep{})
	copy(d.history[idx+1:], d.history[idx:])
	d.history[idx] = step
	return true
}

// GetStateHistoryTill returns a snapshot of every history entry with
// Ts <= ts.
func (d *Detector) GetStateHistoryTill(ts float64) []types.StateHistoryStep {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := sort.Search(len(d.history), func(i int) bool {
		return d.history[i].Ts > ts
	})
	out := make([]types.StateHistoryStep, idx)
	copy(out, d.history[:idx])
	return out
}

// GetStateHistoryAfter returns a snapshot of every history entry with
// Ts > ts.
func (d *Detector) GetStateHistoryAfter(ts float64) []types.StateHistoryStep {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := sort.Search(len(d.history), func(i int) bool {
		return d.history[i].Ts > ts
	})
	out := make([]types.StateHistoryStep, len(d.history)-idx)
	copy(out, d.history[idx:])
	return out
}

// StatesInDemand reports, for every configured pattern, the set of state
// types the matcher is currently waiting for at a virtual "now" of ts —
// consulted by the skip-ahead optimizer (C8) before doing expensive work for
// a state type nothing is currently interested in.
func (d *Detector) StatesInDemand(ts float64) []types.State {
	d.mu.Lock()
	hist := make([]types.StateHistoryStep, len(d.history))
	copy(hist, d.history)
	patterns := make([]types.Pattern, len(d.patterns))
	copy(patterns, d.patterns)
	d.mu.Unlock()

	seen := make(map[types.State]bool)
	var out []types.State
	for _, p := range patterns {
		for _, ps := range WantedStates(p.Steps, hist, ts) {
			var s types.State
			switch v := ps.(type) {
			case types.NotState:
				s = v.State
			default:
				if st, ok := v.(types.State); ok {
					s = st
				} else {
					continue
				}
			}
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// nowTs computes the lag-safe "now" used for trailing-NotState evaluation:
// the minimum committed offset across every registered source, falling back
// to the newest history timestamp when no source is registered or every
// source reports Current() (no lag to account for).
func (d *Detector) nowTs() float64 {
	d.mu.Lock()
	sources := make([]CommittedOffsetSource, len(d.sources))
	copy(sources, d.sources)
	var fallback float64
	if len(d.history) > 0 {
		fallback = d.history[len(d.history)-1].Ts
	}
	d.mu.Unlock()

	now := fallback
	haveLag := false
	for _, src := range sources {
		off := src.CommittedOffset()
		if off.IsCurrent() {
			continue
		}
		if !haveLag || off.Ts() < now {
			now = off.Ts()
			haveLag = true
		}
	}
	return now
}

// Evaluate runs one detection pass: evaluates every configured pattern in
// order against the current history, fires onMatch and clears history on
// MATCHED, then prunes per I3. Exposed directly for tests; Run drives this
// on a ticker.
func (d *Detector) Evaluate() {
	now := d.nowTs()

	d.mu.Lock()
	hist := make([]types.StateHistoryStep, len(d.history))
	copy(hist, d.history)
	d.mu.Unlock()

	anyPartial := false
	for _, p := range d.patterns {
		result := MatchPattern(p.Steps, hist, now)
		switch result {
		case types.Matched:
			if d.met != nil {
				d.met.PatternsMatched.Add(1)
			}
			attrs := newestObjectAttrs(hist)
			tsCommit := now
			d.clearHistoryThrough(tsCommit)
			if d.onMatch != nil {
				d.onMatch(p.ID, attrs, tsCommit)
			}
			d.mu.Lock()
			hist = make([]types.StateHistoryStep, len(d.history))
			copy(hist, d.history)
			d.mu.Unlock()
		case types.PartialMatch:
			anyPartial = true
			if d.met != nil {
				d.met.PatternsPartial.Add(1)
			}
		}
	}

	d.pruneStateHistory(anyPartial)
}

// clearHistoryThrough removes every history entry with Ts <= tsCommit: the
// lag-aware "clear up to and including the committed offset" rule — a
// producer that has not yet committed past tsCommit may still legitimately
// emit more steps at or before it, so those must not be treated as
// consumed by the match that just fired.
func (d *Detector) clearHistoryThrough(tsCommit float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := sort.Search(len(d.history), func(i int) bool {
		return d.history[i].Ts > tsCommit
	})
	d.history = append([]types.StateHistoryStep(nil), d.history[idx:]...)
}

// pruneStateHistory drops entries older than the retention window: the
// short window normally, the longer partial window whenever some pattern is
// currently mid-match, mirroring prune_state_history.
func (d *Detector) pruneStateHistory(anyPartialMatch bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.history) == 0 {
		return
	}
	window := d.shortWindow
	if anyPartialMatch {
		window = d.partialWindow
	}
	cutoff := d.history[len(d.history)-1].Ts - window
	idx := sort.Search(len(d.history), func(i int) bool {
		return d.history[i].Ts >= cutoff
	})
	if idx > 0 {
		d.history = append([]types.StateHistoryStep(nil), d.history[idx:]...)
	}
}

// newestObjectAttrs returns the attrs of the most recent OBJECT_DETECTED
// step in hist, or nil if there isn't one — used to carry a detection image
// path/label/score out to the notifier when a pattern completes.
func newestObjectAttrs(hist []types.StateHistoryStep) *types.ObjectAttrs {
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Attrs != nil {
			return hist[i].Attrs
		}
	}
	return nil
}

// Run drives Evaluate on the configured interval until ctx is cancelled, as
// its own goroutine (the reference implementation uses a RepeatedTimer
// background thread for the same purpose).
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(logModule, "pattern detector stopping")
			return
		case <-ticker.C:
			d.Evaluate()
		}
	}
}
