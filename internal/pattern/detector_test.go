package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightwatch/sentrycam/pkg/types"
)

// TestP1_HistoryStaysSortedByTimestamp inserts out of order and expects I1
// to hold regardless of insertion order.
func TestP1_HistoryStaysSortedByTimestamp(t *testing.T) {
	d := New(nil, 30, 120, time.Second, nil, nil)

	d.AddToStateHistory(step(types.DoorClosed, 5), false)
	d.AddToStateHistory(step(types.DoorOpen, 1), false)
	d.AddToStateHistory(step(types.MotionInsideMask, 3), false)

	hist := d.GetStateHistoryAfter(-1)
	require.Len(t, hist, 3)
	for i := 1; i < len(hist); i++ {
		assert.LessOrEqual(t, hist[i-1].Ts, hist[i].Ts)
	}
}

// TestP2_AvoidDuplicatesRefusesAdjacentSameState checks I2: back-to-back
// identical states from one producer are rejected when avoidDuplicates is
// set, but two different states in a row are both kept.
func TestP2_AvoidDuplicatesRefusesAdjacentSameState(t *testing.T) {
	d := New(nil, 30, 120, time.Second, nil, nil)

	ok1 := d.AddToStateHistory(step(types.MotionInsideMask, 1), true)
	ok2 := d.AddToStateHistory(step(types.MotionInsideMask, 2), true)
	ok3 := d.AddToStateHistory(step(types.MotionOutsideMask, 3), true)

	assert.True(t, ok1)
	assert.False(t, ok2, "adjacent identical state must be refused")
	assert.True(t, ok3)

	hist := d.GetStateHistoryAfter(-1)
	assert.Len(t, hist, 2)
}

// TestP3_PruneRespectsShortWindow confirms pruning in short mode drops
// everything older than L_short relative to the newest entry.
func TestP3_PruneRespectsShortWindow(t *testing.T) {
	d := New(nil, 10, 60, time.Second, nil, nil)

	d.AddToStateHistory(step(types.DoorOpen, 0), false)
	d.AddToStateHistory(step(types.DoorClosed, 5), false)
	d.AddToStateHistory(step(types.DoorOpen, 25), false)

	d.pruneStateHistory(false)

	hist := d.GetStateHistoryAfter(-1)
	for _, s := range hist {
		assert.LessOrEqual(t, 25-s.Ts, 10.0)
	}
	require.Len(t, hist, 1)
}

// TestP3_PruneRespectsPartialWindow confirms the wider retention window is
// used whenever any pattern is mid-match.
func TestP3_PruneRespectsPartialWindow(t *testing.T) {
	d := New(nil, 10, 60, time.Second, nil, nil)

	d.AddToStateHistory(step(types.DoorOpen, 0), false)
	d.AddToStateHistory(step(types.DoorClosed, 5), false)
	d.AddToStateHistory(step(types.DoorOpen, 25), false)

	d.pruneStateHistory(true)

	hist := d.GetStateHistoryAfter(-1)
	assert.Len(t, hist, 3, "partial-match window must retain older steps")
}

// TestEvaluate_FiresOnMatchAndClearsHistory exercises the whole evaluation
// pass: a MATCHED pattern fires the handler once with the newest
// OBJECT_DETECTED attrs and clears the consumed history.
func TestEvaluate_FiresOnMatchAndClearsHistory(t *testing.T) {
	var firedID string
	var firedAttrs *types.ObjectAttrs
	handler := func(id string, attrs *types.ObjectAttrs, ts float64) {
		firedID = id
		firedAttrs = attrs
	}

	pattern := types.Pattern{
		ID: "door-enter",
		Steps: []types.PatternStep{
			types.MotionOutsideMask, types.DoorOpen, types.DoorClosed,
		},
	}
	d := New([]types.Pattern{pattern}, 30, 120, time.Hour, handler, nil)

	attrs := &types.ObjectAttrs{Label: "person", Score: 0.9}
	d.AddToStateHistory(step(types.MotionOutsideMask, 1), false)
	d.AddToStateHistory(types.StateHistoryStep{State: types.ObjectDetected, Ts: 1.5, Attrs: attrs}, false)
	d.AddToStateHistory(step(types.DoorOpen, 2), false)
	d.AddToStateHistory(step(types.DoorClosed, 3), false)

	d.Evaluate()

	assert.Equal(t, "door-enter", firedID)
	require.NotNil(t, firedAttrs)
	assert.Equal(t, "person", firedAttrs.Label)
	assert.Empty(t, d.GetStateHistoryAfter(-1), "matched history should be cleared through ts_commit")
}

// fakeCommittedOffsetSource lets tests control nowTs() directly.
type fakeCommittedOffsetSource struct {
	offset types.CommittedOffset
}

func (f fakeCommittedOffsetSource) CommittedOffset() types.CommittedOffset {
	return f.offset
}

// TestNowTs_UsesMinimumCommittedOffsetAcrossSources checks that nowTs takes
// the minimum of all non-Current offsets, and falls back to the newest
// history timestamp when every source is Current.
func TestNowTs_UsesMinimumCommittedOffsetAcrossSources(t *testing.T) {
	d := New(nil, 30, 120, time.Second, nil, nil)
	d.AddToStateHistory(step(types.DoorOpen, 100), false)

	assert.Equal(t, 100.0, d.nowTs(), "falls back to newest history ts with no sources")

	d.RegisterSource(fakeCommittedOffsetSource{offset: types.Current()})
	assert.Equal(t, 100.0, d.nowTs(), "all-Current sources use the fallback")

	d.RegisterSource(fakeCommittedOffsetSource{offset: types.At(42)})
	assert.Equal(t, 42.0, d.nowTs(), "lagging source's offset becomes now")
}
