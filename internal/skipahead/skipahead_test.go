package skipahead

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nightwatch/sentrycam/pkg/types"
)

type fakeDetector struct {
	wanted []types.State
}

func (f *fakeDetector) StatesInDemand(ts float64) []types.State {
	return f.wanted
}

func TestPatternBased_SkipsWhenStateNotInDemand(t *testing.T) {
	det := &fakeDetector{wanted: []types.State{types.DoorOpen}}
	opt := NewPatternBased(det, types.MotionOutsideMask, nil)

	assert.True(t, opt.ShouldSkip(10))
	assert.Equal(t, 1.0, opt.Ratio())
}

func TestPatternBased_DoesNotSkipWhenStateInDemand(t *testing.T) {
	det := &fakeDetector{wanted: []types.State{types.MotionOutsideMask, types.DoorOpen}}
	opt := NewPatternBased(det, types.MotionOutsideMask, nil)

	assert.False(t, opt.ShouldSkip(10))
	assert.Equal(t, 0.0, opt.Ratio())
}

func TestPatternBased_RatioAccumulatesOverCalls(t *testing.T) {
	det := &fakeDetector{wanted: nil}
	opt := NewPatternBased(det, types.MotionOutsideMask, nil)

	opt.ShouldSkip(1)
	opt.ShouldSkip(2)
	det.wanted = []types.State{types.MotionOutsideMask}
	opt.ShouldSkip(3)

	assert.InDelta(t, 2.0/3.0, opt.Ratio(), 0.001)
}

func TestDefault_NeverSkips(t *testing.T) {
	var d Default
	assert.False(t, d.ShouldSkip(0))
	assert.False(t, d.ShouldSkip(100))
}
