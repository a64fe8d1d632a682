package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightwatch/sentrycam/internal/config"
	"github.com/nightwatch/sentrycam/pkg/types"
)

func TestStateNamed(t *testing.T) {
	cases := []struct {
		name string
		want types.State
	}{
		{"DOOR_OPEN", types.DoorOpen},
		{"DOOR_CLOSED", types.DoorClosed},
		{"MOTION_INSIDE_MASK", types.MotionInsideMask},
		{"MOTION_OUTSIDE_MASK", types.MotionOutsideMask},
		{"NO_MOTION", types.MotionNone},
		{"OBJECT_DETECTED", types.ObjectDetected},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, stateNamed(c.name))
		})
	}
	assert.Nil(t, stateNamed("NOT_A_REAL_STATE"))
}

func TestBuildPatterns_DisabledReturnsNil(t *testing.T) {
	assert.Nil(t, buildPatterns(config.PatternConfig{Enabled: false, Patterns: []config.PatternConfig1{
		{ID: "p1", Steps: []config.PatternStepConfig{{State: "DOOR_OPEN"}}},
	}}))
}

func TestBuildPatterns_TranslatesStepsAndSkipsUnknownStates(t *testing.T) {
	patterns := buildPatterns(config.PatternConfig{
		Enabled: true,
		Patterns: []config.PatternConfig1{
			{
				ID: "person-entering",
				Steps: []config.PatternStepConfig{
					{State: "MOTION_OUTSIDE_MASK"},
					{State: "DOOR_OPEN"},
					{State: "DOOR_CLOSED"},
					{State: "BOGUS_STATE"},
					{State: "OBJECT_DETECTED", NotState: true, DurationSecs: 5},
				},
			},
		},
	})

	require.Len(t, patterns, 1)
	assert.Equal(t, "person-entering", patterns[0].ID)
	require.Len(t, patterns[0].Steps, 4, "the unknown state step should be skipped")

	assert.Equal(t, types.MotionOutsideMask, patterns[0].Steps[0])
	assert.Equal(t, types.DoorOpen, patterns[0].Steps[1])
	assert.Equal(t, types.DoorClosed, patterns[0].Steps[2])

	ns, ok := patterns[0].Steps[3].(types.NotState)
	require.True(t, ok, "trailing not_state step should become a types.NotState")
	assert.Equal(t, types.ObjectDetected, ns.State)
	assert.Equal(t, 5.0, ns.Duration)
}

func TestBuildPatterns_MultiplePatterns(t *testing.T) {
	patterns := buildPatterns(config.PatternConfig{
		Enabled: true,
		Patterns: []config.PatternConfig1{
			{ID: "a", Steps: []config.PatternStepConfig{{State: "DOOR_OPEN"}}},
			{ID: "b", Steps: []config.PatternStepConfig{{State: "DOOR_CLOSED"}}},
		},
	})

	require.Len(t, patterns, 2)
	assert.Equal(t, "a", patterns[0].ID)
	assert.Equal(t, "b", patterns[1].ID)
}
