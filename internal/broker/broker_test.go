package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightwatch/sentrycam/internal/queue"
	"github.com/nightwatch/sentrycam/internal/statemanager"
)

type fakeObjectStates struct {
	calls []statemanager.ObjectDetection
}

func (f *fakeObjectStates) AddState(label string, score float64, imagePath string, ts float64) {
	f.calls = append(f.calls, statemanager.ObjectDetection{Label: label, Score: score, ImagePath: imagePath, Ts: ts})
}

func TestBroker_ForwardsDoorAndMotionNotificationsAsIs(t *testing.T) {
	in := queue.New[statemanager.Notification](4, queue.Blocking)
	out := queue.New[statemanager.Notification](4, queue.Blocking)
	b := New(in, out, nil, false)
	go b.Run()
	defer b.Stop()

	in.Enqueue(statemanager.Notification{Type: statemanager.DoorStateChanged, Payload: "DOOR_OPEN"})
	in.Enqueue(statemanager.Notification{Type: statemanager.MotionStateChanged, Payload: "MOTION_INSIDE_MASK"})
	in.Enqueue(statemanager.Notification{Type: statemanager.PatternDetected, Payload: "pattern-1"})

	require.Eventually(t, func() bool { return out.Size() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, statemanager.DoorStateChanged, out.Dequeue().Type)
	assert.Equal(t, statemanager.MotionStateChanged, out.Dequeue().Type)
	assert.Equal(t, statemanager.PatternDetected, out.Dequeue().Type)
}

func TestBroker_RoutesObjectDetectedThroughStateManagerWhenPatternDetectionEnabled(t *testing.T) {
	in := queue.New[statemanager.Notification](4, queue.Blocking)
	out := queue.New[statemanager.Notification](4, queue.Blocking)
	states := &fakeObjectStates{}
	b := New(in, out, states, true)
	go b.Run()
	defer b.Stop()

	in.Enqueue(statemanager.Notification{
		Type:    statemanager.ObjectDetectedNotification,
		Payload: statemanager.ObjectDetection{Label: "cat", Score: 0.9, ImagePath: "/tmp/x.jpg", Ts: 42},
	})

	require.Eventually(t, func() bool { return len(states.calls) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "cat", states.calls[0].Label)
	assert.Equal(t, 42.0, states.calls[0].Ts)
	assert.Equal(t, 0, out.Size(), "the raw OBJECT_DETECTED form must never itself reach the notifier queue")
}

func TestBroker_ForwardsObjectDetectedWhenPatternDetectionDisabled(t *testing.T) {
	in := queue.New[statemanager.Notification](4, queue.Blocking)
	out := queue.New[statemanager.Notification](4, queue.Blocking)
	b := New(in, out, nil, false)
	go b.Run()
	defer b.Stop()

	in.Enqueue(statemanager.Notification{
		Type:    statemanager.ObjectDetectedNotification,
		Payload: statemanager.ObjectDetection{Label: "cat", Score: 0.9, ImagePath: "/tmp/x.jpg", Ts: 1},
	})

	require.Eventually(t, func() bool { return out.Size() == 1 }, time.Second, 5*time.Millisecond)
	forwarded := out.Dequeue()
	assert.Equal(t, statemanager.ObjectDetectedNotification, forwarded.Type)
	payload, ok := forwarded.Payload.(statemanager.ObjectDetection)
	require.True(t, ok)
	assert.Equal(t, "cat", payload.Label)
	assert.Equal(t, 1.0, payload.Ts)
}

func TestPublisher_EnqueuesObjectDetectedNotification(t *testing.T) {
	out := queue.New[statemanager.Notification](1, queue.Blocking)
	p := NewPublisher(out)
	p.AddState("dog", 0.7, "/tmp/dog.jpg", 5)

	n := out.Dequeue()
	require.Equal(t, statemanager.ObjectDetectedNotification, n.Type)
	payload, ok := n.Payload.(statemanager.ObjectDetection)
	require.True(t, ok)
	assert.Equal(t, "dog", payload.Label)
}
