package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nightwatch/sentrycam/internal/config"
	"github.com/nightwatch/sentrycam/internal/motion"
	"github.com/nightwatch/sentrycam/internal/objectdetector"
	"github.com/nightwatch/sentrycam/pkg/types"
)

func solidFrame(t *testing.T, r, g, b uint8) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(20, 20, gocv.MatTypeCV8UC3)
	m.SetTo(gocv.NewScalar(float64(b), float64(g), float64(r), 0))
	return m
}

// fakeFrameSource yields a fixed slice of frames then reports EOF.
type fakeFrameSource struct {
	frames []types.Frame
	idx    int
	stops  int
}

func (f *fakeFrameSource) Start() {}
func (f *fakeFrameSource) Read() (types.Frame, bool) {
	if f.idx >= len(f.frames) {
		return types.Frame{}, false
	}
	fr := f.frames[f.idx]
	f.idx++
	return fr, true
}
func (f *fakeFrameSource) Stop() { f.stops++ }

type fakeTaskSink struct {
	tasks []*objectdetector.Task
}

func (s *fakeTaskSink) AddTask(t *objectdetector.Task) { s.tasks = append(s.tasks, t) }

type fakeDoorDetector struct {
	state types.DoorState
	calls int
}

func (d *fakeDoorDetector) Detect(frame gocv.Mat) types.DoorState {
	d.calls++
	return d.state
}

type fakeDoorMgr struct {
	calls []types.DoorState
}

func (m *fakeDoorMgr) AddState(state types.DoorState, ts float64) { m.calls = append(m.calls, state) }

type fakeMotionMgr struct {
	calls []types.MotionState
}

func (m *fakeMotionMgr) AddState(state types.MotionState, ts float64) { m.calls = append(m.calls, state) }

func TestOrchestrator_ApplyMotionDetectionFalse_EnqueuesFullFrameEveryFrame(t *testing.T) {
	sink := &fakeTaskSink{}
	o := New(Config{
		Source:               &fakeFrameSource{},
		ApplyMotionDetection: false,
		ObjectWorker:         sink,
		FrameRate:            0,
	})

	frame := types.Frame{Mat: solidFrame(t, 10, 10, 10), Ts: 1.5}
	o.processFrame(frame)

	require.Len(t, sink.tasks, 1)
	assert.Equal(t, 0, sink.tasks[0].CropOffset.X)
	assert.Equal(t, 0, sink.tasks[0].CropOffset.Y)
	assert.Equal(t, 1.5, sink.tasks[0].Ts)
	assert.True(t, sink.tasks[0].Crop.Ptr() == sink.tasks[0].Frame.Ptr(),
		"with motion detection disabled, crop is the whole frame")

	display, ok := o.LatestFrame(time.Second)
	require.True(t, ok)
	assert.Equal(t, 1.5, display.Ts)
	// The orchestrator owns the display Mat's lifecycle; Shutdown releases it.
	o.Shutdown(context.Background(), ShutdownDeps{})
	sink.tasks[0].Frame.Close()
}

func TestOrchestrator_DoorDetectorPresent_UpdatesBothStateManagersTogether(t *testing.T) {
	sink := &fakeTaskSink{}
	doorDet := &fakeDoorDetector{state: types.DoorClosed}
	doorMgr := &fakeDoorMgr{}
	motionMgr := &fakeMotionMgr{}
	motionDet := motion.New(config.MotionConfig{})

	o := New(Config{
		Source:               &fakeFrameSource{},
		ApplyMotionDetection: true,
		MotionDetector:       motionDet,
		DoorDetector:         doorDet,
		DoorStateManager:     doorMgr,
		MotionStateManager:   motionMgr,
		ObjectWorker:         sink,
	})

	frame := types.Frame{Mat: solidFrame(t, 50, 50, 50), Ts: 2}
	o.processFrame(frame)

	assert.Equal(t, 1, doorDet.calls)
	require.Len(t, doorMgr.calls, 1)
	assert.Equal(t, types.DoorClosed, doorMgr.calls[0])
	require.Len(t, motionMgr.calls, 1)

	_, ok := o.LatestFrame(time.Second)
	require.True(t, ok)
	o.Shutdown(context.Background(), ShutdownDeps{})
	motionDet.Close()
	for _, task := range sink.tasks {
		task.Frame.Close()
		if task.Crop.Ptr() != task.Frame.Ptr() {
			task.Crop.Close()
		}
	}
}

func TestOrchestrator_NoDoorDetector_SkipsStateManagers(t *testing.T) {
	sink := &fakeTaskSink{}
	motionDet := motion.New(config.MotionConfig{})
	o := New(Config{
		Source:               &fakeFrameSource{},
		ApplyMotionDetection: true,
		MotionDetector:       motionDet,
		ObjectWorker:         sink,
	})

	frame := types.Frame{Mat: solidFrame(t, 1, 2, 3), Ts: 9}
	require.NotPanics(t, func() { o.processFrame(frame) })

	_, ok := o.LatestFrame(time.Second)
	require.True(t, ok)
	o.Shutdown(context.Background(), ShutdownDeps{})
	motionDet.Close()
	for _, task := range sink.tasks {
		task.Frame.Close()
		if task.Crop.Ptr() != task.Frame.Ptr() {
			task.Crop.Close()
		}
	}
}

func TestOrchestrator_Run_StopsOnFrameSourceEOF(t *testing.T) {
	frames := []types.Frame{
		{Mat: solidFrame(t, 4, 4, 4), Ts: 1},
		{Mat: solidFrame(t, 5, 5, 5), Ts: 2},
	}
	source := &fakeFrameSource{frames: frames}
	sink := &fakeTaskSink{}
	o := New(Config{
		Source:               source,
		ApplyMotionDetection: false,
		ObjectWorker:         sink,
	})

	done := make(chan struct{})
	go func() {
		o.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the frame source reached EOF")
	}

	assert.Len(t, sink.tasks, 2)
	for _, task := range sink.tasks {
		task.Frame.Close()
	}
	o.Shutdown(context.Background(), ShutdownDeps{})
}

type orderRecorder struct {
	order []string
}

func (r *orderRecorder) record(step string) { r.order = append(r.order, step) }

type fakeWaiter struct {
	rec  *orderRecorder
	name string
}

func (f fakeWaiter) WaitForEmpty(time.Duration) bool {
	f.rec.record(f.name)
	return true
}

type fakeFlushable struct {
	rec *orderRecorder
}

func (f *fakeFlushable) AddToStateHistory(step types.StateHistoryStep, avoidDuplicates bool) bool {
	f.rec.record("flush-add")
	return true
}
func (f *fakeFlushable) Evaluate() { f.rec.record("flush-evaluate") }

type fakeBroker struct {
	rec *orderRecorder
}

func (f *fakeBroker) Stop() { f.rec.record("broker-stop") }

func TestOrchestrator_Shutdown_RunsStepsInOrder(t *testing.T) {
	rec := &orderRecorder{}
	source := &fakeFrameSource{}
	o := New(Config{Source: source, ObjectWorker: &fakeTaskSink{}})

	cancelCalled := false
	o.Shutdown(context.Background(), ShutdownDeps{
		ObjectDetectorQueue: fakeWaiter{rec: rec, name: "od-drain"},
		PatternDetector:     &fakeFlushable{rec: rec},
		BrokerQueue:         fakeWaiter{rec: rec, name: "broker-drain"},
		NotifierQueue:       fakeWaiter{rec: rec, name: "notifier-drain"},
		Broker:              &fakeBroker{rec: rec},
		CancelPatternTimer:  func() { cancelCalled = true },
	})

	assert.Equal(t, 1, source.stops)
	assert.True(t, cancelCalled)
	assert.Equal(t, []string{
		"od-drain",
		"flush-add",
		"flush-evaluate",
		"broker-drain",
		"notifier-drain",
		"broker-stop",
	}, rec.order)
}

func TestMapMotionState(t *testing.T) {
	assert.Equal(t, types.MotionNone, mapMotionState(nil))
	outside := true
	assert.Equal(t, types.MotionOutsideMask, mapMotionState(&outside))
	inside := false
	assert.Equal(t, types.MotionInsideMask, mapMotionState(&inside))
}
