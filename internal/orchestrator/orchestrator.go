// Package orchestrator implements the stream orchestrator (C10): the single
// thread that drives the main pipeline — read a frame, run motion and door
// detection, hand a crop to the object detector worker, publish the
// annotated frame — plus the deterministic six-step shutdown sequence.
// Grounded on original_source/stream.py's StreamDetector.detect_objects and
// the teacher's cmd/server.Server (context/cancel + WaitGroup + explicit
// Shutdown shape).
package orchestrator

import (
	"context"
	"image"
	"math"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/nightwatch/sentrycam/internal/doorstate"
	"github.com/nightwatch/sentrycam/internal/framelimiter"
	"github.com/nightwatch/sentrycam/internal/framesource"
	"github.com/nightwatch/sentrycam/internal/logger"
	"github.com/nightwatch/sentrycam/internal/metrics"
	"github.com/nightwatch/sentrycam/internal/motion"
	"github.com/nightwatch/sentrycam/internal/objectdetector"
	"github.com/nightwatch/sentrycam/internal/queue"
	"github.com/nightwatch/sentrycam/pkg/types"
)

const logModule = "orchestrator"

// doorStateManager is the subset of *statemanager.DoorStateManager the
// orchestrator needs; declared locally to avoid an import cycle.
type doorStateManager interface {
	AddState(state types.DoorState, ts float64)
}

// motionStateManager is the subset of *statemanager.MotionStateManager the
// orchestrator needs.
type motionStateManager interface {
	AddState(state types.MotionState, ts float64)
}

// objectTaskSink is the subset of *objectdetector.Worker the orchestrator
// needs.
type objectTaskSink interface {
	AddTask(t *objectdetector.Task)
}

// Orchestrator drives the main detection loop on its own goroutine.
type Orchestrator struct {
	source framesource.FrameSource

	applyMotionDetection bool
	motionDet            *motion.Detector
	doorDet              doorstate.Detector // nil disables door-movement detection
	doorMgr              doorStateManager
	motionMgr            motionStateManager

	objWorker objectTaskSink
	display   *queue.Queue[types.Frame]
	haveLastDisplay bool
	lastDisplay     types.Frame

	limiter *framelimiter.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	met *metrics.Metrics
}

// Config bundles the collaborators New needs, named rather than positional
// since several share a type.
type Config struct {
	Source               framesource.FrameSource
	ApplyMotionDetection bool
	MotionDetector       *motion.Detector
	DoorDetector         doorstate.Detector // nil disables door-movement detection
	DoorStateManager     doorStateManager
	MotionStateManager   motionStateManager
	ObjectWorker         objectTaskSink
	FrameRate            float64 // md_fps
	Metrics              *metrics.Metrics
}

// New constructs an Orchestrator ready to Run.
func New(cfg Config) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		source:               cfg.Source,
		applyMotionDetection: cfg.ApplyMotionDetection,
		motionDet:            cfg.MotionDetector,
		doorDet:              cfg.DoorDetector,
		doorMgr:              cfg.DoorStateManager,
		motionMgr:            cfg.MotionStateManager,
		objWorker:            cfg.ObjectWorker,
		display:              queue.New[types.Frame](1, queue.DropOldest),
		limiter:              framelimiter.New(cfg.FrameRate),
		ctx:                  ctx,
		cancel:               cancel,
		met:                  cfg.Metrics,
	}
}

// Run drives the main loop until the frame source reaches EOF or Shutdown
// cancels the context. Intended to be called in its own goroutine.
func (o *Orchestrator) Run() {
	o.wg.Add(1)
	defer o.wg.Done()

	o.source.Start()
	for {
		select {
		case <-o.ctx.Done():
			logger.Info(logModule, "orchestrator stopping")
			return
		default:
		}

		frame, ok := o.source.Read()
		if !ok {
			logger.Info(logModule, "frame source reached end of stream")
			return
		}
		o.limiter.Wait()
		if o.met != nil {
			o.met.FramesRead.Add(1)
		}
		o.processFrame(frame)
	}
}

func (o *Orchestrator) processFrame(frame types.Frame) {
	if !o.applyMotionDetection {
		// No motion gating at all: every frame goes whole to the object
		// detector, mirroring detect_objects's tf_apply_md-false branch.
		display := frame.Clone()
		o.enqueueTask(frame.Mat, frame.Mat, image.Point{}, frame.Ts)
		o.publishDisplay(display)
		return
	}

	result := o.motionDet.Detect(frame.Mat)

	if o.doorDet != nil {
		state := o.doorDet.Detect(frame.Mat)
		o.doorMgr.AddState(state, frame.Ts)
		o.motionMgr.AddState(mapMotionState(result.MotionOutside), frame.Ts)
	}

	display := types.Frame{Mat: result.Annotated.Clone(), Ts: frame.Ts}

	if result.Crop != nil {
		box := *result.Crop
		crop := frame.Mat.Region(image.Rect(box.XMin, box.YMin, box.XMax, box.YMax))
		o.enqueueTask(frame.Mat, crop, image.Pt(box.XMin, box.YMin), frame.Ts)
	} else {
		frame.Close()
	}

	o.publishDisplay(display)
}

// enqueueTask hands frame/crop ownership to the object detector worker. Both
// Mats are released by the worker once consumed, never touched again here
// (internal/objectdetector.Worker.detect closes them, or Worker.Run for a
// skipped task).
func (o *Orchestrator) enqueueTask(frame, crop gocv.Mat, offset image.Point, ts float64) {
	o.objWorker.AddTask(&objectdetector.Task{
		Frame:      frame,
		Crop:       crop,
		CropOffset: offset,
		Ts:         ts,
	})
}

// publishDisplay replaces the singleton slot. Nothing in this pipeline
// currently drains the display queue (LatestFrame has no wired consumer
// yet), so the orchestrator itself owns every Mat it publishes here: the
// previously-published frame — the one the drop-oldest queue would
// otherwise silently evict and leak, since gocv.Mat is C-allocated and
// Queue[T] has no way to know T is closeable — is closed right before the
// new one takes its place. The final resident frame is closed by Shutdown.
func (o *Orchestrator) publishDisplay(frame types.Frame) {
	if o.haveLastDisplay {
		o.lastDisplay.Close()
	}
	o.lastDisplay = frame
	o.haveLastDisplay = true
	o.display.Enqueue(frame)
}

// LatestFrame returns the most recently published annotated frame, for a
// future display/HTTP surface to poll — out of scope for this pipeline
// itself, but the drop-oldest singleton is wired up so one can be added
// without touching the orchestrator. The orchestrator owns the returned
// Mat's lifecycle (see publishDisplay); callers must read it promptly and
// must not Close it themselves.
func (o *Orchestrator) LatestFrame(timeout time.Duration) (types.Frame, bool) {
	return o.display.Read(timeout)
}

// Shutdown runs the deterministic six-step stop sequence: stop the frame
// source and let Run drain out; wait for the object-detector's input queue
// to empty; flush the pattern detector's history with a terminal step at
// +Inf so any still-open partial match gets one last evaluation; drain the
// broker/notifier queues; finally stop the broker and cancel the pattern
// detector's own ctx to stop its timer.
func (o *Orchestrator) Shutdown(ctx context.Context, deps ShutdownDeps) {
	o.source.Stop()
	o.cancel()
	o.wg.Wait()

	// Run has returned by now, so no further publishDisplay call can race
	// this: release whatever frame is still sitting in the display singleton.
	if o.haveLastDisplay {
		o.lastDisplay.Close()
		o.haveLastDisplay = false
	}

	if deps.ObjectDetectorQueue != nil {
		deps.ObjectDetectorQueue.WaitForEmpty(shutdownWaitFor(ctx))
	}

	if deps.PatternDetector != nil {
		deps.PatternDetector.AddToStateHistory(types.StateHistoryStep{
			State: terminalState{},
			Ts:    math.Inf(1),
		}, false)
		deps.PatternDetector.Evaluate()
	}

	if deps.BrokerQueue != nil {
		deps.BrokerQueue.WaitForEmpty(shutdownWaitFor(ctx))
	}
	if deps.NotifierQueue != nil {
		deps.NotifierQueue.WaitForEmpty(shutdownWaitFor(ctx))
	}

	if deps.Broker != nil {
		deps.Broker.Stop()
	}
	if deps.CancelPatternTimer != nil {
		deps.CancelPatternTimer()
	}
	logger.Info(logModule, "shutdown complete")
}

// ShutdownDeps bundles the collaborators Shutdown's six steps coordinate,
// all optional so callers can exercise a subset in tests.
type ShutdownDeps struct {
	ObjectDetectorQueue interface{ WaitForEmpty(time.Duration) bool }
	PatternDetector     flushable
	BrokerQueue         interface{ WaitForEmpty(time.Duration) bool }
	NotifierQueue       interface{ WaitForEmpty(time.Duration) bool }
	Broker              interface{ Stop() }
	CancelPatternTimer  context.CancelFunc
}

// flushable is the pattern detector's final-evaluation hook for shutdown
// step 4, declared locally to avoid an import cycle with internal/pattern.
type flushable interface {
	AddToStateHistory(step types.StateHistoryStep, avoidDuplicates bool) bool
	Evaluate()
}

// terminalState is a sentinel types.State used only to mark the shutdown
// flush step; it never matches a real pattern step.
type terminalState struct{}

func (terminalState) String() string { return "SHUTDOWN_FLUSH" }

func shutdownWaitFor(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	return 30 * time.Second
}

func mapMotionState(motionOutside *bool) types.MotionState {
	if motionOutside == nil {
		return types.MotionNone
	}
	if *motionOutside {
		return types.MotionOutsideMask
	}
	return types.MotionInsideMask
}
