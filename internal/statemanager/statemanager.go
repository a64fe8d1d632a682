// Package statemanager implements the three state managers (C6): door,
// motion, and object. Each wraps the shared add_state/committed-offset/lag
// contract described by detection/state_managers/*.py, unified onto the
// pattern detector's AddToStateHistory instead of the reference's
// inconsistent direct-list-append shortcut for the door/motion variants.
package statemanager

import (
	"github.com/nightwatch/sentrycam/internal/logger"
	"github.com/nightwatch/sentrycam/internal/queue"
	"github.com/nightwatch/sentrycam/pkg/types"
)

const logModule = "statemanager"

// Notification is the broker-queue message emitted whenever a state manager
// accepts a new state (and, for PATTERN_DETECTED, by the pattern detector
// itself — see internal/broker).
type Notification struct {
	Type    NotificationType
	Payload any
}

// NotificationType distinguishes the broker-queue message shapes named in
// SPEC_FULL §6's external interface.
type NotificationType int

const (
	DoorStateChanged NotificationType = iota
	MotionStateChanged
	ObjectDetectedNotification
	PatternDetected
)

// StopNotificationType is the broker/notifier queues' sentinel, the
// value-typed equivalent of the reference implementation's blocking_q `-1`
// stop signal (Go's generic Queue can't reuse nil for a non-pointer T).
const StopNotificationType NotificationType = -1

// Stop is the sentinel notification AbruptStop delivers to unblock a
// broker or notifier consumer waiting on an otherwise-empty queue.
var Stop = Notification{Type: StopNotificationType}

// ObjectDetection is the raw OBJECT_DETECTED payload the object-detector
// worker publishes onto the broker queue, before the object state manager
// has inserted it into the pattern state history. Distinct from ObjectAttrs
// (the post-insertion payload the state manager re-emits) because it still
// carries the observation timestamp the manager's AddState needs.
type ObjectDetection struct {
	Label     string
	Score     float64
	ImagePath string
	Ts        float64
}

// PatternMatch is the PATTERN_DETECTED payload the pattern detector
// publishes directly onto the broker queue on every MATCHED evaluation.
type PatternMatch struct {
	PatternID string
	Attrs     *types.ObjectAttrs
	Ts        float64
}

// historySink is the subset of *pattern.Detector every state manager needs;
// declared locally to avoid an import cycle (pattern never depends on its
// consumers).
type historySink interface {
	AddToStateHistory(step types.StateHistoryStep, avoidDuplicates bool) bool
}

// DoorStateManager suppresses identical-to-previous door-state insertions.
type DoorStateManager struct {
	detector historySink
	out      *queue.Queue[Notification]
}

// NewDoorStateManager constructs a manager that inserts into detector and
// publishes STATE_CHANGED notifications onto out.
func NewDoorStateManager(detector historySink, out *queue.Queue[Notification]) *DoorStateManager {
	return &DoorStateManager{detector: detector, out: out}
}

// AddState records a door-state observation at ts.
func (m *DoorStateManager) AddState(state types.DoorState, ts float64) {
	step := types.StateHistoryStep{State: state, Ts: ts}
	if !m.detector.AddToStateHistory(step, true) {
		return
	}
	logger.Info(logModule, "door state changed: %s", state)
	m.out.Enqueue(Notification{Type: DoorStateChanged, Payload: state})
}

// CommittedOffset implements pattern.CommittedOffsetSource: door has no lag
// of its own, it always reports Current.
func (m *DoorStateManager) CommittedOffset() types.CommittedOffset { return types.Current() }

// Lag reports the manager's own backlog, always 0 for door.
func (m *DoorStateManager) Lag() int { return 0 }

// MotionStateManager suppresses identical-to-previous motion-state
// insertions; the orchestrator maps the motion detector's inside/outside/none
// result to a types.MotionState (mapMotionState) before calling AddState.
type MotionStateManager struct {
	detector historySink
	out      *queue.Queue[Notification]
}

// NewMotionStateManager constructs a motion state manager.
func NewMotionStateManager(detector historySink, out *queue.Queue[Notification]) *MotionStateManager {
	return &MotionStateManager{detector: detector, out: out}
}

// AddState records a motion-state observation at ts.
func (m *MotionStateManager) AddState(state types.MotionState, ts float64) {
	step := types.StateHistoryStep{State: state, Ts: ts}
	if !m.detector.AddToStateHistory(step, true) {
		return
	}
	logger.Info(logModule, "motion state changed: %s", state)
	m.out.Enqueue(Notification{Type: MotionStateChanged, Payload: state})
}

// CommittedOffset implements pattern.CommittedOffsetSource: motion has no
// lag of its own, it always reports Current.
func (m *MotionStateManager) CommittedOffset() types.CommittedOffset { return types.Current() }

// Lag reports the manager's own backlog, always 0 for motion.
func (m *MotionStateManager) Lag() int { return 0 }

// lagSource is the subset of the object detector worker needed to answer
// committed-offset/lag queries — declared locally to avoid an import cycle
// with internal/objectdetector.
type lagSource interface {
	LatestCommittedOffset() types.CommittedOffset
	InputQueueSize() int
}

// ObjectStateManager inserts OBJECT_DETECTED steps, deduping when the
// immediately preceding step is already an OBJECT_DETECTED (rather than an
// exact-value match, since detections legitimately repeat with different
// attrs). Its committed offset and lag forward to the object-detector
// worker that produces its states — this is how the pattern detector
// learns it is "waiting on" object detection specifically.
type ObjectStateManager struct {
	detector historySink
	out      *queue.Queue[Notification]
	source   lagSource
}

// NewObjectStateManager constructs an object state manager backed by the
// given object-detector worker handle.
func NewObjectStateManager(detector historySink, out *queue.Queue[Notification], source lagSource) *ObjectStateManager {
	return &ObjectStateManager{detector: detector, out: out, source: source}
}

// AddState records an object detection at ts, carrying label/score/image
// path as the step's attrs.
func (m *ObjectStateManager) AddState(label string, score float64, imagePath string, ts float64) {
	attrs := &types.ObjectAttrs{Label: label, Score: score, ImagePath: imagePath}
	step := types.StateHistoryStep{State: types.ObjectDetected, Ts: ts, Attrs: attrs}
	if !m.detector.AddToStateHistory(step, true) {
		return
	}
	logger.Info(logModule, "object state changed: %s (%.2f) %s", label, score, imagePath)
	// Re-emitted in the same ObjectDetection shape the broker forwards raw
	// observations in (SPEC_FULL §6's `((label,score,image_path), ts)`), so
	// the notifier's handler sees one payload type regardless of path.
	m.out.Enqueue(Notification{
		Type:    ObjectDetectedNotification,
		Payload: ObjectDetection{Label: label, Score: score, ImagePath: imagePath, Ts: ts},
	})
}

// CommittedOffset forwards to the backing object-detector worker.
func (m *ObjectStateManager) CommittedOffset() types.CommittedOffset {
	return m.source.LatestCommittedOffset()
}

// Lag forwards to the backing object-detector worker's input queue depth.
func (m *ObjectStateManager) Lag() int {
	return m.source.InputQueueSize()
}
