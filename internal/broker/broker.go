// Package broker implements the broker (C9): the single consumer that
// merges the door/motion/object/pattern notification streams and forwards
// them downstream to the notifier. Grounded on original_source/broker.py's
// Broker.broke.
package broker

import (
	"github.com/nightwatch/sentrycam/internal/logger"
	"github.com/nightwatch/sentrycam/internal/queue"
	"github.com/nightwatch/sentrycam/internal/statemanager"
)

const logModule = "broker"

// objectStateManager is the subset of *statemanager.ObjectStateManager the
// broker needs; declared locally to avoid an import cycle.
type objectStateManager interface {
	AddState(label string, score float64, imagePath string, ts float64)
}

// Broker drains the broker queue and forwards every notification to the
// notifier queue, with one exception: when pattern detection is enabled, a
// raw OBJECT_DETECTED observation is first routed through the object state
// manager, which inserts it into the pattern state history and re-emits its
// own (already-deduped) notification directly onto the notifier queue
// instead of the broker forwarding the raw form itself. With pattern
// detection disabled there is no state manager to route through, so the raw
// observation is forwarded as-is, same as every other notification type.
type Broker struct {
	input            *queue.Queue[statemanager.Notification]
	notifyOut        *queue.Queue[statemanager.Notification]
	objectStates     objectStateManager
	patternDetection bool
}

// New constructs a broker. objectStates may be nil when patternDetection is
// false, since it is then never invoked.
func New(input, notifyOut *queue.Queue[statemanager.Notification], objectStates objectStateManager, patternDetectionEnabled bool) *Broker {
	return &Broker{
		input:            input,
		notifyOut:        notifyOut,
		objectStates:     objectStates,
		patternDetection: patternDetectionEnabled,
	}
}

// Run drains the broker queue until the stop sentinel arrives.
func (b *Broker) Run() {
	for {
		n := b.input.Dequeue()
		if n.Type == statemanager.StopNotificationType {
			logger.Info(logModule, "broker stopping")
			return
		}

		if n.Type == statemanager.ObjectDetectedNotification {
			if b.patternDetection && b.objectStates != nil {
				if raw, ok := n.Payload.(statemanager.ObjectDetection); ok {
					b.objectStates.AddState(raw.Label, raw.Score, raw.ImagePath, raw.Ts)
				}
				// The object state manager re-emits its own (already-deduped)
				// notification directly onto the notifier queue, so the raw
				// pre-manager form is not forwarded again here.
				continue
			}
			// Pattern detection disabled: there is no state manager to route
			// through, so forward the raw observation as broker.py does
			// unconditionally for every message type.
			b.notifyOut.Enqueue(n)
			continue
		}

		b.notifyOut.Enqueue(n)
	}
}

// Stop delivers the sentinel so Run returns.
func (b *Broker) Stop() {
	b.input.AbruptStop(statemanager.Stop)
}

// Publisher implements the objectdetector package's sink contract by
// publishing raw OBJECT_DETECTED observations onto the broker queue,
// standing in for the direct-to-state-manager call the worker would
// otherwise need — keeps the worker ignorant of the broker/state-manager
// split entirely.
type Publisher struct {
	out *queue.Queue[statemanager.Notification]
}

// NewPublisher wraps a broker input queue as an objectdetector sink.
func NewPublisher(out *queue.Queue[statemanager.Notification]) *Publisher {
	return &Publisher{out: out}
}

// AddState implements objectdetector.sink.
func (p *Publisher) AddState(label string, score float64, imagePath string, ts float64) {
	p.out.Enqueue(statemanager.Notification{
		Type:    statemanager.ObjectDetectedNotification,
		Payload: statemanager.ObjectDetection{Label: label, Score: score, ImagePath: imagePath, Ts: ts},
	})
}
