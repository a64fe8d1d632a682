// Package notifier implements the notifier (C9 addendum): the single
// consumer draining the notify queue and dispatching by NotificationType to
// a handler table, each handler gated by a per-type token-bucket rate
// limiter. Grounded on original_source/notifier.py's Notifier, with
// golang.org/x/time/rate.Limiter standing in for its token_bucket.Limiter
// dependency. Outbound transports (MQTT/webhook) are out of scope — the
// default handlers log-and-drop, leaving a seam for a transport to plug in.
package notifier

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/nightwatch/sentrycam/internal/config"
	"github.com/nightwatch/sentrycam/internal/logger"
	"github.com/nightwatch/sentrycam/internal/metrics"
	"github.com/nightwatch/sentrycam/internal/queue"
	"github.com/nightwatch/sentrycam/internal/statemanager"
)

const logModule = "notifier"

// Handler processes one notification's payload after it has cleared rate
// limiting.
type Handler func(statemanager.Notification)

// Notifier drains the notify queue on its own goroutine, dispatching each
// notification to the handler registered for its NotificationType.
type Notifier struct {
	input    *queue.Queue[statemanager.Notification]
	handlers map[statemanager.NotificationType]Handler
	met      *metrics.Metrics

	mu       sync.Mutex
	limiters map[statemanager.NotificationType]*rate.Limiter
	rates    map[statemanager.NotificationType]float64
}

// New builds a notifier with the default log-and-drop handler table,
// rate-limited per cfg.RateLimits (keyed by the NotificationType's String()
// name, matching the TOML config's string keys).
func New(cfg config.NotifierConfig, input *queue.Queue[statemanager.Notification], met *metrics.Metrics) *Notifier {
	n := &Notifier{
		input:    input,
		met:      met,
		limiters: make(map[statemanager.NotificationType]*rate.Limiter),
		rates:    make(map[statemanager.NotificationType]float64),
	}
	n.handlers = map[statemanager.NotificationType]Handler{
		statemanager.ObjectDetectedNotification: n.notifyObjectDetected,
		statemanager.PatternDetected:             n.notifyPatternDetected,
		statemanager.MotionStateChanged:          n.notifyStateDetected,
		statemanager.DoorStateChanged:            n.notifyStateDetected,
	}
	for name, hz := range cfg.RateLimits {
		if t, ok := notificationTypeNames[name]; ok {
			n.rates[t] = hz
		}
	}
	return n
}

// notificationTypeNames maps the TOML config's string keys onto
// NotificationType, since a map[NotificationType]float64 can't be
// represented directly in TOML.
var notificationTypeNames = map[string]statemanager.NotificationType{
	"OBJECT_DETECTED":       statemanager.ObjectDetectedNotification,
	"PATTERN_DETECTED":      statemanager.PatternDetected,
	"MOTION_STATE_CHANGED":  statemanager.MotionStateChanged,
	"DOOR_STATE_CHANGED":    statemanager.DoorStateChanged,
}

// SetHandler overrides (or adds) the handler for a NotificationType — the
// seam an outbound transport (MQTT/webhook) plugs into.
func (n *Notifier) SetHandler(t statemanager.NotificationType, h Handler) {
	n.handlers[t] = h
}

// Run drains the notify queue until the stop sentinel arrives.
func (n *Notifier) Run() {
	for {
		notif := n.input.Dequeue()
		if notif.Type == statemanager.StopNotificationType {
			logger.Info(logModule, "notifier stopping")
			return
		}

		if !n.canNotify(notif.Type) {
			if n.met != nil {
				n.met.NotificationsDropped.Add(1)
			}
			logger.Info(logModule, "notification type %d rate limited", notif.Type)
			continue
		}

		handler, ok := n.handlers[notif.Type]
		if !ok {
			continue
		}
		handler(notif)
		if n.met != nil {
			n.met.NotificationsSent.Add(1)
		}
	}
}

// canNotify reports whether notif.Type has budget left in its token
// bucket, lazily creating one the first time a rate limit applies to a
// type. Types with no configured rate limit (or a rate < 1) are always
// allowed, mirroring the reference's can_notify.
func (n *Notifier) canNotify(t statemanager.NotificationType) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	hz, limited := n.rates[t]
	if !limited || hz < 1 {
		return true
	}
	limiter, ok := n.limiters[t]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(hz), 1)
		n.limiters[t] = limiter
	}
	return limiter.Allow()
}

func (n *Notifier) notifyObjectDetected(notif statemanager.Notification) {
	det, ok := notif.Payload.(statemanager.ObjectDetection)
	if !ok || det.Label == "" {
		return
	}
	logger.Info(logModule, "object notification: label [%s], accuracy [%.2f], ts [%.3f]", det.Label, det.Score, det.Ts)
}

func (n *Notifier) notifyPatternDetected(notif statemanager.Notification) {
	logger.Info(logModule, "pattern notification: %v", notif.Payload)
}

func (n *Notifier) notifyStateDetected(notif statemanager.Notification) {
	logger.Info(logModule, "state detection notification: %v", notif.Payload)
}

// Stop delivers the sentinel so Run returns.
func (n *Notifier) Stop() {
	n.input.AbruptStop(statemanager.Stop)
}
