package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics, exported as pull-based Prometheus
// gauges wrapping plain atomics — cheap to update from any worker goroutine,
// scraped lazily.
type Metrics struct {
	// Frame / queue throughput
	FramesRead      atomic.Uint64
	FramesDropped   atomic.Uint64
	ODTasksEnqueued atomic.Uint64
	ODTasksDropped  atomic.Uint64

	// Detection counters
	MotionDetections  atomic.Uint64
	DoorStateChanges  atomic.Uint64
	ObjectDetections  atomic.Uint64
	PatternsMatched   atomic.Uint64
	PatternsPartial   atomic.Uint64

	// Skip-ahead optimizer
	SkipAheadSkipped atomic.Uint64
	SkipAheadTotal   atomic.Uint64

	// Notifier
	NotificationsSent    atomic.Uint64
	NotificationsDropped atomic.Uint64

	// Queue depth gauges, registered lazily via RegisterQueueGauge
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	register := func(name, help string, val *atomic.Uint64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return float64(val.Load()) },
		))
	}

	register("sentrycam_frames_read_total", "Total frames read from the frame source", &m.FramesRead)
	register("sentrycam_frames_dropped_total", "Total frames dropped by a drop-oldest queue", &m.FramesDropped)
	register("sentrycam_od_tasks_enqueued_total", "Total tasks enqueued to the object detector worker", &m.ODTasksEnqueued)
	register("sentrycam_od_tasks_dropped_total", "Total object-detector tasks dropped", &m.ODTasksDropped)

	register("sentrycam_motion_detections_total", "Total motion detections", &m.MotionDetections)
	register("sentrycam_door_state_changes_total", "Total door state changes", &m.DoorStateChanges)
	register("sentrycam_object_detections_total", "Total OBJECT_DETECTED emissions", &m.ObjectDetections)
	register("sentrycam_patterns_matched_total", "Total MATCHED pattern evaluations", &m.PatternsMatched)
	register("sentrycam_patterns_partial_total", "Total PARTIAL_MATCH pattern evaluations", &m.PatternsPartial)

	register("sentrycam_skip_ahead_skipped_total", "Total tasks skipped by the skip-ahead optimizer", &m.SkipAheadSkipped)
	register("sentrycam_skip_ahead_total", "Total tasks considered by the skip-ahead optimizer", &m.SkipAheadTotal)

	register("sentrycam_notifications_sent_total", "Total notifications forwarded to the notifier", &m.NotificationsSent)
	register("sentrycam_notifications_dropped_total", "Total notifications dropped by rate limiting", &m.NotificationsDropped)
}

// RegisterQueueGauge wires a queue's Size() into a named Prometheus gauge.
// Call once per queue at construction time.
func (m *Metrics) RegisterQueueGauge(name, help string, size func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(size()) },
	))
}

// SkipAheadRatio returns the current skipped/total speedup ratio, or 0 if no
// tasks have been considered yet.
func (m *Metrics) SkipAheadRatio() float64 {
	total := m.SkipAheadTotal.Load()
	if total == 0 {
		return 0
	}
	return float64(m.SkipAheadSkipped.Load()) / float64(total)
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server. Intended to run in its own
// goroutine; blocks until the listener errors or is shut down.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
