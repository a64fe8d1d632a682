// Package objectdetector implements the object detector worker (C5): a
// dedicated goroutine draining its own bounded task queue, running a
// black-box inference backend, filtering results by label/size/mask,
// voting the best label over a sliding DetectionBuffer window, writing
// annotated images/VOC XML, and publishing OBJECT_DETECTED to the broker.
// Grounded on detection/object_detector_base.py and
// detection/object_detector_streaming.py.
package objectdetector

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/nightwatch/sentrycam/internal/config"
	"github.com/nightwatch/sentrycam/internal/framelimiter"
	"github.com/nightwatch/sentrycam/internal/logger"
	"github.com/nightwatch/sentrycam/internal/metrics"
	"github.com/nightwatch/sentrycam/internal/queue"
	"github.com/nightwatch/sentrycam/internal/recorder"
	"github.com/nightwatch/sentrycam/pkg/types"
)

const logModule = "objectdetector"

// Backend is the opaque neural-network inference surface: given a cropped
// frame, return candidate boxes before any label/size/mask filtering. The
// reference implementation's TF2/TFLite backends are out of scope here —
// this is the documented black-box contract SPEC_FULL names instead.
type Backend interface {
	DetectFromImage(frame gocv.Mat) []types.Detection
}

// Task is one (frame, crop, ts) unit of work enqueued by the motion loop.
type Task struct {
	Frame      gocv.Mat
	Crop       gocv.Mat
	CropOffset image.Point
	Ts         float64
}

// skipOptimizer is the subset of skipahead.Optimizer the worker needs.
type skipOptimizer interface {
	ShouldSkip(ts float64) bool
}

// sink is where the worker publishes its final OBJECT_DETECTED verdicts;
// declared locally to avoid an import cycle with internal/statemanager.
type sink interface {
	AddState(label string, score float64, imagePath string, ts float64)
}

// Worker runs the object-detector's own goroutine and input queue.
type Worker struct {
	cfg     config.DetectorConfig
	backend Backend
	buffer  *DetectionBuffer
	skip    skipOptimizer
	writer  *recorder.Writer
	out     sink
	met     *metrics.Metrics

	input *queue.Queue[*Task]

	latestOffset atomicOffset
}

// New constructs an object-detector worker. writer and backend are started
// independently by the caller; New only wires them together.
func New(cfg config.DetectorConfig, backend Backend, skip skipOptimizer, writer *recorder.Writer, out sink, met *metrics.Metrics) *Worker {
	w := &Worker{
		cfg:     cfg,
		backend: backend,
		buffer:  NewDetectionBuffer(cfg.DetectionBufferDuration, cfg.DetectionBufferThresh),
		skip:    skip,
		writer:  writer,
		out:     out,
		met:     met,
		input:   queue.New[*Task](cfg.TaskQueueSize, queue.Blocking),
	}
	w.latestOffset.set(types.Current())
	if met != nil {
		met.RegisterQueueGauge("sentrycam_od_input_queue_size", "Object detector input queue depth", w.input.Size)
	}
	return w
}

// AddTask enqueues one frame for detection, blocking if the queue is full —
// this is the pipeline's deliberate back-pressure point (SPEC_FULL §5).
func (w *Worker) AddTask(t *Task) {
	if w.met != nil {
		w.met.ODTasksEnqueued.Add(1)
	}
	w.input.Enqueue(t)
}

// LatestCommittedOffset implements statemanager.lagSource.
func (w *Worker) LatestCommittedOffset() types.CommittedOffset {
	return w.latestOffset.get()
}

// InputQueueSize implements statemanager.lagSource.
func (w *Worker) InputQueueSize() int {
	return w.input.Size()
}

// Run drains the input queue until AbruptStop delivers a nil sentinel,
// mirroring detect_continuously's -1 sentinel loop.
func (w *Worker) Run() {
	limiter := framelimiter.New(float64(w.cfg.FrameRate))
	for {
		task := w.input.Dequeue()
		if task == nil {
			logger.Info(logModule, "object detector worker stopping")
			return
		}

		if w.skip == nil || !w.skip.ShouldSkip(task.Ts) {
			limiter.Wait()
			w.detect(task)
		} else {
			task.Frame.Close()
			if task.Crop.Ptr() != task.Frame.Ptr() {
				task.Crop.Close()
			}
		}
		w.latestOffset.set(types.At(task.Ts))
	}
}

// Stop delivers the abrupt-stop sentinel so Run returns.
func (w *Worker) Stop() {
	w.input.AbruptStop(nil)
}

// WaitForEmpty blocks until the input queue empties or timeout elapses,
// reporting which happened — the shutdown sequence's step 3 hook.
func (w *Worker) WaitForEmpty(timeout time.Duration) bool {
	return w.input.WaitForEmpty(timeout)
}

// detect consumes task: the orchestrator hands off ownership of both Mats
// when it enqueues a task, so this releases them for every task that is not
// skipped (Run releases the Mats of skipped tasks).
// Crop is frequently a Region view sharing Frame's underlying buffer; Ptr
// equality skips the redundant close in that case.
func (w *Worker) detect(task *Task) {
	defer task.Frame.Close()
	if task.Crop.Ptr() != task.Frame.Ptr() {
		defer task.Crop.Close()
	}

	raw := w.backend.DetectFromImage(task.Crop)
	filtered := w.applyFilters(raw)
	if len(filtered) == 0 {
		return
	}

	for _, det := range filtered {
		orig := translate(det.Box, task.CropOffset)
		imagePath := w.recordDetection(task, orig, det.Label)
		w.buffer.Add(types.Detection{Box: orig, Label: det.Label, Score: det.Score}, imagePath, int64(task.Ts*1000))
	}

	label, score, imagePath, ok := w.buffer.BestInWindow()
	if !ok {
		return
	}
	if w.met != nil {
		w.met.ObjectDetections.Add(1)
	}
	w.out.AddState(label, score, imagePath, task.Ts)
}

// applyFilters ports apply_od_filters: accuracy threshold, label allow-list,
// minimum box size, positive-mask allow, negative-mask exclude.
func (w *Worker) applyFilters(dets []types.Detection) []types.Detection {
	var out []types.Detection
	for _, d := range dets {
		if d.Score < w.cfg.AccuracyThreshold || d.Score > 1.0 {
			continue
		}
		if !labelAllowed(d.Label, w.cfg.DetectionLabels) {
			continue
		}
		if w.cfg.BoxThresholdW > 0 && d.Box.Width() < w.cfg.BoxThresholdW {
			continue
		}
		if w.cfg.BoxThresholdH > 0 && d.Box.Height() < w.cfg.BoxThresholdH {
			continue
		}
		if len(w.cfg.DetectionMasks) > 0 && !anyMaskContains(w.cfg.DetectionMasks, d.Box) {
			continue
		}
		if len(w.cfg.DetectionNMasks) > 0 && anyMaskContains(w.cfg.DetectionNMasks, d.Box) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func labelAllowed(label string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == label {
			return true
		}
	}
	return false
}

func anyMaskContains(masks []config.Box, box types.Rect) bool {
	for _, m := range masks {
		r := types.Rect{XMin: m.X0, YMin: m.Y0, XMax: m.X1, YMax: m.Y1}
		if r.Contains(box) {
			return true
		}
	}
	return false
}

func translate(box types.Rect, offset image.Point) types.Rect {
	return types.Rect{
		XMin: box.XMin + offset.X, YMin: box.YMin + offset.Y,
		XMax: box.XMax + offset.X, YMax: box.YMax + offset.Y,
	}
}

func (w *Worker) recordDetection(task *Task, box types.Rect, label string) string {
	imagePath := recorder.MintImagePath(w.cfg.OutputDetectionPath, label, task.Ts)

	if w.writer == nil || (!w.cfg.FrameWrite && !w.cfg.AnnotationWrite) {
		return imagePath
	}
	img, err := task.Frame.ToImage()
	if err != nil {
		logger.Warn(logModule, "converting frame to image for detection write: %v", err)
		return imagePath
	}
	w.writer.TrySubmit(recorder.WriteJob{
		Frame:           img,
		Box:             box,
		Label:           label,
		ImagePath:       imagePath,
		WriteImage:      w.cfg.FrameWrite,
		WriteAnnotation: w.cfg.AnnotationWrite,
		JPEGQuality:     90,
	})
	return imagePath
}

// atomicOffset guards a types.CommittedOffset behind a mutex; not a plain
// atomic.Value since CommittedOffset isn't a pointer type and is read
// concurrently by the statemanager lagSource consumer.
type atomicOffset struct {
	mu  sync.Mutex
	val types.CommittedOffset
}

func (a *atomicOffset) set(v types.CommittedOffset) {
	a.mu.Lock()
	a.val = v
	a.mu.Unlock()
}

func (a *atomicOffset) get() types.CommittedOffset {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.val
}
