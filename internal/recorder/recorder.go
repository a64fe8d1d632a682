// Package recorder writes one annotated detection image (plus an optional
// Pascal VOC XML sidecar) per surviving object-detector box. Adapted from
// the teacher's H.264 stream recorder: same mutex-guarded state +
// background-goroutine-draining-a-channel shape, repurposed from
// "continuously append frames to one open file" to "write one
// self-contained image file per detection, non-blocking from the caller's
// point of view."
package recorder

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/nightwatch/sentrycam/pkg/types"
)

// WriteJob is one detection image + optional annotation to persist.
// ImagePath is minted by the caller (not the writer) so the caller can
// record the same path in its own bookkeeping (e.g. a DetectionBuffer
// entry) before the write actually happens on the background goroutine.
type WriteJob struct {
	Frame           image.Image
	Box             types.Rect
	Label           string
	ImagePath       string
	WriteImage      bool
	WriteAnnotation bool
	JPEGQuality     int
}

// Writer persists detection images and VOC annotations on a background
// goroutine so the object-detector worker never blocks on file I/O.
type Writer struct {
	mu           sync.RWMutex
	jobs         chan WriteJob
	closeChan    chan struct{}
	wg           sync.WaitGroup
	running      bool
	imagesWritten uint64
}

// NewWriter builds a writer with a bounded job channel; callers that would
// rather drop a write than block call TrySubmit.
func NewWriter(queueSize int) *Writer {
	return &Writer{
		jobs:      make(chan WriteJob, queueSize),
		closeChan: make(chan struct{}),
	}
}

// Start begins the background write loop.
func (w *Writer) Start() *Writer {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Stop drains in-flight jobs and stops the background goroutine.
func (w *Writer) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	close(w.closeChan)
	w.wg.Wait()
}

// TrySubmit enqueues a write job, non-blocking; reports whether it was
// admitted (false means the job queue was full and the detection image was
// dropped, mirroring the teacher recorder's SendFrame drop-on-full policy).
func (w *Writer) TrySubmit(job WriteJob) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		return false
	}
}

// IsRunning reports whether the background write loop is active.
func (w *Writer) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// ImagesWritten returns the count of images successfully persisted so far.
func (w *Writer) ImagesWritten() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.imagesWritten
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case job := <-w.jobs:
			w.writeJob(job)
		case <-w.closeChan:
			for {
				select {
				case job := <-w.jobs:
					w.writeJob(job)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) writeJob(job WriteJob) {
	if !job.WriteImage && !job.WriteAnnotation {
		return
	}

	path := job.ImagePath
	annotated := drawBox(job.Frame, job.Box)

	if job.WriteImage {
		if err := writeJPEG(path, annotated, job.JPEGQuality); err == nil {
			w.mu.Lock()
			w.imagesWritten++
			w.mu.Unlock()
		}
	}
	if job.WriteAnnotation {
		_ = writeVOCAnnotation(path, annotated.Bounds(), job.Label, job.Box)
	}
}

// MintImagePath builds a unique, human-sortable path for a detection image:
// label + timestamp + a uuid suffix to guarantee uniqueness within the same
// second, generalizing the reference's strftime-only naming (which collides
// under high detection rates).
func MintImagePath(dir, label string, ts float64) string {
	stamp := time.UnixMilli(int64(ts * 1000)).Format("02-01-2006-15-04-05-000")
	name := fmt.Sprintf("detection_%s_%s_%s.jpg", label, stamp, uuid.NewString()[:8])
	return filepath.Join(dir, name)
}

// drawBox overlays a rectangle outline on a copy of frame at box, in the
// teacher's style of compositing via golang.org/x/image/draw rather than a
// cv2-style in-place mutator.
func drawBox(frame image.Image, box types.Rect) image.Image {
	b := frame.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, frame, b.Min, draw.Src)

	if box.Empty() {
		return out
	}
	const thickness = 2
	border := image.NewUniform(color.RGBA{R: 255, G: 255, B: 0, A: 255})
	top := image.Rect(box.XMin, box.YMin, box.XMax, box.YMin+thickness)
	bottom := image.Rect(box.XMin, box.YMax-thickness, box.XMax, box.YMax)
	left := image.Rect(box.XMin, box.YMin, box.XMin+thickness, box.YMax)
	right := image.Rect(box.XMax-thickness, box.YMin, box.XMax, box.YMax)
	for _, r := range []image.Rectangle{top, bottom, left, right} {
		draw.Draw(out, r.Intersect(b), border, image.Point{}, draw.Src)
	}
	return out
}

func writeJPEG(path string, img image.Image, quality int) error {
	if quality <= 0 {
		quality = 90
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encoding detection jpeg: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating detection output dir: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// vocAnnotation mirrors the minimal subset of the Pascal VOC schema that
// pascal_voc_writer.Writer emits: a single <object> per detection image.
type vocAnnotation struct {
	XMLName xml.Name  `xml:"annotation"`
	Folder  string    `xml:"folder"`
	Path    string    `xml:"path"`
	Size    vocSize   `xml:"size"`
	Object  vocObject `xml:"object"`
}

type vocSize struct {
	Width  int `xml:"width"`
	Height int `xml:"height"`
	Depth  int `xml:"depth"`
}

type vocObject struct {
	Name   string  `xml:"name"`
	BndBox vocBox  `xml:"bndbox"`
}

type vocBox struct {
	XMin int `xml:"xmin"`
	YMin int `xml:"ymin"`
	XMax int `xml:"xmax"`
	YMax int `xml:"ymax"`
}

func writeVOCAnnotation(imagePath string, bounds image.Rectangle, label string, box types.Rect) error {
	ann := vocAnnotation{
		Folder: filepath.Base(filepath.Dir(imagePath)),
		Path:   imagePath,
		Size:   vocSize{Width: bounds.Dx(), Height: bounds.Dy(), Depth: 3},
		Object: vocObject{
			Name: label,
			BndBox: vocBox{
				XMin: box.XMin, YMin: box.YMin,
				XMax: box.XMax, YMax: box.YMax,
			},
		},
	}

	out, err := xml.MarshalIndent(ann, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling voc annotation: %w", err)
	}
	xmlPath := strings.TrimSuffix(imagePath, ".jpg") + ".xml"
	return os.WriteFile(xmlPath, out, 0o644)
}
