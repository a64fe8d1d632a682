// Package framesource implements the pipeline's frame source (C2): camera,
// network-stream, and local video-file backends behind one interface. The
// camera backend's Open/Read/Close shape is grounded on
// MiFaceDEV-miface/pkg/miface/camera_gocv.go's OpenCVCamera; the
// free-run-vs-in-sync pacing split and the background read-loop-plus-latest
// -frame-slot shape are grounded on original_source/input/{rtmpstream,
// videofilestream}.py.
package framesource

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/nightwatch/sentrycam/internal/config"
	"github.com/nightwatch/sentrycam/internal/framelimiter"
	"github.com/nightwatch/sentrycam/internal/logger"
	"github.com/nightwatch/sentrycam/internal/queue"
	"github.com/nightwatch/sentrycam/pkg/types"
)

const logModule = "framesource"

// FrameSource is the pipeline's pluggable input. Start launches the
// background read loop; Read blocks for the next frame and reports false on
// EOF/stop; Stop releases the underlying capture device.
type FrameSource interface {
	Start()
	Read() (types.Frame, bool)
	Stop()
}

// capture abstracts gocv.VideoCapture so camera/network-stream/video-file
// backends share one read loop.
type capture struct {
	cap *gocv.VideoCapture
	mu  sync.Mutex
}

func (c *capture) read() (gocv.Mat, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mat := gocv.NewMat()
	if !c.cap.Read(&mat) || mat.Empty() {
		mat.Close()
		return gocv.Mat{}, false
	}
	return mat, true
}

func (c *capture) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cap.Close()
}

// streamSource runs a background read loop pushing frames onto a
// BlockingOrDropOldest queue, matching RTMPVideoStream/VideoFileStream's
// Thread + NonBlockingTaskSingleton/BlockingTaskSingleton shape: the camera
// and network-stream backends always drop-oldest (a live feed has no "catch
// up later"); the video-file backend is in-sync (blocking, process every
// frame) or free-run (drop-oldest, paced to the file's own fps) per
// config.VideoInSync.
type streamSource struct {
	cap     *capture
	out     *queue.Queue[types.Frame]
	limiter *framelimiter.Limiter
	stopped chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func newStreamSource(cap *capture, queueSize int, mode queue.Mode, rate float64) *streamSource {
	return &streamSource{
		cap:     cap,
		out:     queue.New[types.Frame](queueSize, mode),
		limiter: framelimiter.New(rate),
		stopped: make(chan struct{}),
	}
}

// Start launches the background read loop.
func (s *streamSource) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *streamSource) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopped:
			return
		default:
		}
		s.limiter.Wait()
		mat, ok := s.cap.read()
		if !ok {
			logger.Info(logModule, "frame source reached end of stream")
			s.out.Enqueue(types.Frame{})
			return
		}
		s.out.Enqueue(types.Frame{Mat: mat, Ts: nowSeconds()})
	}
}

// Read returns the next frame, false if the source has reached EOF or been
// stopped (signaled by an empty-Mat sentinel frame).
func (s *streamSource) Read() (types.Frame, bool) {
	f := s.out.Dequeue()
	if f.Mat.Ptr() == nil {
		return types.Frame{}, false
	}
	return f, true
}

// Stop ends the read loop, releases the capture device, and pushes the
// empty-Mat sentinel so a consumer blocked in Read returns false.
func (s *streamSource) Stop() {
	s.once.Do(func() { close(s.stopped) })
	s.wg.Wait()
	_ = s.cap.close()
	s.out.AbruptStop(types.Frame{})
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// NewCamera opens a local camera device with V4L2, the backend MiFace's
// OpenCVCamera also selects to avoid GStreamer's "Internal data stream
// error" on Linux.
func NewCamera(cfg config.InputConfig) (FrameSource, error) {
	cap, err := openCapture(func() (*gocv.VideoCapture, error) {
		return gocv.OpenVideoCaptureWithAPI(cfg.CameraDevice, gocv.VideoCaptureV4L2)
	})
	if err != nil {
		return nil, fmt.Errorf("opening camera device %d: %w", cfg.CameraDevice, err)
	}
	if cfg.Width > 0 {
		cap.cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		cap.cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FrameRate > 0 {
		cap.cap.Set(gocv.VideoCaptureFPS, float64(cfg.FrameRate))
	}
	return newStreamSource(cap, queueSize(cfg), queue.DropOldest, 0), nil
}

// NewNetworkStream opens an RTMP/RTSP/HTTP stream URL, grounded on
// RTMPVideoStream's plain cv2.VideoCapture(rtmp_url) — gocv's VideoCapture
// shares OpenCV's FFmpeg backend, so no separate subprocess is needed.
func NewNetworkStream(cfg config.InputConfig) (FrameSource, error) {
	cap, err := openCapture(func() (*gocv.VideoCapture, error) {
		return gocv.OpenVideoCapture(cfg.RTMPStreamURL)
	})
	if err != nil {
		return nil, fmt.Errorf("opening network stream %q: %w", cfg.RTMPStreamURL, err)
	}
	return newStreamSource(cap, queueSize(cfg), queue.DropOldest, 0), nil
}

// NewVideoFile opens a local video file. In-sync mode (config.VideoInSync)
// blocks the read loop so every frame is processed regardless of consumer
// speed; free-run mode paces reads to the file's own fps and drops frames
// the consumer falls behind on, per videofilestream.py's two modes.
func NewVideoFile(cfg config.InputConfig) (FrameSource, error) {
	cap, err := openCapture(func() (*gocv.VideoCapture, error) {
		return gocv.OpenVideoCapture(cfg.VideoFilePath)
	})
	if err != nil {
		return nil, fmt.Errorf("opening video file %q: %w", cfg.VideoFilePath, err)
	}

	if cfg.VideoInSync {
		return newStreamSource(cap, 1, queue.Blocking, 0), nil
	}
	videoFPS := cap.cap.Get(gocv.VideoCaptureFPS)
	return newStreamSource(cap, queueSize(cfg), queue.DropOldest, videoFPS), nil
}

func queueSize(cfg config.InputConfig) int {
	if cfg.QueueSize > 0 {
		return cfg.QueueSize
	}
	return 1
}

func openCapture(open func() (*gocv.VideoCapture, error)) (*capture, error) {
	vc, err := open()
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("capture device did not open")
	}
	return &capture{cap: vc}, nil
}

// New builds the configured FrameSource.
func New(cfg config.InputConfig) (FrameSource, error) {
	switch cfg.Mode {
	case config.InputCamera:
		return NewCamera(cfg)
	case config.InputNetworkStream:
		return NewNetworkStream(cfg)
	default:
		return NewVideoFile(cfg)
	}
}
