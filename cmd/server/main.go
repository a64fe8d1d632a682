// Command server wires the detection pipeline's components together and
// runs it until an OS signal requests shutdown. Grounded on the teacher's
// cmd/server/main.go (flag parsing, logger/metrics bring-up, signal-driven
// graceful shutdown) and original_source/stream.py's bottom-of-file wiring
// (broker_q/notify_q construction, conditional door detector, Broker(sd)).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nightwatch/sentrycam/internal/broker"
	"github.com/nightwatch/sentrycam/internal/config"
	"github.com/nightwatch/sentrycam/internal/doorstate"
	"github.com/nightwatch/sentrycam/internal/framesource"
	"github.com/nightwatch/sentrycam/internal/logger"
	"github.com/nightwatch/sentrycam/internal/metrics"
	"github.com/nightwatch/sentrycam/internal/motion"
	"github.com/nightwatch/sentrycam/internal/notifier"
	"github.com/nightwatch/sentrycam/internal/objectdetector"
	"github.com/nightwatch/sentrycam/internal/orchestrator"
	"github.com/nightwatch/sentrycam/internal/pattern"
	"github.com/nightwatch/sentrycam/internal/queue"
	"github.com/nightwatch/sentrycam/internal/recorder"
	"github.com/nightwatch/sentrycam/internal/skipahead"
	"github.com/nightwatch/sentrycam/internal/statemanager"
	"github.com/nightwatch/sentrycam/pkg/types"

	"gocv.io/x/gocv"
)

const (
	recorderQueueSize = 16
	shutdownTimeout   = 15 * time.Second
)

func main() {
	cfgPath := os.Getenv("SENTRYCAM_CONFIG")
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", cfg.Log.Level, err)
	}
	logger.Init(level, os.Stderr, true)

	logger.Info("main", "sentrycam starting (input=%s, pattern_detection=%v)", cfg.Input.Mode, cfg.Pattern.Enabled)

	if cfg.Detector.OutputDetectionPath != "" {
		if err := os.MkdirAll(cfg.Detector.OutputDetectionPath, 0o755); err != nil {
			log.Fatalf("creating detection output directory: %v", err)
		}
	}

	p, err := newPipeline(cfg)
	if err != nil {
		log.Fatalf("building pipeline: %v", err)
	}
	p.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("main", "shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	p.Stop(ctx)
	logger.Info("main", "sentrycam stopped")
}

// pipeline bundles every long-lived component main constructs, so Start/Stop
// read as a single ordered sequence instead of a sprawl of local variables.
type pipeline struct {
	cfg *config.Config
	met *metrics.Metrics

	source   framesource.FrameSource
	motionDet *motion.Detector
	doorDet  doorstate.Detector

	patternDetector *pattern.Detector
	patternCancel   context.CancelFunc

	writer   *recorder.Writer
	objWorker *objectdetector.Worker

	brokerQueue   *queue.Queue[statemanager.Notification]
	notifierQueue *queue.Queue[statemanager.Notification]
	br            *broker.Broker
	notif         *notifier.Notifier

	orch *orchestrator.Orchestrator
}

func newPipeline(cfg *config.Config) (*pipeline, error) {
	met := metrics.New()

	source, err := framesource.New(cfg.Input)
	if err != nil {
		return nil, err
	}

	motionDet := motion.New(cfg.Motion)

	var doorDet doorstate.Detector
	if cfg.DoorState.Enabled {
		doorDet = doorstate.New(cfg.DoorState)
	}

	brokerQueue := queue.New[statemanager.Notification](cfg.Notifier.QueueSize, queue.Blocking)
	notifierQueue := queue.New[statemanager.Notification](cfg.Notifier.QueueSize, queue.Blocking)

	onMatch := func(patternID string, attrs *types.ObjectAttrs, ts float64) {
		brokerQueue.Enqueue(statemanager.Notification{
			Type:    statemanager.PatternDetected,
			Payload: statemanager.PatternMatch{PatternID: patternID, Attrs: attrs, Ts: ts},
		})
	}

	patterns := buildPatterns(cfg.Pattern)
	interval := time.Duration(cfg.Pattern.IntervalSecs * float64(time.Second))
	patternDetector := pattern.New(patterns, cfg.Pattern.StateHistoryLengthSecs, cfg.Pattern.StateHistoryLengthPartialSecs, interval, onMatch, met)

	doorMgr := statemanager.NewDoorStateManager(patternDetector, brokerQueue)
	motionMgr := statemanager.NewMotionStateManager(patternDetector, brokerQueue)

	writer := recorder.NewWriter(recorderQueueSize).Start()

	publisher := broker.NewPublisher(brokerQueue)

	var skip skipahead.Optimizer = skipahead.Default{}
	if cfg.Pattern.Enabled {
		skip = skipahead.NewPatternBased(patternDetector, types.ObjectDetected, met)
	}

	objWorker := objectdetector.New(cfg.Detector, noopBackend{}, skip, writer, publisher, met)
	objectStateMgr := statemanager.NewObjectStateManager(patternDetector, notifierQueue, objWorker)

	patternDetector.RegisterSource(doorMgr)
	patternDetector.RegisterSource(motionMgr)
	patternDetector.RegisterSource(objectStateMgr)

	br := broker.New(brokerQueue, notifierQueue, objectStateMgr, cfg.Pattern.Enabled)
	notif := notifier.New(cfg.Notifier, notifierQueue, met)

	orch := orchestrator.New(orchestrator.Config{
		Source:               source,
		ApplyMotionDetection: cfg.Detector.ApplyMotionDetection,
		MotionDetector:       motionDet,
		DoorDetector:         doorDet,
		DoorStateManager:     doorMgr,
		MotionStateManager:   motionMgr,
		ObjectWorker:         objWorker,
		FrameRate:            float64(cfg.Motion.FrameRate),
		Metrics:              met,
	})

	return &pipeline{
		cfg:             cfg,
		met:             met,
		source:          source,
		motionDet:       motionDet,
		doorDet:         doorDet,
		patternDetector: patternDetector,
		writer:          writer,
		objWorker:       objWorker,
		brokerQueue:     brokerQueue,
		notifierQueue:   notifierQueue,
		br:              br,
		notif:           notif,
		orch:            orch,
	}, nil
}

// Start launches every goroutine. The metrics HTTP endpoint runs alongside
// the pipeline rather than blocking it, mirroring the teacher's
// metrics-server-in-its-own-goroutine shape.
func (p *pipeline) Start() {
	go func() {
		if err := p.met.StartServer(p.cfg.Metrics.Addr); err != nil {
			logger.Warn("main", "metrics server stopped: %v", err)
		}
	}()

	if p.cfg.Pattern.Enabled {
		ctx, cancel := context.WithCancel(context.Background())
		p.patternCancel = cancel
		go p.patternDetector.Run(ctx)
	}

	go p.objWorker.Run()
	go p.br.Run()
	go p.notif.Run()
	go p.orch.Run()
}

// Stop runs the orchestrator's documented six-step shutdown sequence.
func (p *pipeline) Stop(ctx context.Context) {
	var patternDeps interface {
		AddToStateHistory(step types.StateHistoryStep, avoidDuplicates bool) bool
		Evaluate()
	}
	var cancelTimer context.CancelFunc
	if p.cfg.Pattern.Enabled {
		patternDeps = p.patternDetector
		cancelTimer = p.patternCancel
	}

	p.orch.Shutdown(ctx, orchestrator.ShutdownDeps{
		ObjectDetectorQueue: p.objWorker,
		PatternDetector:     patternDeps,
		BrokerQueue:         p.brokerQueue,
		NotifierQueue:       p.notifierQueue,
		Broker:              p.br,
		CancelPatternTimer:  cancelTimer,
	})

	// orch.Shutdown already stopped the broker (step 6); the object-detector
	// worker and notifier still need their own stop signal, and the writer
	// and motion detector release their resources last.
	p.objWorker.Stop()
	p.notif.Stop()
	p.writer.Stop()
	p.motionDet.Close()
}

// buildPatterns translates the TOML pattern tables into the matcher's
// types.Pattern shape, mapping each configured state name onto the closed
// enumeration it names.
func buildPatterns(cfg config.PatternConfig) []types.Pattern {
	if !cfg.Enabled {
		return nil
	}
	patterns := make([]types.Pattern, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		steps := make([]types.PatternStep, 0, len(p.Steps))
		for _, s := range p.Steps {
			state := stateNamed(s.State)
			if state == nil {
				logger.Warn("main", "pattern %q: unknown state name %q, skipping step", p.ID, s.State)
				continue
			}
			if s.NotState {
				steps = append(steps, types.NewNotState(state, s.DurationSecs))
			} else {
				steps = append(steps, state)
			}
		}
		patterns = append(patterns, types.Pattern{ID: p.ID, Steps: steps})
	}
	return patterns
}

func stateNamed(name string) types.State {
	switch name {
	case "DOOR_OPEN":
		return types.DoorOpen
	case "DOOR_CLOSED":
		return types.DoorClosed
	case "MOTION_INSIDE_MASK":
		return types.MotionInsideMask
	case "MOTION_OUTSIDE_MASK":
		return types.MotionOutsideMask
	case "NO_MOTION":
		return types.MotionNone
	case "OBJECT_DETECTED":
		return types.ObjectDetected
	default:
		return nil
	}
}

// noopBackend is the documented black-box placeholder for the neural
// network inference surface (TF2/TFLite), out of scope for this pipeline —
// wiring a real model is a deployment-time concern, not a pipeline one.
type noopBackend struct{}

func (noopBackend) DetectFromImage(frame gocv.Mat) []types.Detection { return nil }
