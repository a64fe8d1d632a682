// Package config provides TOML configuration loading for the detection
// pipeline: a single flat record consumed by every component, organized
// into sub-tables per component the way MiFace's camera/tracking/vmc config
// is laid out.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the complete configuration for one camera's detection pipeline.
type Config struct {
	Log        LogConfig        `toml:"log"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Input      InputConfig      `toml:"input"`
	Motion     MotionConfig     `toml:"motion"`
	DoorState  DoorStateConfig  `toml:"door_state"`
	Detector   DetectorConfig   `toml:"detector"`
	Pattern    PatternConfig    `toml:"pattern"`
	Notifier   NotifierConfig   `toml:"notifier"`
}

// LogConfig controls the ambient logger.
type LogConfig struct {
	Level string `toml:"level"` // debug|info|warn|error|silent
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Addr string `toml:"addr"` // e.g. ":9090"
}

// InputMode selects which frame source backs the pipeline.
type InputMode string

const (
	InputNetworkStream InputMode = "NETWORK_STREAM"
	InputCamera        InputMode = "CAMERA"
	InputVideoFile     InputMode = "VIDEO_FILE"
)

// InputConfig selects and configures the frame source.
type InputConfig struct {
	Mode          InputMode `toml:"mode"`
	RTMPStreamURL string    `toml:"rtmp_stream_url"`
	CameraDevice  int       `toml:"camera_device"`
	Width         int       `toml:"width"`
	Height        int       `toml:"height"`
	FrameRate     int       `toml:"frame_rate"`
	VideoFilePath string    `toml:"video_file_path"`
	VideoInSync   bool      `toml:"video_in_sync"`
	QueueSize     int       `toml:"queue_size"`
}

// Box is a four-corner axis-aligned rectangle as read from TOML, used for
// masks and door/frame sampling rectangles: (x0,y0,x1,y1).
type Box struct {
	X0, Y0, X1, Y1 int
}

// MotionConfig is the md_* option group (C3).
type MotionConfig struct {
	MinContArea      float64 `toml:"min_cont_area"`
	Threshold        float64 `toml:"tval"`
	BGAccumWeight    float64 `toml:"bg_accum_weight"`
	WarmupFrameCount int     `toml:"warmup_frame_count"`
	EnableErode      bool    `toml:"enable_erode"`
	EnableDilate     bool    `toml:"enable_dilate"`
	ErodeIterations  int     `toml:"erode_iterations"`
	DilateIterations int     `toml:"dilate_iterations"`
	FrameRate        int     `toml:"frame_rate"`
	BoxThresholdX    int     `toml:"box_threshold_x"`
	BoxThresholdY    int     `toml:"box_threshold_y"`
	Mask             *Box    `toml:"mask"`
	NMask            *Box    `toml:"nmask"`
	UpdateBGModel    bool    `toml:"update_bg_model"`
	ResetBGModel     bool    `toml:"reset_bg_model"`
	BlurOutputFrame  bool    `toml:"blur_output_frame"`
	ShowAllContours  bool    `toml:"show_all_contours"`
}

// DoorVariant selects a door-state detector implementation.
type DoorVariant string

const (
	DoorVariantSingleShotColor DoorVariant = "SINGLE_SHOT_COLOR"
	DoorVariantFrameDiff       DoorVariant = "FRAME_DIFF"
	DoorVariantAdaptive        DoorVariant = "ADAPTIVE"
)

// DoorStateConfig configures the door-state detector (C4).
type DoorStateConfig struct {
	Enabled          bool        `toml:"enabled"` // door_movement_detection in the reference config
	Variant          DoorVariant `toml:"variant"`
	DoorRect         Box         `toml:"door_rect"`
	FrameRect        Box         `toml:"frame_rect"`
	ClosedColor      [3]float64  `toml:"closed_color"` // RGB reference
	OpenColor        [3]float64  `toml:"open_color"`   // RGB reference
	DistanceThresh   float64     `toml:"distance_threshold"`
	AdaptiveWarmup   int         `toml:"adaptive_warmup_frames"`
	AdaptiveRefresh  int         `toml:"adaptive_refresh_frames"`
	ShowDetection    bool        `toml:"show_detection"`
}

// DetectorKind selects the object-detector inference backend's family.
type DetectorKind string

const (
	DetectorTF2    DetectorKind = "TF2"
	DetectorTFLite DetectorKind = "TFLITE"
)

// DetectorConfig is the tf_* option group (C5).
type DetectorConfig struct {
	ModelPath               string       `toml:"model_path"`
	LabelmapPath            string       `toml:"labelmap_path"`
	AccuracyThreshold       float64      `toml:"accuracy_threshold"`
	DetectionLabels         []string     `toml:"detection_labels"` // ["*"] = allow-all
	DetectionMasks          []Box        `toml:"detection_masks"`
	DetectionNMasks         []Box        `toml:"detection_nmasks"`
	BoxThresholdW           int          `toml:"box_threshold_w"`
	BoxThresholdH           int          `toml:"box_threshold_h"`
	DetectionBufferEnabled  bool         `toml:"detection_buffer_enabled"`
	DetectionBufferDuration int64        `toml:"detection_buffer_duration_ms"`
	DetectionBufferThresh   int          `toml:"detection_buffer_threshold"`
	DetectorType            DetectorKind `toml:"detector_type"`
	ApplyMotionDetection    bool         `toml:"apply_md"`
	FrameWrite              bool         `toml:"od_frame_write"`
	AnnotationWrite         bool         `toml:"od_annotation_write"`
	OutputDetectionPath     string       `toml:"output_detection_path"`
	FrameRate               int          `toml:"od_frame_rate"`
	TaskQueueSize           int          `toml:"od_task_q_size"`
	BlurOutputFrame         bool         `toml:"od_blur_output_frame"`
}

// PatternStepConfig is a single step of a configured pattern: either a
// concrete state name, or a NotState with a state name and duration.
type PatternStepConfig struct {
	State        string  `toml:"state"`
	NotState     bool    `toml:"not_state"`
	DurationSecs float64 `toml:"duration_secs"`
}

// PatternConfig1 is one named pattern from the pattern_detection_* option
// group — TOML doesn't support heterogeneous arrays well, so patterns are a
// table array ([[pattern.patterns]]) each with an ID and an ordered list of
// steps.
type PatternConfig1 struct {
	ID    string              `toml:"id"`
	Steps []PatternStepConfig `toml:"steps"`
}

// PatternConfig is the pattern_detection_* option group (C7).
type PatternConfig struct {
	Enabled                  bool             `toml:"enabled"`
	Patterns                 []PatternConfig1 `toml:"patterns"`
	StateHistoryLengthSecs   float64          `toml:"state_history_length"`
	StateHistoryLengthPartialSecs float64     `toml:"state_history_length_partial"`
	IntervalSecs             float64          `toml:"interval"`
}

// NotifierConfig is the notifier option group (§6, C9).
type NotifierConfig struct {
	SendMQTT         bool               `toml:"send_mqtt"`
	SendWebhook      bool               `toml:"send_webhook"`
	BrokerHost       string             `toml:"broker_host"`
	BrokerPort       int                `toml:"broker_port"`
	BrokerUser       string             `toml:"broker_user"`
	BrokerPassword   string             `toml:"broker_password"`
	Topic            string             `toml:"topic"`
	WebhookURL       string             `toml:"webhook_url"`
	QueueSize        int                `toml:"notifier_queue_size"`
	RateLimits       map[string]float64 `toml:"notifier_rate_limits"` // NotificationType -> tokens/sec
}

// Default returns the configuration used when no file is supplied, tuned
// for a single in-sync video-file pipeline suitable for tests and demos.
func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "info"},
		Metrics: MetricsConfig{Addr: ":9090"},
		Input: InputConfig{
			Mode:        InputVideoFile,
			VideoInSync: true,
			QueueSize:   1,
		},
		Motion: MotionConfig{
			MinContArea:      500,
			Threshold:        25,
			BGAccumWeight:    0.5,
			WarmupFrameCount: 30,
			EnableErode:      true,
			EnableDilate:     true,
			ErodeIterations:  2,
			DilateIterations: 2,
			FrameRate:        10,
			BoxThresholdX:    20,
			BoxThresholdY:    20,
		},
		DoorState: DoorStateConfig{
			Enabled:        true,
			Variant:        DoorVariantSingleShotColor,
			DistanceThresh: 15,
		},
		Detector: DetectorConfig{
			AccuracyThreshold:       0.5,
			DetectionLabels:         []string{"*"},
			DetectionBufferEnabled:  true,
			DetectionBufferDuration: 3000,
			DetectionBufferThresh:   4,
			DetectorType:            DetectorTFLite,
			ApplyMotionDetection:    true,
			FrameRate:               5,
			TaskQueueSize:           4,
			OutputDetectionPath:     "./detections",
		},
		Pattern: PatternConfig{
			Enabled:                       true,
			StateHistoryLengthSecs:        30,
			StateHistoryLengthPartialSecs: 120,
			IntervalSecs:                  1,
		},
		Notifier: NotifierConfig{
			QueueSize:  16,
			RateLimits: map[string]float64{},
		},
	}
}

// Load reads and parses a TOML configuration file, falling back to Default
// when path is empty or the file does not exist, matching the behavior
// MiFace's config loader established.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Pattern.Enabled && c.Pattern.StateHistoryLengthSecs <= 0 {
		return fmt.Errorf("pattern.state_history_length must be positive, got %f", c.Pattern.StateHistoryLengthSecs)
	}
	if c.Pattern.Enabled && c.Pattern.StateHistoryLengthPartialSecs < c.Pattern.StateHistoryLengthSecs {
		return fmt.Errorf("pattern.state_history_length_partial must be >= state_history_length")
	}
	if c.Pattern.Enabled && c.Pattern.IntervalSecs <= 0 {
		return fmt.Errorf("pattern.interval must be positive, got %f", c.Pattern.IntervalSecs)
	}
	if c.Detector.AccuracyThreshold < 0 || c.Detector.AccuracyThreshold > 1 {
		return fmt.Errorf("detector.accuracy_threshold must be between 0 and 1, got %f", c.Detector.AccuracyThreshold)
	}
	if c.Detector.TaskQueueSize <= 0 {
		return fmt.Errorf("detector.od_task_q_size must be positive, got %d", c.Detector.TaskQueueSize)
	}
	switch c.Input.Mode {
	case InputNetworkStream, InputCamera, InputVideoFile:
	default:
		return fmt.Errorf("input.mode must be one of NETWORK_STREAM, CAMERA, VIDEO_FILE, got %q", c.Input.Mode)
	}
	return nil
}
