package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Log.Level != "info" {
		t.Errorf("expected Log.Level info, got %q", cfg.Log.Level)
	}
	if cfg.Input.Mode != InputVideoFile {
		t.Errorf("expected Input.Mode VIDEO_FILE, got %q", cfg.Input.Mode)
	}
	if !cfg.DoorState.Enabled {
		t.Error("expected DoorState.Enabled to be true")
	}
	if cfg.DoorState.Variant != DoorVariantSingleShotColor {
		t.Errorf("expected DoorState.Variant SINGLE_SHOT_COLOR, got %q", cfg.DoorState.Variant)
	}
	if !cfg.Pattern.Enabled {
		t.Error("expected Pattern.Enabled to be true")
	}
	if cfg.Pattern.StateHistoryLengthPartialSecs < cfg.Pattern.StateHistoryLengthSecs {
		t.Error("expected partial retention window to be at least the short window")
	}
	if cfg.Detector.TaskQueueSize <= 0 {
		t.Errorf("expected a positive TaskQueueSize, got %d", cfg.Detector.TaskQueueSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected Default() to validate cleanly, got %v", err)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("unexpected error for non-existent file: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected default config for non-existent file")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	content := `
[input]
mode = "CAMERA"
camera_device = 2

[door_state]
enabled = false
variant = "ADAPTIVE"

[pattern]
enabled = true
state_history_length = 15
state_history_length_partial = 60
interval = 2

[[pattern.patterns]]
id = "person-entering"

[[pattern.patterns.steps]]
state = "MOTION_OUTSIDE_MASK"

[[pattern.patterns.steps]]
state = "DOOR_OPEN"

[detector]
od_task_q_size = 8
accuracy_threshold = 0.6
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Input.Mode != InputCamera {
		t.Errorf("expected Input.Mode CAMERA, got %q", cfg.Input.Mode)
	}
	if cfg.Input.CameraDevice != 2 {
		t.Errorf("expected CameraDevice 2, got %d", cfg.Input.CameraDevice)
	}
	if cfg.DoorState.Enabled {
		t.Error("expected DoorState.Enabled to be false")
	}
	if cfg.DoorState.Variant != DoorVariantAdaptive {
		t.Errorf("expected DoorState.Variant ADAPTIVE, got %q", cfg.DoorState.Variant)
	}
	if len(cfg.Pattern.Patterns) != 1 || cfg.Pattern.Patterns[0].ID != "person-entering" {
		t.Errorf("expected one pattern named person-entering, got %+v", cfg.Pattern.Patterns)
	}
	if len(cfg.Pattern.Patterns[0].Steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(cfg.Pattern.Patterns[0].Steps))
	}
	if cfg.Detector.TaskQueueSize != 8 {
		t.Errorf("expected TaskQueueSize 8, got %d", cfg.Detector.TaskQueueSize)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.toml")
	if err := os.WriteFile(path, []byte("invalid [ toml"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestValidate_InvalidInputMode(t *testing.T) {
	cfg := Default()
	cfg.Input.Mode = "NOT_A_MODE"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid input mode")
	}
}

func TestValidate_InvalidAccuracyThreshold(t *testing.T) {
	cfg := Default()
	cfg.Detector.AccuracyThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for accuracy_threshold > 1")
	}

	cfg.Detector.AccuracyThreshold = -0.1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for accuracy_threshold < 0")
	}
}

func TestValidate_InvalidTaskQueueSize(t *testing.T) {
	cfg := Default()
	cfg.Detector.TaskQueueSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for non-positive od_task_q_size")
	}
}

func TestValidate_PatternWindowsOnlyCheckedWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.Pattern.Enabled = false
	cfg.Pattern.StateHistoryLengthSecs = 0
	cfg.Pattern.IntervalSecs = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected disabled pattern detection to skip window validation, got %v", err)
	}

	cfg.Pattern.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("expected error once pattern detection is enabled with a zero state_history_length")
	}
}
