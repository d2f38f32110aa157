package config_test

import (
	"strings"
	"testing"

	"github.com/kestrelvoice/kestrel/internal/config"
)

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
spotter:
  backend: mock
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Audio.SampleRate != config.DefaultSampleRate {
		t.Errorf("sample_rate: got %d, want %d", cfg.Audio.SampleRate, config.DefaultSampleRate)
	}
	if cfg.Gate.Backend != "energy" {
		t.Errorf("gate.backend: got %q, want %q", cfg.Gate.Backend, "energy")
	}
	if cfg.Detector.Mode != config.DetectorWindowed {
		t.Errorf("detector.mode: got %q, want %q", cfg.Detector.Mode, config.DetectorWindowed)
	}
	if cfg.Stages.Recognizer.Backend != "stub" {
		t.Errorf("recognizer.backend: got %q, want %q", cfg.Stages.Recognizer.Backend, "stub")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
spotter:
  backend: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_OnnxSpotterRequiresPaths(t *testing.T) {
	t.Parallel()
	yaml := `
spotter:
  backend: onnx
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for onnx spotter without paths, got nil")
	}
	if !strings.Contains(err.Error(), "spotter.model_path") {
		t.Errorf("error should mention spotter.model_path, got: %v", err)
	}
	if !strings.Contains(err.Error(), "spotter.keywords_path") {
		t.Errorf("error should mention spotter.keywords_path, got: %v", err)
	}
}

func TestValidate_SileroGateRequiresModelPath(t *testing.T) {
	t.Parallel()
	yaml := `
gate:
  backend: silero
spotter:
  backend: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for silero gate without model_path, got nil")
	}
	if !strings.Contains(err.Error(), "gate.model_path") {
		t.Errorf("error should mention gate.model_path, got: %v", err)
	}
}

func TestValidate_LLMIntentRequiresProviderAndModel(t *testing.T) {
	t.Parallel()
	yaml := `
spotter:
  backend: mock
stages:
  intent:
    backend: llm
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for llm intent without provider/model, got nil")
	}
	if !strings.Contains(err.Error(), "stages.intent.provider") {
		t.Errorf("error should mention stages.intent.provider, got: %v", err)
	}
	if !strings.Contains(err.Error(), "stages.intent.model") {
		t.Errorf("error should mention stages.intent.model, got: %v", err)
	}
}

func TestValidate_CompleteOnnxConfigIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":9000"
  log_level: debug
spotter:
  backend: onnx
  model_path: /models/kws.onnx
  keywords_path: /models/keywords.txt
  threshold: 0.6
stages:
  intent:
    backend: llm
    provider: ollama
    model: llama3.2
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Spotter.Threshold != 0.6 {
		t.Errorf("spotter.threshold: got %v, want 0.6", cfg.Spotter.Threshold)
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
spotter:
  backend: onnx
  threshold: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "spotter.threshold") {
		t.Errorf("error should mention spotter.threshold, got: %v", err)
	}
	if !strings.Contains(errStr, "spotter.model_path") {
		t.Errorf("error should mention spotter.model_path, got: %v", err)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := `
spotter:
  backend: mock
  wake_words: ["kestrel"]
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidBackendNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidBackendNames) == 0 {
		t.Fatal("ValidBackendNames should not be empty")
	}
	gateNames := config.ValidBackendNames["gate"]
	if len(gateNames) == 0 {
		t.Fatal("ValidBackendNames[\"gate\"] should not be empty")
	}
	found := false
	for _, n := range gateNames {
		if n == "energy" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidBackendNames[\"gate\"] should contain \"energy\"")
	}
}
