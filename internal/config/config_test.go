package config_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/kestrelvoice/kestrel/internal/config"
	"github.com/kestrelvoice/kestrel/pkg/spotter"
	spottermock "github.com/kestrelvoice/kestrel/pkg/spotter/mock"
	"github.com/kestrelvoice/kestrel/pkg/stage"
	"github.com/kestrelvoice/kestrel/pkg/stage/stub"
	"github.com/kestrelvoice/kestrel/pkg/vad"
	vadmock "github.com/kestrelvoice/kestrel/pkg/vad/mock"
)

const sampleYAML = `
server:
  listen_addr: ":8765"
  log_level: info

audio:
  sample_rate: 16000
  max_chunk_samples: 48000

gate:
  backend: energy
  base_threshold: 0.01
  adaptation_rate: 0.1

spotter:
  backend: onnx
  model_path: /models/kws.onnx
  keywords_path: /models/keywords.txt
  threshold: 0.55
  window_samples: 1024
  confirm_windows: 2

detector:
  mode: windowed
  min_window_samples: 16000

stages:
  recognizer:
    backend: whisper
    model_path: /models/ggml-base.en.bin
    options:
      language: en
  intent:
    backend: llm
    provider: ollama
    model: llama3.2
    base_url: http://localhost:11434
  executor:
    backend: stub
  synthesizer:
    backend: stub
`

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8765" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Audio.MaxChunkSamples != 48000 {
		t.Errorf("max_chunk_samples: got %d", cfg.Audio.MaxChunkSamples)
	}
	if cfg.Gate.AdaptationRate != 0.1 {
		t.Errorf("adaptation_rate: got %v", cfg.Gate.AdaptationRate)
	}
	if cfg.Spotter.KeywordsPath != "/models/keywords.txt" {
		t.Errorf("keywords_path: got %q", cfg.Spotter.KeywordsPath)
	}
	if cfg.Spotter.ConfirmWindows != 2 {
		t.Errorf("confirm_windows: got %d", cfg.Spotter.ConfirmWindows)
	}
	if cfg.Detector.Mode != config.DetectorWindowed {
		t.Errorf("detector.mode: got %q", cfg.Detector.Mode)
	}
	if cfg.Stages.Recognizer.ModelPath != "/models/ggml-base.en.bin" {
		t.Errorf("recognizer.model_path: got %q", cfg.Stages.Recognizer.ModelPath)
	}
	if lang, ok := cfg.Stages.Recognizer.Options["language"].(string); !ok || lang != "en" {
		t.Errorf("recognizer.options.language: got %v", cfg.Stages.Recognizer.Options["language"])
	}
	if cfg.Stages.Intent.BaseURL != "http://localhost:11434" {
		t.Errorf("intent.base_url: got %q", cfg.Stages.Intent.BaseURL)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("\"trace\" should not be valid")
	}
}

func TestDetectorMode_IsValid(t *testing.T) {
	t.Parallel()
	if !config.DetectorDirect.IsValid() || !config.DetectorWindowed.IsValid() {
		t.Error("direct and windowed should be valid")
	}
	if config.DetectorMode("buffered").IsValid() {
		t.Error("\"buffered\" should not be valid")
	}
}

func TestRegistry_CreateRegisteredBackends(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterGate("mock", func(config.GateConfig) (vad.Gate, error) {
		return &vadmock.Gate{}, nil
	})
	r.RegisterSpotter("mock", func(config.SpotterConfig) (spotter.Engine, error) {
		return &spottermock.Engine{}, nil
	})
	r.RegisterIntent("stub", func(config.StageEntry) (stage.IntentResolver, error) {
		return stub.NewResolver(nil), nil
	})

	if _, err := r.CreateGate(config.GateConfig{Backend: "mock"}); err != nil {
		t.Errorf("CreateGate: %v", err)
	}
	if _, err := r.CreateSpotter(config.SpotterConfig{Backend: "mock"}); err != nil {
		t.Errorf("CreateSpotter: %v", err)
	}
	if _, err := r.CreateIntent(config.StageEntry{Backend: "stub"}); err != nil {
		t.Errorf("CreateIntent: %v", err)
	}
}

func TestRegistry_UnregisteredBackend(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, err := r.CreateSpotter(config.SpotterConfig{Backend: "zipformer"})
	if err == nil {
		t.Fatal("expected error for unregistered backend, got nil")
	}
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("error should wrap ErrBackendNotRegistered, got: %v", err)
	}
	if !strings.Contains(err.Error(), "zipformer") {
		t.Errorf("error should name the backend, got: %v", err)
	}
}
