package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Defaults applied by the loader when a field is left empty.
const (
	DefaultListenAddr = ":8765"
	DefaultSampleRate = 16000
)

// ValidBackendNames lists known backend names per concern.
// Used by [Validate] to warn about unrecognised backend names.
var ValidBackendNames = map[string][]string{
	"gate":        {"energy", "silero"},
	"spotter":     {"onnx", "mock"},
	"recognizer":  {"stub", "whisper"},
	"intent":      {"stub", "llm"},
	"executor":    {"stub"},
	"synthesizer": {"stub"},
}

// ValidLLMProviders lists the providers the llm intent backend can talk to.
var ValidLLMProviders = []string{"openai", "anthropic", "ollama", "mistral", "groq", "llamacpp"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills empty fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Gate.Backend == "" {
		cfg.Gate.Backend = "energy"
	}
	if cfg.Spotter.Backend == "" {
		cfg.Spotter.Backend = "onnx"
	}
	if cfg.Detector.Mode == "" {
		cfg.Detector.Mode = DetectorWindowed
	}
	if cfg.Stages.Recognizer.Backend == "" {
		cfg.Stages.Recognizer.Backend = "stub"
	}
	if cfg.Stages.Intent.Backend == "" {
		cfg.Stages.Intent.Backend = "stub"
	}
	if cfg.Stages.Executor.Backend == "" {
		cfg.Stages.Executor.Backend = "stub"
	}
	if cfg.Stages.Synthesizer.Backend == "" {
		cfg.Stages.Synthesizer.Backend = "stub"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.MaxChunkSamples < 0 {
		errs = append(errs, fmt.Errorf("audio.max_chunk_samples %d must not be negative", cfg.Audio.MaxChunkSamples))
	}

	// Backend name validation — warn for unknown backend names.
	validateBackendName("gate", cfg.Gate.Backend)
	validateBackendName("spotter", cfg.Spotter.Backend)
	validateBackendName("recognizer", cfg.Stages.Recognizer.Backend)
	validateBackendName("intent", cfg.Stages.Intent.Backend)
	validateBackendName("executor", cfg.Stages.Executor.Backend)
	validateBackendName("synthesizer", cfg.Stages.Synthesizer.Backend)

	// Gate
	if cfg.Gate.Backend == "silero" && cfg.Gate.ModelPath == "" {
		errs = append(errs, errors.New("gate.model_path is required when gate.backend is silero"))
	}
	if cfg.Gate.BaseThreshold < 0 {
		errs = append(errs, fmt.Errorf("gate.base_threshold %.3f must not be negative", cfg.Gate.BaseThreshold))
	}
	if cfg.Gate.AdaptationRate < 0 || cfg.Gate.AdaptationRate > 1 {
		errs = append(errs, fmt.Errorf("gate.adaptation_rate %.3f is out of range [0, 1]", cfg.Gate.AdaptationRate))
	}
	if cfg.Gate.Threshold < 0 || cfg.Gate.Threshold > 1 {
		errs = append(errs, fmt.Errorf("gate.threshold %.3f is out of range [0, 1]", cfg.Gate.Threshold))
	}

	// Spotter
	if cfg.Spotter.Backend == "onnx" {
		if cfg.Spotter.ModelPath == "" {
			errs = append(errs, errors.New("spotter.model_path is required when spotter.backend is onnx"))
		}
		if cfg.Spotter.KeywordsPath == "" {
			errs = append(errs, errors.New("spotter.keywords_path is required when spotter.backend is onnx"))
		}
	}
	if cfg.Spotter.Threshold < 0 || cfg.Spotter.Threshold > 1 {
		errs = append(errs, fmt.Errorf("spotter.threshold %.3f is out of range [0, 1]", cfg.Spotter.Threshold))
	}
	if cfg.Spotter.WindowSamples < 0 {
		errs = append(errs, fmt.Errorf("spotter.window_samples %d must not be negative", cfg.Spotter.WindowSamples))
	}
	if cfg.Spotter.ConfirmWindows < 0 {
		errs = append(errs, fmt.Errorf("spotter.confirm_windows %d must not be negative", cfg.Spotter.ConfirmWindows))
	}

	// Detector
	if cfg.Detector.Mode != "" && !cfg.Detector.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("detector.mode %q is invalid; valid values: direct, windowed", cfg.Detector.Mode))
	}
	if cfg.Detector.MinWindowSamples < 0 {
		errs = append(errs, fmt.Errorf("detector.min_window_samples %d must not be negative", cfg.Detector.MinWindowSamples))
	}

	// Stage backend cross-requirements
	if cfg.Stages.Recognizer.Backend == "whisper" && cfg.Stages.Recognizer.ModelPath == "" {
		errs = append(errs, errors.New("stages.recognizer.model_path is required when stages.recognizer.backend is whisper"))
	}
	if cfg.Stages.Intent.Backend == "llm" {
		if cfg.Stages.Intent.Provider == "" {
			errs = append(errs, errors.New("stages.intent.provider is required when stages.intent.backend is llm"))
		} else if !slices.Contains(ValidLLMProviders, cfg.Stages.Intent.Provider) {
			slog.Warn("unknown llm provider — may be a typo or third-party provider",
				"provider", cfg.Stages.Intent.Provider,
				"known", ValidLLMProviders,
			)
		}
		if cfg.Stages.Intent.Model == "" {
			errs = append(errs, errors.New("stages.intent.model is required when stages.intent.backend is llm"))
		}
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not found in
// the [ValidBackendNames] list for the given kind.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidBackendNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name — may be a typo or third-party backend",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
