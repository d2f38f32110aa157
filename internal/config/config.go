// Package config provides the configuration schema, loader, and backend
// registry for the Kestrel voice pipeline server.
package config

// LogLevel controls log verbosity for the Kestrel server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// DetectorMode selects how chunks reach the keyword recognizer.
type DetectorMode string

const (
	// DetectorDirect feeds every chunk straight into the recognizer's
	// streaming decode state.
	DetectorDirect DetectorMode = "direct"

	// DetectorWindowed accumulates a minimum window of audio before each
	// decode pass and slides it across the stream.
	DetectorWindowed DetectorMode = "windowed"
)

// IsValid reports whether m is a recognised detector mode.
func (m DetectorMode) IsValid() bool {
	return m == DetectorDirect || m == DetectorWindowed
}

// Config is the root configuration structure for Kestrel.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Audio    AudioConfig    `yaml:"audio"`
	Gate     GateConfig     `yaml:"gate"`
	Spotter  SpotterConfig  `yaml:"spotter"`
	Detector DetectorConfig `yaml:"detector"`
	Stages   StagesConfig   `yaml:"stages"`
}

// ServerConfig holds network and logging settings for the Kestrel server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8765").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig constrains the audio format accepted at the ingress.
type AudioConfig struct {
	// SampleRate is the required sample rate of incoming chunks in Hz.
	SampleRate int `yaml:"sample_rate"`

	// MaxChunkSamples bounds the size of a single incoming chunk. Larger
	// chunks are rejected at the ingress. Zero means no bound.
	MaxChunkSamples int `yaml:"max_chunk_samples"`
}

// GateConfig selects and tunes the voice activity gate.
type GateConfig struct {
	// Backend selects the gate implementation: "energy" or "silero".
	Backend string `yaml:"backend"`

	// BaseThreshold is the energy floor below which the adaptive threshold
	// never drops. Used by the energy backend.
	BaseThreshold float64 `yaml:"base_threshold"`

	// AdaptationRate controls how fast the noise floor tracks the input,
	// in (0, 1]. Used by the energy backend.
	AdaptationRate float64 `yaml:"adaptation_rate"`

	// ModelPath locates the ONNX model file. Required by the silero backend.
	ModelPath string `yaml:"model_path"`

	// Threshold is the speech probability cutoff for the silero backend.
	Threshold float64 `yaml:"threshold"`
}

// SpotterConfig selects and tunes the keyword spotting engine.
type SpotterConfig struct {
	// Backend selects the engine implementation: "onnx" or "mock".
	Backend string `yaml:"backend"`

	// ModelPath locates the keyword classification model. Required by the
	// onnx backend.
	ModelPath string `yaml:"model_path"`

	// KeywordsPath locates the keywords list file, one keyword per line.
	// Required by the onnx backend.
	KeywordsPath string `yaml:"keywords_path"`

	// Threshold is the per-window score a keyword class must reach, in [0, 1].
	Threshold float64 `yaml:"threshold"`

	// WindowSamples is the decode window size in samples. Zero selects the
	// engine default.
	WindowSamples int `yaml:"window_samples"`

	// ConfirmWindows is the number of consecutive windows a keyword must win
	// before it counts as detected. Zero selects the engine default.
	ConfirmWindows int `yaml:"confirm_windows"`

	// LibraryPath overrides the ONNX Runtime shared library location.
	LibraryPath string `yaml:"library_path"`
}

// DetectorConfig tunes the chunk-level detection policy.
type DetectorConfig struct {
	// Mode selects the detection policy.
	Mode DetectorMode `yaml:"mode"`

	// MinWindowSamples is the minimum audio accumulated before a windowed
	// decode pass. Only used in windowed mode; zero selects the default.
	MinWindowSamples int `yaml:"min_window_samples"`
}

// StagesConfig declares which backend implementation to use for each
// post-wake stage. Each entry selects a named backend registered in the
// [Registry].
type StagesConfig struct {
	Recognizer  StageEntry `yaml:"recognizer"`
	Intent      StageEntry `yaml:"intent"`
	Executor    StageEntry `yaml:"executor"`
	Synthesizer StageEntry `yaml:"synthesizer"`
}

// StageEntry is the common configuration block shared by all stage backends.
// The Backend field is used to look up the constructor in the [Registry].
type StageEntry struct {
	// Backend selects the registered implementation (e.g., "stub", "whisper", "llm").
	Backend string `yaml:"backend"`

	// Provider names the upstream service for backends that have one
	// (e.g., "openai", "ollama" for the llm intent backend).
	Provider string `yaml:"provider"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// ModelPath locates a local model file for on-device backends.
	ModelPath string `yaml:"model_path"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Options holds backend-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}
