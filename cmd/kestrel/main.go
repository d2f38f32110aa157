// Command kestrel is the main entry point for the Kestrel voice pipeline server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/kestrelvoice/kestrel/internal/app"
	"github.com/kestrelvoice/kestrel/internal/config"
	"github.com/kestrelvoice/kestrel/internal/gate"
	"github.com/kestrelvoice/kestrel/internal/observe"
	"github.com/kestrelvoice/kestrel/pkg/spotter"
	spottermock "github.com/kestrelvoice/kestrel/pkg/spotter/mock"
	"github.com/kestrelvoice/kestrel/pkg/spotter/onnx"
	"github.com/kestrelvoice/kestrel/pkg/stage"
	"github.com/kestrelvoice/kestrel/pkg/stage/llmintent"
	"github.com/kestrelvoice/kestrel/pkg/stage/stub"
	"github.com/kestrelvoice/kestrel/pkg/stage/whisper"
	"github.com/kestrelvoice/kestrel/pkg/vad"
	"github.com/kestrelvoice/kestrel/pkg/vad/silero"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kestrel: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kestrel: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("kestrel starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "kestrel",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend registry ──────────────────────────────────────────────────────
	if cfg.Spotter.LibraryPath != "" {
		onnx.SetLibraryPath(cfg.Spotter.LibraryPath)
		silero.SetLibraryPath(cfg.Spotter.LibraryPath)
	}
	reg := config.NewRegistry()
	registerBuiltinBackends(reg, cfg)

	// ── Instantiate backends ──────────────────────────────────────────────────
	backends, err := buildBackends(cfg, reg)
	if err != nil {
		slog.Error("failed to build backends", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg, backends, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			logLevel.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.GateTuningChanged {
			slog.Info("gate tuning changed, applies to new sessions")
		}
		if len(diff.RestartRequired) > 0 {
			slog.Warn("config sections changed that require a restart", "sections", diff.RestartRequired)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ──────────────────────────────────────────────────────────

// registerBuiltinBackends wires all built-in backend factories into reg. Each
// factory receives its configuration section and constructs the backend from
// the real implementation packages.
func registerBuiltinBackends(reg *config.Registry, cfg *config.Config) {
	// ── Gate ────────────────────────────────────────────────────────────────

	reg.RegisterGate("energy", func(gc config.GateConfig) (vad.Gate, error) {
		var opts []gate.Option
		if gc.BaseThreshold > 0 {
			opts = append(opts, gate.WithBaseThreshold(gc.BaseThreshold))
		}
		if gc.AdaptationRate > 0 {
			opts = append(opts, gate.WithAdaptationRate(gc.AdaptationRate))
		}
		return gate.New(opts...), nil
	})

	reg.RegisterGate("silero", func(gc config.GateConfig) (vad.Gate, error) {
		return silero.New(gc.ModelPath, float32(gc.Threshold))
	})

	// ── Spotter ─────────────────────────────────────────────────────────────

	reg.RegisterSpotter("onnx", func(sc config.SpotterConfig) (spotter.Engine, error) {
		return onnx.New(onnx.Config{
			ModelPath:      sc.ModelPath,
			KeywordsPath:   sc.KeywordsPath,
			SampleRate:     cfg.Audio.SampleRate,
			Threshold:      float32(sc.Threshold),
			WindowSize:     sc.WindowSamples,
			ConfirmWindows: sc.ConfirmWindows,
		})
	})

	// The mock spotter detects nothing; useful for soak-testing the ingress
	// and transport without a model.
	reg.RegisterSpotter("mock", func(config.SpotterConfig) (spotter.Engine, error) {
		return &spottermock.Engine{}, nil
	})

	// ── Recognizer ──────────────────────────────────────────────────────────

	reg.RegisterRecognizer("stub", func(entry config.StageEntry) (stage.Recognizer, error) {
		return stub.NewRecognizer(nil, 0), nil
	})

	reg.RegisterRecognizer("whisper", func(entry config.StageEntry) (stage.Recognizer, error) {
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.ModelPath, opts...)
	})

	// ── Intent ──────────────────────────────────────────────────────────────

	reg.RegisterIntent("stub", func(entry config.StageEntry) (stage.IntentResolver, error) {
		return stub.NewResolver(nil), nil
	})

	reg.RegisterIntent("llm", func(entry config.StageEntry) (stage.IntentResolver, error) {
		var backendOpts []anyllmlib.Option
		if entry.APIKey != "" {
			backendOpts = append(backendOpts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			backendOpts = append(backendOpts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		var opts []llmintent.Option
		if temp, ok := optFloat(entry.Options, "temperature"); ok {
			opts = append(opts, llmintent.WithTemperature(temp))
		}
		return llmintent.New(entry.Provider, entry.Model, backendOpts, opts...)
	})

	// ── Executor ────────────────────────────────────────────────────────────

	reg.RegisterExecutor("stub", func(entry config.StageEntry) (stage.Executor, error) {
		return stub.NewExecutor(0), nil
	})

	// ── Synthesizer ─────────────────────────────────────────────────────────

	reg.RegisterSynthesizer("stub", func(entry config.StageEntry) (stage.Synthesizer, error) {
		return stub.NewSynthesizer(0, 0), nil
	})
}

// buildBackends instantiates the configured backends using the registry and
// returns them in an [app.Backends] struct for the application to consume.
func buildBackends(cfg *config.Config, reg *config.Registry) (*app.Backends, error) {
	b := &app.Backends{}

	eng, err := reg.CreateSpotter(cfg.Spotter)
	if err != nil {
		return nil, fmt.Errorf("create spotter %q: %w", cfg.Spotter.Backend, err)
	}
	b.Spotter = eng
	slog.Info("backend created", "kind", "spotter", "name", cfg.Spotter.Backend)

	// Gates keep per-session adaptive state, so the factory is deferred.
	b.NewGate = func() (vad.Gate, error) {
		return reg.CreateGate(cfg.Gate)
	}
	// Validate the gate config up front instead of on the first connection.
	g, err := b.NewGate()
	if err != nil {
		return nil, fmt.Errorf("create gate %q: %w", cfg.Gate.Backend, err)
	}
	if c, ok := g.(io.Closer); ok {
		c.Close()
	}
	slog.Info("backend created", "kind", "gate", "name", cfg.Gate.Backend)

	b.Recognizer, err = reg.CreateRecognizer(cfg.Stages.Recognizer)
	if err != nil {
		return nil, fmt.Errorf("create recognizer %q: %w", cfg.Stages.Recognizer.Backend, err)
	}
	slog.Info("backend created", "kind", "recognizer", "name", cfg.Stages.Recognizer.Backend)

	b.Resolver, err = reg.CreateIntent(cfg.Stages.Intent)
	if err != nil {
		return nil, fmt.Errorf("create intent resolver %q: %w", cfg.Stages.Intent.Backend, err)
	}
	slog.Info("backend created", "kind", "intent", "name", cfg.Stages.Intent.Backend)

	b.Executor, err = reg.CreateExecutor(cfg.Stages.Executor)
	if err != nil {
		return nil, fmt.Errorf("create executor %q: %w", cfg.Stages.Executor.Backend, err)
	}
	slog.Info("backend created", "kind", "executor", "name", cfg.Stages.Executor.Backend)

	b.Synthesizer, err = reg.CreateSynthesizer(cfg.Stages.Synthesizer)
	if err != nil {
		return nil, fmt.Errorf("create synthesizer %q: %w", cfg.Stages.Synthesizer.Backend, err)
	}
	slog.Info("backend created", "kind", "synthesizer", "name", cfg.Stages.Synthesizer.Backend)

	return b, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Kestrel — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printBackend("Gate", cfg.Gate.Backend, "")
	printBackend("Spotter", cfg.Spotter.Backend, "")
	printBackend("Recognizer", cfg.Stages.Recognizer.Backend, cfg.Stages.Recognizer.Model)
	printBackend("Intent", cfg.Stages.Intent.Backend, cfg.Stages.Intent.Model)
	printBackend("Executor", cfg.Stages.Executor.Backend, "")
	printBackend("Synthesizer", cfg.Stages.Synthesizer.Backend, "")
	fmt.Printf("║  Detector mode   : %-19s ║\n", cfg.Detector.Mode)
	fmt.Printf("║  Sample rate     : %-19d ║\n", cfg.Audio.SampleRate)
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS             : %-19s ║\n", "enabled")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printBackend(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a backend Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optFloat extracts a float value from a backend Options map. YAML decodes
// numeric scalars as int or float64 depending on the literal.
func optFloat(opts map[string]any, key string) (float64, bool) {
	if opts == nil {
		return 0, false
	}
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
