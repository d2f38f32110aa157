// Package app wires all Kestrel subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// Backends come from main.go via the config registry. For testing, inject
// mock engines and stages through the Backends struct and tune the rest with
// functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kestrelvoice/kestrel/internal/config"
	"github.com/kestrelvoice/kestrel/internal/health"
	"github.com/kestrelvoice/kestrel/internal/observe"
	"github.com/kestrelvoice/kestrel/internal/pipeline"
	"github.com/kestrelvoice/kestrel/internal/server"
	"github.com/kestrelvoice/kestrel/internal/wakeword"
	"github.com/kestrelvoice/kestrel/pkg/spotter"
	"github.com/kestrelvoice/kestrel/pkg/stage"
	"github.com/kestrelvoice/kestrel/pkg/vad"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers before the connection is dropped.
const readHeaderTimeout = 10 * time.Second

// Backends holds one implementation per pipeline slot. Populated by main.go
// via the config registry; tests fill it with mocks.
type Backends struct {
	// Spotter creates one keyword-spotting session per connection.
	Spotter spotter.Engine

	// NewGate builds a fresh voice activity gate per connection. Gates keep
	// adaptive state, so they are never shared across sessions.
	NewGate func() (vad.Gate, error)

	// The four post-wake stages, shared by all sessions.
	Recognizer  stage.Recognizer
	Resolver    stage.IntentResolver
	Executor    stage.Executor
	Synthesizer stage.Synthesizer
}

func (b *Backends) validate() error {
	var errs []error
	if b.Spotter == nil {
		errs = append(errs, errors.New("spotter engine is required"))
	}
	if b.NewGate == nil {
		errs = append(errs, errors.New("gate factory is required"))
	}
	if b.Recognizer == nil {
		errs = append(errs, errors.New("recognizer stage is required"))
	}
	if b.Resolver == nil {
		errs = append(errs, errors.New("intent resolver stage is required"))
	}
	if b.Executor == nil {
		errs = append(errs, errors.New("executor stage is required"))
	}
	if b.Synthesizer == nil {
		errs = append(errs, errors.New("synthesizer stage is required"))
	}
	return errors.Join(errs...)
}

// App owns all subsystem lifetimes and serves the Kestrel voice pipeline.
type App struct {
	cfg      *config.Config
	backends *Backends

	log     *slog.Logger
	metrics *observe.Metrics
	health  *health.Handler

	srv     *server.Server
	httpSrv *http.Server

	// extraCheckers are readiness checkers added via WithHealthCheckers.
	extraCheckers []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger sets the logger used by all subsystems. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithMetrics injects a metrics bundle instead of the lazily created default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithHealthCheckers adds readiness checkers on top of the ones derived from
// the configuration's model paths.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(a *App) { a.extraCheckers = append(a.extraCheckers, checkers...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The backends struct
// comes from main.go (populated via the config registry).
func New(cfg *config.Config, backends *Backends, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if backends == nil {
		return nil, errors.New("app: backends are required")
	}

	a := &App{
		cfg:      cfg,
		backends: backends,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := backends.validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.registerStageClosers()

	a.health = health.New(a.buildCheckers()...)

	a.srv = server.New(server.Config{
		SampleRate:      cfg.Audio.SampleRate,
		MaxChunkSamples: cfg.Audio.MaxChunkSamples,
		NewPipeline:     a.newPipeline,
		Health:          a.health,
		Logger:          a.log,
		Metrics:         a.metrics,
	})

	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return a, nil
}

// registerStageClosers adds a closer for every shared stage that owns
// resources (e.g. a loaded model).
func (a *App) registerStageClosers() {
	for _, v := range []any{
		a.backends.Recognizer,
		a.backends.Resolver,
		a.backends.Executor,
		a.backends.Synthesizer,
		a.backends.Spotter,
	} {
		if c, ok := v.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}
}

// buildCheckers derives readiness checkers from the configured model paths.
func (a *App) buildCheckers() []health.Checker {
	var checkers []health.Checker
	if a.cfg.Spotter.ModelPath != "" {
		checkers = append(checkers, health.FileChecker("spotter_model", a.cfg.Spotter.ModelPath))
	}
	if a.cfg.Spotter.KeywordsPath != "" {
		checkers = append(checkers, health.FileChecker("spotter_keywords", a.cfg.Spotter.KeywordsPath))
	}
	if a.cfg.Gate.ModelPath != "" {
		checkers = append(checkers, health.FileChecker("gate_model", a.cfg.Gate.ModelPath))
	}
	if a.cfg.Stages.Recognizer.ModelPath != "" {
		checkers = append(checkers, health.FileChecker("recognizer_model", a.cfg.Stages.Recognizer.ModelPath))
	}
	return append(checkers, a.extraCheckers...)
}

// newPipeline builds the per-connection pipeline: a fresh spotter session and
// gate wrapped in a detector, plus the shared stages.
func (a *App) newPipeline() (*pipeline.Pipeline, func() error, error) {
	sess, err := a.backends.Spotter.NewSession()
	if err != nil {
		return nil, nil, fmt.Errorf("app: create spotter session: %w", err)
	}
	gate, err := a.backends.NewGate()
	if err != nil {
		sess.Close()
		return nil, nil, fmt.Errorf("app: create gate: %w", err)
	}

	var det pipeline.Detector
	switch a.cfg.Detector.Mode {
	case config.DetectorWindowed:
		det = wakeword.NewWindowedDetector(sess, a.cfg.Audio.SampleRate, a.cfg.Detector.MinWindowSamples, a.log)
	default:
		det = wakeword.NewDetector(sess, a.cfg.Audio.SampleRate, a.log)
	}

	// Streaming recognizers capture the command utterance out of band.
	var collector pipeline.AudioCollector
	if c, ok := a.backends.Recognizer.(pipeline.AudioCollector); ok {
		collector = c
	}

	p := pipeline.New(pipeline.Config{
		Detector: det,
		Gate:     gate,
		Stages: pipeline.Stages{
			Recognizer:  a.backends.Recognizer,
			Resolver:    a.backends.Resolver,
			Executor:    a.backends.Executor,
			Synthesizer: a.backends.Synthesizer,
		},
		Collector: collector,
		Logger:    a.log,
		Metrics:   a.metrics,
	})

	cleanup := func() error {
		var errs []error
		if c, ok := gate.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		errs = append(errs, sess.Close())
		return errors.Join(errs...)
	}
	return p, cleanup, nil
}

// Handler returns the full HTTP handler (websocket, control API, health and
// metrics endpoints). Exposed for tests that serve it via httptest.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves until ctx is cancelled or the listener fails. On cancellation it
// returns nil; the caller is expected to follow up with Shutdown.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if a.cfg.Server.TLS != nil {
			err = a.httpSrv.ListenAndServeTLS(a.cfg.Server.TLS.CertFile, a.cfg.Server.TLS.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		errCh <- err
	}()

	a.log.Info("kestrel serving",
		"addr", a.cfg.Server.ListenAddr,
		"tls", a.cfg.Server.TLS != nil,
		"spotter", a.cfg.Spotter.Backend,
		"gate", a.cfg.Gate.Backend)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order: stop active sessions, stop
// the HTTP listener, then release backend resources. It respects the
// context deadline: if ctx expires, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		// Close websocket sessions first; their handlers hold the HTTP
		// server open until the connections are gone.
		a.srv.Shutdown(ctx)
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
