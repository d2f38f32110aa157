package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kestrelvoice/kestrel/pkg/spotter"
	"github.com/kestrelvoice/kestrel/pkg/stage"
	"github.com/kestrelvoice/kestrel/pkg/vad"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Registry maps backend names to their constructor functions for each
// pipeline concern. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	gate        map[string]func(GateConfig) (vad.Gate, error)
	spotter     map[string]func(SpotterConfig) (spotter.Engine, error)
	recognizer  map[string]func(StageEntry) (stage.Recognizer, error)
	intent      map[string]func(StageEntry) (stage.IntentResolver, error)
	executor    map[string]func(StageEntry) (stage.Executor, error)
	synthesizer map[string]func(StageEntry) (stage.Synthesizer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		gate:        make(map[string]func(GateConfig) (vad.Gate, error)),
		spotter:     make(map[string]func(SpotterConfig) (spotter.Engine, error)),
		recognizer:  make(map[string]func(StageEntry) (stage.Recognizer, error)),
		intent:      make(map[string]func(StageEntry) (stage.IntentResolver, error)),
		executor:    make(map[string]func(StageEntry) (stage.Executor, error)),
		synthesizer: make(map[string]func(StageEntry) (stage.Synthesizer, error)),
	}
}

// RegisterGate registers a voice activity gate factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterGate(name string, factory func(GateConfig) (vad.Gate, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate[name] = factory
}

// RegisterSpotter registers a keyword spotting engine factory under name.
func (r *Registry) RegisterSpotter(name string, factory func(SpotterConfig) (spotter.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spotter[name] = factory
}

// RegisterRecognizer registers a speech recognizer factory under name.
func (r *Registry) RegisterRecognizer(name string, factory func(StageEntry) (stage.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizer[name] = factory
}

// RegisterIntent registers an intent resolver factory under name.
func (r *Registry) RegisterIntent(name string, factory func(StageEntry) (stage.IntentResolver, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intent[name] = factory
}

// RegisterExecutor registers a command executor factory under name.
func (r *Registry) RegisterExecutor(name string, factory func(StageEntry) (stage.Executor, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executor[name] = factory
}

// RegisterSynthesizer registers a speech synthesizer factory under name.
func (r *Registry) RegisterSynthesizer(name string, factory func(StageEntry) (stage.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesizer[name] = factory
}

// CreateGate instantiates a gate using the factory registered under cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateGate(cfg GateConfig) (vad.Gate, error) {
	r.mu.RLock()
	factory, ok := r.gate[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: gate/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// CreateSpotter instantiates a spotting engine using the factory registered
// under cfg.Backend.
func (r *Registry) CreateSpotter(cfg SpotterConfig) (spotter.Engine, error) {
	r.mu.RLock()
	factory, ok := r.spotter[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: spotter/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// CreateRecognizer instantiates a recognizer using the factory registered
// under entry.Backend.
func (r *Registry) CreateRecognizer(entry StageEntry) (stage.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.recognizer[entry.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognizer/%q", ErrBackendNotRegistered, entry.Backend)
	}
	return factory(entry)
}

// CreateIntent instantiates an intent resolver using the factory registered
// under entry.Backend.
func (r *Registry) CreateIntent(entry StageEntry) (stage.IntentResolver, error) {
	r.mu.RLock()
	factory, ok := r.intent[entry.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: intent/%q", ErrBackendNotRegistered, entry.Backend)
	}
	return factory(entry)
}

// CreateExecutor instantiates an executor using the factory registered under
// entry.Backend.
func (r *Registry) CreateExecutor(entry StageEntry) (stage.Executor, error) {
	r.mu.RLock()
	factory, ok := r.executor[entry.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: executor/%q", ErrBackendNotRegistered, entry.Backend)
	}
	return factory(entry)
}

// CreateSynthesizer instantiates a synthesizer using the factory registered
// under entry.Backend.
func (r *Registry) CreateSynthesizer(entry StageEntry) (stage.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.synthesizer[entry.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: synthesizer/%q", ErrBackendNotRegistered, entry.Backend)
	}
	return factory(entry)
}
