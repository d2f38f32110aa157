// Package mock provides test doubles for the four stage interfaces. Each
// double records its calls and returns scripted values, with a per-double
// injected error for failure-path tests.
package mock

import (
	"context"
	"sync"

	"github.com/kestrelvoice/kestrel/pkg/stage"
)

// Recognizer is a mock implementation of stage.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Transcript is returned by every Recognize call.
	Transcript stage.Transcript

	// Err, if non-nil, is returned by every Recognize call.
	Err error

	// CallCount is the number of times Recognize was called.
	CallCount int
}

// Recognize records the call and returns Transcript, Err.
func (r *Recognizer) Recognize(context.Context) (stage.Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCount++
	if r.Err != nil {
		return stage.Transcript{}, r.Err
	}
	return r.Transcript, nil
}

// Ensure Recognizer implements stage.Recognizer at compile time.
var _ stage.Recognizer = (*Recognizer)(nil)

// Resolver is a mock implementation of stage.IntentResolver.
type Resolver struct {
	mu sync.Mutex

	// Intent is returned by every Resolve call.
	Intent stage.Intent

	// Err, if non-nil, is returned by every Resolve call.
	Err error

	// Transcripts records the transcript passed to each Resolve call.
	Transcripts []stage.Transcript
}

// Resolve records the call and returns Intent, Err.
func (r *Resolver) Resolve(_ context.Context, t stage.Transcript) (stage.Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Transcripts = append(r.Transcripts, t)
	if r.Err != nil {
		return stage.Intent{}, r.Err
	}
	return r.Intent, nil
}

// Ensure Resolver implements stage.IntentResolver at compile time.
var _ stage.IntentResolver = (*Resolver)(nil)

// Executor is a mock implementation of stage.Executor.
type Executor struct {
	mu sync.Mutex

	// Result is returned by every Execute call.
	Result stage.CommandResult

	// Err, if non-nil, is returned by every Execute call.
	Err error

	// Intents records the intent passed to each Execute call.
	Intents []stage.Intent
}

// Execute records the call and returns Result, Err.
func (e *Executor) Execute(_ context.Context, in stage.Intent) (stage.CommandResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Intents = append(e.Intents, in)
	if e.Err != nil {
		return stage.CommandResult{}, e.Err
	}
	return e.Result, nil
}

// Ensure Executor implements stage.Executor at compile time.
var _ stage.Executor = (*Executor)(nil)

// Synthesizer is a mock implementation of stage.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every Speak call.
	Err error

	// Results records the command result passed to each Speak call.
	Results []stage.CommandResult
}

// Speak records the call and returns Err.
func (s *Synthesizer) Speak(_ context.Context, res stage.CommandResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results = append(s.Results, res)
	return s.Err
}

// Ensure Synthesizer implements stage.Synthesizer at compile time.
var _ stage.Synthesizer = (*Synthesizer)(nil)
