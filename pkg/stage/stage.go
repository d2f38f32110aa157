// Package stage defines the four post-wake capabilities the pipeline chains
// after a wake word: speech recognition, intent resolution, command
// execution, and speech synthesis. Each is a narrow single-method interface
// so backends can be swapped per stage; the pipeline owns the sequencing and
// the error policy.
//
// All methods take a context and must honor cancellation: the pipeline runs
// the chain synchronously inside its wake cycle, and a hung stage would stall
// the whole session.
package stage

import (
	"context"
	"fmt"
)

// Stage names used in errors, logs, and metric attributes.
const (
	StageRecognize  = "recognize"
	StageIntent     = "intent"
	StageExecute    = "execute"
	StageSynthesize = "synthesize"
)

// Transcript is the output of speech recognition.
type Transcript struct {
	// Text is the recognized utterance, empty when nothing was recognized.
	Text string
}

// Intent is the output of intent resolution.
type Intent struct {
	// Name identifies the intent class (e.g., "weather", "music", "general").
	Name string

	// Confidence in [0, 1].
	Confidence float64

	// Text is the transcript the intent was resolved from.
	Text string

	// Entities holds extracted slots keyed by entity kind (e.g., "device").
	Entities map[string]string
}

// CommandResult is the output of command execution and the input to speech
// synthesis.
type CommandResult struct {
	// Success reports whether the command's effect was applied.
	Success bool

	// Response is the spoken reply for the user.
	Response string

	// Action names the operation that was performed (e.g., "play_music").
	Action string
}

// Recognizer turns the audio captured after a wake word into a transcript.
// Streaming backends receive audio out of band (e.g. via a PushAudio method
// on the concrete type); Recognize flushes and returns the final text.
type Recognizer interface {
	Recognize(ctx context.Context) (Transcript, error)
}

// IntentResolver classifies a transcript into an Intent.
type IntentResolver interface {
	Resolve(ctx context.Context, t Transcript) (Intent, error)
}

// Executor carries out the resolved intent and produces the reply.
type Executor interface {
	Execute(ctx context.Context, in Intent) (CommandResult, error)
}

// Synthesizer speaks the command result back to the user. It returns once
// playback (or its simulation) has finished.
type Synthesizer interface {
	Speak(ctx context.Context, res CommandResult) error
}

// StageError wraps a failure in one of the four stages. The pipeline catches
// it, logs the stage name, and recovers to listening; it never escapes to the
// transport layer.
type StageError struct {
	// Stage is one of the Stage* constants.
	Stage string

	// Err is the backend failure.
	Err error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
