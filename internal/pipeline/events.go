package pipeline

import (
	"time"

	"github.com/kestrelvoice/kestrel/pkg/stage"
)

// EventType identifies the kind of a pipeline event on the wire.
type EventType string

const (
	EventPipelineStarted     EventType = "pipeline_started"
	EventPipelineStopped     EventType = "pipeline_stopped"
	EventWakeWordDetected    EventType = "wake_word_detected"
	EventRecognitionStarted  EventType = "speech_recognition_started"
	EventIntentStarted       EventType = "intent_processing_started"
	EventExecutionStarted    EventType = "command_execution_started"
	EventSpeechStarted       EventType = "tts_started"
	EventReturnedToListening EventType = "returned_to_listening"
)

// Payload is the tagged union of event payloads: exactly one concrete type
// per event kind, so subscribers switch on the type instead of digging
// through maps. Implementations are immutable value types.
type Payload interface {
	isPayload()
}

// StartedPayload accompanies pipeline_started.
type StartedPayload struct{}

// StoppedPayload accompanies pipeline_stopped.
type StoppedPayload struct{}

// WakeWordPayload accompanies wake_word_detected.
type WakeWordPayload struct {
	// Keyword is the canonical spelling of the detected wake word.
	Keyword string `json:"keyword"`
}

// RecognitionPayload accompanies speech_recognition_started.
type RecognitionPayload struct{}

// IntentStartedPayload accompanies intent_processing_started.
type IntentStartedPayload struct {
	// Text is the transcript entering intent resolution.
	Text string `json:"text"`
}

// ExecutionPayload accompanies command_execution_started.
type ExecutionPayload struct {
	// Intent is the resolved intent about to execute.
	Intent stage.Intent `json:"intent"`
}

// SpeechPayload accompanies tts_started.
type SpeechPayload struct {
	// Result is the command outcome being spoken.
	Result stage.CommandResult `json:"result"`
}

// ListeningPayload accompanies returned_to_listening, for both the normal
// end of a wake cycle and the recovery path after a stage failure.
type ListeningPayload struct {
	// Recovered is true when the return was caused by a stage failure.
	Recovered bool `json:"recovered"`

	// Reason names why the cycle ended early, empty for a completed cycle.
	Reason string `json:"reason,omitempty"`
}

func (StartedPayload) isPayload()       {}
func (StoppedPayload) isPayload()       {}
func (WakeWordPayload) isPayload()      {}
func (RecognitionPayload) isPayload()   {}
func (IntentStartedPayload) isPayload() {}
func (ExecutionPayload) isPayload()     {}
func (SpeechPayload) isPayload()        {}
func (ListeningPayload) isPayload()     {}

// Event is one immutable pipeline notification. State is the pipeline state
// at the moment of emission, after the transition the event announces.
type Event struct {
	Type      EventType
	Payload   Payload
	Timestamp time.Time
	State     State
}
