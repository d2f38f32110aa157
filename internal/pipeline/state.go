package pipeline

// State is the pipeline's position in the wake cycle. A session is Idle
// until started, spends nearly all of its life in Listening, and walks the
// remaining states in order during a wake cycle before returning to
// Listening.
type State int

const (
	// StateIdle means the pipeline is not running; chunks are ignored.
	StateIdle State = iota

	// StateListening means chunks are screened by the gate and fed to the
	// wake-word detector.
	StateListening

	// StateWakeDetected is the transient state right after a wake-word hit,
	// before recognition starts.
	StateWakeDetected

	// StateRecognizing means speech recognition is running; incoming chunks
	// are collected for the recognizer but not fed to the detector.
	StateRecognizing

	// StateIntentProcessing means the transcript is being classified.
	StateIntentProcessing

	// StateExecuting means the resolved command is running.
	StateExecuting

	// StateSpeaking means the response is being synthesized and played.
	StateSpeaking
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StateListening:        "listening",
	StateWakeDetected:     "wake_word_detected",
	StateRecognizing:      "speech_recognition",
	StateIntentProcessing: "intent_processing",
	StateExecuting:        "executing_command",
	StateSpeaking:         "speaking",
}

// String returns the wire name of the state.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// MarshalText lets states serialize by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
