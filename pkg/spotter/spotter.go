// Package spotter defines the Engine interface for streaming keyword-spotting
// backends.
//
// A spotter engine wraps an always-on keyword recognizer (e.g., a transducer
// model running under ONNX Runtime) and surfaces it as a stateful, per-stream
// session. The session owns all decode state — feature buffers, decoder
// hypotheses, partial token sequences — so a keyword spanning several audio
// chunks is still recognized, and so multiple concurrent streams never share
// state.
//
// Spotting is synchronous by design: Feed and Poll return immediately, making
// the session suitable for a per-chunk pipeline loop that must never block
// audio ingestion.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package spotter

import "fmt"

// Result is the outcome of one Poll. A zero Result means no keyword completed
// during the audio fed so far.
type Result struct {
	// Keyword is the canonical spelling of the detected keyword, empty when
	// nothing was detected.
	Keyword string
}

// Detected reports whether the poll produced a keyword.
func (r Result) Detected() bool { return r.Keyword != "" }

// DecodeError reports a failure inside the recognizer while feeding or
// decoding audio. The pipeline treats it as affecting a single chunk only:
// the session is reset and the stream continues.
type DecodeError struct {
	// Op is the session operation that failed ("feed" or "poll").
	Op string

	// Err is the underlying engine error.
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("spotter: %s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SessionHandle represents an active spotting session for a single audio
// stream. Decode state persists across Feed calls until Reset; a keyword
// split across chunk boundaries is recognized once the final chunk arrives.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// Feed appends normalized float32 samples at the given sample rate to the
	// session's decode stream. It never blocks on inference; heavy decode work
	// happens in Poll.
	Feed(sampleRate int, samples []float32) error

	// Poll advances the decoder as far as the fed audio allows and returns the
	// first keyword that completed, if any. Internally it loops while the
	// decoder has enough buffered audio for another step, decoding one step at
	// a time and checking for a finished keyword after each.
	Poll() (Result, error)

	// Reset clears all decode state so the next Feed starts a fresh utterance.
	// It is called after every successful detection and after any error.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// Feed and Poll must return errors and Reset must be a no-op. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for spotting sessions. It is the top-level interface
// implemented by each spotter backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new spotting session, immediately ready to accept
	// audio. Returns an error if the engine cannot allocate decode resources.
	NewSession() (SessionHandle, error)
}
