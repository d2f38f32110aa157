// Package audio holds the frame type and PCM conversion helpers shared by the
// wake-word pipeline. Frames enter the system from the transport layer, pass
// the ingress validation in this package, and are then treated as immutable:
// no downstream component mutates Samples after Validate has accepted a frame.
package audio

import (
	"fmt"
	"time"
)

// AudioFrame represents a single chunk of audio flowing through the pipeline.
// Frames are the atomic unit of transport — decoded from the wire by the
// server, screened by the voice activity gate, and fed to the keyword spotter.
type AudioFrame struct {
	// Samples is normalized float32 PCM in the range [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for the keyword spotter).
	SampleRate int

	// Channels: 1 for mono. Anything else is rejected at ingress.
	Channels int

	// Timestamp marks when this frame arrived at the server.
	Timestamp time.Time
}

// Duration returns the playback duration of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// ValidationError reports a frame rejected at ingress. Rejected frames are
// dropped without touching pipeline state.
type ValidationError struct {
	// Field names the offending frame attribute ("channels", "sampleRate", "samples").
	Field string

	// Reason is a human-readable description of the violation.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("audio: invalid frame %s: %s", e.Field, e.Reason)
}

// Validate checks a frame against the pipeline's expected format. Only mono
// frames at exactly wantRate pass; everything else yields a *ValidationError.
func Validate(f AudioFrame, wantRate int) error {
	if f.Channels != 1 {
		return &ValidationError{Field: "channels", Reason: fmt.Sprintf("want mono, got %d channels", f.Channels)}
	}
	if f.SampleRate != wantRate {
		return &ValidationError{Field: "sampleRate", Reason: fmt.Sprintf("want %d Hz, got %d Hz", wantRate, f.SampleRate)}
	}
	if len(f.Samples) == 0 {
		return &ValidationError{Field: "samples", Reason: "empty frame"}
	}
	return nil
}
