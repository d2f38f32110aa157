// Package vad defines the voice activity gate used by the pipeline.
//
// The gate is advisory: the pipeline runs it on every chunk for logging and
// metrics but never uses its verdict to skip the keyword spotter, because a
// false negative there would cost a missed wake word. Implementations live in
// internal/gate (adaptive energy gate, the default) and pkg/vad/silero
// (neural gate over ONNX Runtime).
package vad

// Gate classifies audio chunks as speech or non-speech. Implementations keep
// per-stream state (noise floors, recurrent model state) and are not safe for
// concurrent use; the pipeline drives each gate from a single goroutine.
type Gate interface {
	// IsSpeech classifies one chunk of normalized float32 samples. It must
	// not block; implementations that buffer internally return the verdict
	// for the audio analysed so far.
	IsSpeech(samples []float32) bool

	// Reset clears all adaptation and model state so the next chunk is
	// classified from a cold start. Called whenever the pipeline returns to
	// listening.
	Reset()
}
