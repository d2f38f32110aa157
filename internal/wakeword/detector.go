// Package wakeword wraps the spotter capability in the chunk-level policy the
// pipeline needs: feed and poll per chunk, reset the recognizer after a hit
// so the next detection starts clean, and contain recognizer failures to the
// chunk that caused them.
package wakeword

import (
	"log/slog"

	"github.com/kestrelvoice/kestrel/pkg/spotter"
)

// Detector feeds each chunk straight to the recognizer session, relying on
// the session's internal decode state to recognize keywords spanning chunk
// boundaries. Not safe for concurrent use.
type Detector struct {
	session    spotter.SessionHandle
	sampleRate int
	log        *slog.Logger
}

// NewDetector wraps a spotter session. sampleRate is attached to every Feed.
func NewDetector(session spotter.SessionHandle, sampleRate int, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{session: session, sampleRate: sampleRate, log: log}
}

// Detect feeds one chunk and polls for a completed keyword. On a hit the
// session is reset before returning so the next chunk starts a fresh
// utterance. Any Feed or Poll error is logged, the session is force-reset,
// and the chunk counts as "no detection"; the stream continues.
func (d *Detector) Detect(samples []float32) (string, bool) {
	if err := d.session.Feed(d.sampleRate, samples); err != nil {
		d.log.Error("wake-word feed failed, resetting recognizer", "error", err)
		d.session.Reset()
		return "", false
	}
	res, err := d.session.Poll()
	if err != nil {
		d.log.Error("wake-word decode failed, resetting recognizer", "error", err)
		d.session.Reset()
		return "", false
	}
	if !res.Detected() {
		return "", false
	}
	d.session.Reset()
	return res.Keyword, true
}

// Reset clears the recognizer's decode state.
func (d *Detector) Reset() {
	d.session.Reset()
}
