package wakeword

import (
	"log/slog"

	"github.com/kestrelvoice/kestrel/pkg/spotter"
)

const (
	// DefaultMinWindow is one second of audio at 16 kHz, the minimum the
	// windowed detector accumulates before invoking the recognizer.
	DefaultMinWindow = 16000
)

// WindowedDetector is the buffering alternative to Detector: it accumulates
// samples until a minimum window is filled before invoking the recognizer,
// and after each invocation retains only the most recent window. Bursts
// beyond twice the window are cut back to the trailing window, so sustained
// overruns lose the oldest audio. Useful for recognizers that perform badly
// on very short feeds. Not safe for concurrent use.
type WindowedDetector struct {
	session    spotter.SessionHandle
	sampleRate int
	minWindow  int
	buf        []float32
	log        *slog.Logger
}

// NewWindowedDetector wraps a spotter session with the accumulate-and-slide
// policy. minWindow <= 0 selects DefaultMinWindow.
func NewWindowedDetector(session spotter.SessionHandle, sampleRate, minWindow int, log *slog.Logger) *WindowedDetector {
	if minWindow <= 0 {
		minWindow = DefaultMinWindow
	}
	if log == nil {
		log = slog.Default()
	}
	return &WindowedDetector{
		session:    session,
		sampleRate: sampleRate,
		minWindow:  minWindow,
		buf:        make([]float32, 0, minWindow*2),
		log:        log,
	}
}

// Detect appends the chunk to the window buffer and, once at least one full
// window has accumulated, runs the recognizer over it. A hit clears both the
// recognizer state and the buffer. Errors follow the same containment policy
// as Detector: log, force-reset, no detection for this chunk.
func (d *WindowedDetector) Detect(samples []float32) (string, bool) {
	d.buf = append(d.buf, samples...)
	if len(d.buf) < d.minWindow {
		return "", false
	}

	if err := d.session.Feed(d.sampleRate, d.buf); err != nil {
		d.log.Error("wake-word feed failed, resetting recognizer", "error", err)
		d.reset()
		return "", false
	}
	res, err := d.session.Poll()
	if err != nil {
		d.log.Error("wake-word decode failed, resetting recognizer", "error", err)
		d.reset()
		return "", false
	}
	if res.Detected() {
		d.reset()
		return res.Keyword, true
	}

	// Slide: keep only the trailing window once the buffer doubles.
	if len(d.buf) > d.minWindow*2 {
		d.buf = append(d.buf[:0], d.buf[len(d.buf)-d.minWindow:]...)
	}
	return "", false
}

// Buffered returns how many samples are currently accumulated.
func (d *WindowedDetector) Buffered() int { return len(d.buf) }

// Reset clears both the recognizer's decode state and the window buffer.
func (d *WindowedDetector) Reset() {
	d.reset()
}

func (d *WindowedDetector) reset() {
	d.session.Reset()
	d.buf = d.buf[:0]
}
