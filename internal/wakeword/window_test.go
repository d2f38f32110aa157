package wakeword_test

import (
	"errors"
	"testing"

	"github.com/kestrelvoice/kestrel/internal/wakeword"
	"github.com/kestrelvoice/kestrel/pkg/spotter"
	"github.com/kestrelvoice/kestrel/pkg/spotter/mock"
)

func TestWindowedAccumulatesBeforeFirstFeed(t *testing.T) {
	t.Parallel()

	sess := &mock.Session{}
	d := wakeword.NewWindowedDetector(sess, 16000, 1000, nil)

	chunk := make([]float32, 300)
	// 3 chunks = 900 samples, still under the window.
	for i := range 3 {
		if _, ok := d.Detect(chunk); ok {
			t.Fatalf("chunk %d: unexpected detection while accumulating", i)
		}
	}
	if len(sess.FeedCalls) != 0 {
		t.Fatalf("recognizer invoked with %d Feed calls before the window filled", len(sess.FeedCalls))
	}
	if d.Buffered() != 900 {
		t.Errorf("buffered %d samples, want 900", d.Buffered())
	}

	// The 4th chunk crosses the window: one Feed with the full buffer.
	d.Detect(chunk)
	if len(sess.FeedCalls) != 1 {
		t.Fatalf("got %d Feed calls after crossing the window, want 1", len(sess.FeedCalls))
	}
	if got := len(sess.FeedCalls[0].Samples); got != 1200 {
		t.Errorf("fed %d samples, want 1200", got)
	}
}

func TestWindowedSlidesToTrailingWindow(t *testing.T) {
	t.Parallel()

	sess := &mock.Session{}
	d := wakeword.NewWindowedDetector(sess, 16000, 1000, nil)

	// 5 chunks of 500 = 2500 samples > 2x window; buffer is cut back to the
	// trailing 1000.
	chunk := make([]float32, 500)
	for range 5 {
		d.Detect(chunk)
	}
	if d.Buffered() > 2000 {
		t.Errorf("buffered %d samples, want at most 2000 after sliding", d.Buffered())
	}
}

func TestWindowedHitClearsBufferAndSession(t *testing.T) {
	t.Parallel()

	sess := &mock.Session{
		PollResults: []spotter.Result{{Keyword: "kestrel"}},
	}
	d := wakeword.NewWindowedDetector(sess, 16000, 1000, nil)

	kw, ok := d.Detect(make([]float32, 1200))
	if !ok || kw != "kestrel" {
		t.Fatalf("got (%q, %v), want (kestrel, true)", kw, ok)
	}
	if sess.ResetCallCount != 1 {
		t.Errorf("got %d Reset calls, want 1", sess.ResetCallCount)
	}
	if d.Buffered() != 0 {
		t.Errorf("buffered %d samples after hit, want 0", d.Buffered())
	}
}

func TestWindowedErrorResetsEverything(t *testing.T) {
	t.Parallel()

	sess := &mock.Session{
		FeedErrs: map[int]error{1: errors.New("decoder died")},
	}
	d := wakeword.NewWindowedDetector(sess, 16000, 1000, nil)

	if _, ok := d.Detect(make([]float32, 1200)); ok {
		t.Fatal("detection reported despite feed error")
	}
	if sess.ResetCallCount != 1 {
		t.Errorf("got %d Reset calls, want 1", sess.ResetCallCount)
	}
	if d.Buffered() != 0 {
		t.Errorf("buffered %d samples after error, want 0", d.Buffered())
	}

	// The detector keeps accepting audio afterwards.
	if _, ok := d.Detect(make([]float32, 500)); ok {
		t.Fatal("unexpected detection while re-accumulating")
	}
}
