// Package whisper implements stage.Recognizer with the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The recognizer buffers the audio the server pushes after a wake word and
// runs one inference when the pipeline asks for the transcript. The model is
// loaded once per Recognizer and shared across wake cycles; each Recognize
// call creates its own whisper.cpp context, which is the unit of thread
// safety in the bindings.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/kestrelvoice/kestrel/pkg/stage"
)

const (
	defaultLanguage = "en"

	// defaultMaxBuffer caps the buffered post-wake audio at 30 s of 16 kHz
	// samples; whisper degrades beyond that anyway.
	defaultMaxBuffer = 30 * 16000
)

// Recognizer implements stage.Recognizer over a shared whisper model.
type Recognizer struct {
	model    whisperlib.Model
	language string

	mu        sync.Mutex
	buf       []float32
	maxBuffer int
}

// Ensure Recognizer implements stage.Recognizer at compile time.
var _ stage.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithLanguage sets the BCP-47 language code for transcription (e.g., "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// WithMaxBufferSamples caps the buffered post-wake audio. Older samples are
// discarded once the cap is reached. Defaults to 30 s at 16 kHz.
func WithMaxBufferSamples(n int) Option {
	return func(r *Recognizer) { r.maxBuffer = n }
}

// New loads the whisper model from modelPath. The caller must call Close when
// the recognizer is no longer needed.
func New(modelPath string, opts ...Option) (*Recognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	r := &Recognizer{
		model:     model,
		language:  defaultLanguage,
		maxBuffer: defaultMaxBuffer,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Close releases the whisper model.
func (r *Recognizer) Close() error {
	if r.model != nil {
		return r.model.Close()
	}
	return nil
}

// PushAudio appends normalized float32 samples to the post-wake buffer. The
// server calls this for every chunk that arrives while the pipeline is in
// the recognizing state. When the cap is exceeded the oldest audio is
// dropped.
func (r *Recognizer) PushAudio(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, samples...)
	if len(r.buf) > r.maxBuffer {
		r.buf = append(r.buf[:0], r.buf[len(r.buf)-r.maxBuffer:]...)
	}
}

// Recognize runs one whisper inference over the buffered audio and clears the
// buffer. An empty buffer yields an empty transcript without touching the
// model.
func (r *Recognizer) Recognize(ctx context.Context) (stage.Transcript, error) {
	r.mu.Lock()
	pcm := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(pcm) == 0 {
		return stage.Transcript{}, nil
	}
	if err := ctx.Err(); err != nil {
		return stage.Transcript{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	start := time.Now()
	text, err := r.infer(pcm)
	if err != nil {
		return stage.Transcript{}, err
	}
	slog.Debug("whisper inference finished",
		"samples", len(pcm),
		"duration", time.Since(start),
		"chars", len(text),
	)
	return stage.Transcript{Text: text}, nil
}

// infer runs whisper.cpp inference using a fresh context and returns the
// concatenated segment text.
func (r *Recognizer) infer(samples []float32) (string, error) {
	wctx, err := r.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(r.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", r.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
