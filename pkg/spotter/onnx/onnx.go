// Package onnx implements spotter.Engine on top of ONNX Runtime.
//
// The engine runs a streaming keyword-classification model: each inference
// consumes a fixed window of raw float32 samples plus the recurrent state
// carried from the previous window, and emits one score per keyword class
// (class 0 is background). A keyword is reported once its class wins with a
// score above the threshold for a configured number of consecutive windows,
// which suppresses single-window flukes.
//
// The ONNX Runtime shared library must be available at the path given to
// SetLibraryPath (or the platform default) before the first engine is
// created.
package onnx

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/kestrelvoice/kestrel/pkg/spotter"
)

const (
	// defaultWindowSize is the number of float32 samples per inference call.
	defaultWindowSize = 1024

	// defaultStateSize is the hidden state dimension per layer. The carried
	// state tensor has shape [2, 1, stateSize].
	defaultStateSize = 128

	// defaultConfirmWindows is how many consecutive winning windows a keyword
	// class needs before a detection is reported.
	defaultConfirmWindows = 2
)

// ortInitOnce ensures the ONNX Runtime environment is initialized exactly
// once. ortInitErr is kept at package scope so later New calls surface the
// failure instead of proceeding with an uninitialized environment.
var (
	ortInitOnce sync.Once
	ortInitErr  error
	ortLibPath  string
)

// SetLibraryPath overrides the ONNX Runtime shared library location. Must be
// called before the first New; later calls have no effect.
func SetLibraryPath(path string) { ortLibPath = path }

// Config holds the parameters for an ONNX spotter engine.
type Config struct {
	// ModelPath is the path to the streaming keyword model (.onnx).
	ModelPath string

	// KeywordsPath is the path to the keywords file: one keyword per line,
	// line N naming output class N+1 (class 0 is background). Blank lines and
	// lines starting with '#' are skipped.
	KeywordsPath string

	// SampleRate is the rate the model was trained at. Feed rejects any other
	// rate. Typical: 16000.
	SampleRate int

	// Threshold is the minimum winning-class score for a window to count
	// toward a detection. Range (0, 1). Typical: 0.5–0.8.
	Threshold float32

	// WindowSize overrides the per-inference sample count. Zero means the
	// model default of 1024.
	WindowSize int

	// StateSize overrides the recurrent state dimension. Zero means 128.
	StateSize int

	// ConfirmWindows overrides how many consecutive winning windows confirm a
	// detection. Zero means 2.
	ConfirmWindows int
}

// Engine implements spotter.Engine. The model bytes and keyword table are
// loaded once and shared by all sessions; each session owns its own ONNX
// session and decode state.
type Engine struct {
	modelData []byte
	keywords  []string
	cfg       Config
}

// Ensure Engine implements spotter.Engine at compile time.
var _ spotter.Engine = (*Engine)(nil)

// New loads the model and keywords file and returns a ready Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx: ModelPath must not be empty")
	}
	if cfg.KeywordsPath == "" {
		return nil, errors.New("onnx: KeywordsPath must not be empty")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("onnx: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		return nil, fmt.Errorf("onnx: threshold %v out of range (0, 1)", cfg.Threshold)
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = defaultWindowSize
	}
	if cfg.StateSize == 0 {
		cfg.StateSize = defaultStateSize
	}
	if cfg.ConfirmWindows == 0 {
		cfg.ConfirmWindows = defaultConfirmWindows
	}

	ortInitOnce.Do(func() {
		if ortLibPath != "" {
			ort.SetSharedLibraryPath(ortLibPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", ortInitErr)
	}

	modelData, err := os.ReadFile(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: read model: %w", err)
	}
	keywords, err := loadKeywords(cfg.KeywordsPath)
	if err != nil {
		return nil, err
	}
	if len(keywords) == 0 {
		return nil, fmt.Errorf("onnx: keywords file %q contains no keywords", cfg.KeywordsPath)
	}

	return &Engine{modelData: modelData, keywords: keywords, cfg: cfg}, nil
}

// NewSession allocates the per-stream tensors and ONNX session.
func (e *Engine) NewSession() (spotter.SessionHandle, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(e.cfg.WindowSize)))
	if err != nil {
		return nil, fmt.Errorf("onnx: create input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, int64(e.cfg.StateSize)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("onnx: create state tensor: %w", err)
	}
	// Output row: background class plus one score per keyword.
	scoresTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(e.keywords)+1)))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("onnx: create scores tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, int64(e.cfg.StateSize)))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		scoresTensor.Destroy()
		return nil, fmt.Errorf("onnx: create stateN tensor: %w", err)
	}

	// Zero the state tensors; onnxruntime_go does not guarantee zeroed memory.
	clearFloat32(stateTensor.GetData())
	clearFloat32(stateNTensor.GetData())

	session, err := ort.NewAdvancedSessionWithONNXData(
		e.modelData,
		[]string{"input", "state"},
		[]string{"scores", "stateN"},
		[]ort.Value{inputTensor, stateTensor},
		[]ort.Value{scoresTensor, stateNTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		scoresTensor.Destroy()
		stateNTensor.Destroy()
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	return &onnxSession{
		engine:       e,
		session:      session,
		inputTensor:  inputTensor,
		stateTensor:  stateTensor,
		scoresTensor: scoresTensor,
		stateNTensor: stateNTensor,
		pcmBuf:       make([]float32, 0, e.cfg.WindowSize*2),
	}, nil
}

// onnxSession is a live spotting session. Not safe for concurrent use; the
// pipeline drives it from a single goroutine.
type onnxSession struct {
	engine  *Engine
	session *ort.AdvancedSession

	// Tensors reused between inference calls.
	inputTensor  *ort.Tensor[float32] // [1, windowSize]
	stateTensor  *ort.Tensor[float32] // [2, 1, stateSize]
	scoresTensor *ort.Tensor[float32] // [1, numClasses]
	stateNTensor *ort.Tensor[float32] // [2, 1, stateSize]

	pcmBuf []float32

	// streak counts consecutive windows won by streakClass above threshold.
	streak      int
	streakClass int

	closed bool
}

// Ensure onnxSession implements spotter.SessionHandle at compile time.
var _ spotter.SessionHandle = (*onnxSession)(nil)

func (s *onnxSession) Feed(sampleRate int, samples []float32) error {
	if s.closed {
		return &spotter.DecodeError{Op: "feed", Err: errors.New("session is closed")}
	}
	if sampleRate != s.engine.cfg.SampleRate {
		return &spotter.DecodeError{
			Op:  "feed",
			Err: fmt.Errorf("sample rate %d does not match model rate %d", sampleRate, s.engine.cfg.SampleRate),
		}
	}
	s.pcmBuf = append(s.pcmBuf, samples...)
	return nil
}

func (s *onnxSession) Poll() (spotter.Result, error) {
	if s.closed {
		return spotter.Result{}, &spotter.DecodeError{Op: "poll", Err: errors.New("session is closed")}
	}

	window := s.engine.cfg.WindowSize
	for len(s.pcmBuf) >= window {
		copy(s.inputTensor.GetData(), s.pcmBuf[:window])
		s.pcmBuf = s.pcmBuf[window:]

		if err := s.session.Run(); err != nil {
			return spotter.Result{}, &spotter.DecodeError{Op: "poll", Err: err}
		}
		// Carry the hidden state forward.
		copy(s.stateTensor.GetData(), s.stateNTensor.GetData())

		class, score := bestClass(softmax(s.scoresTensor.GetData()))
		if class == 0 || score < s.engine.cfg.Threshold {
			s.streak = 0
			s.streakClass = 0
			continue
		}
		if class != s.streakClass {
			s.streakClass = class
			s.streak = 0
		}
		s.streak++
		if s.streak >= s.engine.cfg.ConfirmWindows {
			s.streak = 0
			s.streakClass = 0
			return spotter.Result{Keyword: s.engine.keywords[class-1]}, nil
		}
	}
	return spotter.Result{}, nil
}

func (s *onnxSession) Reset() {
	if s.closed {
		return
	}
	clearFloat32(s.stateTensor.GetData())
	s.pcmBuf = s.pcmBuf[:0]
	s.streak = 0
	s.streakClass = 0
}

// Close releases ONNX Runtime resources. Safe to call multiple times.
func (s *onnxSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.session.Destroy()
	s.inputTensor.Destroy()
	s.stateTensor.Destroy()
	s.scoresTensor.Destroy()
	s.stateNTensor.Destroy()
	return nil
}

// loadKeywords parses the keywords file: one keyword per line, '#' comments
// and blank lines skipped.
func loadKeywords(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("onnx: open keywords file: %w", err)
	}
	defer f.Close()

	var keywords []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keywords = append(keywords, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("onnx: read keywords file: %w", err)
	}
	return keywords, nil
}

func softmax(scores []float32) []float32 {
	if len(scores) == 0 {
		return nil
	}
	maxS := scores[0]
	for _, s := range scores[1:] {
		if s > maxS {
			maxS = s
		}
	}
	out := make([]float32, len(scores))
	var sum float64
	for i, s := range scores {
		e := math.Exp(float64(s - maxS))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func bestClass(probs []float32) (int, float32) {
	best, bestScore := 0, float32(-1)
	for i, p := range probs {
		if p > bestScore {
			best, bestScore = i, p
		}
	}
	return best, bestScore
}

func clearFloat32(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
