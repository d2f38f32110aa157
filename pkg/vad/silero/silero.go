// Package silero implements vad.Gate with the Silero VAD v5 model running
// under ONNX Runtime. The model consumes fixed 512-sample windows at 16 kHz
// and carries a recurrent state between windows; this gate buffers incoming
// chunks to window boundaries and reports speech when any complete window in
// the chunk crosses the probability threshold.
//
// Inference failures are logged and the previous verdict is kept; the gate is
// advisory, so a transient runtime error must not stall the pipeline.
package silero

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/kestrelvoice/kestrel/pkg/vad"
)

const (
	// windowSize is the number of float32 samples per inference call.
	// Silero VAD v5 at 16 kHz requires exactly 512 samples (32 ms).
	windowSize = 512

	// stateSize is the hidden state dimension per layer. The combined state
	// tensor has shape [2, 1, 128].
	stateSize = 128

	// sampleRate is the only rate Silero VAD v5 supports for 512-sample windows.
	sampleRate = 16000
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
	ortLibPath  string
)

// SetLibraryPath overrides the ONNX Runtime shared library location. Must be
// called before the first New; later calls have no effect.
func SetLibraryPath(path string) { ortLibPath = path }

// Gate implements vad.Gate over the Silero model. Not safe for concurrent
// use; create one per stream.
type Gate struct {
	session *ort.AdvancedSession

	// Tensors reused between inference calls.
	inputTensor  *ort.Tensor[float32] // [1, 512]
	stateTensor  *ort.Tensor[float32] // [2, 1, 128]
	srTensor     *ort.Tensor[int64]   // scalar
	outputTensor *ort.Tensor[float32] // [1, 1]
	stateNTensor *ort.Tensor[float32] // [2, 1, 128]

	pcmBuf    []float32
	threshold float32

	// lastVerdict is held across chunks too small to fill a window and
	// across inference failures.
	lastVerdict bool
}

// Ensure Gate implements vad.Gate at compile time.
var _ vad.Gate = (*Gate)(nil)

// New loads the Silero VAD model from modelPath and allocates the inference
// session. threshold is the speech probability above which a window counts as
// speech; typical values are 0.4–0.6.
func New(modelPath string, threshold float32) (*Gate, error) {
	if modelPath == "" {
		return nil, errors.New("silero: modelPath must not be empty")
	}
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("silero: threshold %v out of range (0, 1)", threshold)
	}

	ortInitOnce.Do(func() {
		if ortLibPath != "" {
			ort.SetSharedLibraryPath(ortLibPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("silero: initialize runtime: %w", ortInitErr)
	}

	modelData, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("silero: read model: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, windowSize))
	if err != nil {
		return nil, fmt.Errorf("silero: create input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("silero: create state tensor: %w", err)
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{sampleRate})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("silero: create sr tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return nil, fmt.Errorf("silero: create output tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("silero: create stateN tensor: %w", err)
	}

	clearFloat32(stateTensor.GetData())
	clearFloat32(stateNTensor.GetData())

	session, err := ort.NewAdvancedSessionWithONNXData(
		modelData,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		stateNTensor.Destroy()
		return nil, fmt.Errorf("silero: create session: %w", err)
	}

	return &Gate{
		session:      session,
		inputTensor:  inputTensor,
		stateTensor:  stateTensor,
		srTensor:     srTensor,
		outputTensor: outputTensor,
		stateNTensor: stateNTensor,
		pcmBuf:       make([]float32, 0, windowSize*2),
		threshold:    threshold,
	}, nil
}

// IsSpeech buffers the chunk and runs inference for every complete
// 512-sample window. The verdict is true if any window crossed the
// threshold; chunks too small to complete a window repeat the last verdict.
func (g *Gate) IsSpeech(samples []float32) bool {
	g.pcmBuf = append(g.pcmBuf, samples...)

	for len(g.pcmBuf) >= windowSize {
		prob, err := g.infer(g.pcmBuf[:windowSize])
		g.pcmBuf = g.pcmBuf[windowSize:]
		if err != nil {
			slog.Error("silero gate inference failed, keeping previous verdict", "error", err)
			continue
		}
		g.lastVerdict = prob >= g.threshold
		if g.lastVerdict {
			// Drop the remainder so a long chunk cannot both detect speech
			// and overwrite the verdict with a trailing silent window.
			g.pcmBuf = g.pcmBuf[:0]
			return true
		}
	}
	return g.lastVerdict
}

// Reset clears the RNN state, sample buffer, and held verdict.
func (g *Gate) Reset() {
	clearFloat32(g.stateTensor.GetData())
	g.pcmBuf = g.pcmBuf[:0]
	g.lastVerdict = false
}

// Close releases ONNX Runtime resources. Safe to call multiple times.
func (g *Gate) Close() error {
	if g.session == nil {
		return nil
	}
	g.session.Destroy()
	g.session = nil
	g.inputTensor.Destroy()
	g.stateTensor.Destroy()
	g.srTensor.Destroy()
	g.outputTensor.Destroy()
	g.stateNTensor.Destroy()
	return nil
}

func (g *Gate) infer(window []float32) (float32, error) {
	copy(g.inputTensor.GetData(), window)
	if err := g.session.Run(); err != nil {
		return 0, err
	}
	prob := g.outputTensor.GetData()[0]
	// Carry the hidden state forward.
	copy(g.stateTensor.GetData(), g.stateNTensor.GetData())
	return prob, nil
}

func clearFloat32(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
