// Package gate implements the default voice activity gate: an adaptive
// energy detector with no model dependency. It tracks a noise floor with an
// exponential moving average and classifies chunks by log-scaled RMS energy
// against an adaptive threshold, with short-history checks that confirm
// speech onsets and sustained speech near the threshold.
package gate

import (
	"log/slog"
	"math"

	"github.com/kestrelvoice/kestrel/pkg/audio"
	"github.com/kestrelvoice/kestrel/pkg/vad"
)

const (
	// defaultBaseThreshold is the minimum energy threshold regardless of how
	// low the noise floor adapts.
	defaultBaseThreshold = 0.01

	// defaultAdaptationRate is the EMA rate for noise floor updates.
	defaultAdaptationRate = 0.1

	// initialNoiseLevel is the cold-start noise floor, restored on Reset.
	initialNoiseLevel = 0.001

	// historyLength caps the energy history used for the onset and
	// sustained-speech checks.
	historyLength = 10
)

// Gate is an adaptive energy gate. Not safe for concurrent use; the pipeline
// drives it from a single goroutine.
type Gate struct {
	baseThreshold  float64
	adaptationRate float64

	noiseLevel    float64
	energyHistory []float64

	// lastVerdict drives log-on-change only.
	lastVerdict bool
	everJudged  bool

	log *slog.Logger
}

// Ensure Gate implements vad.Gate at compile time.
var _ vad.Gate = (*Gate)(nil)

// Option configures a Gate.
type Option func(*Gate)

// WithBaseThreshold sets the minimum energy threshold. Defaults to 0.01.
func WithBaseThreshold(t float64) Option {
	return func(g *Gate) { g.baseThreshold = t }
}

// WithAdaptationRate sets the noise floor EMA rate. Defaults to 0.1.
func WithAdaptationRate(r float64) Option {
	return func(g *Gate) { g.adaptationRate = r }
}

// WithLogger sets the logger for verdict-change lines. Defaults to
// slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gate) { g.log = log }
}

// New creates a Gate with a cold noise floor.
func New(opts ...Option) *Gate {
	g := &Gate{
		baseThreshold:  defaultBaseThreshold,
		adaptationRate: defaultAdaptationRate,
		noiseLevel:     initialNoiseLevel,
		energyHistory:  make([]float64, 0, historyLength),
	}
	for _, o := range opts {
		o(g)
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	return g
}

// IsSpeech classifies one chunk. The verdict is logged only when it differs
// from the previous chunk's verdict.
func (g *Gate) IsSpeech(samples []float32) bool {
	energy := Energy(samples)
	g.updateNoiseLevel(energy)

	threshold := math.Max(g.baseThreshold, g.noiseLevel*2)

	g.energyHistory = append(g.energyHistory, energy)
	if len(g.energyHistory) > historyLength {
		g.energyHistory = g.energyHistory[1:]
	}

	verdict := energy > threshold
	if verdict {
		// Speech onset: a sharp energy swing across the last three chunks.
		if n := len(g.energyHistory); n >= 3 {
			recent := g.energyHistory[n-3:]
			if maxOf(recent)-minOf(recent) > threshold*0.5 {
				return g.judge(true, energy, threshold)
			}
		}
		// Sustained speech: the last five chunks stay near the threshold.
		if n := len(g.energyHistory); n >= 5 {
			if mean(g.energyHistory[n-5:]) > threshold*0.7 {
				return g.judge(true, energy, threshold)
			}
		}
	}
	return g.judge(verdict, energy, threshold)
}

// Reset restores the cold-start noise floor and clears the energy history.
func (g *Gate) Reset() {
	g.energyHistory = g.energyHistory[:0]
	g.noiseLevel = initialNoiseLevel
	g.lastVerdict = false
	g.everJudged = false
}

// NoiseLevel returns the current adaptive noise floor.
func (g *Gate) NoiseLevel() float64 { return g.noiseLevel }

// Energy returns the log-scaled RMS energy of the samples, normalized to the
// 0–10 range. Empty input yields 0.
func Energy(samples []float32) float64 {
	rms := audio.RMS(samples)
	logEnergy := -10.0
	if rms > 0 {
		logEnergy = math.Log10(rms + 1e-10)
	}
	return math.Max(0, logEnergy+10)
}

// updateNoiseLevel tracks the noise floor. Energy well above the floor is
// treated as speech, so the floor only decays slowly instead of absorbing it.
func (g *Gate) updateNoiseLevel(energy float64) {
	if energy < g.noiseLevel*3 {
		g.noiseLevel = (1-g.adaptationRate)*g.noiseLevel + g.adaptationRate*energy
	} else {
		g.noiseLevel = (1 - g.adaptationRate*0.1) * g.noiseLevel
	}
}

func (g *Gate) judge(verdict bool, energy, threshold float64) bool {
	if !g.everJudged || verdict != g.lastVerdict {
		g.log.Debug("voice activity changed",
			"speech", verdict,
			"energy", energy,
			"threshold", threshold,
			"noiseLevel", g.noiseLevel,
		)
	}
	g.lastVerdict = verdict
	g.everJudged = true
	return verdict
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
