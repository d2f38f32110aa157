package gate

import (
	"math"
	"testing"
)

// constantChunk returns a chunk whose every sample has the given amplitude.
func constantChunk(amplitude float32, n int) []float32 {
	chunk := make([]float32, n)
	for i := range chunk {
		chunk[i] = amplitude
	}
	return chunk
}

func TestEnergyRange(t *testing.T) {
	t.Parallel()

	if got := Energy(nil); got != 0 {
		t.Errorf("Energy(nil) = %v, want 0", got)
	}
	// Full-scale signal: rms=1, log10(1+1e-10)+10 ≈ 10.
	if got := Energy(constantChunk(1.0, 160)); math.Abs(got-10) > 1e-6 {
		t.Errorf("Energy(full scale) = %v, want ~10", got)
	}
	// Digital silence clamps to 0.
	if got := Energy(constantChunk(0, 160)); got != 0 {
		t.Errorf("Energy(silence) = %v, want 0", got)
	}
}

func TestSilenceIsNotSpeech(t *testing.T) {
	t.Parallel()

	g := New()
	silence := constantChunk(0, 1600)
	for i := range 20 {
		if g.IsSpeech(silence) {
			t.Fatalf("chunk %d: silence classified as speech", i)
		}
	}
}

func TestLoudChunkAfterSilenceIsSpeech(t *testing.T) {
	t.Parallel()

	g := New()
	for range 10 {
		g.IsSpeech(constantChunk(0.0001, 1600))
	}
	if !g.IsSpeech(constantChunk(0.5, 1600)) {
		t.Error("loud chunk after quiet adaptation not classified as speech")
	}
}

func TestNoiseFloorAdapts(t *testing.T) {
	t.Parallel()

	g := New()
	before := g.NoiseLevel()
	// Feed steady low-level noise; the floor should move toward its energy.
	for range 30 {
		g.IsSpeech(constantChunk(0.00005, 1600))
	}
	after := g.NoiseLevel()
	if after <= before {
		t.Errorf("noise floor did not rise under steady noise: before=%v after=%v", before, after)
	}
}

func TestNoiseFloorDecaysSlowlyDuringSpeech(t *testing.T) {
	t.Parallel()

	g := New()
	// Settle the floor on quiet audio first.
	for range 20 {
		g.IsSpeech(constantChunk(0.0001, 1600))
	}
	settled := g.NoiseLevel()

	// One loud chunk: energy >= 3x the floor, so the floor decays by 1% at
	// most instead of absorbing the speech energy.
	g.IsSpeech(constantChunk(0.5, 1600))
	after := g.NoiseLevel()
	if after > settled {
		t.Errorf("noise floor absorbed speech energy: settled=%v after=%v", settled, after)
	}
	if after < settled*0.98 {
		t.Errorf("noise floor decayed too fast during speech: settled=%v after=%v", settled, after)
	}
}

func TestResetRestoresColdStart(t *testing.T) {
	t.Parallel()

	g := New()
	for range 30 {
		g.IsSpeech(constantChunk(0.01, 1600))
	}
	g.Reset()
	if g.NoiseLevel() != initialNoiseLevel {
		t.Errorf("noise floor after Reset = %v, want %v", g.NoiseLevel(), initialNoiseLevel)
	}
	if len(g.energyHistory) != 0 {
		t.Errorf("energy history after Reset has %d entries, want 0", len(g.energyHistory))
	}
}

func TestResetMakesVerdictsDeterministic(t *testing.T) {
	t.Parallel()

	run := func(g *Gate) []bool {
		var verdicts []bool
		for range 5 {
			verdicts = append(verdicts, g.IsSpeech(constantChunk(0.0001, 1600)))
		}
		verdicts = append(verdicts, g.IsSpeech(constantChunk(0.5, 1600)))
		return verdicts
	}

	g := New()
	first := run(g)
	// Skew the state, then reset.
	for range 50 {
		g.IsSpeech(constantChunk(0.3, 1600))
	}
	g.Reset()
	second := run(g)

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("verdict %d diverged after Reset: first=%v second=%v", i, first, second)
		}
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()

	g := New()
	for range 50 {
		g.IsSpeech(constantChunk(0.001, 1600))
	}
	if len(g.energyHistory) > historyLength {
		t.Errorf("energy history grew to %d entries, cap is %d", len(g.energyHistory), historyLength)
	}
}
