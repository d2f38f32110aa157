package audio_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kestrelvoice/kestrel/pkg/audio"
)

func TestPCM16ToFloat32(t *testing.T) {
	// 0, 16384 (0.5), -32768 (-1.0) as little-endian int16.
	pcm := []byte{0x00, 0x00, 0x00, 0x40, 0x00, 0x80}
	got := audio.PCM16ToFloat32(pcm)

	want := []float32{0, 0.5, -1.0}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCM16ToFloat32_OddTrailingByte(t *testing.T) {
	got := audio.PCM16ToFloat32([]byte{0x00, 0x40, 0x7f})
	if len(got) != 1 {
		t.Fatalf("got %d samples, want 1 (trailing byte discarded)", len(got))
	}
}

func TestFloat32ToPCM16_Clamping(t *testing.T) {
	pcm := audio.Float32ToPCM16([]float32{1.5, -1.5})
	hi := int16(pcm[0]) | int16(pcm[1])<<8
	lo := int16(pcm[2]) | int16(pcm[3])<<8
	if hi != 32767 {
		t.Errorf("positive overflow: got %d, want 32767", hi)
	}
	if lo != -32768 {
		t.Errorf("negative overflow: got %d, want -32768", lo)
	}
}

func TestConversionRoundTrip(t *testing.T) {
	in := []int16{0, 1000, -1000, 32767, -32768}
	samples := audio.Int16ToFloat32(in)
	pcm := audio.Float32ToPCM16(samples)
	out := audio.PCM16ToFloat32(pcm)

	for i, s := range samples {
		if math.Abs(float64(out[i]-s)) > 1.0/32768.0 {
			t.Errorf("sample %d: round trip drifted from %v to %v", i, s, out[i])
		}
	}
}

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS = %v, want 0.5", got)
	}
}

func TestValidate(t *testing.T) {
	base := audio.AudioFrame{
		Samples:    []float32{0.1, 0.2},
		SampleRate: 16000,
		Channels:   1,
		Timestamp:  time.Now(),
	}

	if err := audio.Validate(base, 16000); err != nil {
		t.Fatalf("valid frame rejected: %v", err)
	}

	stereo := base
	stereo.Channels = 2
	err := audio.Validate(stereo, 16000)
	var verr *audio.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("stereo frame: got %v, want *ValidationError", err)
	}
	if verr.Field != "channels" {
		t.Errorf("stereo frame: rejected field %q, want \"channels\"", verr.Field)
	}

	wrongRate := base
	wrongRate.SampleRate = 44100
	if err := audio.Validate(wrongRate, 16000); err == nil {
		t.Error("44100 Hz frame accepted against a 16000 Hz pipeline")
	}

	empty := base
	empty.Samples = nil
	if err := audio.Validate(empty, 16000); err == nil {
		t.Error("empty frame accepted")
	}
}

func TestFrameDuration(t *testing.T) {
	f := audio.AudioFrame{Samples: make([]float32, 1600), SampleRate: 16000}
	if got := f.Duration(); got != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms", got)
	}
}
