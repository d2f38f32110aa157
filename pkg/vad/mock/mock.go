// Package mock provides a test double for the vad.Gate interface.
package mock

import (
	"sync"

	"github.com/kestrelvoice/kestrel/pkg/vad"
)

// IsSpeechCall records a single invocation of Gate.IsSpeech.
type IsSpeechCall struct {
	// Samples is a copy of the samples passed to IsSpeech.
	Samples []float32
}

// Gate is a mock implementation of vad.Gate. Verdicts are consumed from
// Verdicts in order; once exhausted, IsSpeech returns Default.
type Gate struct {
	mu sync.Mutex

	// Verdicts is the scripted sequence of IsSpeech return values.
	Verdicts []bool

	// Default is returned once Verdicts is exhausted.
	Default bool

	// IsSpeechCalls records every call to IsSpeech in order.
	IsSpeechCalls []IsSpeechCall

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	next int
}

// IsSpeech records the call and returns the next scripted verdict.
func (g *Gate) IsSpeech(samples []float32) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	g.IsSpeechCalls = append(g.IsSpeechCalls, IsSpeechCall{Samples: cp})
	if g.next < len(g.Verdicts) {
		v := g.Verdicts[g.next]
		g.next++
		return v
	}
	return g.Default
}

// Reset records the call by incrementing ResetCallCount.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ResetCallCount++
}

// ResetCalls clears all recorded call history and rewinds the scripted
// verdicts. Thread-safe.
func (g *Gate) ResetCalls() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.IsSpeechCalls = nil
	g.ResetCallCount = 0
	g.next = 0
}

// Ensure Gate implements vad.Gate at compile time.
var _ vad.Gate = (*Gate)(nil)
