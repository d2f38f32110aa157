// Package mock provides test doubles for the spotter package interfaces.
//
// Use Engine to verify session creation and Session to script per-call Poll
// results and injected Feed/Poll errors, and to inspect the audio that was
// fed.
//
// Example:
//
//	sess := &mock.Session{
//	    PollResults: []spotter.Result{{}, {}, {Keyword: "kestrel"}},
//	}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession()
package mock

import (
	"sync"

	"github.com/kestrelvoice/kestrel/pkg/spotter"
)

// Engine is a mock implementation of spotter.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session spotter.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCallCount is the number of times NewSession was called.
	NewSessionCallCount int
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession() (spotter.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCallCount++
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Ensure Engine implements spotter.Engine at compile time.
var _ spotter.Engine = (*Engine)(nil)

// FeedCall records a single invocation of Session.Feed.
type FeedCall struct {
	// SampleRate is the rate passed to Feed.
	SampleRate int

	// Samples is a copy of the samples passed to Feed.
	Samples []float32
}

// Session is a mock implementation of spotter.SessionHandle.
//
// Poll results are consumed from PollResults in order; once exhausted, Poll
// returns the zero Result. FeedErrs and PollErrs map the 1-based call index
// to an error injected on exactly that call.
type Session struct {
	mu sync.Mutex

	// PollResults is the scripted sequence of Poll return values.
	PollResults []spotter.Result

	// FeedErrs maps a 1-based Feed call index to the error returned on that call.
	FeedErrs map[int]error

	// PollErrs maps a 1-based Poll call index to the error returned on that call.
	PollErrs map[int]error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// FeedCalls records every call to Feed in order.
	FeedCalls []FeedCall

	// PollCallCount is the number of times Poll was called.
	PollCallCount int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	pollNext int
}

// Feed records the call and returns the error scheduled for this call index,
// if any.
func (s *Session) Feed(sampleRate int, samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	s.FeedCalls = append(s.FeedCalls, FeedCall{SampleRate: sampleRate, Samples: cp})
	if err, ok := s.FeedErrs[len(s.FeedCalls)]; ok {
		return err
	}
	return nil
}

// Poll records the call and returns the next scripted Result, or the error
// scheduled for this call index.
func (s *Session) Poll() (spotter.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PollCallCount++
	if err, ok := s.PollErrs[s.PollCallCount]; ok {
		return spotter.Result{}, err
	}
	if s.pollNext < len(s.PollResults) {
		r := s.PollResults[s.pollNext]
		s.pollNext++
		return r, nil
	}
	return spotter.Result{}, nil
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ResetCalls clears all recorded call history and rewinds the scripted Poll
// results. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FeedCalls = nil
	s.PollCallCount = 0
	s.ResetCallCount = 0
	s.CloseCallCount = 0
	s.pollNext = 0
}

// Ensure Session implements spotter.SessionHandle at compile time.
var _ spotter.SessionHandle = (*Session)(nil)
