// Package pipeline implements the wake-word state machine that turns a
// stream of audio chunks into application events. Each Pipeline owns one
// detection session: a wake-word detector, a voice activity gate, and the
// four post-wake stages. The transport layer creates one Pipeline per
// connection and is the only goroutine feeding it chunks.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelvoice/kestrel/internal/observe"
	"github.com/kestrelvoice/kestrel/pkg/audio"
	"github.com/kestrelvoice/kestrel/pkg/stage"
	"github.com/kestrelvoice/kestrel/pkg/vad"
)

// Detector is the chunk-level wake-word interface, satisfied by both
// wakeword.Detector and wakeword.WindowedDetector.
type Detector interface {
	// Detect consumes one chunk and reports a completed keyword, if any.
	Detect(samples []float32) (keyword string, ok bool)

	// Reset clears decode state for a fresh utterance.
	Reset()
}

// AudioCollector receives the chunks that arrive while recognition is
// running. Streaming recognizers implement it to capture the command
// utterance.
type AudioCollector interface {
	PushAudio(samples []float32)
}

// Stages bundles the four post-wake capabilities.
type Stages struct {
	Recognizer  stage.Recognizer
	Resolver    stage.IntentResolver
	Executor    stage.Executor
	Synthesizer stage.Synthesizer
}

// Config assembles a Pipeline. Detector, Gate, and all four Stages are
// required; the rest defaults.
type Config struct {
	Detector Detector
	Gate     vad.Gate
	Stages   Stages

	// Collector, if set, receives chunks that arrive during recognition.
	Collector AudioCollector

	Bus     *Bus
	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Pipeline is the per-session state machine. ProcessChunk is driven by a
// single reader goroutine; Start, Stop, and the status accessors may be
// called concurrently from control handlers.
type Pipeline struct {
	detector  Detector
	gate      vad.Gate
	stages    Stages
	collector AudioCollector

	bus     *Bus
	log     *slog.Logger
	metrics *observe.Metrics

	// mu guards state and running. It is held only for transitions, never
	// across a stage, so Stop and status reads stay responsive mid-cycle.
	mu      sync.Mutex
	state   State
	running bool

	// task admits one chunk (and the wake cycle it may trigger) at a time.
	// Concurrent chunks are dropped, not queued.
	task sync.Mutex

	chunksProcessed atomic.Uint64
	chunksDropped   atomic.Uint64
	wakeDetections  atomic.Uint64
	chunkCount      atomic.Uint64
}

// New assembles a Pipeline in the Idle state.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		detector:  cfg.Detector,
		gate:      cfg.Gate,
		stages:    cfg.Stages,
		collector: cfg.Collector,
		bus:       cfg.Bus,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		state:     StateIdle,
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.bus == nil {
		p.bus = NewBus(p.log, p.metrics)
	}
	return p
}

// Subscribe registers an event subscriber on the session bus.
func (p *Pipeline) Subscribe(fn Subscriber) {
	p.bus.Subscribe(fn)
}

// Start moves the pipeline from Idle to Listening and emits
// pipeline_started. Starting a running pipeline is a logged no-op.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.log.Warn("pipeline already running")
		return
	}
	p.running = true
	p.state = StateListening
	p.mu.Unlock()

	p.log.Info("pipeline started")
	p.emit(EventPipelineStarted, StartedPayload{})
}

// Stop moves the pipeline to Idle from any state and emits
// pipeline_stopped. It does not interrupt an in-flight stage; cancellation
// travels through the context given to ProcessChunk.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	wasRunning := p.running
	p.running = false
	p.state = StateIdle
	p.mu.Unlock()

	if !wasRunning {
		return
	}
	p.log.Info("pipeline stopped")
	p.emit(EventPipelineStopped, StoppedPayload{})
}

// State returns the current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Running reports whether the pipeline has been started and not stopped.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Counters returns the lifetime chunk and detection counters.
func (p *Pipeline) Counters() (processed, dropped, detections uint64) {
	return p.chunksProcessed.Load(), p.chunksDropped.Load(), p.wakeDetections.Load()
}

// ProcessChunk routes one validated frame according to the current state.
// In Listening it runs the gate and the detector and, on a wake-word hit,
// the full wake cycle synchronously before returning. During recognition
// chunks are handed to the collector; in the remaining busy states they are
// dropped with a debug log. Chunks arriving while another chunk is being
// processed are dropped, never queued.
func (p *Pipeline) ProcessChunk(ctx context.Context, frame audio.AudioFrame) {
	p.mu.Lock()
	running, state := p.running, p.state
	p.mu.Unlock()

	if !running {
		p.log.Warn("pipeline not running, ignoring chunk")
		p.drop(ctx, "not_running")
		return
	}

	switch state {
	case StateListening:
		if !p.task.TryLock() {
			p.log.Debug("pipeline busy, dropping chunk")
			p.drop(ctx, "busy")
			return
		}
		defer p.task.Unlock()
		p.chunksProcessed.Add(1)
		p.metrics.ChunksProcessed.Add(ctx, 1)
		p.handleListening(ctx, frame)

	case StateRecognizing:
		// Keep collecting the command utterance for the recognizer.
		p.chunksProcessed.Add(1)
		p.metrics.ChunksProcessed.Add(ctx, 1)
		if p.collector != nil {
			p.collector.PushAudio(frame.Samples)
		}

	default:
		p.log.Debug("chunk ignored in current state", "state", state.String())
		p.drop(ctx, "busy")
	}
}

// handleListening screens the chunk with the gate and always runs the
// detector, whatever the gate said: a missed wake word costs more than the
// spotter CPU. A hit starts the wake cycle.
func (p *Pipeline) handleListening(ctx context.Context, frame audio.AudioFrame) {
	count := p.chunkCount.Add(1)

	speech := p.gate.IsSpeech(frame.Samples)
	if count%20 == 0 {
		p.log.Debug("listening",
			"chunks", count,
			"samples", len(frame.Samples),
			"speech", speech,
		)
	}

	keyword, ok := p.detector.Detect(frame.Samples)
	if !ok {
		return
	}

	p.wakeDetections.Add(1)
	p.metrics.RecordWakeDetection(ctx, keyword)
	p.log.Info("wake word detected", "keyword", keyword, "speech", speech)

	if !p.advance(StateWakeDetected) {
		return
	}
	p.emit(EventWakeWordDetected, WakeWordPayload{Keyword: keyword})

	p.runWakeCycle(ctx)
}

// runWakeCycle walks the four stages in order. Any stage error recovers the
// pipeline to Listening; a completed cycle ends there too.
func (p *Pipeline) runWakeCycle(ctx context.Context) {
	cycleStart := time.Now()

	// Recognition.
	if !p.advance(StateRecognizing) {
		return
	}
	p.emit(EventRecognitionStarted, RecognitionPayload{})
	transcript, err := timed(p, ctx, stage.StageRecognize, func() (stage.Transcript, error) {
		return p.stages.Recognizer.Recognize(ctx)
	})
	if err != nil {
		p.recover(ctx, stage.StageRecognize, err)
		return
	}
	if transcript.Text == "" {
		p.log.Info("nothing recognized, returning to listening")
		p.returnToListening(ListeningPayload{Reason: "empty transcript"})
		return
	}
	p.log.Info("speech recognized", "text", transcript.Text)

	// Intent resolution.
	if !p.advance(StateIntentProcessing) {
		return
	}
	p.emit(EventIntentStarted, IntentStartedPayload{Text: transcript.Text})
	intent, err := timed(p, ctx, stage.StageIntent, func() (stage.Intent, error) {
		return p.stages.Resolver.Resolve(ctx, transcript)
	})
	if err != nil {
		p.recover(ctx, stage.StageIntent, err)
		return
	}
	p.log.Info("intent resolved", "intent", intent.Name, "confidence", intent.Confidence)

	// Command execution.
	if !p.advance(StateExecuting) {
		return
	}
	p.emit(EventExecutionStarted, ExecutionPayload{Intent: intent})
	result, err := timed(p, ctx, stage.StageExecute, func() (stage.CommandResult, error) {
		return p.stages.Executor.Execute(ctx, intent)
	})
	if err != nil {
		p.recover(ctx, stage.StageExecute, err)
		return
	}
	p.log.Info("command executed", "action", result.Action, "success", result.Success)

	// Speech synthesis.
	if !p.advance(StateSpeaking) {
		return
	}
	p.emit(EventSpeechStarted, SpeechPayload{Result: result})
	if _, err := timed(p, ctx, stage.StageSynthesize, func() (struct{}, error) {
		return struct{}{}, p.stages.Synthesizer.Speak(ctx, result)
	}); err != nil {
		p.recover(ctx, stage.StageSynthesize, err)
		return
	}

	p.metrics.WakeCycleDuration.Record(ctx, time.Since(cycleStart).Seconds())
	p.returnToListening(ListeningPayload{})
}

// timed runs one stage and records its latency.
func timed[T any](p *Pipeline, ctx context.Context, name string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	p.metrics.RecordStageDuration(ctx, name, time.Since(start).Seconds())
	return v, err
}

// recover logs a stage failure and returns the pipeline to Listening so the
// next chunk is processed normally. The failed wake cycle produces exactly
// one returned_to_listening event.
func (p *Pipeline) recover(ctx context.Context, stageName string, err error) {
	serr := &stage.StageError{Stage: stageName, Err: err}
	p.log.Error("stage failed, recovering to listening", "stage", stageName, "error", serr)
	p.metrics.RecordRecovery(ctx, stageName)
	p.returnToListening(ListeningPayload{Recovered: true, Reason: serr.Error()})
}

// returnToListening resets the detector and gate and emits
// returned_to_listening. If the pipeline was stopped mid-cycle, Idle wins
// and no event is emitted.
func (p *Pipeline) returnToListening(payload ListeningPayload) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.state = StateListening
	p.mu.Unlock()

	p.detector.Reset()
	p.gate.Reset()
	p.emit(EventReturnedToListening, payload)
	p.log.Debug("returned to listening")
}

// advance moves to the next cycle state. It refuses once the pipeline has
// been stopped, so a Stop during a wake cycle aborts the remaining stages.
func (p *Pipeline) advance(s State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return false
	}
	p.state = s
	return true
}

func (p *Pipeline) emit(t EventType, payload Payload) {
	p.bus.Publish(Event{
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now(),
		State:     p.State(),
	})
}

func (p *Pipeline) drop(ctx context.Context, reason string) {
	p.chunksDropped.Add(1)
	p.metrics.RecordDroppedChunk(ctx, reason)
}
