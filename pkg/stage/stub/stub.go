// Package stub provides the reference implementations of the four stage
// capabilities. They are deterministic placeholders: the recognizer cycles
// through sample utterances, the resolver matches keyword patterns (with a
// fuzzy fallback for near-misses), the executor dispatches to canned
// handlers, and the synthesizer sleeps proportionally to the response length.
// They define the pipeline's observable behavior in tests and demos; real
// backends replace them one stage at a time via config.
package stub

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/kestrelvoice/kestrel/pkg/stage"
)

// Recognizer cycles through a fixed list of utterances, one per wake cycle.
type Recognizer struct {
	mu         sync.Mutex
	utterances []string
	next       int
	delay      time.Duration
}

// Ensure Recognizer implements stage.Recognizer at compile time.
var _ stage.Recognizer = (*Recognizer)(nil)

// defaultUtterances mirror the demo phrases the resolver's patterns cover.
var defaultUtterances = []string{
	"what is the weather today",
	"play some music",
	"set an alarm",
	"turn on the light",
	"turn off the air conditioner",
}

// NewRecognizer returns a Recognizer over the given utterances, or the
// defaults when none are given. delay simulates recognition latency per call.
func NewRecognizer(utterances []string, delay time.Duration) *Recognizer {
	if len(utterances) == 0 {
		utterances = defaultUtterances
	}
	return &Recognizer{utterances: utterances, delay: delay}
}

// Recognize returns the next utterance in the cycle.
func (r *Recognizer) Recognize(ctx context.Context) (stage.Transcript, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return stage.Transcript{}, &stage.StageError{Stage: stage.StageRecognize, Err: ctx.Err()}
		}
	}
	r.mu.Lock()
	text := r.utterances[r.next%len(r.utterances)]
	r.next++
	r.mu.Unlock()
	return stage.Transcript{Text: text}, nil
}

// Resolver classifies transcripts by keyword patterns. Each intent maps to a
// list of trigger words; a transcript containing any trigger resolves to that
// intent with high confidence. Words within edit distance 1 of a trigger also
// match, so small recognition errors still resolve. Everything else falls
// back to the "general" intent.
type Resolver struct {
	patterns map[string][]string
}

// Ensure Resolver implements stage.IntentResolver at compile time.
var _ stage.IntentResolver = (*Resolver)(nil)

// defaultPatterns mirror the demo intent classes.
var defaultPatterns = map[string][]string{
	"weather":    {"weather", "temperature", "rain", "sunny"},
	"music":      {"play", "music", "song", "listen"},
	"alarm":      {"alarm", "remind", "timer"},
	"smart_home": {"light", "lights", "air", "conditioner", "fan"},
	"general":    {"hello", "thanks", "goodbye"},
}

// NewResolver returns a Resolver over the given patterns, or the defaults
// when nil.
func NewResolver(patterns map[string][]string) *Resolver {
	if patterns == nil {
		patterns = defaultPatterns
	}
	return &Resolver{patterns: patterns}
}

// Resolve matches the transcript against the trigger patterns.
func (r *Resolver) Resolve(_ context.Context, t stage.Transcript) (stage.Intent, error) {
	name, confidence := "general", 0.5
	words := strings.Fields(strings.ToLower(t.Text))

	if n, ok := r.match(words, func(w, trigger string) bool { return w == trigger }); ok {
		name, confidence = n, 0.9
	} else if n, ok := r.match(words, func(w, trigger string) bool {
		// Tolerate one edit of recognition error on longer triggers.
		return len(trigger) > 3 && matchr.DamerauLevenshtein(w, trigger) == 1
	}); ok {
		name, confidence = n, 0.7
	}

	return stage.Intent{
		Name:       name,
		Confidence: confidence,
		Text:       t.Text,
		Entities:   extractEntities(words),
	}, nil
}

// match scans every pattern for a word/trigger pair accepted by ok.
func (r *Resolver) match(words []string, ok func(w, trigger string) bool) (string, bool) {
	for intentName, triggers := range r.patterns {
		for _, trigger := range triggers {
			for _, w := range words {
				if ok(w, trigger) {
					return intentName, true
				}
			}
		}
	}
	return "", false
}

// extractEntities pulls simple slots out of the word list.
func extractEntities(words []string) map[string]string {
	entities := map[string]string{}
	devices := []string{"light", "lights", "fan", "tv", "conditioner"}
	for _, w := range words {
		for _, d := range devices {
			if w == d {
				entities["device"] = d
				break
			}
		}
		if w == "alarm" || strings.HasSuffix(w, "o'clock") {
			entities["time"] = w
		}
	}
	return entities
}

// handler produces the canned result for one intent class.
type handler func(in stage.Intent) stage.CommandResult

// Executor dispatches intents to a registry of handlers, falling back to the
// general handler for unknown intents.
type Executor struct {
	handlers map[string]handler
	delay    time.Duration
}

// Ensure Executor implements stage.Executor at compile time.
var _ stage.Executor = (*Executor)(nil)

// NewExecutor returns an Executor with the demo handler registry. delay
// simulates per-command work.
func NewExecutor(delay time.Duration) *Executor {
	e := &Executor{delay: delay}
	e.handlers = map[string]handler{
		"weather": func(stage.Intent) stage.CommandResult {
			return stage.CommandResult{Success: true, Response: "It is sunny today, 25 degrees", Action: "weather_query"}
		},
		"music": func(stage.Intent) stage.CommandResult {
			return stage.CommandResult{Success: true, Response: "Playing music now", Action: "play_music"}
		},
		"alarm": func(stage.Intent) stage.CommandResult {
			return stage.CommandResult{Success: true, Response: "Alarm has been set", Action: "set_alarm"}
		},
		"smart_home": func(in stage.Intent) stage.CommandResult {
			device := in.Entities["device"]
			if device == "" {
				device = "device"
			}
			return stage.CommandResult{Success: true, Response: "The " + device + " has been switched", Action: "smart_home_control"}
		},
		"general": func(stage.Intent) stage.CommandResult {
			return stage.CommandResult{Success: true, Response: "I see. Is there anything else I can help with?", Action: "general_chat"}
		},
	}
	return e
}

// Execute dispatches to the handler registered for the intent.
func (e *Executor) Execute(ctx context.Context, in stage.Intent) (stage.CommandResult, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return stage.CommandResult{}, &stage.StageError{Stage: stage.StageExecute, Err: ctx.Err()}
		}
	}
	h, ok := e.handlers[in.Name]
	if !ok {
		h = e.handlers["general"]
	}
	return h(in), nil
}

// Synthesizer simulates playback by sleeping proportionally to the response
// length, capped so tests stay fast.
type Synthesizer struct {
	perChar time.Duration
	maxWait time.Duration
}

// Ensure Synthesizer implements stage.Synthesizer at compile time.
var _ stage.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer returns a Synthesizer sleeping perChar per response
// character, at most maxWait in total. Zero values disable the sleep.
func NewSynthesizer(perChar, maxWait time.Duration) *Synthesizer {
	return &Synthesizer{perChar: perChar, maxWait: maxWait}
}

// Speak sleeps for the simulated playback duration.
func (s *Synthesizer) Speak(ctx context.Context, res stage.CommandResult) error {
	wait := time.Duration(len(res.Response)) * s.perChar
	if wait > s.maxWait {
		wait = s.maxWait
	}
	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return &stage.StageError{Stage: stage.StageSynthesize, Err: ctx.Err()}
	}
}
