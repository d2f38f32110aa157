// Package llmintent implements stage.IntentResolver on top of an LLM via
// github.com/mozilla-ai/any-llm-go. The model is asked to classify the
// transcript into one of the known intent classes and answer with a single
// JSON object; a malformed answer degrades to the "general" intent instead of
// failing the wake cycle.
package llmintent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/kestrelvoice/kestrel/pkg/stage"
)

const systemPrompt = `You classify voice-assistant commands.
Given the user's transcript, answer with a single JSON object and nothing else:
{"intent": "<weather|music|alarm|smart_home|general>", "confidence": <0.0-1.0>, "entities": {"<kind>": "<value>"}}
Use "general" when no other intent fits. Omit entities you cannot extract.`

// Resolver implements stage.IntentResolver using a chat completion per
// transcript. Safe for concurrent use.
type Resolver struct {
	backend     anyllmlib.Provider
	model       string
	temperature float64
	maxTokens   int
	log         *slog.Logger
}

// Ensure Resolver implements stage.IntentResolver at compile time.
var _ stage.IntentResolver = (*Resolver)(nil)

// Option is a functional option for configuring a Resolver.
type Option func(*Resolver)

// WithTemperature sets the sampling temperature. Defaults to 0 (greedy),
// which keeps classifications reproducible.
func WithTemperature(t float64) Option {
	return func(r *Resolver) { r.temperature = t }
}

// WithMaxTokens caps the completion length. Defaults to 128, plenty for the
// JSON answer.
func WithMaxTokens(n int) Option {
	return func(r *Resolver) { r.maxTokens = n }
}

// WithLogger sets the logger for degraded classifications. Defaults to
// slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// New creates a Resolver backed by the named provider. providerName is one
// of: "openai", "anthropic", "ollama", "mistral", "groq", "llamacpp".
// backendOpts are any-llm-go options (e.g., anyllmlib.WithAPIKey); without an
// API key option the provider falls back to its environment variable.
func New(providerName, model string, backendOpts []anyllmlib.Option, opts ...Option) (*Resolver, error) {
	if model == "" {
		return nil, fmt.Errorf("llmintent: model must not be empty")
	}
	backend, err := createBackend(providerName, backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("llmintent: create %q backend: %w", providerName, err)
	}
	r := &Resolver{backend: backend, model: model, maxTokens: 128}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, ollama, mistral, groq, llamacpp", providerName)
	}
}

// answer is the JSON shape the model is instructed to produce.
type answer struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities"`
}

// Resolve sends the transcript for classification. A transport or API error
// is returned to the caller; a malformed model answer is logged and resolved
// as "general" with low confidence.
func (r *Resolver) Resolve(ctx context.Context, t stage.Transcript) (stage.Intent, error) {
	params := anyllmlib.CompletionParams{
		Model: r.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: t.Text},
		},
	}
	temp := r.temperature
	params.Temperature = &temp
	if r.maxTokens > 0 {
		mt := r.maxTokens
		params.MaxTokens = &mt
	}

	resp, err := r.backend.Completion(ctx, params)
	if err != nil {
		return stage.Intent{}, fmt.Errorf("llmintent: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return stage.Intent{}, fmt.Errorf("llmintent: empty choices in response")
	}
	content := resp.Choices[0].Message.ContentString()

	a, err := parseAnswer(content)
	if err != nil {
		r.log.Warn("intent classification returned malformed JSON, using general",
			"error", err, "content", content)
		return stage.Intent{Name: "general", Confidence: 0.3, Text: t.Text}, nil
	}

	return stage.Intent{
		Name:       a.Intent,
		Confidence: a.Confidence,
		Text:       t.Text,
		Entities:   a.Entities,
	}, nil
}

// parseAnswer extracts the JSON object from the model output, tolerating
// prose or code fences around it.
func parseAnswer(content string) (answer, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return answer{}, fmt.Errorf("no JSON object in %q", content)
	}
	var a answer
	if err := json.Unmarshal([]byte(content[start:end+1]), &a); err != nil {
		return answer{}, err
	}
	if a.Intent == "" {
		return answer{}, fmt.Errorf("missing intent field in %q", content)
	}
	return a, nil
}
