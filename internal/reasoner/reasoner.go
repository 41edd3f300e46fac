// Package reasoner asks the LLM for a structured classification of a table
// and extracts the JSON it returns.
package reasoner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultTemperature is the sampling temperature for classification.
const DefaultTemperature = 0.5

// LLM is the text completion capability.
type LLM interface {
	Complete(ctx context.Context, system, user string, temperature float64) (string, error)
}

// Input is what one classification attempt sees.
type Input struct {
	Query           any
	Category        any
	RetrievedDocs   any
	SimilarityMatch any

	// Feedback explains why the previous attempt was rejected. Empty on the
	// first attempt.
	Feedback string
}

// Reasoner builds the prompt, calls the LLM and decodes its JSON.
type Reasoner struct {
	llm         LLM
	tmpl        Template
	system      string
	temperature float64
}

// Option configures a Reasoner.
type Option func(*Reasoner)

// WithTemplate replaces the built-in prompt template.
func WithTemplate(t Template) Option {
	return func(r *Reasoner) {
		r.tmpl = t
	}
}

// WithSystemPrompt replaces the built-in system prompt.
func WithSystemPrompt(s string) Option {
	return func(r *Reasoner) {
		r.system = s
	}
}

// WithTemperature overrides DefaultTemperature.
func WithTemperature(t float64) Option {
	return func(r *Reasoner) {
		r.temperature = t
	}
}

// New returns a Reasoner over llm.
func New(llm LLM, opts ...Option) *Reasoner {
	r := &Reasoner{
		llm:         llm,
		tmpl:        DefaultTemplate(),
		system:      DefaultSystemPrompt(),
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prompt renders the user prompt for in.
func (r *Reasoner) Prompt(in Input) (string, error) {
	query, err := toJSON(in.Query)
	if err != nil {
		return "", err
	}
	category, err := toJSON(in.Category)
	if err != nil {
		return "", err
	}
	docs, err := toJSON(in.RetrievedDocs)
	if err != nil {
		return "", err
	}
	sim, err := toJSON(in.SimilarityMatch)
	if err != nil {
		return "", err
	}

	prompt := r.tmpl.Render(query, category, docs+"\n"+sim)
	if in.Feedback != "" {
		prompt += "\n\n## Previous attempt rejected\n" + in.Feedback +
			"\nReturn the complete JSON object again with every required field present.\n"
	}
	return prompt, nil
}

// Classify runs one classification attempt and returns the decoded JSON tree.
// Extraction failures wrap ErrNoJSONFound or ErrInvalidJSON; LLM failures are
// returned as is.
func (r *Reasoner) Classify(ctx context.Context, in Input) (any, error) {
	prompt, err := r.Prompt(in)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := r.llm.Complete(ctx, r.system, prompt, r.temperature)
	if err != nil {
		return nil, eris.Wrap(err, "reasoner: completion")
	}

	payload, err := ExtractJSON(raw)
	if err != nil {
		zap.L().Warn("reasoner: unusable completion",
			zap.Int("completion_len", len(raw)),
			zap.Error(err),
		)
		return nil, err
	}

	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, eris.Wrap(ErrInvalidJSON, err.Error())
	}

	zap.L().Debug("reasoner: classification received",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("payload_len", len(payload)),
	)
	return doc, nil
}
