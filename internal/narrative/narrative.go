// Package narrative asks a language model to turn funnel metrics and
// insights into a short written briefing.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"

	"github.com/vinodismyname/mcpfunnel/config"
	"github.com/vinodismyname/mcpfunnel/internal/campaigns"
	"github.com/vinodismyname/mcpfunnel/internal/funnel"
	"github.com/vinodismyname/mcpfunnel/internal/insights"
	"github.com/vinodismyname/mcpfunnel/internal/security"
)

var (
	// ErrNoModel is returned when no language model is configured.
	ErrNoModel = errors.New("narrative: no model configured")
	// ErrEmptyResponse is returned when the model answers with blank text.
	ErrEmptyResponse = errors.New("narrative: empty model response")
	// ErrPromptTooLarge is returned when even the trimmed prompt exceeds the budget.
	ErrPromptTooLarge = errors.New("narrative: prompt exceeds token budget")
)

// Input is the material for one briefing.
type Input struct {
	DimensionLabel string
	Summary        funnel.PeriodSummary
	// Previous is the comparison period, when there is one.
	Previous *funnel.PeriodSummary
	Rows     []campaigns.Row
	Insights []insights.Insight
	// Question is optional caller focus; it is sanitized before use.
	Question string
}

// Narrative is a generated briefing with prompt accounting.
type Narrative struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	PromptTokens int    `json:"prompt_tokens"`
	RowsUsed     int    `json:"rows_used"`
	InsightsUsed int    `json:"insights_used"`
	// Flagged is set when instruction-override text was removed from Question.
	Flagged bool `json:"question_flagged,omitempty"`
}

// Narrator renders prompts and calls the model.
type Narrator struct {
	Model           llms.Model
	ModelName       string
	MaxPromptTokens int
	MaxTokens       int
	Temperature     float64
	// Count estimates tokens; nil uses llms.CountTokens.
	Count func(model, text string) int
	// OnTokens, when set, receives prompt and completion token estimates.
	OnTokens func(model string, prompt, completion int)
	Log      zerolog.Logger
}

// New returns a narrator with default budgets. model may be nil, in which
// case Generate reports ErrNoModel.
func New(model llms.Model, modelName string, log zerolog.Logger) *Narrator {
	return &Narrator{
		Model:           model,
		ModelName:       modelName,
		MaxPromptTokens: config.DefaultMaxPromptTokens,
		MaxTokens:       config.DefaultNarrativeMaxLen,
		Temperature:     0.2,
		Log:             log,
	}
}

// Available reports whether a model is configured.
func (n *Narrator) Available() bool { return n != nil && n.Model != nil }

func (n *Narrator) count(text string) int {
	if n.Count != nil {
		return n.Count(n.ModelName, text)
	}
	return llms.CountTokens(n.ModelName, text)
}

// Budget is the prompt token allowance.
func (n *Narrator) Budget() int {
	if n.MaxPromptTokens <= 0 {
		return config.DefaultMaxPromptTokens
	}
	return n.MaxPromptTokens
}

// ContextSize reports the model's context window as known to langchaingo.
func (n *Narrator) ContextSize() int {
	return llms.GetModelContextSize(n.ModelName)
}

// Generate builds a prompt within budget and asks the model for a briefing.
// Over-budget prompts drop the lowest ranked rows first, then the lowest
// priority insights.
func (n *Narrator) Generate(ctx context.Context, in Input) (Narrative, error) {
	if !n.Available() {
		return Narrative{}, ErrNoModel
	}
	q, flagged := security.SanitizePrompt(in.Question)
	in.Question = q

	budget := n.Budget()
	prompt := BuildPrompt(in)
	tokens := n.count(prompt)
	for tokens > budget && (len(in.Rows) > 0 || len(in.Insights) > 0) {
		if len(in.Rows) > 0 {
			in.Rows = in.Rows[:len(in.Rows)-1]
		} else {
			in.Insights = in.Insights[:len(in.Insights)-1]
		}
		prompt = BuildPrompt(in)
		tokens = n.count(prompt)
	}
	if tokens > budget {
		return Narrative{}, fmt.Errorf("%w: %d > %d", ErrPromptTooLarge, tokens, budget)
	}

	opts := []llms.CallOption{llms.WithTemperature(n.Temperature)}
	if n.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(n.MaxTokens))
	}
	text, err := llms.GenerateFromSinglePrompt(ctx, n.Model, prompt, opts...)
	if err != nil {
		return Narrative{}, fmt.Errorf("narrative: generate: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Narrative{}, ErrEmptyResponse
	}
	if n.OnTokens != nil {
		n.OnTokens(n.ModelName, tokens, n.count(text))
	}
	n.Log.Debug().Str("model", n.ModelName).Int("prompt_tokens", tokens).Int("rows", len(in.Rows)).
		Int("insights", len(in.Insights)).Bool("flagged", flagged).Msg("narrative generated")

	return Narrative{
		Text:         text,
		Model:        n.ModelName,
		PromptTokens: tokens,
		RowsUsed:     len(in.Rows),
		InsightsUsed: len(in.Insights),
		Flagged:      flagged,
	}, nil
}
