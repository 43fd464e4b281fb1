package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/acervolabs/acervo/pkg/apperr"
	"github.com/acervolabs/acervo/pkg/llm"
)

// LLMConfig holds configuration for an LLM context.
type LLMConfig struct {
	Dispatcher *llm.Dispatcher
	Model      string // default completion model, required

	Temperature float64      // default 0.2
	MaxTokens   int          // default 1024
	Logger      hclog.Logger // optional
}

// LLMContext runs completions under a library's completion model and builds
// the engine's prompts: summaries, label classification, and
// question-answer generation.
type LLMContext struct {
	dispatcher  *llm.Dispatcher
	model       string
	temperature float64
	maxTokens   int
	logger      hclog.Logger
}

// NewLLMContext creates an LLM context.
func NewLLMContext(config LLMConfig) (*LLMContext, error) {
	if config.Dispatcher == nil {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "LLM context requires a dispatcher")
	}
	if config.Model == "" {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "completion model is required")
	}
	if config.Temperature == 0 {
		config.Temperature = 0.2
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &LLMContext{
		dispatcher:  config.Dispatcher,
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		logger:      config.Logger.Named("llm-context"),
	}, nil
}

// Model returns the default completion model.
func (l *LLMContext) Model() string { return l.model }

// Complete validates and dispatches a completion. Unset params take the
// context defaults.
func (l *LLMContext) Complete(ctx context.Context, params llm.CompletionParams) (string, error) {
	if strings.TrimSpace(params.Prompt) == "" {
		return "", apperr.New(apperr.KindInvalidInput, "completion prompt cannot be empty")
	}
	if params.Temperature != nil && (*params.Temperature < 0 || *params.Temperature > 2) {
		return "", apperr.Newf(apperr.KindInvalidInput, "temperature %.2f outside [0, 2]", *params.Temperature)
	}
	if params.Model == "" {
		params.Model = l.model
	}
	if params.Temperature == nil {
		params.Temperature = &l.temperature
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = l.maxTokens
	}
	return l.dispatcher.Complete(ctx, params)
}

// Summarize condenses text to at most maxTokens tokens.
func (l *LLMContext) Summarize(ctx context.Context, text string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		return "", apperr.New(apperr.KindInvalidInput, "summary token budget must be positive")
	}

	out, err := l.Complete(ctx, llm.CompletionParams{
		System: "You summarize documents faithfully, keeping names, numbers, and terminology intact. Answer in the language of the document.",
		Prompt: fmt.Sprintf("Summarize the following text in at most %d tokens:\n\n%s", maxTokens, text),

		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Classify labels text against a fixed label set and returns the matching
// label. A response outside the set is an error; callers treat it as an
// inconclusive classification.
func (l *LLMContext) Classify(ctx context.Context, text string, labels []string) (string, error) {
	if len(labels) == 0 {
		return "", apperr.New(apperr.KindInvalidInput, "classification requires at least one label")
	}

	out, err := l.Complete(ctx, llm.CompletionParams{
		System: "You are a strict classifier. Answer with exactly one label from the list, nothing else.",
		Prompt: fmt.Sprintf("Labels: %s\n\nClassify this text:\n\n%s", strings.Join(labels, ", "), text),

		MaxTokens: 16,
	})
	if err != nil {
		return "", err
	}

	answer := strings.ToLower(strings.TrimSpace(out))
	for _, label := range labels {
		if answer == strings.ToLower(label) {
			return label, nil
		}
	}
	// Tolerate decorated answers like `"legal"` or "label: legal".
	for _, label := range labels {
		if strings.Contains(answer, strings.ToLower(label)) {
			return label, nil
		}
	}
	return "", apperr.Newf(apperr.KindInvalidInput, "classifier answered outside the label set: %q", out)
}

// QAPair is one generated question with its answer.
type QAPair struct {
	Question string
	Answer   string
}

// GenerateQA produces up to n question-answer pairs grounded in the text.
func (l *LLMContext) GenerateQA(ctx context.Context, text string, n int) ([]QAPair, error) {
	if n <= 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "question count must be positive")
	}

	out, err := l.Complete(ctx, llm.CompletionParams{
		System: "You write question-answer pairs that are fully answerable from the given text. " +
			"Format each pair as two lines: 'Q: <question>' then 'A: <answer>'. No other output.",
		Prompt: fmt.Sprintf("Write %d question-answer pairs about the following text:\n\n%s", n, text),
	})
	if err != nil {
		return nil, err
	}

	pairs := parseQAPairs(out)
	if len(pairs) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "model produced no parseable question-answer pairs")
	}
	if len(pairs) > n {
		pairs = pairs[:n]
	}
	return pairs, nil
}

func parseQAPairs(out string) []QAPair {
	var pairs []QAPair
	var current QAPair

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Q:"):
			if current.Question != "" && current.Answer != "" {
				pairs = append(pairs, current)
			}
			current = QAPair{Question: strings.TrimSpace(strings.TrimPrefix(line, "Q:"))}
		case strings.HasPrefix(line, "A:"):
			current.Answer = strings.TrimSpace(strings.TrimPrefix(line, "A:"))
		}
	}
	if current.Question != "" && current.Answer != "" {
		pairs = append(pairs, current)
	}
	return pairs
}
