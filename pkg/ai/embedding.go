// Package ai provides the model-facing contexts: an embedding context bound
// to one library's embedding model and dimension, and an LLM context for
// completions, summaries, classification, and question generation.
package ai

import (
	"context"
	"math"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"

	"github.com/acervolabs/acervo/pkg/apperr"
	"github.com/acervolabs/acervo/pkg/llm"
	"github.com/acervolabs/acervo/pkg/models"
	"github.com/acervolabs/acervo/pkg/tokens"
)

const (
	// defaultContextLength is the embedding model context budget in tokens
	// when the configuration does not set one.
	defaultContextLength = 8192

	// oversizeTolerance is how far past the context length a text may run
	// and still be truncated instead of summarized.
	oversizeTolerance = 1.05

	// summaryTargetTokens is the summary budget for texts too large to
	// truncate.
	summaryTargetTokens = 2048

	// maxEmbedBatch is the hard cap on texts per embedding batch.
	maxEmbedBatch = 10
)

// Summarizer condenses text to a token budget. The LLM context implements
// it; the embedding context uses it for texts far over the context length.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxTokens int) (string, error)
}

// EmbeddingConfig holds configuration for an embedding context.
type EmbeddingConfig struct {
	Dispatcher    *llm.Dispatcher
	Model         string // required
	Dimension     int    // required; the library's vector width
	ContextLength int    // model context budget in tokens (default 8192)

	Counter    *tokens.Counter // optional
	Summarizer Summarizer      // optional; absent falls back to truncation
	Logger     hclog.Logger    // optional
}

// EmbeddingContext embeds texts under one library's embedding model. All
// returned vectors are L2-normalized and exactly Dimension wide.
type EmbeddingContext struct {
	dispatcher    *llm.Dispatcher
	model         string
	dimension     int
	contextLength int
	counter       *tokens.Counter
	summarizer    Summarizer
	logger        hclog.Logger
}

// EmbedResult is one embedded text: the adjusted vector plus the marks
// recording how the text was fitted to the model (summarized, truncated).
type EmbedResult struct {
	Vector []float32
	Marks  models.Metadata
}

// NewEmbeddingContext creates an embedding context.
func NewEmbeddingContext(config EmbeddingConfig) (*EmbeddingContext, error) {
	if config.Dispatcher == nil {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "embedding context requires a dispatcher")
	}
	if config.Model == "" {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "embedding model is required")
	}
	if config.Dimension <= 0 {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "embedding dimension must be positive")
	}
	if config.ContextLength <= 0 {
		config.ContextLength = defaultContextLength
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}
	if config.Counter == nil {
		config.Counter = tokens.NewCounter(tokens.CounterConfig{Logger: config.Logger})
	}

	return &EmbeddingContext{
		dispatcher:    config.Dispatcher,
		model:         config.Model,
		dimension:     config.Dimension,
		contextLength: config.ContextLength,
		counter:       config.Counter,
		summarizer:    config.Summarizer,
		logger:        config.Logger.Named("embedding"),
	}, nil
}

// Model returns the embedding model name.
func (e *EmbeddingContext) Model() string { return e.model }

// Dimension returns the vector width the context produces.
func (e *EmbeddingContext) Dimension() int { return e.dimension }

// ContextLength returns the model token budget.
func (e *EmbeddingContext) ContextLength() int { return e.contextLength }

// PreparedText is text fitted to the model context, with marks describing
// what was done to it. Marks is nil when the text fit unchanged.
type PreparedText struct {
	Text  string
	Marks models.Metadata
}

// PrepareText fits text to the model context. Text within the budget passes
// through. Slightly oversized text (up to 5% over) is truncated and marked
// texto_truncado. Anything larger is summarized down to 2048 tokens and
// marked resumo_gerado with the original token count in tokens_originais;
// without a summarizer, or when summarization fails, it is truncated
// instead.
func (e *EmbeddingContext) PrepareText(ctx context.Context, text string) (PreparedText, error) {
	if text == "" {
		return PreparedText{}, apperr.New(apperr.KindInvalidInput, "cannot embed empty text")
	}

	count := e.counter.Count(ctx, text, e.model)
	if count <= e.contextLength {
		return PreparedText{Text: text}, nil
	}

	if float64(count) > float64(e.contextLength)*oversizeTolerance && e.summarizer != nil {
		summary, err := e.summarizer.Summarize(ctx, text, summaryTargetTokens)
		if err == nil && summary != "" {
			e.logger.Info("summarized oversized text for embedding",
				"original_tokens", count,
				"summary_tokens", e.counter.Count(ctx, summary, e.model),
			)
			return PreparedText{
				Text: summary,
				Marks: models.Metadata{
					"resumo_gerado":    true,
					"tokens_originais": count,
				},
			}, nil
		}
		e.logger.Warn("summarization failed, truncating instead", "error", err)
	}

	truncated := truncateChars(text, e.contextLength*4)
	return PreparedText{
		Text:  truncated,
		Marks: models.Metadata{"texto_truncado": true},
	}, nil
}

// EmbedOne prepares and embeds a single text.
func (e *EmbeddingContext) EmbedOne(ctx context.Context, op llm.EmbedOp, text string) (EmbedResult, error) {
	results, err := e.EmbedBatch(ctx, op, []string{text})
	if err != nil {
		return EmbedResult{}, err
	}
	return results[0], nil
}

// EmbedBatch prepares and embeds up to 10 texts in one dispatcher call.
func (e *EmbeddingContext) EmbedBatch(ctx context.Context, op llm.EmbedOp, texts []string) ([]EmbedResult, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > maxEmbedBatch {
		return nil, apperr.Newf(apperr.KindInvalidInput,
			"embedding batch of %d exceeds the maximum of %d", len(texts), maxEmbedBatch)
	}

	prepared := make([]PreparedText, len(texts))
	inputs := make([]string, len(texts))
	for i, t := range texts {
		p, err := e.PrepareText(ctx, t)
		if err != nil {
			return nil, err
		}
		prepared[i] = p
		inputs[i] = p.Text
	}

	vectors, err := e.dispatcher.EmbedBatch(ctx, op, inputs, e.model)
	if err != nil {
		return nil, err
	}

	results := make([]EmbedResult, len(texts))
	for i, v := range vectors {
		adjusted, err := e.adjust(v)
		if err != nil {
			return nil, err
		}
		results[i] = EmbedResult{Vector: adjusted, Marks: prepared[i].Marks}
	}
	return results, nil
}

// adjust fits a raw model vector to the configured dimension and
// L2-normalizes it. A width mismatch beyond a factor of two means the
// library is bound to the wrong model and is a configuration error.
func (e *EmbeddingContext) adjust(vec []float32) ([]float32, error) {
	n := len(vec)
	if n == 0 {
		return nil, apperr.New(apperr.KindProviderUnavailable, "provider returned an empty vector")
	}
	if n > 2*e.dimension || e.dimension > 2*n {
		return nil, apperr.Newf(apperr.KindInvalidConfiguration,
			"model produced %d dimensions for a %d-dimension library", n, e.dimension)
	}

	out := make([]float32, e.dimension)
	copied := copy(out, vec)
	if copied < n {
		e.logger.Warn("truncated embedding vector", "model_dimensions", n, "library_dimensions", e.dimension)
	} else if n < e.dimension {
		e.logger.Warn("padded embedding vector", "model_dimensions", n, "library_dimensions", e.dimension)
	}

	var norm float64
	for _, x := range out {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return out, nil
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out, nil
}

// truncateChars cuts text to at most maxChars bytes on a rune boundary.
func truncateChars(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		cut = maxChars
	}
	return text[:cut]
}
