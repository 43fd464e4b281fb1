// Package tokens estimates token counts for model-bound text budgets.
package tokens

import (
	"context"
	"math"

	"github.com/hashicorp/go-hclog"
)

// charsPerToken is the heuristic character-to-token ratio used when no
// model tokenizer is available.
const charsPerToken = 4.2

// ModelTokenizer counts tokens for a named model. Providers that expose a
// tokenizer implement this; the counter falls back to the heuristic when
// none is configured or the call fails.
type ModelTokenizer interface {
	CountTokens(ctx context.Context, text, model string) (int, error)
}

// Counter computes token counts. Count never fails: on tokenizer error it
// logs and returns the heuristic estimate. For a given (text, model) pair
// the result is stable within a process run.
type Counter struct {
	tokenizer ModelTokenizer
	logger    hclog.Logger
}

// CounterConfig holds configuration for the counter.
type CounterConfig struct {
	Tokenizer ModelTokenizer // optional
	Logger    hclog.Logger   // optional
}

// NewCounter creates a token counter.
func NewCounter(config CounterConfig) *Counter {
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}
	return &Counter{
		tokenizer: config.Tokenizer,
		logger:    config.Logger.Named("token-counter"),
	}
}

// Count returns the token count of text under the named model.
func (c *Counter) Count(ctx context.Context, text, model string) int {
	if text == "" {
		return 0
	}

	if c.tokenizer != nil && model != "" {
		n, err := c.tokenizer.CountTokens(ctx, text, model)
		if err == nil && n >= 0 {
			return n
		}
		if err != nil {
			c.logger.Warn("tokenizer failed, using heuristic",
				"model", model,
				"error", err,
			)
		}
	}

	return Estimate(text)
}

// Estimate returns the heuristic token count: ceil(len(text) / 4.2).
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / charsPerToken))
}
