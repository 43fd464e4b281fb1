// Package llm provides the provider abstraction and the dispatcher that
// routes embedding and completion calls across multiple providers with
// retry, health caching, and per-provider usage accounting.
package llm

import (
	"context"
)

// Provider is a single LLM backend. Implementations map transport failures
// onto apperr kinds: rate limiting, model-not-found, timeouts, and
// unavailability are distinguishable by the dispatcher.
type Provider interface {
	// Name returns the configured provider name (for example "openai",
	// "ollama", "lmstudio").
	Name() string

	// Models lists the model identifiers the provider currently serves.
	// Also used as the provider health probe.
	Models(ctx context.Context) ([]string, error)

	// Embed returns the embedding vector for one text.
	Embed(ctx context.Context, text, model string) ([]float32, error)

	// Complete runs a chat completion and returns the assistant text.
	Complete(ctx context.Context, params CompletionParams) (string, error)
}

// BatchEmbedder is an optional capability: providers that accept multiple
// inputs per embeddings request implement it and the embedding layer sends
// whole batches in one call. Providers without it get one call per text.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// EmbedOp is an advisory hint describing what an embedding is for. Some
// providers adjust embeddings by task; the dispatcher carries it through
// and logs it.
type EmbedOp string

const (
	OpQuery          EmbedOp = "QUERY"
	OpDocument       EmbedOp = "DOCUMENT"
	OpClassification EmbedOp = "CLASSIFICATION"
	OpClustering     EmbedOp = "CLUSTERING"
)

// CompletionParams are the inputs to a chat completion. Only the options
// listed here are recognized; providers ignore the ones their wire format
// cannot carry.
type CompletionParams struct {
	Model  string
	System string
	Prompt string
	// Temperature must be within [0, 2] when set. Nil takes the caller's
	// default; an explicit zero is sent as zero.
	Temperature   *float64
	MaxTokens     int
	TopP          float64
	TopK          int
	RepeatPenalty float64
}
