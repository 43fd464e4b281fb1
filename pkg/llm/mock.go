package llm

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
)

// MockProvider is an offline Provider for development and tests. Embeddings
// are deterministic per (text, model) pair; completions echo a canned
// response. The function fields override any behavior per call.
type MockProvider struct {
	ProviderName string
	ModelList    []string
	Dimension    int // embedding width (default 8)

	EmbedFn    func(ctx context.Context, text, model string) ([]float32, error)
	CompleteFn func(ctx context.Context, params CompletionParams) (string, error)
	ModelsFn   func(ctx context.Context) ([]string, error)

	mu       sync.Mutex
	embeds   int
	complete int
}

var _ Provider = (*MockProvider)(nil)

// Name returns the provider name, defaulting to "mock".
func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// Models returns the configured model list.
func (m *MockProvider) Models(ctx context.Context) ([]string, error) {
	if m.ModelsFn != nil {
		return m.ModelsFn(ctx)
	}
	return m.ModelList, nil
}

// Embed returns a deterministic pseudo-random unit vector seeded by the
// text and model.
func (m *MockProvider) Embed(ctx context.Context, text, model string) ([]float32, error) {
	m.mu.Lock()
	m.embeds++
	m.mu.Unlock()

	if m.EmbedFn != nil {
		return m.EmbedFn(ctx, text, model)
	}

	dim := m.Dimension
	if dim <= 0 {
		dim = 8
	}

	h := fnv.New64a()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	v := make([]float32, dim)
	var norm float64
	for i := range v {
		v[i] = float32(rng.NormFloat64())
		norm += float64(v[i]) * float64(v[i])
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}
	return v, nil
}

// Complete returns a canned acknowledgement of the prompt.
func (m *MockProvider) Complete(ctx context.Context, params CompletionParams) (string, error) {
	m.mu.Lock()
	m.complete++
	m.mu.Unlock()

	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, params)
	}
	return "mock response for: " + params.Prompt, nil
}

// EmbedCalls returns how many Embed calls the provider has served.
func (m *MockProvider) EmbedCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embeds
}

// CompleteCalls returns how many Complete calls the provider has served.
func (m *MockProvider) CompleteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.complete
}
