package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acervolabs/acervo/pkg/apperr"
)

func fastRetryConfig(strategy Strategy, providers ...Provider) DispatcherConfig {
	return DispatcherConfig{
		Providers:      providers,
		Strategy:       strategy,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
		RequestTimeout: time.Second,
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("failover")
	require.NoError(t, err)
	assert.Equal(t, StrategyFailover, s)

	s, err = ParseStrategy(" ROUND_ROBIN ")
	require.NoError(t, err)
	assert.Equal(t, StrategyRoundRobin, s)

	_, err = ParseStrategy("LOAD_BALANCE")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidConfiguration))
}

func TestNewDispatcherValidation(t *testing.T) {
	_, err := NewDispatcher(DispatcherConfig{})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidConfiguration))

	_, err = NewDispatcher(DispatcherConfig{Providers: []Provider{
		&MockProvider{ProviderName: "a"},
		&MockProvider{ProviderName: "a"},
	}})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidConfiguration), "duplicate names must be rejected")
}

func TestPrimaryOnly(t *testing.T) {
	a := &MockProvider{ProviderName: "a"}
	b := &MockProvider{ProviderName: "b"}
	d, err := NewDispatcher(fastRetryConfig(StrategyPrimaryOnly, a, b))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := d.Embed(context.Background(), OpDocument, "text", "m")
		require.NoError(t, err)
	}
	assert.Equal(t, 4, a.EmbedCalls())
	assert.Equal(t, 0, b.EmbedCalls())
}

func TestRoundRobinDistributesEvenly(t *testing.T) {
	a := &MockProvider{ProviderName: "a"}
	b := &MockProvider{ProviderName: "b"}
	d, err := NewDispatcher(fastRetryConfig(StrategyRoundRobin, a, b))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := d.Embed(context.Background(), OpDocument, "text", "m")
		require.NoError(t, err)
	}
	assert.Equal(t, 5, a.EmbedCalls())
	assert.Equal(t, 5, b.EmbedCalls())
}

func TestFailoverStats(t *testing.T) {
	down := &MockProvider{
		ProviderName: "down",
		EmbedFn: func(ctx context.Context, text, model string) ([]float32, error) {
			return nil, apperr.New(apperr.KindProviderUnavailable, "connection refused")
		},
	}
	up := &MockProvider{ProviderName: "up"}
	d, err := NewDispatcher(fastRetryConfig(StrategyFailover, down, up))
	require.NoError(t, err)

	v, err := d.Embed(context.Background(), OpDocument, "text", "m")
	require.NoError(t, err)
	require.NotNil(t, v)

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.TotalCalls)
	assert.Equal(t, int64(1), stats.Failovers)
	assert.Equal(t, int64(1), stats.Providers["down"].Requests,
		"a failed-over call counts once on the provider that failed")
	assert.Equal(t, int64(1), stats.Providers["down"].Failures)
	assert.Equal(t, int64(1), stats.Providers["up"].Requests)
	assert.Equal(t, int64(0), stats.Providers["up"].Failures)
	assert.InDelta(t, 0.5, stats.Providers["up"].Share, 1e-9)
}

func TestFailoverAggregatesErrors(t *testing.T) {
	mkDown := func(name string) *MockProvider {
		return &MockProvider{
			ProviderName: name,
			EmbedFn: func(ctx context.Context, text, model string) ([]float32, error) {
				return nil, apperr.New(apperr.KindProviderUnavailable, name+" offline")
			},
		}
	}
	d, err := NewDispatcher(fastRetryConfig(StrategyFailover, mkDown("a"), mkDown("b")))
	require.NoError(t, err)

	_, err = d.Embed(context.Background(), OpDocument, "text", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a offline")
	assert.Contains(t, err.Error(), "b offline")
}

func TestRetryStopsOnRateLimit(t *testing.T) {
	attempts := 0
	limited := &MockProvider{
		ProviderName: "limited",
		EmbedFn: func(ctx context.Context, text, model string) ([]float32, error) {
			attempts++
			return nil, apperr.New(apperr.KindRateLimited, "429")
		},
	}
	d, err := NewDispatcher(fastRetryConfig(StrategyPrimaryOnly, limited))
	require.NoError(t, err)

	_, err = d.Embed(context.Background(), OpDocument, "text", "m")
	assert.True(t, apperr.IsKind(err, apperr.KindRateLimited))
	assert.Equal(t, 1, attempts, "rate-limited calls must never be retried")
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	attempts := 0
	flaky := &MockProvider{
		ProviderName: "flaky",
		EmbedFn: func(ctx context.Context, text, model string) ([]float32, error) {
			attempts++
			if attempts < 3 {
				return nil, apperr.New(apperr.KindProviderUnavailable, "transient")
			}
			return []float32{1}, nil
		},
	}
	d, err := NewDispatcher(fastRetryConfig(StrategyPrimaryOnly, flaky))
	require.NoError(t, err)

	v, err := d.Embed(context.Background(), OpDocument, "text", "m")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, v)
	assert.Equal(t, 3, attempts)
}

func TestRetryHonorsAttemptBudget(t *testing.T) {
	attempts := 0
	down := &MockProvider{
		ProviderName: "down",
		EmbedFn: func(ctx context.Context, text, model string) ([]float32, error) {
			attempts++
			return nil, apperr.New(apperr.KindProviderUnavailable, "still down")
		},
	}
	d, err := NewDispatcher(fastRetryConfig(StrategyPrimaryOnly, down))
	require.NoError(t, err)

	_, err = d.Embed(context.Background(), OpDocument, "text", "m")
	require.Error(t, err)
	assert.Equal(t, 3, attempts, "max_retries is the total attempt count, not extra retries")
}

func TestSpecializedRouting(t *testing.T) {
	a := &MockProvider{ProviderName: "a"}
	b := &MockProvider{ProviderName: "b"}

	d, err := NewDispatcher(fastRetryConfig(StrategySpecialized, a, b))
	require.NoError(t, err)

	_, err = d.Embed(context.Background(), OpDocument, "text", "m")
	require.NoError(t, err)
	_, err = d.Complete(context.Background(), CompletionParams{Model: "m", Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, 1, a.EmbedCalls(), "embeddings default to the first provider")
	assert.Equal(t, 0, b.EmbedCalls())
	assert.Equal(t, 1, b.CompleteCalls(), "completions default to the second provider")
	assert.Equal(t, 0, a.CompleteCalls())
}

func TestSpecializedRoutingByName(t *testing.T) {
	a := &MockProvider{ProviderName: "a"}
	b := &MockProvider{ProviderName: "b"}

	cfg := fastRetryConfig(StrategySpecialized, a, b)
	cfg.EmbeddingProvider = "b"
	cfg.CompletionProvider = "a"
	d, err := NewDispatcher(cfg)
	require.NoError(t, err)

	_, err = d.Embed(context.Background(), OpDocument, "text", "m")
	require.NoError(t, err)
	_, err = d.Complete(context.Background(), CompletionParams{Model: "m", Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, 1, b.EmbedCalls())
	assert.Equal(t, 1, a.CompleteCalls())
}

func TestSmartRouting(t *testing.T) {
	primary := &MockProvider{ProviderName: "primary"}
	strong := &MockProvider{ProviderName: "strong"}
	d, err := NewDispatcher(fastRetryConfig(StrategySmartRouting, primary, strong))
	require.NoError(t, err)

	ctx := context.Background()

	_, err = d.Complete(ctx, CompletionParams{Model: "m", Prompt: "what time is it"})
	require.NoError(t, err)
	assert.Equal(t, 1, primary.CompleteCalls(), "short plain prompts stay on the first provider")

	_, err = d.Complete(ctx, CompletionParams{Model: "m", Prompt: "Compare these two rulings"})
	require.NoError(t, err)
	assert.Equal(t, 1, strong.CompleteCalls(), "analytical prompts go to the second provider")

	long := make([]byte, 1500)
	for i := range long {
		long[i] = 'x'
	}
	_, err = d.Complete(ctx, CompletionParams{Model: "m", Prompt: string(long)})
	require.NoError(t, err)
	assert.Equal(t, 2, strong.CompleteCalls(), "long prompts go to the second provider")
}

func TestModelBasedRouting(t *testing.T) {
	a := &MockProvider{ProviderName: "a", ModelList: []string{"gpt-4o", "text-embedding-3-small"}}
	b := &MockProvider{ProviderName: "b", ModelList: []string{"llama3:70b"}}
	d, err := NewDispatcher(fastRetryConfig(StrategyModelBased, a, b))
	require.NoError(t, err)

	ctx := context.Background()
	assert.Equal(t, "a", d.FindProviderByModel(ctx, "gpt-4o").Name(), "exact match")
	assert.Equal(t, "b", d.FindProviderByModel(ctx, "llama3").Name(), "substring match")
	assert.Equal(t, "a", d.FindProviderByModel(ctx, "GPT-4O").Name(), "case-insensitive match")
	assert.Equal(t, "a", d.FindProviderByModel(ctx, "mistral").Name(), "unknown models fall back to the primary")
}

func TestDualVerificationReturnsPrimary(t *testing.T) {
	primary := &MockProvider{
		ProviderName: "primary",
		EmbedFn: func(ctx context.Context, text, model string) ([]float32, error) {
			return []float32{1, 0}, nil
		},
	}
	secondary := &MockProvider{
		ProviderName: "secondary",
		EmbedFn: func(ctx context.Context, text, model string) ([]float32, error) {
			return []float32{0, 1}, nil
		},
	}
	d, err := NewDispatcher(fastRetryConfig(StrategyDualVerification, primary, secondary))
	require.NoError(t, err)

	v, err := d.Embed(context.Background(), OpDocument, "text", "m")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v, "disagreement warns but the primary result wins")
	assert.Equal(t, 1, secondary.EmbedCalls())
}

func TestDualVerificationToleratesSecondaryFailure(t *testing.T) {
	primary := &MockProvider{ProviderName: "primary"}
	secondary := &MockProvider{
		ProviderName: "secondary",
		CompleteFn: func(ctx context.Context, params CompletionParams) (string, error) {
			return "", apperr.New(apperr.KindProviderUnavailable, "down")
		},
	}
	d, err := NewDispatcher(fastRetryConfig(StrategyDualVerification, primary, secondary))
	require.NoError(t, err)

	out, err := d.Complete(context.Background(), CompletionParams{Model: "m", Prompt: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestHealthProbeIsCached(t *testing.T) {
	var mu sync.Mutex
	probes := 0
	p := &MockProvider{
		ProviderName: "a",
		ModelsFn: func(ctx context.Context) ([]string, error) {
			mu.Lock()
			probes++
			mu.Unlock()
			return []string{"m"}, nil
		},
	}
	d, err := NewDispatcher(fastRetryConfig(StrategyPrimaryOnly, p))
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, d.Health(ctx)["a"])
	assert.True(t, d.Health(ctx)["a"])
	assert.True(t, d.Health(ctx)["a"])

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, probes, "health probes within the TTL must be served from cache")
}

func TestEmbedBatchFallsBackToSingleCalls(t *testing.T) {
	calls := 0
	p := &MockProvider{
		ProviderName: "single",
		EmbedFn: func(ctx context.Context, text, model string) ([]float32, error) {
			calls++
			return []float32{float32(len(text))}, nil
		},
	}
	d, err := NewDispatcher(fastRetryConfig(StrategyPrimaryOnly, p))
	require.NoError(t, err)

	vectors, err := d.EmbedBatch(context.Background(), OpDocument, []string{"a", "bb", "ccc"}, "m")
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{3}, vectors[2])
	assert.Equal(t, 3, calls)
}

func TestResetStats(t *testing.T) {
	p := &MockProvider{ProviderName: "a"}
	d, err := NewDispatcher(fastRetryConfig(StrategyPrimaryOnly, p))
	require.NoError(t, err)

	_, err = d.Embed(context.Background(), OpDocument, "text", "m")
	require.NoError(t, err)
	require.Equal(t, int64(1), d.Stats().TotalCalls)

	d.ResetStats()
	stats := d.Stats()
	assert.Equal(t, int64(0), stats.TotalCalls)
	assert.Equal(t, int64(0), stats.Providers["a"].Requests)
}

func TestSimilarityMeasures(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}), "length mismatch scores zero")

	assert.InDelta(t, 1.0, JaccardSimilarity("the quick fox", "The quick fox."), 1e-9)
	assert.InDelta(t, 0.0, JaccardSimilarity("alpha beta", "gamma delta"), 1e-9)
	assert.Equal(t, 1.0, JaccardSimilarity("", ""))
}
