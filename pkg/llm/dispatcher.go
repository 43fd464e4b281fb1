package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/acervolabs/acervo/pkg/apperr"
)

// Strategy selects how the dispatcher routes calls across providers.
type Strategy string

const (
	// StrategyPrimaryOnly always uses the first provider.
	StrategyPrimaryOnly Strategy = "PRIMARY_ONLY"
	// StrategyFailover tries providers in order until one succeeds.
	StrategyFailover Strategy = "FAILOVER"
	// StrategyRoundRobin rotates calls across providers.
	StrategyRoundRobin Strategy = "ROUND_ROBIN"
	// StrategySpecialized routes embeddings and completions to dedicated
	// providers.
	StrategySpecialized Strategy = "SPECIALIZED"
	// StrategyDualVerification runs the call on two providers and warns
	// when the results disagree.
	StrategyDualVerification Strategy = "DUAL_VERIFICATION"
	// StrategySmartRouting sends long or analytical prompts to the strong
	// provider and everything else to the cheap one.
	StrategySmartRouting Strategy = "SMART_ROUTING"
	// StrategyModelBased picks the provider that serves the requested
	// model.
	StrategyModelBased Strategy = "MODEL_BASED"
)

var allStrategies = []Strategy{
	StrategyPrimaryOnly, StrategyFailover, StrategyRoundRobin, StrategySpecialized,
	StrategyDualVerification, StrategySmartRouting, StrategyModelBased,
}

// ParseStrategy parses a strategy name, case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	candidate := Strategy(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range allStrategies {
		if candidate == known {
			return known, nil
		}
	}
	return "", apperr.Newf(apperr.KindInvalidConfiguration, "unknown dispatch strategy %q", s)
}

const (
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 250 * time.Millisecond
	defaultRetryMaxDelay  = 4 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultHealthTTL      = 30 * time.Second
	// defaultAgreementThreshold is the dual-verification similarity below
	// which the dispatcher logs a disagreement.
	defaultAgreementThreshold = 0.8
	// defaultSmartSizeThreshold is the prompt size in characters past
	// which smart routing picks the strong provider.
	defaultSmartSizeThreshold = 1000
)

// DispatcherConfig holds configuration for the dispatcher.
type DispatcherConfig struct {
	// Providers in priority order. The first is the primary; strategies
	// that need a fallback or a cheap provider use the later entries.
	Providers []Provider
	Strategy  Strategy

	MaxRetries     int           // total attempts per provider call (default 3)
	RetryBaseDelay time.Duration // first backoff interval (default 250ms)
	RetryMaxDelay  time.Duration // backoff cap (default 4s)
	RequestTimeout time.Duration // per-attempt timeout (default 30s)
	HealthTTL      time.Duration // health probe cache (default 30s)

	// SPECIALIZED routing targets, by provider name. Unset targets fall
	// back to the primary.
	EmbeddingProvider  string
	CompletionProvider string

	AgreementThreshold float64 // DUAL_VERIFICATION warn threshold (default 0.8)
	SmartSizeThreshold int     // SMART_ROUTING size cutover (default 1000)

	Logger hclog.Logger
}

// Dispatcher routes embedding and completion calls across providers
// according to the configured strategy, with exponential-backoff retry and
// a cached health view per provider. Safe for concurrent use.
type Dispatcher struct {
	providers []Provider
	strategy  Strategy

	maxRetries     int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	requestTimeout time.Duration
	healthTTL      time.Duration

	embeddingProvider  string
	completionProvider string
	agreementThreshold float64
	smartSizeThreshold int

	rr atomic.Uint64

	healthMu sync.RWMutex
	health   map[string]healthState

	stats dispatcherStats

	logger hclog.Logger
}

type healthState struct {
	online  bool
	models  []string
	checked time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(config DispatcherConfig) (*Dispatcher, error) {
	if len(config.Providers) == 0 {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "dispatcher requires at least one provider")
	}
	if config.Strategy == "" {
		config.Strategy = StrategyPrimaryOnly
	}
	if _, err := ParseStrategy(string(config.Strategy)); err != nil {
		return nil, err
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = defaultRetryBaseDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = defaultRetryMaxDelay
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	if config.HealthTTL <= 0 {
		config.HealthTTL = defaultHealthTTL
	}
	if config.AgreementThreshold <= 0 {
		config.AgreementThreshold = defaultAgreementThreshold
	}
	if config.SmartSizeThreshold <= 0 {
		config.SmartSizeThreshold = defaultSmartSizeThreshold
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	names := make(map[string]bool, len(config.Providers))
	for _, p := range config.Providers {
		if names[p.Name()] {
			return nil, apperr.Newf(apperr.KindInvalidConfiguration, "duplicate provider name %q", p.Name())
		}
		names[p.Name()] = true
	}

	d := &Dispatcher{
		providers:          config.Providers,
		strategy:           config.Strategy,
		maxRetries:         config.MaxRetries,
		retryBaseDelay:     config.RetryBaseDelay,
		retryMaxDelay:      config.RetryMaxDelay,
		requestTimeout:     config.RequestTimeout,
		healthTTL:          config.HealthTTL,
		embeddingProvider:  config.EmbeddingProvider,
		completionProvider: config.CompletionProvider,
		agreementThreshold: config.AgreementThreshold,
		smartSizeThreshold: config.SmartSizeThreshold,
		health:             make(map[string]healthState),
		logger:             config.Logger.Named("dispatcher"),
	}
	d.stats.init(config.Providers)
	return d, nil
}

// Strategy returns the active routing strategy.
func (d *Dispatcher) Strategy() Strategy {
	return d.strategy
}

// Embed routes an embedding call. The op is an advisory task hint.
func (d *Dispatcher) Embed(ctx context.Context, op EmbedOp, text, model string) ([]float32, error) {
	d.stats.recordCall()

	if d.strategy == StrategyDualVerification && len(d.providers) > 1 {
		return d.embedDual(ctx, text, model)
	}

	var result []float32
	err := d.execute(ctx, d.candidates(ctx, opEmbed, text, model), func(ctx context.Context, p Provider) error {
		v, err := p.Embed(ctx, text, model)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// EmbedBatch routes a batch embedding call. Providers implementing
// BatchEmbedder get the whole batch in one request; others are called once
// per text.
func (d *Dispatcher) EmbedBatch(ctx context.Context, op EmbedOp, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	d.stats.recordCall()

	var result [][]float32
	err := d.execute(ctx, d.candidates(ctx, opEmbed, strings.Join(texts, " "), model), func(ctx context.Context, p Provider) error {
		if be, ok := p.(BatchEmbedder); ok {
			vectors, err := be.EmbedBatch(ctx, texts, model)
			if err != nil {
				return err
			}
			result = vectors
			return nil
		}

		vectors := make([][]float32, len(texts))
		for i, t := range texts {
			v, err := p.Embed(ctx, t, model)
			if err != nil {
				return err
			}
			vectors[i] = v
		}
		result = vectors
		return nil
	})
	return result, err
}

// Complete routes a completion call.
func (d *Dispatcher) Complete(ctx context.Context, params CompletionParams) (string, error) {
	d.stats.recordCall()

	if d.strategy == StrategyDualVerification && len(d.providers) > 1 {
		return d.completeDual(ctx, params)
	}

	var result string
	err := d.execute(ctx, d.candidates(ctx, opComplete, params.Prompt, params.Model), func(ctx context.Context, p Provider) error {
		text, err := p.Complete(ctx, params)
		if err != nil {
			return err
		}
		result = text
		return nil
	})
	return result, err
}

type op int

const (
	opEmbed op = iota
	opComplete
)

// candidates returns the ordered providers to try for one call.
func (d *Dispatcher) candidates(ctx context.Context, kind op, input, model string) []Provider {
	switch d.strategy {
	case StrategyFailover:
		return d.orderedByHealth(ctx)

	case StrategyRoundRobin:
		i := int((d.rr.Add(1) - 1) % uint64(len(d.providers)))
		return []Provider{d.providers[i]}

	case StrategySpecialized:
		// Embeddings go to the first provider and completions to the
		// second unless the configuration names other targets.
		name := d.embeddingProvider
		fallback := d.providers[0]
		if kind == opComplete {
			name = d.completionProvider
			if len(d.providers) > 1 {
				fallback = d.providers[1]
			}
		}
		if p := d.providerByName(name); p != nil {
			return []Provider{p}
		}
		return []Provider{fallback}

	case StrategySmartRouting:
		// Long or analytical prompts go to the second provider.
		if isComplexPrompt(input, d.smartSizeThreshold) && len(d.providers) > 1 {
			return []Provider{d.providers[1]}
		}
		return []Provider{d.providers[0]}

	case StrategyModelBased:
		return []Provider{d.FindProviderByModel(ctx, model)}

	default: // PRIMARY_ONLY, and DUAL_VERIFICATION with a single provider
		return []Provider{d.providers[0]}
	}
}

// orderedByHealth returns all providers with the ones cached as online
// first. Everything stays in the list: a provider cached offline is still
// the last resort.
func (d *Dispatcher) orderedByHealth(ctx context.Context) []Provider {
	online := make([]Provider, 0, len(d.providers))
	var offline []Provider
	for _, p := range d.providers {
		if d.probe(ctx, p).online {
			online = append(online, p)
		} else {
			offline = append(offline, p)
		}
	}
	return append(online, offline...)
}

func (d *Dispatcher) providerByName(name string) Provider {
	if name == "" {
		return nil
	}
	for _, p := range d.providers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// analyticalTerms mark prompts that deserve the strong provider regardless
// of size.
var analyticalTerms = []string{"explain", "analyze", "analyse", "compare", "explique", "analise"}

func isComplexPrompt(input string, sizeThreshold int) bool {
	if len(input) > sizeThreshold {
		return true
	}
	lower := strings.ToLower(input)
	for _, term := range analyticalTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// execute tries candidates in order, each with its own retry budget.
// Failures accumulate; moving past a candidate counts as a failover.
func (d *Dispatcher) execute(ctx context.Context, candidates []Provider, call func(context.Context, Provider) error) error {
	var errs *multierror.Error
	for i, p := range candidates {
		if i > 0 {
			d.stats.recordFailover()
		}
		d.stats.recordRequest(p.Name())

		err := d.withRetry(ctx, p, call)
		if err == nil {
			if i > 0 {
				d.logger.Info("request served after failover",
					"provider", p.Name(),
					"failed_providers", i,
				)
			}
			return nil
		}

		d.stats.recordFailure(p.Name())
		d.markOffline(p, err)
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", p.Name(), err))

		// Input problems fail identically everywhere; stop early.
		if apperr.IsKind(err, apperr.KindInvalidInput) {
			break
		}
	}
	return errs.ErrorOrNil()
}

// withRetry runs one provider call with exponential backoff: the delay
// doubles from the base up to the cap, and each attempt gets its own
// timeout. The provider gets maxRetries attempts in total. Rate limiting,
// bad input, unknown models, and configuration errors are never retried.
func (d *Dispatcher) withRetry(ctx context.Context, p Provider, call func(context.Context, Provider) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.retryBaseDelay
	bo.MaxInterval = d.retryMaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, d.requestTimeout)
		defer cancel()

		err := call(attemptCtx, p)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		d.logger.Warn("provider call failed",
			"provider", p.Name(),
			"attempt", attempt,
			"error", err,
		)
		return err
	}

	// WithMaxRetries counts retries after the first attempt, so the budget
	// of maxRetries total attempts allows maxRetries-1 retries.
	retries := uint64(0)
	if d.maxRetries > 1 {
		retries = uint64(d.maxRetries - 1)
	}
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx))
}

func isRetryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindRateLimited,
		apperr.KindInvalidInput,
		apperr.KindModelNotFound,
		apperr.KindInvalidConfiguration:
		return false
	}
	return true
}

// probe returns the cached health state for a provider, refreshing it when
// the cache entry is older than the TTL. The model list doubles as the
// probe payload.
func (d *Dispatcher) probe(ctx context.Context, p Provider) healthState {
	d.healthMu.RLock()
	st, ok := d.health[p.Name()]
	d.healthMu.RUnlock()
	if ok && time.Since(st.checked) < d.healthTTL {
		return st
	}

	models, err := p.Models(ctx)
	next := healthState{online: err == nil, models: models, checked: time.Now()}
	if err != nil {
		d.logger.Warn("provider health probe failed", "provider", p.Name(), "error", err)
	}

	d.healthMu.Lock()
	d.health[p.Name()] = next
	d.healthMu.Unlock()
	return next
}

// markOffline caches a provider as offline after a transport-level failure
// so failover ordering deprioritizes it until the TTL expires.
func (d *Dispatcher) markOffline(p Provider, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindProviderUnavailable, apperr.KindTimeout:
	default:
		return
	}

	d.healthMu.Lock()
	d.health[p.Name()] = healthState{online: false, checked: time.Now()}
	d.healthMu.Unlock()
}

// Health reports the online state of every provider, from cache where
// fresh.
func (d *Dispatcher) Health(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(d.providers))
	for _, p := range d.providers {
		out[p.Name()] = d.probe(ctx, p).online
	}
	return out
}

// ListAllModels returns the union of every online provider's model list,
// deduplicated, in provider order.
func (d *Dispatcher) ListAllModels(ctx context.Context) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range d.providers {
		st := d.probe(ctx, p)
		if !st.online {
			continue
		}
		for _, m := range st.models {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// FindProviderByModel locates the provider serving the given model. The
// match relaxes in stages: exact, substring, then case-insensitive. When
// nothing matches, the primary provider is returned.
func (d *Dispatcher) FindProviderByModel(ctx context.Context, model string) Provider {
	if model == "" {
		return d.providers[0]
	}

	type inventory struct {
		provider Provider
		models   []string
	}
	inventories := make([]inventory, 0, len(d.providers))
	for _, p := range d.providers {
		st := d.probe(ctx, p)
		if st.online {
			inventories = append(inventories, inventory{provider: p, models: st.models})
		}
	}

	for _, inv := range inventories {
		for _, m := range inv.models {
			if m == model {
				return inv.provider
			}
		}
	}
	for _, inv := range inventories {
		for _, m := range inv.models {
			if strings.Contains(m, model) || strings.Contains(model, m) {
				return inv.provider
			}
		}
	}
	lower := strings.ToLower(model)
	for _, inv := range inventories {
		for _, m := range inv.models {
			if strings.ToLower(m) == lower {
				return inv.provider
			}
		}
	}

	d.logger.Warn("no provider serves model, using primary", "model", model)
	return d.providers[0]
}
