// Package core wires the engine together from configuration: database,
// providers, dispatcher, splitter, router, ingestion service, and search.
package core

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/acervolabs/acervo/internal/config"
	"github.com/acervolabs/acervo/pkg/ai"
	"github.com/acervolabs/acervo/pkg/apperr"
	"github.com/acervolabs/acervo/pkg/database"
	"github.com/acervolabs/acervo/pkg/ingest"
	"github.com/acervolabs/acervo/pkg/llm"
	"github.com/acervolabs/acervo/pkg/models"
	"github.com/acervolabs/acervo/pkg/router"
	"github.com/acervolabs/acervo/pkg/search"
	"github.com/acervolabs/acervo/pkg/splitter"
	"github.com/acervolabs/acervo/pkg/tokens"
)

// Core is the assembled engine.
type Core struct {
	DB         *gorm.DB
	Dispatcher *llm.Dispatcher
	Router     *router.Router
	Splitter   *splitter.Splitter
	Counter    *tokens.Counter
	Ingest     *ingest.Service
	Search     *search.Engine
	Logger     hclog.Logger
}

// New builds the engine from validated configuration. It connects to the
// database and bootstraps the schema before returning.
func New(cfg *config.Config) (*Core, error) {
	if cfg == nil {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "configuration is required")
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "acervo",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	db, err := database.Connect(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "database connection failed", err)
	}
	if err := database.Bootstrap(db, cfg.Database.VectorDimension, logger); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "schema bootstrap failed", err)
	}

	providers, err := buildProviders(cfg.Providers, logger)
	if err != nil {
		return nil, err
	}

	strategy, err := llm.ParseStrategy(cfg.Dispatcher.Strategy)
	if err != nil {
		return nil, err
	}
	dispatcher, err := llm.NewDispatcher(llm.DispatcherConfig{
		Providers:          providers,
		Strategy:           strategy,
		MaxRetries:         cfg.Dispatcher.MaxRetries,
		RequestTimeout:     time.Duration(cfg.Dispatcher.TimeoutSeconds) * time.Second,
		HealthTTL:          time.Duration(cfg.Dispatcher.HealthCacheSeconds) * time.Second,
		AgreementThreshold: cfg.Dispatcher.AgreementThreshold,
		EmbeddingProvider:  cfg.Dispatcher.EmbeddingProvider,
		CompletionProvider: cfg.Dispatcher.CompletionProvider,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}

	counter := tokens.NewCounter(tokens.CounterConfig{Logger: logger})

	ruleset := splitter.DefaultRuleset()
	if cfg.Splitter.RulesetFile != "" {
		ruleset, err = splitter.LoadRuleset(cfg.Splitter.RulesetFile)
		if err != nil {
			return nil, err
		}
	}
	split := splitter.New(splitter.Config{
		Counter:          counter,
		Ruleset:          ruleset,
		ChunkIdealTokens: cfg.Splitter.ChunkIdealTokens,
		ChunkMinTokens:   cfg.Splitter.ChunkMinTokens,
		ChunkMaxTokens:   cfg.Splitter.ChunkMaxTokens,
		Logger:           logger,
	})

	route := router.New(router.Config{Logger: logger})

	binder := &contextBinder{
		dispatcher: dispatcher,
		counter:    counter,
		logger:     logger,
	}

	pool := ingest.NewPool(ingest.PoolConfig{
		CoreWorkers: cfg.Ingest.CoreWorkers,
		MaxWorkers:  cfg.Ingest.MaxWorkers,
		QueueSize:   cfg.Ingest.QueueSize,
		Logger:      logger,
	})
	ingestSvc, err := ingest.NewService(ingest.ServiceConfig{
		DB:                     db,
		Router:                 route,
		Splitter:               split,
		Binder:                 binder,
		Pool:                   pool,
		BatchSize:              cfg.Ingest.BatchSize,
		SummaryThresholdTokens: cfg.Splitter.SummaryThresholdTokens,
		SummaryMaxTokens:       cfg.Splitter.SummaryMaxTokens,
		GenFlag:                ingest.GenFlag(cfg.Ingest.GenFlag),
		Logger:                 logger,
	})
	if err != nil {
		return nil, err
	}

	searchEng, err := search.NewEngine(search.EngineConfig{
		DB:       db,
		Embedder: &queryEmbedder{binder: binder},
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	return &Core{
		DB:         db,
		Dispatcher: dispatcher,
		Router:     route,
		Splitter:   split,
		Counter:    counter,
		Ingest:     ingestSvc,
		Search:     searchEng,
		Logger:     logger,
	}, nil
}

// Close drains the ingest pool and closes the database.
func (c *Core) Close() error {
	c.Ingest.Close()
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// buildProviders constructs the configured provider clients, preserving
// order: the first configured provider is the dispatcher's primary.
func buildProviders(configs []config.Provider, logger hclog.Logger) ([]llm.Provider, error) {
	providers := make([]llm.Provider, 0, len(configs))
	for _, pc := range configs {
		switch pc.Kind {
		case "openai":
			p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
				APIKey:  pc.APIKey,
				BaseURL: pc.BaseURL,
				Logger:  logger,
			})
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		case "ollama":
			providers = append(providers, llm.NewOllamaProvider(llm.LocalConfig{
				BaseURL: pc.BaseURL,
				Logger:  logger,
			}))
		case "lmstudio":
			providers = append(providers, llm.NewLMStudioProvider(llm.LocalConfig{
				BaseURL: pc.BaseURL,
				Logger:  logger,
			}))
		default:
			return nil, apperr.Newf(apperr.KindInvalidConfiguration,
				"provider %q has unknown kind %q", pc.Name, pc.Kind)
		}
	}
	return providers, nil
}

// contextBinder builds the per-library model contexts on top of the shared
// dispatcher.
type contextBinder struct {
	dispatcher *llm.Dispatcher
	counter    *tokens.Counter
	logger     hclog.Logger
}

var _ ingest.ContextBinder = (*contextBinder)(nil)

func (b *contextBinder) BindEmbedding(lib *models.Library) (*ai.EmbeddingContext, error) {
	var summarizer ai.Summarizer
	if llmCtx, err := b.BindLLM(lib); err == nil {
		summarizer = llmCtx
	}
	return ai.NewEmbeddingContext(ai.EmbeddingConfig{
		Dispatcher: b.dispatcher,
		Model:      lib.EmbeddingModel,
		Dimension:  lib.EmbeddingDimension,
		Counter:    b.counter,
		Summarizer: summarizer,
		Logger:     b.logger,
	})
}

func (b *contextBinder) BindLLM(lib *models.Library) (*ai.LLMContext, error) {
	if lib.CompletionModel == "" {
		return nil, apperr.Newf(apperr.KindInvalidConfiguration,
			"library %q has no completion model", lib.Name)
	}
	return ai.NewLLMContext(ai.LLMConfig{
		Dispatcher: b.dispatcher,
		Model:      lib.CompletionModel,
		Logger:     b.logger,
	})
}

// queryEmbedder adapts the binder to the search engine's port, issuing
// query-task embeddings under the library's model.
type queryEmbedder struct {
	binder *contextBinder
}

var _ search.QueryEmbedder = (*queryEmbedder)(nil)

func (q *queryEmbedder) EmbedQuery(ctx context.Context, lib *models.Library, text string) ([]float32, error) {
	embCtx, err := q.binder.BindEmbedding(lib)
	if err != nil {
		return nil, err
	}
	res, err := embCtx.EmbedOne(ctx, llm.OpQuery, text)
	if err != nil {
		return nil, err
	}
	return res.Vector, nil
}
