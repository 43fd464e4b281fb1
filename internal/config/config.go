// Package config loads the engine configuration from HCL.
package config

import (
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/acervolabs/acervo/pkg/apperr"
	"github.com/acervolabs/acervo/pkg/ingest"
	"github.com/acervolabs/acervo/pkg/llm"
)

// Config is the root configuration block.
type Config struct {
	LogLevel string `hcl:"log_level,optional"` // trace|debug|info|warn|error, default info

	Database   *Database   `hcl:"database,block"`
	Providers  []Provider  `hcl:"provider,block"`
	Dispatcher *Dispatcher `hcl:"dispatcher,block"`
	Splitter   *Splitter   `hcl:"splitter,block"`
	Ingest     *Ingest     `hcl:"ingest,block"`
}

// Database configures the Postgres connection.
type Database struct {
	Host     string `hcl:"host"`
	Port     int    `hcl:"port,optional"` // default 5432
	User     string `hcl:"user"`
	Password string `hcl:"password,optional"`
	DBName   string `hcl:"dbname"`
	SSLMode  string `hcl:"sslmode,optional"` // default disable

	// VectorDimension is the chunks.vector column width (default 768).
	// Every library's embedding dimension must match it.
	VectorDimension int `hcl:"vector_dimension,optional"`
}

// Provider configures one LLM backend. Order matters: the first provider is
// the dispatcher's primary.
type Provider struct {
	Name    string `hcl:"name,label"`
	Kind    string `hcl:"kind"` // openai | ollama | lmstudio
	BaseURL string `hcl:"base_url,optional"`
	APIKey  string `hcl:"api_key,optional"`
}

// Dispatcher configures provider selection and retry behavior.
type Dispatcher struct {
	Strategy           string  `hcl:"strategy,optional"` // default PRIMARY_ONLY
	MaxRetries         int     `hcl:"max_retries,optional"`
	TimeoutSeconds     int     `hcl:"timeout_seconds,optional"`
	HealthCacheSeconds int     `hcl:"health_cache_seconds,optional"`
	AgreementThreshold float64 `hcl:"agreement_threshold,optional"`
	EmbeddingProvider  string  `hcl:"embedding_provider,optional"`
	CompletionProvider string  `hcl:"completion_provider,optional"`
}

// Splitter configures chapter and chunk sizing plus oversize-chapter
// summarization.
type Splitter struct {
	RulesetFile      string `hcl:"ruleset_file,optional"` // YAML chapter targets
	ChunkIdealTokens int    `hcl:"chunk_ideal_tokens,optional"`
	ChunkMinTokens   int    `hcl:"chunk_min_tokens,optional"`
	ChunkMaxTokens   int    `hcl:"chunk_max_tokens,optional"`

	// SummaryThresholdTokens is the chapter size above which a SUMMARY
	// chunk is generated (default 2500).
	SummaryThresholdTokens int `hcl:"summary_threshold_tokens,optional"`
	// SummaryMaxTokens bounds generated chapter summaries (default 2048).
	SummaryMaxTokens int `hcl:"summary_max_tokens,optional"`
}

// Ingest configures the worker pool, embedding batches, and embedding text
// generation.
type Ingest struct {
	CoreWorkers int    `hcl:"core_workers,optional"`
	MaxWorkers  int    `hcl:"max_workers,optional"`
	QueueSize   int    `hcl:"queue_size,optional"`
	BatchSize   int    `hcl:"batch_size,optional"` // default 5, max 10
	GenFlag     string `hcl:"gen_flag,optional"`   // default ONLY_TEXT
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "configuration file path is required")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, apperr.Newf(apperr.KindInvalidConfiguration, "configuration file not found: %s", path)
	}

	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidConfiguration, "failed to parse configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes configuration from raw HCL bytes. Used by tests.
func Parse(src []byte) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode("config.hcl", src, nil, &cfg); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidConfiguration, "failed to parse configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// providerKinds are the supported provider client implementations.
var providerKinds = map[string]bool{
	"openai":   true,
	"ollama":   true,
	"lmstudio": true,
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Database == nil {
		return apperr.New(apperr.KindInvalidConfiguration, "a database block is required")
	}
	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return apperr.New(apperr.KindInvalidConfiguration, "database host, user, and dbname are required")
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if len(c.Providers) == 0 {
		return apperr.New(apperr.KindInvalidConfiguration, "at least one provider block is required")
	}
	seen := map[string]bool{}
	for i := range c.Providers {
		p := &c.Providers[i]
		p.Kind = strings.ToLower(p.Kind)
		if !providerKinds[p.Kind] {
			return apperr.Newf(apperr.KindInvalidConfiguration,
				"provider %q has unknown kind %q", p.Name, p.Kind)
		}
		if p.Kind == "openai" && p.APIKey == "" {
			return apperr.Newf(apperr.KindInvalidConfiguration,
				"provider %q requires an api_key", p.Name)
		}
		if seen[p.Name] {
			return apperr.Newf(apperr.KindInvalidConfiguration,
				"duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
	}

	if c.Dispatcher == nil {
		c.Dispatcher = &Dispatcher{}
	}
	if c.Dispatcher.Strategy == "" {
		c.Dispatcher.Strategy = string(llm.StrategyPrimaryOnly)
	}
	if _, err := llm.ParseStrategy(c.Dispatcher.Strategy); err != nil {
		return err
	}

	if c.Splitter == nil {
		c.Splitter = &Splitter{}
	}
	if c.Ingest == nil {
		c.Ingest = &Ingest{}
	}
	if c.Ingest.BatchSize < 0 || c.Ingest.BatchSize > 10 {
		return apperr.New(apperr.KindInvalidConfiguration, "batch_size must be between 1 and 10")
	}
	if _, err := ingest.ParseGenFlag(c.Ingest.GenFlag); err != nil {
		return err
	}

	return nil
}
