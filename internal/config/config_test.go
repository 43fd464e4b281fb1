package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acervolabs/acervo/pkg/apperr"
)

const validHCL = `
log_level = "debug"

database {
  host   = "localhost"
  user   = "acervo"
  dbname = "acervo"
}

provider "local" {
  kind = "ollama"
}

provider "cloud" {
  kind    = "openai"
  api_key = "sk-test"
}

dispatcher {
  strategy    = "FAILOVER"
  max_retries = 2
}

splitter {
  summary_threshold_tokens = 3000
  summary_max_tokens       = 1024
}

ingest {
  batch_size = 8
  gen_flag   = "FULL_TEXT_METADATA"
}
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validHCL))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5432, cfg.Database.Port, "port defaults when omitted")
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "local", cfg.Providers[0].Name)
	assert.Equal(t, "ollama", cfg.Providers[0].Kind)

	assert.Equal(t, "FAILOVER", cfg.Dispatcher.Strategy)
	assert.Equal(t, 2, cfg.Dispatcher.MaxRetries)
	assert.Equal(t, 3000, cfg.Splitter.SummaryThresholdTokens)
	assert.Equal(t, 1024, cfg.Splitter.SummaryMaxTokens)
	assert.Equal(t, 8, cfg.Ingest.BatchSize)
	assert.Equal(t, "FULL_TEXT_METADATA", cfg.Ingest.GenFlag)
}

func TestParseFillsDispatcherDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
database {
  host   = "localhost"
  user   = "u"
  dbname = "d"
}
provider "p" {
  kind = "ollama"
}
`))
	require.NoError(t, err)
	assert.Equal(t, "PRIMARY_ONLY", cfg.Dispatcher.Strategy)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotNil(t, cfg.Splitter)
	assert.NotNil(t, cfg.Ingest)
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name string
		hcl  string
	}{
		{"no database", `provider "p" { kind = "ollama" }`},
		{"no providers", `database { host = "h" user = "u" dbname = "d" }`},
		{"unknown provider kind", `
database { host = "h" user = "u" dbname = "d" }
provider "p" { kind = "carrier-pigeon" }`},
		{"openai without key", `
database { host = "h" user = "u" dbname = "d" }
provider "p" { kind = "openai" }`},
		{"duplicate provider names", `
database { host = "h" user = "u" dbname = "d" }
provider "p" { kind = "ollama" }
provider "p" { kind = "lmstudio" }`},
		{"bad strategy", `
database { host = "h" user = "u" dbname = "d" }
provider "p" { kind = "ollama" }
dispatcher { strategy = "COIN_FLIP" }`},
		{"bad gen flag", `
database { host = "h" user = "u" dbname = "d" }
provider "p" { kind = "ollama" }
ingest { gen_flag = "EVERYTHING" }`},
		{"batch size above cap", `
database { host = "h" user = "u" dbname = "d" }
provider "p" { kind = "ollama" }
ingest { batch_size = 11 }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.hcl))
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindInvalidConfiguration) ||
				apperr.IsKind(err, apperr.KindInvalidInput))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.hcl")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidConfiguration))

	_, err = Load("")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidConfiguration))
}
