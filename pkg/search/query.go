// Package search implements hybrid retrieval over chunks: pgvector cosine
// distance for the semantic leg, ts_rank_cd over the stored tsvector for the
// lexical leg, fused per library with reciprocal rank fusion.
package search

import (
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/acervolabs/acervo/pkg/apperr"
	"github.com/acervolabs/acervo/pkg/models"
)

const (
	// DefaultK is the result count when the query does not set one.
	DefaultK = 10

	// MaxK is the hard cap on requested results.
	MaxK = 100
)

// Weights is a query-time override of a library's ranking weights. It never
// mutates the stored library configuration.
type Weights struct {
	Semantic float64
	Lexical  float64
}

// Validate checks that the weights are in range and sum to 1.0.
func (w Weights) Validate() error {
	if w.Semantic < 0 || w.Semantic > 1 || w.Lexical < 0 || w.Lexical > 1 {
		return apperr.New(apperr.KindInvalidInput, "search weights must be between 0 and 1")
	}
	if math.Abs(w.Semantic+w.Lexical-1.0) >= models.WeightSumTolerance {
		return apperr.Newf(apperr.KindInvalidInput,
			"search weights must sum to 1.0 (got %.4f + %.4f)", w.Semantic, w.Lexical)
	}
	return nil
}

// Query is one search request across one or more libraries.
type Query struct {
	// Text is the user query, passed verbatim to websearch_to_tsquery and
	// embedded for the semantic leg.
	Text string

	// K is the number of results to return (default 10, max 100). K also
	// fixes the reciprocal rank fusion denominator.
	K int

	// Libraries are the public UUIDs of the libraries to search.
	Libraries []uuid.UUID

	// Weights optionally overrides every searched library's stored weights
	// for this query only.
	Weights *Weights
}

// booleanOperators are the explicit operators websearch_to_tsquery does not
// accept. Quoted phrases and the - prefix cover the same ground.
var booleanOperators = map[string]bool{
	"AND": true,
	"OR":  true,
	"NOT": true,
}

// Validate normalizes and checks the query. It fills K with the default and
// rejects boolean operator tokens with a hint toward websearch syntax.
func (q *Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return apperr.New(apperr.KindInvalidInput, "search query cannot be empty")
	}
	if q.K == 0 {
		q.K = DefaultK
	}
	if q.K < 0 || q.K > MaxK {
		return apperr.Newf(apperr.KindInvalidInput,
			"result count must be between 1 and %d (got %d)", MaxK, q.K)
	}
	if len(q.Libraries) == 0 {
		return apperr.New(apperr.KindInvalidInput, "search requires at least one library")
	}
	for _, token := range strings.Fields(q.Text) {
		if booleanOperators[token] {
			return apperr.Newf(apperr.KindInvalidInput,
				"boolean operator %q is not supported: use quoted phrases and - for exclusion", token)
		}
	}
	if q.Weights != nil {
		if err := q.Weights.Validate(); err != nil {
			return err
		}
	}
	return nil
}
