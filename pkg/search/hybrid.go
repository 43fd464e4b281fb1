package search

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/acervolabs/acervo/pkg/apperr"
	"github.com/acervolabs/acervo/pkg/models"
)

// QueryEmbedder turns a query text into a vector under a library's embedding
// model. The ai package provides one; searches that embed the query pass a
// QUERY task hint to the provider.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, lib *models.Library, text string) ([]float32, error)
}

// Engine runs hybrid, semantic-only, and lexical-only searches.
type Engine struct {
	db     *gorm.DB
	embed  QueryEmbedder
	logger hclog.Logger
}

// EngineConfig holds configuration for the search engine.
type EngineConfig struct {
	DB       *gorm.DB
	Embedder QueryEmbedder
	Logger   hclog.Logger
}

// Result is one ranked chunk. SemanticRank and LexicalRank are the chunk's
// 1-based positions within each leg's candidate list, zero when the leg did
// not return it.
type Result struct {
	Chunk models.Chunk

	Score         float64
	SemanticScore float64
	LexicalScore  float64
	SemanticRank  int
	LexicalRank   int
}

// NewEngine creates a search engine.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.DB == nil {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "search engine requires a database")
	}
	if config.Embedder == nil {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "search engine requires a query embedder")
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &Engine{
		db:     config.DB,
		embed:  config.Embedder,
		logger: config.Logger.Named("search"),
	}, nil
}

// Search runs the hybrid query. Per library it fetches 2k candidates from
// each leg, fuses them with reciprocal rank fusion using the requested k as
// the denominator constant, and weights the fused scores by the library's
// (or the query's overriding) semantic and lexical weights. Results from all
// libraries compete in one ranking.
//
// When query embedding fails the semantic leg contributes nothing and the
// search degrades to lexical ranking rather than failing; a library whose
// documents are still embedding behaves the same way for its NULL-vector
// chunks.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	fused := make(map[uint]*Result)
	for _, libraryUUID := range q.Libraries {
		lib, err := models.GetLibraryByUUID(e.db, libraryUUID)
		if err != nil {
			return nil, err
		}

		weights := Weights{Semantic: lib.SemanticWeight, Lexical: lib.LexicalWeight}
		if q.Weights != nil {
			weights = *q.Weights
		}

		semantic := e.semanticLeg(ctx, lib, q)
		lexical, err := textualCandidates(ctx, e.db, lib.ID, q.Text, 2*q.K)
		if err != nil {
			return nil, err
		}

		fuse(fused, semantic, lexical, q.K, weights)

		e.logger.Debug("searched library",
			"library", lib.Name,
			"semantic_candidates", len(semantic),
			"lexical_candidates", len(lexical),
		)
	}

	results, err := e.materialize(ctx, fused, q.K)
	if err != nil {
		return nil, err
	}

	e.logger.Info("hybrid search completed",
		"libraries", len(q.Libraries),
		"k", q.K,
		"results", len(results),
	)
	return results, nil
}

// SearchSemantic ranks by cosine distance alone.
func (e *Engine) SearchSemantic(ctx context.Context, q Query) ([]Result, error) {
	q.Weights = &Weights{Semantic: 1, Lexical: 0}
	return e.Search(ctx, q)
}

// SearchTextual ranks by ts_rank_cd alone. No query embedding is issued.
func (e *Engine) SearchTextual(ctx context.Context, q Query) ([]Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	fused := make(map[uint]*Result)
	for _, libraryUUID := range q.Libraries {
		lib, err := models.GetLibraryByUUID(e.db, libraryUUID)
		if err != nil {
			return nil, err
		}
		lexical, err := textualCandidates(ctx, e.db, lib.ID, q.Text, 2*q.K)
		if err != nil {
			return nil, err
		}
		fuse(fused, nil, lexical, q.K, Weights{Semantic: 0, Lexical: 1})
	}
	return e.materialize(ctx, fused, q.K)
}

// SearchByVector ranks a library's chunks by cosine distance to a
// caller-supplied vector. No query embedding is issued, so it also serves
// find-similar lookups seeded from an existing chunk's vector.
func (e *Engine) SearchByVector(ctx context.Context, libraryUUID uuid.UUID, vec []float32, k int) ([]Result, error) {
	if len(vec) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "a query vector is required")
	}
	if k <= 0 {
		k = DefaultK
	}
	if k > MaxK {
		return nil, apperr.Newf(apperr.KindInvalidInput, "k must be at most %d", MaxK)
	}

	lib, err := models.GetLibraryByUUID(e.db, libraryUUID)
	if err != nil {
		return nil, err
	}
	candidates, err := semanticCandidates(ctx, e.db, lib.ID, vec, 2*k)
	if err != nil {
		return nil, err
	}

	fused := make(map[uint]*Result)
	fuse(fused, candidates, nil, k, Weights{Semantic: 1, Lexical: 0})
	return e.materialize(ctx, fused, k)
}

// semanticLeg embeds the query and fetches the cosine candidates. Any
// failure downgrades the search to lexical-only for this library.
func (e *Engine) semanticLeg(ctx context.Context, lib *models.Library, q Query) []rankedChunk {
	vec, err := e.embed.EmbedQuery(ctx, lib, q.Text)
	if err != nil {
		e.logger.Warn("query embedding failed, serving lexical results only",
			"library", lib.Name, "error", err)
		return nil
	}

	candidates, err := semanticCandidates(ctx, e.db, lib.ID, vec, 2*q.K)
	if err != nil {
		e.logger.Warn("semantic leg failed, serving lexical results only",
			"library", lib.Name, "error", err)
		return nil
	}
	return candidates
}

// fuse folds one library's candidates into the running result map. Each leg
// contributes 1/(k + rank) for the chunks it returned and nothing for the
// ones it missed.
func fuse(into map[uint]*Result, semantic, lexical []rankedChunk, k int, weights Weights) {
	get := func(id uint) *Result {
		r, ok := into[id]
		if !ok {
			r = &Result{}
			into[id] = r
		}
		return r
	}

	for _, c := range semantic {
		r := get(c.ChunkID)
		r.SemanticRank = c.Rank
		r.SemanticScore = 1.0 / float64(k+c.Rank)
	}
	for _, c := range lexical {
		r := get(c.ChunkID)
		r.LexicalRank = c.Rank
		r.LexicalScore = 1.0 / float64(k+c.Rank)
	}
	for _, c := range semantic {
		r := into[c.ChunkID]
		r.Score = weights.Semantic*r.SemanticScore + weights.Lexical*r.LexicalScore
	}
	for _, c := range lexical {
		r := into[c.ChunkID]
		r.Score = weights.Semantic*r.SemanticScore + weights.Lexical*r.LexicalScore
	}
}

// materialize loads the chunk rows for the top k fused scores and returns
// them ordered by score descending, chunk id ascending on ties.
func (e *Engine) materialize(ctx context.Context, fused map[uint]*Result, k int) ([]Result, error) {
	ids := make([]uint, 0, len(fused))
	for id := range fused {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := fused[ids[i]], fused[ids[j]]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return ids[i] < ids[j]
	})
	if len(ids) > k {
		ids = ids[:k]
	}
	if len(ids) == 0 {
		return []Result{}, nil
	}

	var chunks []models.Chunk
	err := e.db.WithContext(ctx).Where("id IN ?", ids).Find(&chunks).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "load result chunks", err)
	}
	byID := make(map[uint]models.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		chunk, ok := byID[id]
		if !ok {
			// Deleted between ranking and load; skip rather than fail.
			continue
		}
		r := *fused[id]
		r.Chunk = chunk
		results = append(results, r)
	}
	return results, nil
}
