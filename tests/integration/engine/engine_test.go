//go:build integration
// +build integration

package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acervolabs/acervo/pkg/ai"
	"github.com/acervolabs/acervo/pkg/apperr"
	"github.com/acervolabs/acervo/pkg/ingest"
	"github.com/acervolabs/acervo/pkg/llm"
	"github.com/acervolabs/acervo/pkg/models"
	"github.com/acervolabs/acervo/pkg/router"
	"github.com/acervolabs/acervo/pkg/search"
	"github.com/acervolabs/acervo/pkg/splitter"
	"github.com/acervolabs/acervo/pkg/tokens"
)

// testBinder builds model contexts over a single dispatcher, mirroring the
// core wiring.
type testBinder struct {
	dispatcher *llm.Dispatcher
}

func (b *testBinder) BindEmbedding(lib *models.Library) (*ai.EmbeddingContext, error) {
	return ai.NewEmbeddingContext(ai.EmbeddingConfig{
		Dispatcher: b.dispatcher,
		Model:      lib.EmbeddingModel,
		Dimension:  lib.EmbeddingDimension,
	})
}

func (b *testBinder) BindLLM(lib *models.Library) (*ai.LLMContext, error) {
	if lib.CompletionModel == "" {
		return nil, apperr.Newf(apperr.KindInvalidConfiguration,
			"library %q has no completion model", lib.Name)
	}
	return ai.NewLLMContext(ai.LLMConfig{
		Dispatcher: b.dispatcher,
		Model:      lib.CompletionModel,
	})
}

type testEmbedder struct {
	binder *testBinder
}

func (e *testEmbedder) EmbedQuery(ctx context.Context, lib *models.Library, text string) ([]float32, error) {
	embCtx, err := e.binder.BindEmbedding(lib)
	if err != nil {
		return nil, err
	}
	res, err := embCtx.EmbedOne(ctx, llm.OpQuery, text)
	if err != nil {
		return nil, err
	}
	return res.Vector, nil
}

// newStack builds a full ingest+search stack over the given provider.
func newStack(t *testing.T, provider llm.Provider) (*ingest.Service, *search.Engine, *testBinder) {
	t.Helper()

	dispatcher, err := llm.NewDispatcher(llm.DispatcherConfig{
		Providers:  []llm.Provider{provider},
		Strategy:   llm.StrategyPrimaryOnly,
		MaxRetries: 1,
	})
	require.NoError(t, err)
	binder := &testBinder{dispatcher: dispatcher}

	counter := tokens.NewCounter(tokens.CounterConfig{})
	svc, err := ingest.NewService(ingest.ServiceConfig{
		DB:       testDB,
		Router:   router.New(router.Config{}),
		Splitter: splitter.New(splitter.Config{Counter: counter}),
		Binder:   binder,
	})
	require.NoError(t, err)

	engine, err := search.NewEngine(search.EngineConfig{
		DB:       testDB,
		Embedder: &testEmbedder{binder: binder},
	})
	require.NoError(t, err)

	return svc, engine, binder
}

func newLibrary(t *testing.T, name string, completionModel string) *models.Library {
	t.Helper()
	lib := &models.Library{
		Name:               name + "-" + uuid.NewString()[:8],
		SemanticWeight:     0.6,
		LexicalWeight:      0.4,
		EmbeddingModel:     "test-embed",
		EmbeddingDimension: vectorDim,
		CompletionModel:    completionModel,
	}
	require.NoError(t, lib.Save(testDB))
	return lib
}

const twoChapterDoc = `# Gravity

Apples fall toward the earth because gravity pulls every mass toward every
other mass. The acceleration near the surface is roughly constant.

# Botany

Ferns and mosses thrive in damp forests where sunlight filters through the
canopy and the soil stays moist all year.`

func TestIngestAndHybridSearch(t *testing.T) {
	ctx := context.Background()
	svc, engine, _ := newStack(t, &llm.MockProvider{Dimension: vectorDim})
	lib := newLibrary(t, "physics", "")

	result, err := svc.Process(ctx, ingest.ProcessRequest{
		Library: lib,
		Title:   "natural-sciences",
		Text:    twoChapterDoc,
	})
	require.NoError(t, err)

	assert.Equal(t, models.DocumentStatusReady, result.Status)
	assert.Equal(t, 2, result.Chapters)
	assert.Equal(t, 2, result.Chunks)
	assert.Equal(t, 2, result.Embedded)
	assert.Zero(t, result.Failed)

	doc, err := models.GetDocumentByUUID(testDB, result.DocumentUUID)
	require.NoError(t, err)

	chapters, err := models.GetChaptersByDocument(testDB, doc.ID)
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	chapterTokens := 0
	for _, ch := range chapters {
		chapterTokens += ch.TokenCount
	}
	assert.Positive(t, doc.TokenCount)
	assert.Equal(t, chapterTokens, doc.TokenCount, "the document total is the sum of its chapter counts")

	chunks, err := models.GetChunksByDocument(testDB, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Equal(t, models.ChunkKindChapter, c.Kind)
		assert.NotNil(t, c.Vector, "READY documents have every vector filled")
	}

	results, err := engine.Search(ctx, search.Query{
		Text:      "gravity",
		K:         5,
		Libraries: []uuid.UUID{lib.UUID},
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	top := results[0]
	assert.Contains(t, strings.ToLower(top.Chunk.Text), "gravity")
	assert.Greater(t, top.SemanticScore, 0.0, "semantic leg contributed")
	assert.Greater(t, top.LexicalScore, 0.0, "lexical leg contributed")
	assert.InDelta(t, 0.6*top.SemanticScore+0.4*top.LexicalScore, top.Score, 1e-12)
}

func TestSearchWeightOverride(t *testing.T) {
	ctx := context.Background()
	svc, engine, _ := newStack(t, &llm.MockProvider{Dimension: vectorDim})
	lib := newLibrary(t, "override", "")

	_, err := svc.Process(ctx, ingest.ProcessRequest{
		Library: lib, Title: "doc", Text: twoChapterDoc,
	})
	require.NoError(t, err)

	results, err := engine.Search(ctx, search.Query{
		Text:      "botany ferns",
		K:         5,
		Libraries: []uuid.UUID{lib.UUID},
		Weights:   &search.Weights{Semantic: 0, Lexical: 1},
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	top := results[0]
	assert.Contains(t, strings.ToLower(top.Chunk.Text), "ferns")
	assert.InDelta(t, top.LexicalScore, top.Score, 1e-12,
		"a zero semantic weight leaves only the lexical contribution")
}

func TestLexicalSearchFoldsAccents(t *testing.T) {
	ctx := context.Background()
	svc, engine, _ := newStack(t, &llm.MockProvider{Dimension: vectorDim})
	lib := newLibrary(t, "accents", "")

	_, err := svc.Process(ctx, ingest.ProcessRequest{
		Library: lib,
		Title:   "contrato",
		Text:    "O crédito será liberado após a assinatura do contrato pelas partes.",
	})
	require.NoError(t, err)

	results, err := engine.SearchTextual(ctx, search.Query{
		Text:      "credito",
		K:         5,
		Libraries: []uuid.UUID{lib.UUID},
	})
	require.NoError(t, err)
	require.NotEmpty(t, results, "unaccented query matches accented text")
	assert.Contains(t, results[0].Chunk.Text, "crédito")
}

func TestEmbeddingOutageDegradesToPartial(t *testing.T) {
	ctx := context.Background()
	provider := &llm.MockProvider{
		Dimension: vectorDim,
		EmbedFn: func(ctx context.Context, text, model string) ([]float32, error) {
			return nil, apperr.New(apperr.KindProviderUnavailable, "embedding backend offline")
		},
	}
	svc, engine, _ := newStack(t, provider)
	lib := newLibrary(t, "outage", "")

	result, err := svc.Process(ctx, ingest.ProcessRequest{
		Library: lib, Title: "doc", Text: twoChapterDoc,
	})
	require.NoError(t, err, "an embedding outage degrades the document, it does not fail the ingest")
	assert.Equal(t, models.DocumentStatusPartial, result.Status)
	assert.Zero(t, result.Embedded)
	assert.Equal(t, result.Chunks, result.Failed)

	// The hybrid search still serves the document through the lexical leg.
	results, err := engine.Search(ctx, search.Query{
		Text:      "gravity",
		K:         5,
		Libraries: []uuid.UUID{lib.UUID},
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Zero(t, results[0].SemanticRank)
	assert.Greater(t, results[0].LexicalScore, 0.0)
}

func TestLargeChapterGetsSummaryAndExcerpts(t *testing.T) {
	ctx := context.Background()
	provider := &llm.MockProvider{
		Dimension: vectorDim,
		CompleteFn: func(ctx context.Context, params llm.CompletionParams) (string, error) {
			return "A condensed account of the chapter.", nil
		},
	}
	svc, _, _ := newStack(t, provider)
	lib := newLibrary(t, "summaries", "test-complete")

	// One chapter far past the summary threshold (~2700 tokens).
	var b strings.Builder
	b.WriteString("# Um Capitulo Extenso\n\n")
	for i := 0; i < 90; i++ {
		fmt.Fprintf(&b, "Paragrafo %d repete a mesma estrutura com palavras suficientes "+
			"para acumular um volume consideravel de tokens no capitulo inteiro.\n\n", i+1)
	}

	result, err := svc.Process(ctx, ingest.ProcessRequest{
		Library: lib, Title: "extenso", Text: b.String(),
	})
	require.NoError(t, err)
	require.Equal(t, models.DocumentStatusReady, result.Status)

	doc, err := models.GetDocumentByUUID(testDB, result.DocumentUUID)
	require.NoError(t, err)
	chunks, err := models.GetChunksByDocument(testDB, doc.ID)
	require.NoError(t, err)

	var summaries, excerpts int
	for _, c := range chunks {
		switch c.Kind {
		case models.ChunkKindSummary:
			summaries++
			require.NotNil(t, c.OrderInChapter)
			assert.Equal(t, 0, *c.OrderInChapter, "order zero is reserved for summaries")
			assert.Equal(t, "A condensed account of the chapter.", c.Text)
		case models.ChunkKindExcerpt:
			excerpts++
			require.NotNil(t, c.OrderInChapter)
			assert.GreaterOrEqual(t, *c.OrderInChapter, 1)
		}
	}
	assert.Equal(t, 1, summaries)
	assert.Greater(t, excerpts, 1)
}

func TestEnrichmentAddsQAPairs(t *testing.T) {
	ctx := context.Background()
	provider := &llm.MockProvider{
		Dimension: vectorDim,
		CompleteFn: func(ctx context.Context, params llm.CompletionParams) (string, error) {
			return "Q: What pulls apples down?\nA: Gravity.\n\nQ: Where do ferns grow?\nA: Damp forests.", nil
		},
	}
	svc, _, _ := newStack(t, provider)
	lib := newLibrary(t, "enrich", "test-complete")

	result, err := svc.Process(ctx, ingest.ProcessRequest{
		Library: lib, Title: "doc", Text: twoChapterDoc,
	})
	require.NoError(t, err)

	doc, err := models.GetDocumentByUUID(testDB, result.DocumentUUID)
	require.NoError(t, err)

	enriched, err := svc.Enrich(ctx, doc, lib, ingest.EnrichmentOptions{
		GenerateQA: true,
		NQA:        2,
	})
	require.NoError(t, err)

	// Two chapters, two pairs each, two chunks per pair.
	assert.Equal(t, 8, enriched.ChunksCreated)
	assert.Equal(t, 8, enriched.Embedded)
	assert.Equal(t, models.DocumentStatusReady, enriched.Status)

	chunks, err := models.GetChunksByDocument(testDB, doc.ID)
	require.NoError(t, err)

	var questions, answers int
	for _, c := range chunks {
		if c.Kind != models.ChunkKindQuestionAnswer {
			continue
		}
		switch c.Metadata.GetString("qa_role") {
		case "question":
			questions++
		case "answer":
			answers++
		}
		require.NotNil(t, c.OrderInChapter)
		assert.GreaterOrEqual(t, *c.OrderInChapter, 1)
	}
	assert.Equal(t, 4, questions)
	assert.Equal(t, 4, answers)
}

func TestMarkCurrentReplacesPreviousVersion(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newStack(t, &llm.MockProvider{Dimension: vectorDim})
	lib := newLibrary(t, "versions", "")

	first, err := svc.Process(ctx, ingest.ProcessRequest{
		Library: lib, Title: "handbook", Text: twoChapterDoc, MarkCurrent: true,
	})
	require.NoError(t, err)

	second, err := svc.Process(ctx, ingest.ProcessRequest{
		Library: lib, Title: "handbook", Text: twoChapterDoc, MarkCurrent: true,
	})
	require.NoError(t, err)

	current, err := models.GetCurrentDocument(testDB, lib.ID, "handbook")
	require.NoError(t, err)
	assert.Equal(t, second.DocumentUUID, current.UUID)

	previous, err := models.GetDocumentByUUID(testDB, first.DocumentUUID)
	require.NoError(t, err)
	assert.False(t, previous.Current)
}

func TestSoftDeleteHidesChunksFromSearch(t *testing.T) {
	ctx := context.Background()
	svc, engine, _ := newStack(t, &llm.MockProvider{Dimension: vectorDim})
	lib := newLibrary(t, "deletion", "")

	result, err := svc.Process(ctx, ingest.ProcessRequest{
		Library: lib, Title: "doomed", Text: "The zeppelin drifted over the silent valley at dawn.",
	})
	require.NoError(t, err)

	found, err := engine.SearchTextual(ctx, search.Query{
		Text: "zeppelin", K: 5, Libraries: []uuid.UUID{lib.UUID},
	})
	require.NoError(t, err)
	require.NotEmpty(t, found)

	doc, err := models.GetDocumentByUUID(testDB, result.DocumentUUID)
	require.NoError(t, err)
	require.NoError(t, doc.SoftDelete(testDB))

	gone, err := engine.SearchTextual(ctx, search.Query{
		Text: "zeppelin", K: 5, Libraries: []uuid.UUID{lib.UUID},
	})
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestLibraryWeightInvariant(t *testing.T) {
	lib := &models.Library{
		Name:               "bad-weights-" + uuid.NewString()[:8],
		SemanticWeight:     0.8,
		LexicalWeight:      0.3,
		EmbeddingModel:     "m",
		EmbeddingDimension: vectorDim,
	}
	err := lib.Save(testDB)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidConfiguration))
}

func TestSearchUnknownLibrary(t *testing.T) {
	_, engine, _ := newStack(t, &llm.MockProvider{Dimension: vectorDim})

	_, err := engine.Search(context.Background(), search.Query{
		Text: "anything", K: 5, Libraries: []uuid.UUID{uuid.New()},
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestSearchByVectorFindsSimilarChunks(t *testing.T) {
	ctx := context.Background()
	svc, engine, _ := newStack(t, &llm.MockProvider{Dimension: vectorDim})
	lib := newLibrary(t, "similar", "")

	result, err := svc.Process(ctx, ingest.ProcessRequest{
		Library: lib,
		Title:   "similarity-seed",
		Text:    twoChapterDoc,
	})
	require.NoError(t, err)
	require.Equal(t, models.DocumentStatusReady, result.Status)

	doc, err := models.GetDocumentByUUID(testDB, result.DocumentUUID)
	require.NoError(t, err)
	chunks, err := models.GetChunksByDocument(testDB, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	seed := chunks[0]
	require.NotNil(t, seed.Vector)

	results, err := engine.SearchByVector(ctx, lib.UUID, seed.Vector.Slice(), 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// The seed chunk is at distance zero from itself, so it ranks first.
	assert.Equal(t, seed.ID, results[0].Chunk.ID)
	assert.Equal(t, 1, results[0].SemanticRank)
	assert.Zero(t, results[0].LexicalRank)

	_, err = engine.SearchByVector(ctx, lib.UUID, nil, 5)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
}

func TestPhraseQueryRequiresAdjacency(t *testing.T) {
	ctx := context.Background()
	svc, engine, _ := newStack(t, &llm.MockProvider{Dimension: vectorDim})
	lib := newLibrary(t, "padaria", "")

	_, err := svc.Process(ctx, ingest.ProcessRequest{
		Library: lib,
		Title:   "padaria",
		Text: `# Balcão

A padaria vende pão quente toda manhã para os moradores do bairro.

# Forno

O pão saiu do forno cedo, mas só ficou quente de novo depois de uma segunda fornada.`,
	})
	require.NoError(t, err)

	results, err := engine.SearchTextual(ctx, search.Query{
		Text:      `"pão quente"`,
		K:         5,
		Libraries: []uuid.UUID{lib.UUID},
	})
	require.NoError(t, err)
	require.Len(t, results, 1, "the phrase matches only adjacent tokens")
	assert.Contains(t, results[0].Chunk.Text, "pão quente")
}

func TestExclusionQueryDropsMatchingChunks(t *testing.T) {
	ctx := context.Background()
	svc, engine, _ := newStack(t, &llm.MockProvider{Dimension: vectorDim})
	lib := newLibrary(t, "cafeteria", "")

	_, err := svc.Process(ctx, ingest.ProcessRequest{
		Library: lib,
		Title:   "cardapio",
		Text: `# Puro

O café puro é servido sem acompanhamentos no balcão da frente.

# Doce

O café com açúcar agrada quem prefere a bebida bem doce.`,
	})
	require.NoError(t, err)

	results, err := engine.SearchTextual(ctx, search.Query{
		Text:      "café -açúcar",
		K:         5,
		Libraries: []uuid.UUID{lib.UUID},
	})
	require.NoError(t, err)
	require.Len(t, results, 1, "the chunk containing the excluded term is dropped")
	assert.Contains(t, results[0].Chunk.Text, "café puro")
	assert.NotContains(t, results[0].Chunk.Text, "açúcar")
}
