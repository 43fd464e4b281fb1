// Package ingest orchestrates document ingestion: routing, splitting,
// chapter and chunk persistence, and batched embedding backfill with
// per-batch and per-chunk fault containment.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/acervolabs/acervo/pkg/ai"
	"github.com/acervolabs/acervo/pkg/apperr"
	"github.com/acervolabs/acervo/pkg/llm"
	"github.com/acervolabs/acervo/pkg/models"
	"github.com/acervolabs/acervo/pkg/router"
	"github.com/acervolabs/acervo/pkg/splitter"
)

const (
	// wholeChapterTokens is the ceiling under which a chapter becomes one
	// CHAPTER chunk instead of excerpts.
	wholeChapterTokens = 512

	// defaultSummaryThresholdTokens is the floor above which a chapter
	// additionally gets a generated SUMMARY chunk at order 0.
	defaultSummaryThresholdTokens = 2500

	// defaultSummaryMaxTokens bounds the generated chapter summary.
	defaultSummaryMaxTokens = 2048

	// defaultEmbedBatchSize is how many chunks each embedding call carries.
	// Small batches keep the failure blast radius small.
	defaultEmbedBatchSize = 5

	// maxEmbedBatchSize matches the embedding context's batch cap.
	maxEmbedBatchSize = 10
)

// ContextBinder builds the per-library model contexts. The core wiring
// implements it on top of the dispatcher.
type ContextBinder interface {
	BindEmbedding(lib *models.Library) (*ai.EmbeddingContext, error)
	BindLLM(lib *models.Library) (*ai.LLMContext, error)
}

// Service runs the ingestion pipeline.
type Service struct {
	db               *gorm.DB
	router           *router.Router
	splitter         *splitter.Splitter
	binder           ContextBinder
	pool             *Pool
	batchSize        int
	summaryThreshold int
	summaryMaxTokens int
	genFlag          GenFlag
	logger           hclog.Logger
}

// ServiceConfig holds configuration for the ingestion service.
type ServiceConfig struct {
	DB       *gorm.DB
	Router   *router.Router
	Splitter *splitter.Splitter
	Binder   ContextBinder
	Pool     *Pool // optional; built with defaults when absent

	// BatchSize is how many chunks each embedding call carries
	// (default 5, max 10).
	BatchSize int

	// SummaryThresholdTokens is the chapter size above which a SUMMARY
	// chunk is generated (default 2500).
	SummaryThresholdTokens int

	// SummaryMaxTokens bounds generated chapter summaries (default 2048).
	SummaryMaxTokens int

	// GenFlag is the embedding-text mode for requests that leave it unset
	// (default ONLY_TEXT).
	GenFlag GenFlag

	Logger hclog.Logger
}

// NewService creates an ingestion service.
func NewService(config ServiceConfig) (*Service, error) {
	if config.DB == nil {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "ingest service requires a database")
	}
	if config.Router == nil {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "ingest service requires a router")
	}
	if config.Splitter == nil {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "ingest service requires a splitter")
	}
	if config.Binder == nil {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "ingest service requires a context binder")
	}
	if config.BatchSize < 0 || config.BatchSize > maxEmbedBatchSize {
		return nil, apperr.Newf(apperr.KindInvalidConfiguration,
			"embedding batch size must be between 1 and %d", maxEmbedBatchSize)
	}
	if config.BatchSize == 0 {
		config.BatchSize = defaultEmbedBatchSize
	}
	if config.SummaryThresholdTokens <= 0 {
		config.SummaryThresholdTokens = defaultSummaryThresholdTokens
	}
	if config.SummaryMaxTokens <= 0 {
		config.SummaryMaxTokens = defaultSummaryMaxTokens
	}
	flag, err := ParseGenFlag(string(config.GenFlag))
	if err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}
	if config.Pool == nil {
		config.Pool = NewPool(PoolConfig{Logger: config.Logger})
	}

	return &Service{
		db:               config.DB,
		router:           config.Router,
		splitter:         config.Splitter,
		binder:           config.Binder,
		pool:             config.Pool,
		batchSize:        config.BatchSize,
		summaryThreshold: config.SummaryThresholdTokens,
		summaryMaxTokens: config.SummaryMaxTokens,
		genFlag:          flag,
		logger:           config.Logger.Named("ingest"),
	}, nil
}

// Close drains the worker pool.
func (s *Service) Close() { s.pool.Close() }

// ProcessRequest is one document to ingest.
type ProcessRequest struct {
	Library *models.Library

	Title string
	Text  string

	// Hint optionally short-circuits content class routing.
	Hint string

	// GenFlag selects what each chunk embeds. Unset falls back to the
	// service's configured flag.
	GenFlag GenFlag

	// Metadata is attached to the document and feeds the curated block.
	Metadata models.Metadata

	// MarkCurrent demotes any previous current document of the same title
	// before this one takes the flag.
	MarkCurrent bool
}

// Result reports what one ingestion produced.
type Result struct {
	DocumentUUID uuid.UUID
	Status       models.DocumentStatus
	Class        splitter.ContentClass

	Chapters int
	Chunks   int
	Embedded int
	Failed   int

	Duration time.Duration
}

// Process ingests one document synchronously. The pipeline persists chapters
// and null-vector chunks in separate committed transactions before any
// embedding call, so a crash or provider outage leaves a document that the
// lexical search leg can already serve.
func (s *Service) Process(ctx context.Context, req ProcessRequest) (*Result, error) {
	start := time.Now()

	if req.Library == nil {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "ingest requires a library")
	}
	if req.Title == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "document title cannot be empty")
	}
	if req.Text == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "document text cannot be empty")
	}
	flag := s.genFlag
	if req.GenFlag != "" {
		var err error
		flag, err = ParseGenFlag(string(req.GenFlag))
		if err != nil {
			return nil, err
		}
	}

	embCtx, err := s.binder.BindEmbedding(req.Library)
	if err != nil {
		return nil, err
	}
	// A library without a completion model still ingests; it just skips LLM
	// classification and summary chunks.
	llmCtx, err := s.binder.BindLLM(req.Library)
	if err != nil {
		s.logger.Debug("no completion model bound for library",
			"library", req.Library.Name, "error", err)
		llmCtx = nil
	}

	doc := &models.Document{
		LibraryID:   req.Library.ID,
		Title:       req.Title,
		Content:     req.Text,
		Current:     req.MarkCurrent,
		PublishedAt: ParsePublishedAt(req.Metadata),
		Metadata:    req.Metadata,
	}
	if req.MarkCurrent {
		if err := models.ClearCurrent(s.db, req.Library.ID, req.Title); err != nil {
			return nil, err
		}
	}
	if err := doc.Create(s.db); err != nil {
		return nil, err
	}

	result := &Result{DocumentUUID: doc.UUID}

	fail := func(cause error) (*Result, error) {
		if err := doc.SetStatus(s.db, models.DocumentStatusFailed); err != nil {
			s.logger.Error("could not mark document failed", "document", doc.UUID, "error", err)
		}
		result.Status = models.DocumentStatusFailed
		result.Duration = time.Since(start)
		return result, cause
	}

	// Split.
	if err := doc.SetStatus(s.db, models.DocumentStatusSplitting); err != nil {
		return fail(err)
	}
	var classifier router.Classifier
	if llmCtx != nil {
		classifier = llmCtx
	}
	class := s.router.RouteWith(ctx, req.Text, req.Hint, classifier)
	result.Class = class
	chapters := s.splitter.SplitChapters(ctx, req.Text, class)
	if len(chapters) == 0 {
		return fail(apperr.New(apperr.KindInvalidInput, "document produced no chapters"))
	}

	rows := make([]*models.Chapter, len(chapters))
	for i, ch := range chapters {
		rows[i] = &models.Chapter{
			DocumentID:      doc.ID,
			Title:           ch.Title,
			Text:            ch.Text,
			OrderInDocument: ch.Order,
			TokenStart:      ch.TokenStart,
			TokenEnd:        ch.TokenEnd,
			TokenCount:      ch.TokenCount,
		}
	}
	if err := models.CreateChapters(s.db, rows); err != nil {
		return fail(err)
	}
	result.Chapters = len(rows)

	totalTokens := 0
	for _, ch := range chapters {
		totalTokens += ch.TokenCount
	}
	if err := doc.SetTokenCount(s.db, totalTokens); err != nil {
		return fail(err)
	}

	// Chunk.
	if err := doc.SetStatus(s.db, models.DocumentStatusChunking); err != nil {
		return fail(err)
	}
	chunks, chapterTitles := s.buildChunks(ctx, req.Library, llmCtx, chapters, rows)
	if len(chunks) == 0 {
		return fail(apperr.New(apperr.KindInvalidInput, "document produced no chunks"))
	}
	for _, c := range chunks {
		c.DocumentID = doc.ID
	}
	if err := models.InsertChunks(s.db, chunks); err != nil {
		return fail(err)
	}
	result.Chunks = len(chunks)

	// Embed. The chunk transaction is committed; from here every failure is
	// contained and the document degrades to PARTIAL instead of failing.
	if err := doc.SetStatus(s.db, models.DocumentStatusEmbedding); err != nil {
		return fail(err)
	}
	embedded, failed := s.embedChunks(ctx, embCtx, flag, doc, chunks, chapterTitles)
	result.Embedded = embedded
	result.Failed = failed

	status, err := s.settle(doc)
	if err != nil {
		return fail(err)
	}
	result.Status = status
	result.Duration = time.Since(start)

	s.logger.Info("document ingested",
		"document", doc.UUID,
		"library", req.Library.Name,
		"class", class,
		"status", status,
		"chapters", result.Chapters,
		"chunks", result.Chunks,
		"embedded", result.Embedded,
		"failed", result.Failed,
		"duration", result.Duration,
	)
	return result, nil
}

// ProcessAsync runs Process on the worker pool. The callback receives the
// outcome; it may be nil when the caller only wants the side effects.
func (s *Service) ProcessAsync(ctx context.Context, req ProcessRequest, done func(*Result, error)) error {
	return s.pool.Submit(func() {
		result, err := s.Process(ctx, req)
		if err != nil {
			s.logger.Error("async ingestion failed", "title", req.Title, "error", err)
		}
		if done != nil {
			done(result, err)
		}
	})
}

// buildChunks turns persisted chapters into null-vector chunk rows. Small
// chapters become one CHAPTER chunk; the rest become EXCERPT chunks, with a
// generated SUMMARY at order 0 for very large chapters. A summary generation
// failure drops only the summary.
func (s *Service) buildChunks(
	ctx context.Context,
	lib *models.Library,
	llmCtx *ai.LLMContext,
	chapters []splitter.Chapter,
	rows []*models.Chapter,
) ([]*models.Chunk, map[uint]string) {
	var chunks []*models.Chunk
	chapterTitles := make(map[uint]string, len(rows))

	for i, ch := range chapters {
		row := rows[i]
		chapterTitles[row.ID] = row.Title

		if ch.TokenCount <= wholeChapterTokens {
			chunks = append(chunks, &models.Chunk{
				LibraryID: lib.ID,
				ChapterID: &row.ID,
				Kind:      models.ChunkKindChapter,
				Text:      ch.Text,
			})
			continue
		}

		if ch.TokenCount > s.summaryThreshold && llmCtx != nil {
			summary, err := llmCtx.Summarize(ctx, ch.Text, s.summaryMaxTokens)
			if err != nil {
				s.logger.Warn("chapter summary generation failed, continuing without it",
					"chapter", row.Title, "error", err)
			} else {
				chunks = append(chunks, &models.Chunk{
					LibraryID:      lib.ID,
					ChapterID:      &row.ID,
					Kind:           models.ChunkKindSummary,
					Text:           summary,
					OrderInChapter: intPtr(0),
					Metadata:       models.Metadata{"resumo_gerado": true},
				})
			}
		}

		plan := s.splitter.PlanChunks(ctx, ch)
		if plan.WholeChapter {
			chunks = append(chunks, &models.Chunk{
				LibraryID: lib.ID,
				ChapterID: &row.ID,
				Kind:      models.ChunkKindChapter,
				Text:      ch.Text,
			})
			continue
		}
		for j, excerpt := range plan.Excerpts {
			chunks = append(chunks, &models.Chunk{
				LibraryID:      lib.ID,
				ChapterID:      &row.ID,
				Kind:           models.ChunkKindExcerpt,
				Text:           excerpt,
				OrderInChapter: intPtr(j + 1),
			})
		}
	}
	return chunks, chapterTitles
}

// embedChunks backfills vectors in batches. A batch failure skips only that
// batch; a per-chunk update failure skips only that chunk.
func (s *Service) embedChunks(
	ctx context.Context,
	embCtx *ai.EmbeddingContext,
	flag GenFlag,
	doc *models.Document,
	chunks []*models.Chunk,
	chapterTitles map[uint]string,
) (embedded, failed int) {
	for from := 0; from < len(chunks); from += s.batchSize {
		to := from + s.batchSize
		if to > len(chunks) {
			to = len(chunks)
		}
		batch := chunks[from:to]

		texts := make([]string, len(batch))
		for i, c := range batch {
			md := doc.Metadata.Merge(models.Metadata{"title": doc.Title})
			if c.ChapterID != nil {
				if title := chapterTitles[*c.ChapterID]; title != "" {
					md["chapter"] = title
				}
			}
			texts[i] = EmbeddingText(c.Text, md, flag)
		}

		results, err := embCtx.EmbedBatch(ctx, llm.OpDocument, texts)
		if err != nil {
			s.logger.Warn("embedding batch failed, continuing with next batch",
				"document", doc.UUID, "batch_start", from, "size", len(batch), "error", err)
			failed += len(batch)
			continue
		}

		for i, res := range results {
			c := batch[i]
			if err := models.UpdateChunkVector(s.db, c.ID, res.Vector); err != nil {
				s.logger.Warn("chunk vector update failed, continuing",
					"chunk", c.ID, "error", err)
				failed++
				continue
			}
			embedded++
			if len(res.Marks) > 0 {
				if err := models.UpdateChunkMetadata(s.db, c.ID, c.Metadata.Merge(res.Marks)); err != nil {
					s.logger.Warn("chunk metadata update failed", "chunk", c.ID, "error", err)
				}
			}
		}
	}
	return embedded, failed
}

// settle moves the document to READY when every vector is filled, PARTIAL
// otherwise. PARTIAL documents keep serving through the lexical leg.
func (s *Service) settle(doc *models.Document) (models.DocumentStatus, error) {
	missing, err := models.CountMissingVectors(s.db, doc.ID)
	if err != nil {
		return "", err
	}
	status := models.DocumentStatusReady
	if missing > 0 {
		status = models.DocumentStatusPartial
	}
	if err := doc.SetStatus(s.db, status); err != nil {
		return "", err
	}
	return status, nil
}

func intPtr(i int) *int { return &i }
