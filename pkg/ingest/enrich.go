package ingest

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/acervolabs/acervo/pkg/ai"
	"github.com/acervolabs/acervo/pkg/apperr"
	"github.com/acervolabs/acervo/pkg/models"
)

const (
	defaultQAPairs       = 3
	defaultSummaryTokens = 512
)

// EnrichmentOptions selects what enrichment adds per chapter.
type EnrichmentOptions struct {
	// GenerateQA emits NQA question/answer pairs per chapter, each pair
	// stored as two sibling chunks.
	GenerateQA bool
	NQA        int // 1..20, default 3

	// GenerateSummary emits one SUMMARY chunk per chapter that lacks one.
	GenerateSummary  bool
	MaxSummaryTokens int // 100..2000, default 512

	// StopOnError propagates the first chapter failure instead of skipping
	// the chapter and continuing (the default).
	StopOnError bool
}

// withDefaults fills the per-type defaults for enabled enrichments.
func (o EnrichmentOptions) withDefaults() EnrichmentOptions {
	if o.GenerateQA && o.NQA == 0 {
		o.NQA = defaultQAPairs
	}
	if o.GenerateSummary && o.MaxSummaryTokens == 0 {
		o.MaxSummaryTokens = defaultSummaryTokens
	}
	return o
}

// Validate checks the enrichment bounds.
func (o EnrichmentOptions) Validate() error {
	if !o.GenerateQA && !o.GenerateSummary {
		return apperr.New(apperr.KindInvalidInput,
			"at least one enrichment type must be enabled")
	}
	err := validation.ValidateStruct(&o,
		validation.Field(&o.NQA,
			validation.When(o.GenerateQA, validation.Required, validation.Min(1), validation.Max(20))),
		validation.Field(&o.MaxSummaryTokens,
			validation.When(o.GenerateSummary, validation.Required, validation.Min(100), validation.Max(2000))),
	)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, "invalid enrichment options", err)
	}
	return nil
}

// EnrichResult reports what one enrichment pass produced.
type EnrichResult struct {
	Chapters      int
	ChunksCreated int
	Embedded      int
	Failed        int
	Status        models.DocumentStatus
}

// Enrich runs post-ingest enrichment over the document's chapters: Q&A pair
// generation and/or chapter summaries, per options. New chunks follow the
// same persist-then-backfill path as ingestion.
func (s *Service) Enrich(ctx context.Context, doc *models.Document, lib *models.Library, opts EnrichmentOptions) (*EnrichResult, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if doc == nil || lib == nil {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "enrich requires a document and its library")
	}

	llmCtx, err := s.binder.BindLLM(lib)
	if err != nil {
		return nil, err
	}
	embCtx, err := s.binder.BindEmbedding(lib)
	if err != nil {
		return nil, err
	}

	chapters, err := models.GetChaptersByDocument(s.db, doc.ID)
	if err != nil {
		return nil, err
	}

	result := &EnrichResult{Chapters: len(chapters)}
	chapterTitles := make(map[uint]string, len(chapters))

	var created []*models.Chunk
	for i := range chapters {
		ch := &chapters[i]
		chapterTitles[ch.ID] = ch.Title

		chunks, err := s.enrichChapter(ctx, llmCtx, lib, ch, opts)
		if err != nil {
			if opts.StopOnError {
				return nil, err
			}
			s.logger.Warn("chapter enrichment failed, skipping chapter",
				"chapter", ch.Title, "error", err)
			result.Failed++
			continue
		}
		created = append(created, chunks...)
	}

	if len(created) == 0 {
		result.Status = doc.Status
		return result, nil
	}
	for _, c := range created {
		c.DocumentID = doc.ID
	}
	if err := models.InsertChunks(s.db, created); err != nil {
		return nil, err
	}
	result.ChunksCreated = len(created)

	embedded, failed := s.embedChunks(ctx, embCtx, GenOnlyText, doc, created, chapterTitles)
	result.Embedded = embedded
	result.Failed += failed

	status, err := s.settle(doc)
	if err != nil {
		return nil, err
	}
	result.Status = status

	s.logger.Info("document enriched",
		"document", doc.UUID,
		"chapters", result.Chapters,
		"chunks_created", result.ChunksCreated,
		"embedded", result.Embedded,
		"failed", result.Failed,
	)
	return result, nil
}

// enrichChapter generates this chapter's enrichment chunks. Orders continue
// after the chapter's highest existing chunk order so enrichment never
// collides with excerpts or a prior pass.
func (s *Service) enrichChapter(
	ctx context.Context,
	llmCtx *ai.LLMContext,
	lib *models.Library,
	ch *models.Chapter,
	opts EnrichmentOptions,
) ([]*models.Chunk, error) {
	nextOrder, err := s.nextChunkOrder(ch.ID)
	if err != nil {
		return nil, err
	}

	var chunks []*models.Chunk

	if opts.GenerateQA {
		pairs, err := llmCtx.GenerateQA(ctx, ch.Text, opts.NQA)
		if err != nil {
			return nil, err
		}
		for i, pair := range pairs {
			qOrder, aOrder := nextOrder, nextOrder+1
			nextOrder += 2
			chunks = append(chunks,
				&models.Chunk{
					LibraryID:      lib.ID,
					ChapterID:      &ch.ID,
					Kind:           models.ChunkKindQuestionAnswer,
					Text:           pair.Question,
					OrderInChapter: intPtr(qOrder),
					Metadata: models.Metadata{
						"qa_pair":       i + 1,
						"qa_role":       "question",
						"sibling_order": aOrder,
					},
				},
				&models.Chunk{
					LibraryID:      lib.ID,
					ChapterID:      &ch.ID,
					Kind:           models.ChunkKindQuestionAnswer,
					Text:           pair.Answer,
					OrderInChapter: intPtr(aOrder),
					Metadata: models.Metadata{
						"qa_pair":       i + 1,
						"qa_role":       "answer",
						"sibling_order": qOrder,
					},
				},
			)
		}
	}

	if opts.GenerateSummary {
		exists, err := s.hasSummaryChunk(ch.ID)
		if err != nil {
			return nil, err
		}
		if !exists {
			summary, err := llmCtx.Summarize(ctx, ch.Text, opts.MaxSummaryTokens)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, &models.Chunk{
				LibraryID:      lib.ID,
				ChapterID:      &ch.ID,
				Kind:           models.ChunkKindSummary,
				Text:           summary,
				OrderInChapter: intPtr(0),
				Metadata:       models.Metadata{"resumo_gerado": true},
			})
		}
	}

	return chunks, nil
}

// nextChunkOrder returns one past the chapter's highest chunk order.
func (s *Service) nextChunkOrder(chapterID uint) (int, error) {
	var highest int
	err := s.db.Model(&models.Chunk{}).
		Where("chapter_id = ?", chapterID).
		Select("COALESCE(MAX(order_in_chapter), 0)").
		Scan(&highest).Error
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, "read max chunk order", err)
	}
	return highest + 1, nil
}

// hasSummaryChunk reports whether the chapter already carries a SUMMARY chunk.
func (s *Service) hasSummaryChunk(chapterID uint) (bool, error) {
	var n int64
	err := s.db.Model(&models.Chunk{}).
		Where("chapter_id = ? AND kind = ?", chapterID, models.ChunkKindSummary).
		Count(&n).Error
	if err != nil {
		return false, apperr.Wrap(apperr.KindPersistence, "count summary chunks", err)
	}
	return n > 0, nil
}
