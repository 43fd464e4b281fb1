package search

import (
	"context"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/acervolabs/acervo/pkg/apperr"
)

// rankedChunk is one candidate from a single retrieval leg: the chunk id and
// its 1-based rank within that leg.
type rankedChunk struct {
	ChunkID uint
	Rank    int
}

// semanticCandidates returns up to limit chunks of the library ordered by
// cosine distance to the query vector. Chunks still awaiting embedding
// backfill (vector IS NULL) and chunks of soft-deleted documents are
// excluded; the index scan never sees them.
func semanticCandidates(ctx context.Context, db *gorm.DB, libraryID uint, vec []float32, limit int) ([]rankedChunk, error) {
	if len(vec) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "query vector cannot be empty")
	}

	query := `
		SELECT chunks.id AS chunk_id
		FROM chunks
		JOIN documents ON documents.id = chunks.document_id
			AND documents.deleted_at IS NULL
		WHERE chunks.library_id = ?
		  AND chunks.vector IS NOT NULL
		ORDER BY chunks.vector <=> ?
		LIMIT ?
	`

	type row struct {
		ChunkID uint
	}

	var rows []row
	err := db.WithContext(ctx).
		Raw(query, libraryID, pgvector.NewVector(vec), limit).
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "semantic candidate query failed", err)
	}

	candidates := make([]rankedChunk, len(rows))
	for i, r := range rows {
		candidates[i] = rankedChunk{ChunkID: r.ChunkID, Rank: i + 1}
	}
	return candidates, nil
}
