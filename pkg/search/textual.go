package search

import (
	"context"

	"gorm.io/gorm"

	"github.com/acervolabs/acervo/pkg/apperr"
)

// textualCandidates returns up to limit chunks of the library ordered by
// ts_rank_cd against the websearch-parsed query. The match runs over the
// stored text_search column, which folds accents via the simple_unaccent
// configuration, so "credito" finds "crédito". Chunks with NULL vectors
// still participate: a partially embedded document stays findable through
// this leg.
func textualCandidates(ctx context.Context, db *gorm.DB, libraryID uint, text string, limit int) ([]rankedChunk, error) {
	query := `
		SELECT chunks.id AS chunk_id,
		       ts_rank_cd(chunks.text_search, websearch_to_tsquery('simple_unaccent', ?)) AS rank
		FROM chunks
		JOIN documents ON documents.id = chunks.document_id
			AND documents.deleted_at IS NULL
		WHERE chunks.library_id = ?
		  AND chunks.text_search @@ websearch_to_tsquery('simple_unaccent', ?)
		ORDER BY rank DESC
		LIMIT ?
	`

	type row struct {
		ChunkID uint
		Rank    float64
	}

	var rows []row
	err := db.WithContext(ctx).
		Raw(query, text, libraryID, text, limit).
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "textual candidate query failed", err)
	}

	candidates := make([]rankedChunk, len(rows))
	for i, r := range rows {
		candidates[i] = rankedChunk{ChunkID: r.ChunkID, Rank: i + 1}
	}
	return candidates, nil
}
