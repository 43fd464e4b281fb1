package models

import (
	"errors"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/acervolabs/acervo/pkg/apperr"
)

// ChunkKind classifies what a chunk's text represents.
type ChunkKind string

const (
	// ChunkKindDocument embeds a whole document. Chapter and order are null.
	ChunkKindDocument ChunkKind = "DOCUMENT"
	// ChunkKindChapter embeds a whole chapter. Order is null.
	ChunkKindChapter ChunkKind = "CHAPTER"
	// ChunkKindExcerpt embeds a slice of a chapter. Order starts at 1.
	ChunkKindExcerpt ChunkKind = "EXCERPT"
	// ChunkKindQuestionAnswer embeds one side of a generated Q&A pair.
	ChunkKindQuestionAnswer ChunkKind = "QUESTION_ANSWER"
	// ChunkKindSummary embeds a generated chapter summary. Order 0 is
	// reserved for summaries.
	ChunkKindSummary ChunkKind = "SUMMARY"
	// ChunkKindMetadata embeds a curated metadata block alone.
	ChunkKindMetadata ChunkKind = "METADATA"
	// ChunkKindOther embeds anything else.
	ChunkKindOther ChunkKind = "OTHER"
)

// Chunk is the embedding-bearing leaf of the hierarchy. Chunks are immutable
// after insert except for the vector column, which transitions null->filled
// exactly once during embedding backfill.
//
// The library id is a denormalized back-pointer for query sharding; it
// always matches the owning document's library. The text_search column is a
// stored generated column computed by the store and is never written here.
type Chunk struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	LibraryID  uint  `gorm:"not null;index:idx_chunks_library" json:"libraryId"`
	DocumentID uint  `gorm:"not null;index:idx_chunks_document" json:"documentId"`
	ChapterID  *uint `gorm:"index:idx_chunks_chapter" json:"chapterId,omitempty"`

	Kind ChunkKind `gorm:"type:varchar(20);not null" json:"kind"`

	// Text is the exact string that was (or will be) embedded.
	Text string `gorm:"type:text;not null" json:"text"`

	// OrderInChapter is null for DOCUMENT and CHAPTER chunks; 0 is reserved
	// for SUMMARY chunks, excerpts count from 1.
	OrderInChapter *int `json:"orderInChapter,omitempty"`

	// Vector is null until embedding backfill fills it.
	Vector *pgvector.Vector `gorm:"type:vector" json:"-"`

	Metadata Metadata `gorm:"type:jsonb" json:"metadata,omitempty"`
}

// TableName specifies the table name.
func (Chunk) TableName() string {
	return "chunks"
}

// Validate enforces the kind invariants:
// DOCUMENT has no chapter and no order, CHAPTER has a chapter and no order,
// every other kind has both.
func (c *Chunk) Validate() error {
	if c.Text == "" {
		return apperr.New(apperr.KindInvalidInput, "chunk text cannot be empty")
	}
	switch c.Kind {
	case ChunkKindDocument:
		if c.ChapterID != nil || c.OrderInChapter != nil {
			return apperr.New(apperr.KindInvalidInput,
				"DOCUMENT chunk must not carry chapter or order")
		}
	case ChunkKindChapter:
		if c.ChapterID == nil {
			return apperr.New(apperr.KindInvalidInput, "CHAPTER chunk requires a chapter")
		}
		if c.OrderInChapter != nil {
			return apperr.New(apperr.KindInvalidInput, "CHAPTER chunk must not carry an order")
		}
	case ChunkKindExcerpt, ChunkKindQuestionAnswer, ChunkKindSummary,
		ChunkKindMetadata, ChunkKindOther:
		if c.ChapterID == nil || c.OrderInChapter == nil {
			return apperr.Newf(apperr.KindInvalidInput,
				"%s chunk requires chapter and order", c.Kind)
		}
		if *c.OrderInChapter < 0 {
			return apperr.New(apperr.KindInvalidInput, "chunk order cannot be negative")
		}
	default:
		return apperr.Newf(apperr.KindInvalidInput, "unknown chunk kind %q", c.Kind)
	}
	return nil
}

// InsertChunks validates and persists the chunks in one transaction,
// assigning ids. Vectors are expected to be null at this point; the
// transaction must commit before embedding begins so that partially
// backfilled vectors remain a valid intermediate state.
func InsertChunks(db *gorm.DB, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&chunks).Error
	})
	if err != nil {
		return persistErr("insert chunks", err)
	}
	return nil
}

// UpdateChunkVector fills a chunk's vector in a single statement. The
// vector is bound as a native vector parameter, never a serialized string.
// The update is idempotent: applying the same vector twice leaves the row
// unchanged.
func UpdateChunkVector(db *gorm.DB, id uint, vec []float32) error {
	if len(vec) == 0 {
		return apperr.New(apperr.KindInvalidInput, "vector cannot be empty")
	}
	res := db.Exec("UPDATE chunks SET vector = ?, updated_at = now() WHERE id = ?",
		pgvector.NewVector(vec), id)
	if res.Error != nil {
		return persistErr("update chunk vector", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Newf(apperr.KindNotFound, "chunk %d", id)
	}
	return nil
}

// UpdateChunkMetadata replaces a chunk's metadata map. Used to record
// embedding-preparation marks (generated summary, truncation).
func UpdateChunkMetadata(db *gorm.DB, id uint, md Metadata) error {
	res := db.Model(&Chunk{}).Where("id = ?", id).Update("metadata", md)
	if res.Error != nil {
		return persistErr("update chunk metadata", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Newf(apperr.KindNotFound, "chunk %d", id)
	}
	return nil
}

// GetChunkByID retrieves a single chunk.
func GetChunkByID(db *gorm.DB, id uint) (*Chunk, error) {
	var chunk Chunk
	err := db.Where("id = ?", id).First(&chunk).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "chunk %d", id)
	}
	if err != nil {
		return nil, persistErr("find chunk", err)
	}
	return &chunk, nil
}

// GetChunksByDocument returns the document's chunks in storage order
// (chapter, then order within chapter). Soft-deleted documents hide their
// chunks.
func GetChunksByDocument(db *gorm.DB, documentID uint) ([]Chunk, error) {
	var chunks []Chunk
	err := db.
		Joins("JOIN documents ON documents.id = chunks.document_id AND documents.deleted_at IS NULL").
		Where("chunks.document_id = ?", documentID).
		Order("chunks.chapter_id ASC NULLS FIRST, chunks.order_in_chapter ASC NULLS FIRST").
		Find(&chunks).Error
	if err != nil {
		return nil, persistErr("list chunks by document", err)
	}
	return chunks, nil
}

// GetChunksByLibraries returns all visible chunks of the given libraries.
func GetChunksByLibraries(db *gorm.DB, libraryIDs []uint) ([]Chunk, error) {
	if len(libraryIDs) == 0 {
		return nil, nil
	}
	var chunks []Chunk
	err := db.
		Joins("JOIN documents ON documents.id = chunks.document_id AND documents.deleted_at IS NULL").
		Where("chunks.library_id IN ?", libraryIDs).
		Find(&chunks).Error
	if err != nil {
		return nil, persistErr("list chunks by library", err)
	}
	return chunks, nil
}

// CountMissingVectors reports how many of a document's chunks still await
// embedding backfill. Zero means the document can move to READY.
func CountMissingVectors(db *gorm.DB, documentID uint) (int64, error) {
	var n int64
	err := db.Model(&Chunk{}).
		Where("document_id = ? AND vector IS NULL", documentID).
		Count(&n).Error
	if err != nil {
		return 0, persistErr("count missing vectors", err)
	}
	return n, nil
}
