package models

import (
	"time"

	"gorm.io/gorm"
)

// Chapter is an ordered segment of a document. Chapters are immutable after
// the ingest transaction that creates them.
type Chapter struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	DocumentID uint   `gorm:"not null;uniqueIndex:idx_chapters_doc_order,priority:1;index" json:"documentId"`
	Title      string `gorm:"type:varchar(500)" json:"title"`
	Text       string `gorm:"type:text" json:"-"`

	// OrderInDocument is unique per document and preserved exactly as the
	// splitter produced it.
	OrderInDocument int `gorm:"not null;uniqueIndex:idx_chapters_doc_order,priority:2" json:"orderInDocument"`

	// Token range [TokenStart, TokenEnd) within the normalized document text.
	TokenStart int `json:"tokenStart"`
	TokenEnd   int `json:"tokenEnd"`
	TokenCount int `json:"tokenCount"`

	Metadata Metadata `gorm:"type:jsonb" json:"metadata,omitempty"`
}

// TableName specifies the table name.
func (Chapter) TableName() string {
	return "chapters"
}

// CreateChapters persists the chapters in one transaction and assigns ids.
func CreateChapters(db *gorm.DB, chapters []*Chapter) error {
	if len(chapters) == 0 {
		return nil
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&chapters).Error
	})
	if err != nil {
		return persistErr("create chapters", err)
	}
	return nil
}

// GetChaptersByDocument returns the document's chapters in document order.
func GetChaptersByDocument(db *gorm.DB, documentID uint) ([]Chapter, error) {
	var chapters []Chapter
	err := db.Where("document_id = ?", documentID).
		Order("order_in_document ASC").
		Find(&chapters).Error
	if err != nil {
		return nil, persistErr("list chapters", err)
	}
	return chapters, nil
}
