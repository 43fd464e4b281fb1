package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/acervolabs/acervo/pkg/apperr"
)

// DocumentStatus tracks a document through the ingestion state machine.
type DocumentStatus string

const (
	// DocumentStatusNew is the initial state before ingestion starts.
	DocumentStatusNew DocumentStatus = "NEW"
	// DocumentStatusSplitting means the splitter is running.
	DocumentStatusSplitting DocumentStatus = "SPLITTING"
	// DocumentStatusChunking means chapters are persisted and chunks are being built.
	DocumentStatusChunking DocumentStatus = "CHUNKING"
	// DocumentStatusEmbedding means null-vector chunks are persisted and
	// embedding backfill is in progress.
	DocumentStatusEmbedding DocumentStatus = "EMBEDDING"
	// DocumentStatusReady means every chunk vector is filled.
	DocumentStatusReady DocumentStatus = "READY"
	// DocumentStatusPartial means some chunks lack vectors. The document is
	// still served: the semantic pass skips null vectors, the lexical pass
	// includes them.
	DocumentStatusPartial DocumentStatus = "PARTIAL"
	// DocumentStatusFailed means a fatal error aborted ingestion.
	DocumentStatusFailed DocumentStatus = "FAILED"
)

// Document is a whole work within one library. The original text is kept as
// Markdown after conversion. Deletion is soft: hiding a document hides its
// chapters and chunks on the read path.
type Document struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UUID      uuid.UUID      `gorm:"type:uuid;uniqueIndex;not null" json:"uuid"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	LibraryID uint   `gorm:"not null;index:idx_documents_library" json:"libraryId"`
	Title     string `gorm:"type:varchar(500);not null" json:"title"`
	Content   string `gorm:"type:text" json:"-"`

	// Current marks the serving version. At most one document per
	// (library, title) may be current; enforced by a partial unique index.
	Current bool `gorm:"not null;default:false" json:"current"`

	PublishedAt *time.Time     `json:"publishedAt,omitempty"`
	TokenCount  int            `json:"tokenCount"`
	Status      DocumentStatus `gorm:"type:varchar(20);not null;default:'NEW'" json:"status"`
	Metadata    Metadata       `gorm:"type:jsonb" json:"metadata,omitempty"`
}

// TableName specifies the table name.
func (Document) TableName() string {
	return "documents"
}

// BeforeCreate assigns the public UUID and initial status when missing.
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.UUID == uuid.Nil {
		d.UUID = uuid.New()
	}
	if d.Status == "" {
		d.Status = DocumentStatusNew
	}
	return nil
}

// Create persists the document. A second current document for the same
// (library, title) is rejected with Conflict; callers must clear the
// previous current document first.
func (d *Document) Create(db *gorm.DB) error {
	if err := db.Create(d).Error; err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.KindConflict,
				fmt.Sprintf("a current document titled %q already exists in library %d",
					d.Title, d.LibraryID), err)
		}
		return persistErr("create document", err)
	}
	return nil
}

// SetStatus advances the document through the ingestion state machine.
func (d *Document) SetStatus(db *gorm.DB, status DocumentStatus) error {
	if err := db.Model(d).Update("status", status).Error; err != nil {
		return persistErr("update document status", err)
	}
	d.Status = status
	return nil
}

// SetTokenCount records the document's total token count, the sum of its
// chapter counts.
func (d *Document) SetTokenCount(db *gorm.DB, n int) error {
	if err := db.Model(d).Update("token_count", n).Error; err != nil {
		return persistErr("update document token count", err)
	}
	d.TokenCount = n
	return nil
}

// MarkCurrent flags this document as the serving version of its title.
func (d *Document) MarkCurrent(db *gorm.DB) error {
	err := db.Model(d).Update("current", true).Error
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.KindConflict,
				fmt.Sprintf("another document titled %q is already current", d.Title), err)
		}
		return persistErr("mark document current", err)
	}
	d.Current = true
	return nil
}

// ClearCurrent removes the current flag from every document of the given
// (library, title) pair. Used before re-ingesting a new version.
func ClearCurrent(db *gorm.DB, libraryID uint, title string) error {
	err := db.Model(&Document{}).
		Where("library_id = ? AND title = ? AND current", libraryID, title).
		Update("current", false).Error
	if err != nil {
		return persistErr("clear current flag", err)
	}
	return nil
}

// GetDocumentByUUID retrieves a document by its public UUID.
func GetDocumentByUUID(db *gorm.DB, id uuid.UUID) (*Document, error) {
	var doc Document
	err := db.Where("uuid = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "document %s", id)
	}
	if err != nil {
		return nil, persistErr("find document", err)
	}
	return &doc, nil
}

// GetCurrentDocument retrieves the current document for (library, title).
func GetCurrentDocument(db *gorm.DB, libraryID uint, title string) (*Document, error) {
	var doc Document
	err := db.Where("library_id = ? AND title = ? AND current", libraryID, title).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "current document %q in library %d", title, libraryID)
	}
	if err != nil {
		return nil, persistErr("find current document", err)
	}
	return &doc, nil
}

// SoftDelete hides the document. Chapters and chunks are hidden through the
// owning document on the read path; no rows are removed.
func (d *Document) SoftDelete(db *gorm.DB) error {
	if err := db.Delete(d).Error; err != nil {
		return persistErr("delete document", err)
	}
	return nil
}
