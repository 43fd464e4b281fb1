package models

import (
	"errors"
	"fmt"
	"math"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/acervolabs/acervo/pkg/apperr"
)

// WeightSumTolerance is the allowed deviation of SemanticWeight +
// LexicalWeight from 1.0.
const WeightSumTolerance = 1e-3

// Library is a named collection of documents scoped to a knowledge area.
// It carries the default hybrid ranking weights and the model bindings
// (embedding model + dimension, completion model) every chunk of the
// library inherits.
type Library struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UUID      uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"uuid"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name string `gorm:"type:varchar(200);uniqueIndex;not null" json:"name"`
	Area string `gorm:"type:varchar(200)" json:"area"`

	// Hybrid ranking weights. SemanticWeight + LexicalWeight must equal 1.0
	// within WeightSumTolerance. Query-time overrides do not mutate these.
	SemanticWeight float64 `gorm:"not null;default:0.7" json:"semanticWeight"`
	LexicalWeight  float64 `gorm:"not null;default:0.3" json:"lexicalWeight"`

	// Model bindings. EmbeddingDimension is the single source of truth for
	// the vector width of every chunk in the library.
	EmbeddingModel     string `gorm:"type:varchar(200);not null" json:"embeddingModel"`
	EmbeddingDimension int    `gorm:"not null" json:"embeddingDimension"`
	CompletionModel    string `gorm:"type:varchar(200)" json:"completionModel"`

	Metadata Metadata `gorm:"type:jsonb" json:"metadata,omitempty"`
}

// TableName specifies the table name.
func (Library) TableName() string {
	return "libraries"
}

// BeforeCreate assigns the public UUID when missing.
func (l *Library) BeforeCreate(tx *gorm.DB) error {
	if l.UUID == uuid.Nil {
		l.UUID = uuid.New()
	}
	return nil
}

// Validate checks the library invariants before persisting.
func (l *Library) Validate() error {
	err := validation.ValidateStruct(l,
		validation.Field(&l.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&l.SemanticWeight, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&l.LexicalWeight, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&l.EmbeddingModel, validation.Required),
		validation.Field(&l.EmbeddingDimension, validation.Required, validation.Min(1)),
	)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, "invalid library", err)
	}

	if math.Abs(l.SemanticWeight+l.LexicalWeight-1.0) >= WeightSumTolerance {
		return apperr.Newf(apperr.KindInvalidConfiguration,
			"library weights must sum to 1.0 (got %.4f + %.4f)",
			l.SemanticWeight, l.LexicalWeight)
	}
	return nil
}

// Save validates the library and creates or updates it by UUID.
func (l *Library) Save(db *gorm.DB) error {
	if err := l.Validate(); err != nil {
		return err
	}

	if l.UUID != uuid.Nil {
		var existing Library
		err := db.Where("uuid = ?", l.UUID).First(&existing).Error
		if err == nil {
			l.ID = existing.ID
			l.CreatedAt = existing.CreatedAt
			if err := db.Save(l).Error; err != nil {
				return persistErr("update library", err)
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return persistErr("find library", err)
		}
	}

	if err := db.Create(l).Error; err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.KindConflict,
				fmt.Sprintf("library %q already exists", l.Name), err)
		}
		return persistErr("create library", err)
	}
	return nil
}

// GetLibraryByUUID retrieves a library by its public UUID.
func GetLibraryByUUID(db *gorm.DB, id uuid.UUID) (*Library, error) {
	var lib Library
	err := db.Where("uuid = ?", id).First(&lib).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "library %s", id)
	}
	if err != nil {
		return nil, persistErr("find library", err)
	}
	return &lib, nil
}

// GetLibraryByName retrieves a library by its unique name.
func GetLibraryByName(db *gorm.DB, name string) (*Library, error) {
	var lib Library
	err := db.Where("name = ?", name).First(&lib).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "library %q", name)
	}
	if err != nil {
		return nil, persistErr("find library", err)
	}
	return &lib, nil
}

// ListLibraries returns every library ordered by name.
func ListLibraries(db *gorm.DB) ([]Library, error) {
	var libs []Library
	if err := db.Order("name ASC").Find(&libs).Error; err != nil {
		return nil, persistErr("list libraries", err)
	}
	return libs, nil
}
