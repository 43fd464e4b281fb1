package database

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
)

// DefaultVectorDimension is the store-wide vector column width used when the
// configuration does not set one. Each library's configured dimension must
// match the store width; the embedding layer normalizes to it.
const DefaultVectorDimension = 768

// textSearchConfigDDL creates the "simple_unaccent" text search
// configuration: tokenize, lower-case, strip accents, no stemming. The
// default stemming configurations are not acceptable here: legal and
// technical terminology must not be stemmed.
const textSearchConfigDDL = `
DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_ts_config WHERE cfgname = 'simple_unaccent') THEN
		CREATE TEXT SEARCH CONFIGURATION simple_unaccent (COPY = simple);
		ALTER TEXT SEARCH CONFIGURATION simple_unaccent
			ALTER MAPPING FOR hword, hword_part, word
			WITH unaccent, simple;
	END IF;
END
$$;
`

// Bootstrap creates the extensions, the text search configuration, and the
// engine tables. It is idempotent and safe to run on every startup. The
// vector column is created with the given dimension; pass 0 for the default.
//
// text_search is a stored generated column (not trigger-maintained) so the
// weighting expression lives in exactly one place and cannot drift.
func Bootstrap(db *gorm.DB, vectorDim int, log hclog.Logger) error {
	if vectorDim <= 0 {
		vectorDim = DefaultVectorDimension
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS unaccent`,
		textSearchConfigDDL,

		`CREATE TABLE IF NOT EXISTS libraries (
			id                  BIGSERIAL PRIMARY KEY,
			uuid                UUID NOT NULL UNIQUE,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			name                VARCHAR(200) NOT NULL UNIQUE,
			area                VARCHAR(200),
			semantic_weight     DOUBLE PRECISION NOT NULL DEFAULT 0.7,
			lexical_weight      DOUBLE PRECISION NOT NULL DEFAULT 0.3,
			embedding_model     VARCHAR(200) NOT NULL,
			embedding_dimension INT NOT NULL,
			completion_model    VARCHAR(200),
			metadata            JSONB
		)`,

		`CREATE TABLE IF NOT EXISTS documents (
			id           BIGSERIAL PRIMARY KEY,
			uuid         UUID NOT NULL UNIQUE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at   TIMESTAMPTZ,
			library_id   BIGINT NOT NULL REFERENCES libraries(id),
			title        VARCHAR(500) NOT NULL,
			content      TEXT,
			current      BOOLEAN NOT NULL DEFAULT false,
			published_at TIMESTAMPTZ,
			token_count  INT NOT NULL DEFAULT 0,
			status       VARCHAR(20) NOT NULL DEFAULT 'NEW',
			metadata     JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_library ON documents (library_id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_deleted_at ON documents (deleted_at)`,
		// At most one current document per (library, title).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_current
			ON documents (library_id, title)
			WHERE current AND deleted_at IS NULL`,

		`CREATE TABLE IF NOT EXISTS chapters (
			id                BIGSERIAL PRIMARY KEY,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			document_id       BIGINT NOT NULL REFERENCES documents(id),
			title             VARCHAR(500),
			text              TEXT,
			order_in_document INT NOT NULL,
			token_start       INT NOT NULL DEFAULT 0,
			token_end         INT NOT NULL DEFAULT 0,
			token_count       INT NOT NULL DEFAULT 0,
			metadata          JSONB,
			CONSTRAINT idx_chapters_doc_order UNIQUE (document_id, order_in_document)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chapters_document ON chapters (document_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id               BIGSERIAL PRIMARY KEY,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			library_id       BIGINT NOT NULL REFERENCES libraries(id),
			document_id      BIGINT NOT NULL REFERENCES documents(id),
			chapter_id       BIGINT REFERENCES chapters(id),
			kind             VARCHAR(20) NOT NULL,
			text             TEXT NOT NULL,
			order_in_chapter INT,
			vector           vector(%d),
			metadata         JSONB,
			text_search      TSVECTOR GENERATED ALWAYS AS (
				setweight(to_tsvector('simple_unaccent',
					coalesce(metadata->>'name','') || ' ' || coalesce(metadata->>'chapter','')), 'A') ||
				setweight(to_tsvector('simple_unaccent',
					coalesce(metadata->>'description','')), 'B') ||
				setweight(to_tsvector('simple_unaccent',
					coalesce(metadata->>'area','') || ' ' ||
					coalesce(metadata->>'keywords','') || ' ' || coalesce(text,'')), 'C') ||
				setweight(to_tsvector('simple_unaccent',
					coalesce(metadata->>'author','')), 'D')
			) STORED
		)`, vectorDim),
		`CREATE INDEX IF NOT EXISTS idx_chunks_library ON chunks (library_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks (document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_chapter ON chunks (chapter_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_text_search ON chunks USING GIN (text_search)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_chunks_vector
			ON chunks USING ivfflat (vector vector_cosine_ops) WITH (lists = %d)`, ivfflatLists),
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}

	log.Info("schema bootstrap complete", "vector_dimension", vectorDim)
	return nil
}

// ivfflatLists is the IVFFlat list count for the cosine ANN index.
const ivfflatLists = 100
