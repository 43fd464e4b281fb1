package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acervolabs/acervo/pkg/apperr"
)

func validLibrary() *Library {
	return &Library{
		Name:               "contracts",
		Area:               "legal",
		SemanticWeight:     0.6,
		LexicalWeight:      0.4,
		EmbeddingModel:     "nomic-embed-text",
		EmbeddingDimension: 768,
		CompletionModel:    "llama3",
	}
}

func TestLibraryValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validLibrary().Validate())
	})

	t.Run("weights within tolerance", func(t *testing.T) {
		lib := validLibrary()
		lib.SemanticWeight = 0.6004
		lib.LexicalWeight = 0.4
		assert.NoError(t, lib.Validate())
	})

	t.Run("weight sum violation", func(t *testing.T) {
		lib := validLibrary()
		lib.SemanticWeight = 0.8
		err := lib.Validate()
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindInvalidConfiguration))
	})

	t.Run("missing name", func(t *testing.T) {
		lib := validLibrary()
		lib.Name = ""
		err := lib.Validate()
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
	})

	t.Run("missing dimension", func(t *testing.T) {
		lib := validLibrary()
		lib.EmbeddingDimension = 0
		assert.Error(t, lib.Validate())
	})
}

func intRef(i int) *int { return &i }

func uintRef(u uint) *uint { return &u }

func TestChunkKindInvariants(t *testing.T) {
	tests := []struct {
		name    string
		chunk   Chunk
		wantErr bool
	}{
		{
			name:  "document chunk without chapter or order",
			chunk: Chunk{Kind: ChunkKindDocument, Text: "t"},
		},
		{
			name:    "document chunk with chapter",
			chunk:   Chunk{Kind: ChunkKindDocument, Text: "t", ChapterID: uintRef(1)},
			wantErr: true,
		},
		{
			name:  "chapter chunk with chapter and no order",
			chunk: Chunk{Kind: ChunkKindChapter, Text: "t", ChapterID: uintRef(1)},
		},
		{
			name:    "chapter chunk with order",
			chunk:   Chunk{Kind: ChunkKindChapter, Text: "t", ChapterID: uintRef(1), OrderInChapter: intRef(1)},
			wantErr: true,
		},
		{
			name:    "chapter chunk without chapter",
			chunk:   Chunk{Kind: ChunkKindChapter, Text: "t"},
			wantErr: true,
		},
		{
			name:  "excerpt with chapter and order",
			chunk: Chunk{Kind: ChunkKindExcerpt, Text: "t", ChapterID: uintRef(1), OrderInChapter: intRef(1)},
		},
		{
			name:    "excerpt without order",
			chunk:   Chunk{Kind: ChunkKindExcerpt, Text: "t", ChapterID: uintRef(1)},
			wantErr: true,
		},
		{
			name:  "summary at order zero",
			chunk: Chunk{Kind: ChunkKindSummary, Text: "t", ChapterID: uintRef(1), OrderInChapter: intRef(0)},
		},
		{
			name:    "negative order",
			chunk:   Chunk{Kind: ChunkKindExcerpt, Text: "t", ChapterID: uintRef(1), OrderInChapter: intRef(-1)},
			wantErr: true,
		},
		{
			name:    "empty text",
			chunk:   Chunk{Kind: ChunkKindDocument},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			chunk:   Chunk{Kind: "BOGUS", Text: "t"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.chunk.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	md := Metadata{"name": "Doc", "keywords": "a b c", "tokens": float64(42)}

	v, err := md.Value()
	require.NoError(t, err)

	var out Metadata
	require.NoError(t, out.Scan(v))
	assert.Equal(t, md, out)
}

func TestMetadataScanNil(t *testing.T) {
	var md Metadata
	require.NoError(t, md.Scan(nil))
	assert.Nil(t, md)

	v, err := md.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMetadataHelpers(t *testing.T) {
	md := Metadata{"name": "Doc", "n": 1}
	assert.Equal(t, "Doc", md.GetString("name"))
	assert.Equal(t, "", md.GetString("n"))
	assert.Equal(t, "", md.GetString("missing"))

	merged := md.Merge(Metadata{"name": "Other", "extra": true})
	assert.Equal(t, "Other", merged.GetString("name"))
	assert.Equal(t, true, merged["extra"])
	assert.Equal(t, "Doc", md.GetString("name"))
}
