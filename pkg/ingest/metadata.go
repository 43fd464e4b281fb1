package ingest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/acervolabs/acervo/pkg/apperr"
	"github.com/acervolabs/acervo/pkg/models"
)

// GenFlag selects what gets embedded for each chunk: the raw text, the text
// prefixed by a curated metadata block, or the metadata block alone.
type GenFlag string

const (
	// GenOnlyText embeds the chunk text as stored.
	GenOnlyText GenFlag = "ONLY_TEXT"
	// GenFullTextMetadata prefixes the chunk text with the curated metadata block.
	GenFullTextMetadata GenFlag = "FULL_TEXT_METADATA"
	// GenOnlyMetadata embeds the curated metadata block alone.
	GenOnlyMetadata GenFlag = "ONLY_METADATA"
)

// ParseGenFlag parses a generation flag, defaulting the empty string to
// ONLY_TEXT.
func ParseGenFlag(s string) (GenFlag, error) {
	switch GenFlag(strings.ToUpper(strings.TrimSpace(s))) {
	case "", GenOnlyText:
		return GenOnlyText, nil
	case GenFullTextMetadata:
		return GenFullTextMetadata, nil
	case GenOnlyMetadata:
		return GenOnlyMetadata, nil
	default:
		return "", apperr.Newf(apperr.KindInvalidInput, "unknown generation flag %q", s)
	}
}

// suppressedKeys are metadata keys that carry storage bookkeeping rather
// than meaning, filtered out of the curated block. url is deliberately not
// here: a source link is retrieval-relevant.
var suppressedKeys = map[string]bool{
	"crc":          true,
	"checksum":     true,
	"hash":         true,
	"content_hash": true,
	"size":         true,
	"file_size":    true,
	"id":           true,
	"uuid":         true,
	"created_at":   true,
	"updated_at":   true,
	"deleted_at":   true,
}

// CuratedBlock renders metadata as sorted "key: value" lines, dropping
// suppressed keys and empty values.
func CuratedBlock(md models.Metadata) string {
	if len(md) == 0 {
		return ""
	}

	keys := make([]string, 0, len(md))
	for k := range md {
		if suppressedKeys[strings.ToLower(k)] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := fmt.Sprintf("%v", md[k])
		if v == "" {
			continue
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// EmbeddingText returns the string to embed for a chunk under the flag. A
// metadata-only flag with nothing left after suppression falls back to the
// raw text so the chunk still gets a vector.
func EmbeddingText(text string, md models.Metadata, flag GenFlag) string {
	switch flag {
	case GenFullTextMetadata:
		block := CuratedBlock(md)
		if block == "" {
			return text
		}
		return block + "\n\n" + text
	case GenOnlyMetadata:
		block := CuratedBlock(md)
		if block == "" {
			return text
		}
		return block
	default:
		return text
	}
}

// ParsePublishedAt reads a free-form published_at metadata value. Returns
// nil when absent or unparseable.
func ParsePublishedAt(md models.Metadata) *time.Time {
	raw := md.GetString("published_at")
	if raw == "" {
		return nil
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return nil
	}
	return &t
}
