package ingest

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	"github.com/acervolabs/acervo/pkg/apperr"
)

// Extractor converts a non-text source file into Markdown or plain text.
// Formats beyond .md/.txt are only supported when one is injected.
type Extractor interface {
	Extract(ctx context.Context, name string, data []byte) (string, error)
}

// Source reads document files for ingestion from an abstract filesystem.
type Source struct {
	fs        afero.Fs
	extractor Extractor
	logger    hclog.Logger
}

// SourceConfig holds configuration for a source.
type SourceConfig struct {
	Fs        afero.Fs  // default OS filesystem
	Extractor Extractor // optional
	Logger    hclog.Logger
}

// NewSource creates a source.
func NewSource(config SourceConfig) *Source {
	if config.Fs == nil {
		config.Fs = afero.NewOsFs()
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}
	return &Source{
		fs:        config.Fs,
		extractor: config.Extractor,
		logger:    config.Logger.Named("ingest-source"),
	}
}

// textExtensions are read verbatim without an extractor.
var textExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".text":     true,
}

// Read loads a document file and returns its title (the base name without
// extension) and text content.
func (s *Source) Read(ctx context.Context, path string) (title, text string, err error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return "", "", apperr.Wrap(apperr.KindNotFound,
			"cannot read source file "+path, err)
	}

	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))
	title = strings.TrimSuffix(base, filepath.Ext(base))

	if textExtensions[ext] {
		return title, string(data), nil
	}

	if s.extractor == nil {
		return "", "", apperr.Newf(apperr.KindInvalidInput,
			"no extractor configured for %s files", ext)
	}

	s.logger.Debug("extracting source file", "path", path, "bytes", len(data))
	text, err = s.extractor.Extract(ctx, base, data)
	if err != nil {
		return "", "", apperr.Wrap(apperr.KindInvalidInput,
			"extraction failed for "+path, err)
	}
	return title, text, nil
}
