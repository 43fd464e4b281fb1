// Package splitter converts raw document text into ordered chapters and
// chunk plans. Phase A detects title structure and cuts chapters sized by
// content class; Phase B packs chapter text into retrieval-sized excerpts.
package splitter

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/hashicorp/go-hclog"

	"github.com/acervolabs/acervo/pkg/tokens"
)

// PreambleTitle names the chapter holding untitled leading content.
const PreambleTitle = "Preamble"

const (
	defaultChunkIdealTokens = 512
	defaultChunkMinTokens   = 256
	defaultChunkMaxTokens   = 8192
)

// Chapter is a structural section cut from a document in Phase A. Orders
// start at 1. Token positions are cumulative over the document, so the
// ranges of consecutive chapters are contiguous.
type Chapter struct {
	Title      string
	Text       string
	Order      int
	TokenStart int
	TokenEnd   int
	TokenCount int
}

// Config holds configuration for the splitter.
type Config struct {
	Counter *tokens.Counter
	Model   string // tokenizer model name, optional
	Ruleset Ruleset

	// Chunk sizing (Phase B). Zero values take the defaults:
	// ideal 512, minimum 256, maximum 8192 tokens. The maximum should be
	// set to the embedding model's context length.
	ChunkIdealTokens int
	ChunkMinTokens   int
	ChunkMaxTokens   int

	Logger hclog.Logger
}

// Splitter cuts documents into chapters and chapters into chunk plans.
// It is stateless and safe for concurrent use.
type Splitter struct {
	counter *tokens.Counter
	model   string
	ruleset Ruleset
	ideal   int
	min     int
	max     int
	logger  hclog.Logger
}

// New creates a splitter.
func New(config Config) *Splitter {
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}
	if config.Counter == nil {
		config.Counter = tokens.NewCounter(tokens.CounterConfig{Logger: config.Logger})
	}
	if config.Ruleset.ChapterTargets == nil {
		config.Ruleset = DefaultRuleset()
	}
	if config.ChunkIdealTokens <= 0 {
		config.ChunkIdealTokens = defaultChunkIdealTokens
	}
	if config.ChunkMinTokens <= 0 {
		config.ChunkMinTokens = defaultChunkMinTokens
	}
	if config.ChunkMaxTokens <= 0 {
		config.ChunkMaxTokens = defaultChunkMaxTokens
	}

	return &Splitter{
		counter: config.Counter,
		model:   config.Model,
		ruleset: config.Ruleset,
		ideal:   config.ChunkIdealTokens,
		min:     config.ChunkMinTokens,
		max:     config.ChunkMaxTokens,
		logger:  config.Logger.Named("splitter"),
	}
}

func (s *Splitter) count(ctx context.Context, text string) int {
	return s.counter.Count(ctx, text, s.model)
}

// SplitChapters cuts normalized document text into ordered chapters. Title
// detection runs in priority order: markdown headings, numbered headings,
// short all-caps lines, then normative headings (Título, Capítulo, Seção,
// Art.) for legal and contract content. Untitled leading content becomes a
// "Preamble" chapter. Chapters over the class target are subsplit at deeper
// headings, then paragraphs, then sentences.
func (s *Splitter) SplitChapters(ctx context.Context, text string, class ContentClass) []Chapter {
	normalized := NormalizeText(text)
	if normalized == "" {
		return nil
	}

	secs := s.sections(normalized, class)
	target := s.ruleset.TargetFor(class)

	var out []Chapter
	cursor := 0
	order := 1
	for _, sec := range secs {
		for _, part := range s.subsplit(ctx, sec, target) {
			n := s.count(ctx, part.text)
			out = append(out, Chapter{
				Title:      part.title,
				Text:       part.text,
				Order:      order,
				TokenStart: cursor,
				TokenEnd:   cursor + n,
				TokenCount: n,
			})
			order++
			cursor += n
		}
	}

	s.logger.Debug("document split into chapters",
		"class", class,
		"chapters", len(out),
		"tokens", cursor,
	)
	return out
}

// section is an intermediate cut keyed by the detector that produced it.
type section struct {
	title string
	level int
	text  string
	det   *titleDetector
}

// sections performs the first structural cut at detected title lines.
func (s *Splitter) sections(normalized string, class ContentClass) []section {
	lines := strings.Split(normalized, "\n")
	det := chooseDetector(lines, class)
	if det == nil {
		return []section{{title: PreambleTitle, text: normalized}}
	}

	var secs []section
	cur := section{title: PreambleTitle, det: det}
	var buf []string

	flush := func() {
		cur.text = strings.Trim(strings.Join(buf, "\n"), "\n")
		if cur.text != "" {
			secs = append(secs, cur)
		}
		buf = buf[:0]
	}

	for _, line := range lines {
		if title, level, ok := det.match(line); ok {
			flush()
			cur = section{title: title, level: level, det: det}
		}
		buf = append(buf, line)
	}
	flush()

	return secs
}

// subsplit breaks an oversized section down until every part fits the
// chapter token target. It tries deeper headings first, then paragraph
// packing, then sentence packing. Parts after the first get a numbered
// title suffix.
func (s *Splitter) subsplit(ctx context.Context, sec section, target int) []section {
	if s.count(ctx, sec.text) <= target {
		return []section{sec}
	}

	if subs := s.splitDeeperHeadings(sec); len(subs) > 1 {
		var out []section
		for _, sub := range subs {
			out = append(out, s.subsplit(ctx, sub, target)...)
		}
		return out
	}

	units := Paragraphs(sec.text)
	sep := "\n\n"
	if len(units) < 2 {
		units = Sentences(sec.text)
		sep = " "
	}
	if len(units) < 2 {
		// Nothing left to cut at; Phase B hard-cuts oversized text.
		return []section{sec}
	}

	parts := s.packUnits(ctx, units, target, sep)
	out := make([]section, 0, len(parts))
	for i, text := range parts {
		title := sec.title
		if i > 0 {
			title = fmt.Sprintf("%s (%d)", sec.title, i+1)
		}
		out = append(out, section{title: title, level: sec.level, text: text, det: sec.det})
	}
	return out
}

// splitDeeperHeadings re-cuts a section at headings deeper than its own
// level, when the detector has a level hierarchy (markdown, numbered).
func (s *Splitter) splitDeeperHeadings(sec section) []section {
	if sec.det == nil || !sec.det.leveled {
		return nil
	}

	lines := strings.Split(sec.text, "\n")
	var secs []section
	cur := section{title: sec.title, level: sec.level, det: sec.det}
	var buf []string

	flush := func() {
		cur.text = strings.Trim(strings.Join(buf, "\n"), "\n")
		if cur.text != "" {
			secs = append(secs, cur)
		}
		buf = buf[:0]
	}

	for i, line := range lines {
		if title, level, ok := sec.det.match(line); ok && level > sec.level && i > 0 {
			flush()
			cur = section{title: title, level: level, det: sec.det}
		}
		buf = append(buf, line)
	}
	flush()

	return secs
}

// packUnits greedily packs units (paragraphs or sentences) into parts of at
// most target tokens. A single unit over the target becomes its own part.
func (s *Splitter) packUnits(ctx context.Context, units []string, target int, sep string) []string {
	var parts []string
	var cur []string
	curTokens := 0

	for _, u := range units {
		n := s.count(ctx, u)
		if len(cur) > 0 && curTokens+n > target {
			parts = append(parts, strings.Join(cur, sep))
			cur = cur[:0]
			curTokens = 0
		}
		cur = append(cur, u)
		curTokens += n
	}
	if len(cur) > 0 {
		parts = append(parts, strings.Join(cur, sep))
	}
	return parts
}

// --- title detection ---

var (
	markdownHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	numberedHeadingRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)[.)]?\s+(\S.*)$`)
	normativeRe       = regexp.MustCompile(`^(titulo|capitulo|secao|art\.|artigo)\b`)
)

type titleDetector struct {
	name    string
	leveled bool
	match   func(line string) (title string, level int, ok bool)
}

var markdownDetector = &titleDetector{
	name:    "markdown",
	leveled: true,
	match: func(line string) (string, int, bool) {
		m := markdownHeadingRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			return "", 0, false
		}
		return strings.TrimSpace(m[2]), len(m[1]), true
	},
}

var numberedDetector = &titleDetector{
	name:    "numbered",
	leveled: true,
	match: func(line string) (string, int, bool) {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 100 {
			return "", 0, false
		}
		m := numberedHeadingRe.FindStringSubmatch(trimmed)
		if m == nil {
			return "", 0, false
		}
		return trimmed, strings.Count(m[1], ".") + 1, true
	},
}

var allCapsDetector = &titleDetector{
	name: "all-caps",
	match: func(line string) (string, int, bool) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || len(trimmed) > 80 {
			return "", 0, false
		}
		letters, others := 0, 0
		for _, r := range trimmed {
			switch {
			case unicode.IsLower(r):
				return "", 0, false
			case unicode.IsLetter(r):
				letters++
			case !unicode.IsSpace(r):
				others++
			}
		}
		if letters == 0 || float64(letters) < 0.6*float64(letters+others) {
			return "", 0, false
		}
		return trimmed, 1, true
	},
}

var normativeDetector = &titleDetector{
	name: "normative",
	match: func(line string) (string, int, bool) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || len(trimmed) > 120 {
			return "", 0, false
		}
		if !normativeRe.MatchString(Fold(trimmed)) {
			return "", 0, false
		}
		return trimmed, 1, true
	},
}

// chooseDetector picks the highest-priority detector that matches at least
// one line of the document. Normative headings are only considered for
// legal and contract content.
func chooseDetector(lines []string, class ContentClass) *titleDetector {
	detectors := []*titleDetector{markdownDetector, numberedDetector, allCapsDetector}
	if class == ClassLegal || class == ClassContract {
		detectors = append(detectors, normativeDetector)
	}

	for _, det := range detectors {
		for _, line := range lines {
			if _, _, ok := det.match(line); ok {
				return det
			}
		}
	}
	return nil
}
