package splitter

import (
	"context"
	"strings"
	"unicode/utf8"
)

// ChunkPlan is the Phase B output for one chapter. A chapter at or under
// the ideal chunk size is stored whole (WholeChapter true, no excerpts);
// otherwise Excerpts carries the ordered excerpt texts.
type ChunkPlan struct {
	WholeChapter bool
	Excerpts     []string
}

// PlanChunks packs a chapter into retrieval-sized excerpts. Cuts prefer a
// paragraph boundary falling within [0.7, 1.3] times the ideal size, then a
// sentence boundary, then a hard character cut. Excerpts never exceed the
// configured maximum; a trailing excerpt under the minimum merges into its
// predecessor.
func (s *Splitter) PlanChunks(ctx context.Context, ch Chapter) ChunkPlan {
	n := ch.TokenCount
	if n == 0 {
		n = s.count(ctx, ch.Text)
	}
	if n <= s.ideal {
		return ChunkPlan{WholeChapter: true}
	}

	high := int(1.3 * float64(s.ideal))

	excerpts := s.packParagraphs(ctx, Paragraphs(ch.Text), high)
	excerpts = s.mergeShortTail(ctx, excerpts)
	excerpts = s.enforceMax(ctx, excerpts)

	return ChunkPlan{Excerpts: excerpts}
}

// packParagraphs accumulates paragraphs, cutting at the first boundary at
// or past the ideal size, or earlier when the next paragraph would push the
// excerpt past the upper window bound. Paragraphs too large for the window
// fall through to sentence packing.
func (s *Splitter) packParagraphs(ctx context.Context, paras []string, high int) []string {
	var out []string
	var cur []string
	curTokens := 0

	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, "\n\n"))
			cur = cur[:0]
			curTokens = 0
		}
	}

	for _, p := range paras {
		pt := s.count(ctx, p)
		if pt > high {
			flush()
			out = append(out, s.packSentences(ctx, p, high)...)
			continue
		}
		if curTokens > 0 && curTokens+pt > high {
			flush()
		}
		cur = append(cur, p)
		curTokens += pt
		if curTokens >= s.ideal {
			flush()
		}
	}
	flush()

	return out
}

// packSentences packs an oversized paragraph at sentence boundaries.
func (s *Splitter) packSentences(ctx context.Context, para string, high int) []string {
	var out []string
	var cur []string
	curTokens := 0

	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
			cur = cur[:0]
			curTokens = 0
		}
	}

	for _, sent := range Sentences(para) {
		st := s.count(ctx, sent)
		if curTokens > 0 && curTokens+st > high {
			flush()
		}
		cur = append(cur, sent)
		curTokens += st
		if curTokens >= s.ideal {
			flush()
		}
	}
	flush()

	return out
}

// mergeShortTail folds a final excerpt under the minimum size into its
// predecessor so no undersized excerpt is emitted.
func (s *Splitter) mergeShortTail(ctx context.Context, excerpts []string) []string {
	n := len(excerpts)
	if n < 2 {
		return excerpts
	}
	if s.count(ctx, excerpts[n-1]) >= s.min {
		return excerpts
	}
	merged := excerpts[n-2] + "\n\n" + excerpts[n-1]
	return append(excerpts[:n-2], merged)
}

// enforceMax hard-cuts any excerpt over the maximum token size. The cut is
// by characters at the heuristic ratio, aligned to a rune boundary.
func (s *Splitter) enforceMax(ctx context.Context, excerpts []string) []string {
	var out []string
	for _, e := range excerpts {
		if s.count(ctx, e) <= s.max {
			out = append(out, e)
			continue
		}
		out = append(out, hardCut(e, s.max*4)...)
	}
	return out
}

// hardCut slices text into pieces of at most maxChars bytes without
// breaking UTF-8 sequences.
func hardCut(text string, maxChars int) []string {
	if maxChars <= 0 || len(text) <= maxChars {
		return []string{text}
	}

	var out []string
	for len(text) > maxChars {
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxChars
		}
		out = append(out, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
