package splitter

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	blankLineRe = regexp.MustCompile(`\n[ \t]*\n[\s]*`)
	// Sentence boundary: terminal punctuation followed by whitespace.
	sentenceEndRe = regexp.MustCompile(`([.!?…])\s+`)
)

// foldTransformer decomposes to NFD, strips combining marks, and recomposes.
// This folds "Seção" and "Secao" to the same form.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lower-cases s and strips diacritics. Used for accent- and
// case-insensitive comparisons (duplicate paragraph detection, title
// keyword matching).
func Fold(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// NormalizeText canonicalizes a document body: CRLF to LF, trailing
// whitespace stripped per line, runs of blank lines collapsed to one
// paragraph break, and consecutive duplicate paragraphs (compared
// case- and accent-insensitively) collapsed to a single occurrence.
// Headers and footers repeated on page boundaries collapse here.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.TrimSpace(strings.Join(lines, "\n"))

	paras := Paragraphs(text)
	paras = CollapseRepeats(paras)
	return strings.Join(paras, "\n\n")
}

// Paragraphs splits text into paragraphs on blank lines. Each paragraph is
// trimmed; empty paragraphs are dropped.
func Paragraphs(text string) []string {
	var out []string
	for _, p := range blankLineRe.Split(text, -1) {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CollapseRepeats removes consecutive duplicate paragraphs. Two paragraphs
// are duplicates when they are equal after whitespace, case, and accent
// folding.
func CollapseRepeats(paras []string) []string {
	if len(paras) < 2 {
		return paras
	}

	out := paras[:0:0]
	prev := ""
	for _, p := range paras {
		key := Fold(strings.Join(strings.Fields(p), " "))
		if key != "" && key == prev {
			continue
		}
		out = append(out, p)
		prev = key
	}
	return out
}

// Sentences splits a paragraph into sentences on terminal punctuation. The
// punctuation stays attached to its sentence. Text without terminal
// punctuation comes back as a single sentence.
func Sentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	last := 0
	for _, loc := range sentenceEndRe.FindAllStringSubmatchIndex(text, -1) {
		// loc[3] is the end of the punctuation group.
		s := strings.TrimSpace(text[last:loc[3]])
		if s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if rest := strings.TrimSpace(text[last:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
