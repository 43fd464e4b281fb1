package splitter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ContentClass labels the kind of document being split. The class picks the
// chapter target size and enables class-specific title detection.
type ContentClass string

const (
	ClassLegal    ContentClass = "legal"
	ClassWiki     ContentClass = "wiki"
	ClassArticle  ContentClass = "article"
	ClassManual   ContentClass = "manual"
	ClassBook     ContentClass = "book"
	ClassContract ContentClass = "contract"
	ClassGeneric  ContentClass = "generic"
)

// AllClasses lists every recognized content class, used as the label set
// for LLM classification.
var AllClasses = []ContentClass{
	ClassLegal, ClassWiki, ClassArticle, ClassManual,
	ClassBook, ClassContract, ClassGeneric,
}

// Valid reports whether c is a recognized content class.
func (c ContentClass) Valid() bool {
	for _, k := range AllClasses {
		if c == k {
			return true
		}
	}
	return false
}

// defaultChapterTarget is the chapter token target for classes without an
// explicit entry.
const defaultChapterTarget = 8000

// Ruleset carries the per-content-class chapter token targets. A ruleset
// file can override individual entries; missing classes keep the defaults.
type Ruleset struct {
	ChapterTargets map[ContentClass]int `yaml:"chapter_targets"`
}

// DefaultRuleset returns the built-in chapter targets.
func DefaultRuleset() Ruleset {
	return Ruleset{
		ChapterTargets: map[ContentClass]int{
			ClassLegal:    1500,
			ClassContract: 1500,
			ClassManual:   1800,
			ClassArticle:  2000,
			ClassWiki:     2000,
			ClassBook:     2500,
			ClassGeneric:  defaultChapterTarget,
		},
	}
}

// LoadRuleset reads a YAML ruleset file and merges it over the defaults.
func LoadRuleset(path string) (Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Ruleset{}, fmt.Errorf("failed to read ruleset file: %w", err)
	}
	return ParseRuleset(data)
}

// ParseRuleset parses YAML ruleset content and merges it over the defaults.
func ParseRuleset(data []byte) (Ruleset, error) {
	var loaded Ruleset
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Ruleset{}, fmt.Errorf("failed to parse ruleset: %w", err)
	}

	rs := DefaultRuleset()
	for class, target := range loaded.ChapterTargets {
		if !class.Valid() {
			return Ruleset{}, fmt.Errorf("ruleset references unknown content class %q", class)
		}
		if target <= 0 {
			return Ruleset{}, fmt.Errorf("ruleset target for %q must be positive", class)
		}
		rs.ChapterTargets[class] = target
	}
	return rs, nil
}

// TargetFor returns the chapter token target for the given class.
func (r Ruleset) TargetFor(class ContentClass) int {
	if t, ok := r.ChapterTargets[class]; ok && t > 0 {
		return t
	}
	return defaultChapterTarget
}
