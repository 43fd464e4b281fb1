// Package router assigns a content class to incoming documents. The class
// drives chapter sizing and title detection in the splitter. Routing never
// fails: when every signal is inconclusive the document is generic.
package router

import (
	"context"
	"regexp"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/acervolabs/acervo/pkg/splitter"
)

// classifySampleSize is how much of the document head is offered to the
// classifier and the heuristics. Class signals concentrate at the top.
const classifySampleSize = 500

// Classifier labels text against a fixed label set. The LLM layer provides
// one; a nil classifier skips straight to the heuristics.
type Classifier interface {
	Classify(ctx context.Context, text string, labels []string) (string, error)
}

// Config holds configuration for the router.
type Config struct {
	Classifier Classifier   // optional
	SampleSize int          // default 500 characters
	Logger     hclog.Logger // optional
}

// Router resolves the content class for a document, in priority order:
// a valid caller hint, LLM classification, keyword heuristics, generic.
type Router struct {
	classifier Classifier
	sampleSize int
	logger     hclog.Logger
}

// New creates a router.
func New(config Config) *Router {
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}
	if config.SampleSize <= 0 {
		config.SampleSize = classifySampleSize
	}
	return &Router{
		classifier: config.Classifier,
		sampleSize: config.SampleSize,
		logger:     config.Logger.Named("router"),
	}
}

// Route returns the content class for the document. An unrecognized hint is
// logged and ignored rather than failing the ingest.
func (r *Router) Route(ctx context.Context, text, hint string) splitter.ContentClass {
	return r.RouteWith(ctx, text, hint, r.classifier)
}

// RouteWith is Route with a per-call classifier. Ingestion uses it to
// classify under the library's own completion model; a nil classifier skips
// straight to the heuristics.
func (r *Router) RouteWith(ctx context.Context, text, hint string, classifier Classifier) splitter.ContentClass {
	if hint != "" {
		class := splitter.ContentClass(strings.ToLower(strings.TrimSpace(hint)))
		if class.Valid() {
			return class
		}
		r.logger.Warn("ignoring unrecognized content class hint", "hint", hint)
	}

	sample := text
	if len(sample) > r.sampleSize {
		sample = sample[:r.sampleSize]
	}

	if class, ok := r.classify(ctx, classifier, sample); ok {
		return class
	}
	if class, ok := classifyByKeywords(sample); ok {
		return class
	}
	return splitter.ClassGeneric
}

func (r *Router) classify(ctx context.Context, classifier Classifier, sample string) (splitter.ContentClass, bool) {
	if classifier == nil {
		return "", false
	}

	labels := make([]string, len(splitter.AllClasses))
	for i, c := range splitter.AllClasses {
		labels[i] = string(c)
	}

	label, err := classifier.Classify(ctx, sample, labels)
	if err != nil {
		r.logger.Warn("content classification failed, falling back to heuristics", "error", err)
		return "", false
	}

	class := splitter.ContentClass(strings.ToLower(strings.TrimSpace(label)))
	if !class.Valid() {
		r.logger.Warn("classifier returned a label outside the set", "label", label)
		return "", false
	}
	return class, true
}

// Keyword heuristics. Patterns match the accent-folded, lower-cased sample
// so "Cláusula" and "clausula" score the same.
var classSignals = map[splitter.ContentClass]*regexp.Regexp{
	splitter.ClassLegal: regexp.MustCompile(
		`\bart\. ?\d|\bartigo \d|\bparagrafo unico\b|\blei n|\bdecreto\b|\bportaria\b|\bresolucao n|\bwhereas\b|\bpursuant to\b`),
	splitter.ClassContract: regexp.MustCompile(
		`\bclausula\b|\bcontratante\b|\bcontratada\b|\bhereinafter\b|\bparty of the first part\b|\bforo\b.*\bcomarca\b`),
	splitter.ClassManual: regexp.MustCompile(
		`\binstall(ation)?\b|\bconfigure\b|\btroubleshoot|\bstep \d|\bpasso \d|\bwarning:\b|\batencao:\b`),
	splitter.ClassArticle: regexp.MustCompile(
		`\babstract\b|\bresumo\b.*\bpalavras-chave\b|\bintroduction\b.*\breferences\b|\bdoi:\b`),
	splitter.ClassWiki: regexp.MustCompile(
		`==[^=\n]+==|\{\{[a-z]+|\[\[[^\]]+\]\]`),
	splitter.ClassBook: regexp.MustCompile(
		`\bchapter \d+\b|\bcapitulo \d+\b|\bprologo\b|\bepilogo\b|\bsumario\b`),
}

// signalOrder fixes heuristic precedence: the most specific classes first.
var signalOrder = []splitter.ContentClass{
	splitter.ClassContract,
	splitter.ClassLegal,
	splitter.ClassWiki,
	splitter.ClassArticle,
	splitter.ClassManual,
	splitter.ClassBook,
}

func classifyByKeywords(sample string) (splitter.ContentClass, bool) {
	folded := splitter.Fold(sample)
	for _, class := range signalOrder {
		if classSignals[class].MatchString(folded) {
			return class, true
		}
	}
	return "", false
}
