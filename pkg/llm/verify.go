package llm

import (
	"context"
	"math"
	"strings"
)

// embedDual runs the embedding on the primary and secondary providers and
// compares the vectors by cosine similarity. The primary result is always
// the one returned; disagreement only warns.
func (d *Dispatcher) embedDual(ctx context.Context, text, model string) ([]float32, error) {
	primary, secondary := d.providers[0], d.providers[1]

	d.stats.recordRequest(primary.Name())
	var result []float32
	err := d.withRetry(ctx, primary, func(ctx context.Context, p Provider) error {
		v, err := p.Embed(ctx, text, model)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		d.stats.recordFailure(primary.Name())
		return nil, err
	}

	d.stats.recordRequest(secondary.Name())
	check, err := secondary.Embed(ctx, text, model)
	if err != nil {
		d.stats.recordFailure(secondary.Name())
		d.logger.Warn("verification provider failed", "provider", secondary.Name(), "error", err)
		return result, nil
	}

	similarity := CosineSimilarity(result, check)
	if similarity < d.agreementThreshold {
		d.logger.Warn("providers disagree on embedding",
			"primary", primary.Name(),
			"secondary", secondary.Name(),
			"cosine_similarity", similarity,
			"threshold", d.agreementThreshold,
		)
	}
	return result, nil
}

// completeDual runs the completion on both providers and compares the texts
// by Jaccard word overlap.
func (d *Dispatcher) completeDual(ctx context.Context, params CompletionParams) (string, error) {
	primary, secondary := d.providers[0], d.providers[1]

	d.stats.recordRequest(primary.Name())
	var result string
	err := d.withRetry(ctx, primary, func(ctx context.Context, p Provider) error {
		text, err := p.Complete(ctx, params)
		if err != nil {
			return err
		}
		result = text
		return nil
	})
	if err != nil {
		d.stats.recordFailure(primary.Name())
		return "", err
	}

	d.stats.recordRequest(secondary.Name())
	check, err := secondary.Complete(ctx, params)
	if err != nil {
		d.stats.recordFailure(secondary.Name())
		d.logger.Warn("verification provider failed", "provider", secondary.Name(), "error", err)
		return result, nil
	}

	similarity := JaccardSimilarity(result, check)
	if similarity < d.agreementThreshold {
		d.logger.Warn("providers disagree on completion",
			"primary", primary.Name(),
			"secondary", secondary.Name(),
			"jaccard_similarity", similarity,
			"threshold", d.agreementThreshold,
		)
	}
	return result, nil
}

// CosineSimilarity returns the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// JaccardSimilarity returns the word-set overlap between two texts,
// case-insensitively. Two empty texts count as identical.
func JaccardSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}

	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(w, ".,;:!?\"'()[]")] = true
	}
	delete(set, "")
	return set
}
