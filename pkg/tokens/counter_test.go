package tokens

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeTokenizer struct {
	n   int
	err error
}

func (f *fakeTokenizer) CountTokens(ctx context.Context, text, model string) (int, error) {
	return f.n, f.err
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},      // 4/4.2 -> 1
		{"abcde", 2},     // 5/4.2 -> 2
		{strings.Repeat("x", 42), 10},
		{strings.Repeat("x", 43), 11},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Estimate(tt.text), "text length %d", len(tt.text))
	}
}

func TestCountDelegatesToTokenizer(t *testing.T) {
	c := NewCounter(CounterConfig{Tokenizer: &fakeTokenizer{n: 7}})
	assert.Equal(t, 7, c.Count(context.Background(), "some text", "llama3"))
}

func TestCountFallsBackOnTokenizerError(t *testing.T) {
	c := NewCounter(CounterConfig{Tokenizer: &fakeTokenizer{err: errors.New("offline")}})
	text := strings.Repeat("x", 42)
	assert.Equal(t, Estimate(text), c.Count(context.Background(), text, "llama3"))
}

func TestCountWithoutTokenizer(t *testing.T) {
	c := NewCounter(CounterConfig{})
	assert.Equal(t, Estimate("hello world"), c.Count(context.Background(), "hello world", ""))
	assert.Equal(t, 0, c.Count(context.Background(), "", "any"))
}

func TestCountStableWithinRun(t *testing.T) {
	c := NewCounter(CounterConfig{})
	first := c.Count(context.Background(), "repeatable input", "m")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Count(context.Background(), "repeatable input", "m"))
	}
}
