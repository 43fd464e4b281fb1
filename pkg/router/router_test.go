package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/acervolabs/acervo/pkg/splitter"
)

type fakeClassifier struct {
	label  string
	err    error
	called bool
}

func (f *fakeClassifier) Classify(ctx context.Context, text string, labels []string) (string, error) {
	f.called = true
	return f.label, f.err
}

func TestRouteHonorsValidHint(t *testing.T) {
	fc := &fakeClassifier{label: "book"}
	r := New(Config{Classifier: fc})

	class := r.Route(context.Background(), "anything", "Legal")
	assert.Equal(t, splitter.ClassLegal, class)
	assert.False(t, fc.called, "a valid hint must short-circuit classification")
}

func TestRouteIgnoresUnknownHint(t *testing.T) {
	r := New(Config{Classifier: &fakeClassifier{label: "manual"}})
	class := r.Route(context.Background(), "how to install the unit", "poetry")
	assert.Equal(t, splitter.ClassManual, class)
}

func TestRouteUsesClassifier(t *testing.T) {
	r := New(Config{Classifier: &fakeClassifier{label: " Article \n"}})
	assert.Equal(t, splitter.ClassArticle, r.Route(context.Background(), "plain text", ""))
}

func TestRouteFallsBackWhenClassifierFails(t *testing.T) {
	tests := []struct {
		name       string
		classifier *fakeClassifier
	}{
		{"error", &fakeClassifier{err: errors.New("provider offline")}},
		{"label outside set", &fakeClassifier{label: "recipe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(Config{Classifier: tt.classifier})
			class := r.Route(context.Background(), "Cláusula primeira: do objeto do contrato", "")
			assert.Equal(t, splitter.ClassContract, class)
		})
	}
}

func TestRouteKeywordHeuristics(t *testing.T) {
	r := New(Config{})

	tests := []struct {
		text string
		want splitter.ContentClass
	}{
		{"Art. 1 Fica instituído o programa nacional", splitter.ClassLegal},
		{"Cláusula segunda: a CONTRATADA obriga-se a", splitter.ClassContract},
		{"== History ==\nThe term was coined in", splitter.ClassWiki},
		{"Abstract\nWe present a method for", splitter.ClassArticle},
		{"Step 1: install the bracket. Warning: sharp edges", splitter.ClassManual},
		{"Capítulo 12\nO sol nascia sobre a serra", splitter.ClassBook},
		{"nothing special about this text at all", splitter.ClassGeneric},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Route(context.Background(), tt.text, ""), "text: %s", tt.text)
	}
}

func TestRouteNeverFails(t *testing.T) {
	r := New(Config{Classifier: &fakeClassifier{err: errors.New("down")}})
	assert.Equal(t, splitter.ClassGeneric, r.Route(context.Background(), "", ""))
}
