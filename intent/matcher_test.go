package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/templates"
	"github.com/schmitech/orbit/vectorstore"
)

type fixedEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func ordersTemplate() templates.Template {
	return templates.Template{
		ID:          "find_orders_by_customer_id",
		Description: "Find all orders placed by a specific customer",
		NLExamples:  []string{"Show me customer 456's orders"},
		SemanticTags: templates.SemanticTags{
			Action:        "find",
			PrimaryEntity: "order",
		},
		Parameters: []templates.ParameterSpec{
			{Name: "customer_id", Type: "integer", Required: true,
				Description: "Numeric id of the customer"},
		},
		OperationTemplate: "SELECT * FROM orders WHERE customer_id = %(customer_id)s",
		ResultFormat:      templates.FormatList,
	}
}

func indexedStore(t *testing.T, embedder core.Embedder, vocab *templates.Vocabulary, tpls ...templates.Template) *templates.Store {
	t.Helper()
	store, err := templates.NewStore(tpls, templates.StoreOptions{
		Collection: "templates",
		Vectors:    vectorstore.NewMemoryStore(),
		Embedder:   embedder,
		Vocabulary: vocab,
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Index(context.Background()); err != nil {
		t.Fatalf("Index: %v", err)
	}
	return store
}

func TestMatcherAcceptsAboveThreshold(t *testing.T) {
	tpl := ordersTemplate()
	embedder := &fixedEmbedder{vectors: map[string][]float32{}}
	store := indexedStore(t, embedder, nil, tpl)

	match, err := NewMatcher(store, 0.75, 5, nil).Match(context.Background(), "show me customer 456's orders")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match.Template.ID != tpl.ID {
		t.Errorf("Wrong template: %s", match.Template.ID)
	}
	if match.Similarity < 0.75 {
		t.Errorf("Similarity below threshold: %f", match.Similarity)
	}
}

func TestMatcherBoostsEntityAndAction(t *testing.T) {
	tpl := ordersTemplate()
	text := tpl.EmbeddingText(nil)

	// Base similarity 0.5: query vector at 60° from the template's.
	embedder := &fixedEmbedder{vectors: map[string][]float32{
		text: {1, 0},
		"find the recent purchases please": {0.5, 0.8660254},
		"something unrelated entirely":     {0.5, 0.8660254},
	}}
	vocab := &templates.Vocabulary{
		EntitySynonyms: map[string][]string{"order": {"purchase"}},
		ActionVerbs:    map[string][]string{"find": {"show", "list"}},
	}
	store := indexedStore(t, embedder, vocab, tpl)
	matcher := NewMatcher(store, 0.75, 5, nil)

	// Entity synonym (+0.20) and action verb (+0.15) lift 0.5 over 0.75.
	match, err := matcher.Match(context.Background(), "find the recent purchases please")
	if err != nil {
		t.Fatalf("Expected boosted match, got %v", err)
	}
	if match.Similarity < 0.84 || match.Similarity > 0.86 {
		t.Errorf("Expected similarity ~0.85, got %f", match.Similarity)
	}

	// Without boosts the same base similarity stays under the threshold.
	if _, err := matcher.Match(context.Background(), "something unrelated entirely"); !errors.Is(err, core.ErrNoMatchingTemplate) {
		t.Errorf("Expected no match, got %v", err)
	}
}

func TestMatcherSimilarityCappedAtOne(t *testing.T) {
	tpl := ordersTemplate()
	text := tpl.EmbeddingText(nil)
	embedder := &fixedEmbedder{vectors: map[string][]float32{
		text: {1, 0},
		"find my orders": {1, 0},
	}}
	vocab := &templates.Vocabulary{ActionVerbs: map[string][]string{"find": {"find"}}}
	store := indexedStore(t, embedder, vocab, tpl)

	match, err := NewMatcher(store, 0.75, 5, nil).Match(context.Background(), "find my orders")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match.Similarity > 1.0 {
		t.Errorf("Similarity must cap at 1.0, got %f", match.Similarity)
	}
}

func TestMatcherFallsBackToTextOnEmbedFailure(t *testing.T) {
	tpl := ordersTemplate()
	failing, err := templates.NewStore([]templates.Template{tpl}, templates.StoreOptions{
		Collection: "templates",
		Vectors:    vectorstore.NewMemoryStore(),
		Embedder:   &fixedEmbedder{err: errors.New("provider down")},
	})
	if err != nil {
		t.Fatal(err)
	}

	match, err := NewMatcher(failing, 0.1, 5, nil).Match(context.Background(), "show me customer 456's orders")
	if err != nil {
		t.Fatalf("Expected text fallback match, got %v", err)
	}
	if !match.TextFallback {
		t.Error("Expected TextFallback to be set")
	}
}

func TestContainsWordBoundaries(t *testing.T) {
	if containsWord("cross the border now", "order") {
		t.Error("'order' must not match inside 'border'")
	}
	if !containsWord("show my orders", "order") {
		t.Error("plural 'orders' must match 'order'")
	}
	if !containsWord("order it", "order") {
		t.Error("exact word must match")
	}
}
