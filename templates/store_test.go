package templates

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/vectorstore"
)

// stubEmbedder returns canned vectors per text, defaulting to unit-x.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func orderTemplate() Template {
	return Template{
		ID:          "find_orders_by_customer_id",
		Description: "Find all orders for a specific customer",
		NLExamples:  []string{"Show me customer 456's orders", "orders for customer 12"},
		Tags:        []string{"orders", "customer"},
		SemanticTags: SemanticTags{
			Action:        "find",
			PrimaryEntity: "order",
		},
		Parameters: []ParameterSpec{
			{Name: "customer_id", Type: "integer", Required: true},
		},
		OperationTemplate: "SELECT * FROM orders WHERE customer_id = %(customer_id)s",
		ResultFormat:      FormatList,
	}
}

func TestEmbeddingTextIsNormalized(t *testing.T) {
	tpl := orderTemplate()
	tpl.Description = "Find   All Orders\n for a customer"
	vocab := &Vocabulary{EntitySynonyms: map[string][]string{"order": {"purchase", "sale"}}}

	text := tpl.EmbeddingText(vocab)
	if text != strings.ToLower(text) {
		t.Error("Embedding text must be lowercase")
	}
	if strings.Contains(text, "  ") || strings.Contains(text, "\n") {
		t.Errorf("Embedding text must be single-spaced: %q", text)
	}
	for _, want := range []string{"customer_id", "purchase", "sale", "find", "order", "show me customer 456's orders"} {
		if !strings.Contains(text, want) {
			t.Errorf("Embedding text missing %q: %q", want, text)
		}
	}
}

func TestLoadLibrary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "library.yaml")
	content := `
templates:
  - id: find_customer
    description: Find a customer by id
    nl_examples: ["show customer 5"]
    semantic_tags:
      action: find
      primary_entity: customer
    parameters:
      - name: customer_id
        type: integer
        required: true
    operation_template: "SELECT * FROM customers WHERE id = %(customer_id)s"
vocabulary:
  entity_synonyms:
    customer: [client, account]
  time_periods:
    yesterday: 1
    last week: 7
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	tpls, vocab, err := LoadLibrary(path)
	if err != nil {
		t.Fatalf("LoadLibrary: %v", err)
	}
	if len(tpls) != 1 || tpls[0].ID != "find_customer" {
		t.Fatalf("Unexpected templates: %+v", tpls)
	}
	if tpls[0].ResultFormat != FormatList {
		t.Errorf("Expected default result_format list, got %q", tpls[0].ResultFormat)
	}
	if vocab == nil || vocab.TimePeriods["last week"] != 7 {
		t.Errorf("Vocabulary not loaded: %+v", vocab)
	}
	if got := vocab.SynonymsFor("Customer"); len(got) != 2 {
		t.Errorf("SynonymsFor must be case-insensitive, got %v", got)
	}
}

func TestLoadLibraryRejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dupes.yaml")
	content := `
templates:
  - id: t1
    description: first
  - id: t1
    description: second
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadLibrary(path); !core.IsConfigurationError(err) {
		t.Errorf("Expected configuration error for duplicate ids, got %v", err)
	}
}

func TestIndexIsIdempotent(t *testing.T) {
	vectors := vectorstore.NewMemoryStore()
	store, err := NewStore([]Template{orderTemplate()}, StoreOptions{
		Collection: "templates",
		Vectors:    vectors,
		Embedder:   &stubEmbedder{},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ctx := context.Background()
	if err := store.Index(ctx); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := store.Index(ctx); err != nil {
		t.Fatalf("Re-index: %v", err)
	}
	if n := vectors.Count("templates"); n != 1 {
		t.Errorf("Re-indexing must replace, not duplicate: %d records", n)
	}
}

func TestIndexedMetadataRoundTrip(t *testing.T) {
	vectors := vectorstore.NewMemoryStore()
	tpl := orderTemplate()
	store, _ := NewStore([]Template{tpl}, StoreOptions{
		Collection: "templates",
		Vectors:    vectors,
		Embedder:   &stubEmbedder{},
	})
	ctx := context.Background()
	if err := store.Index(ctx); err != nil {
		t.Fatalf("Index: %v", err)
	}

	matches, err := vectors.Search(ctx, "templates", []float32{1, 0, 0}, 1)
	if err != nil || len(matches) != 1 {
		t.Fatalf("Search: %v (%d matches)", err, len(matches))
	}
	want := tpl.EmbeddingText(nil)
	if got := matches[0].Record.Metadata["embedding_text"]; got != want {
		t.Errorf("Stored embedding text mismatch:\n got %q\nwant %q", got, want)
	}
	if matches[0].Record.Metadata["template_id"] != tpl.ID {
		t.Errorf("Stored template id mismatch: %v", matches[0].Record.Metadata["template_id"])
	}
}

func TestSearchVectorClampsSimilarity(t *testing.T) {
	vectors := vectorstore.NewMemoryStore()
	tpl := orderTemplate()
	embedder := &stubEmbedder{vectors: map[string][]float32{
		tpl.EmbeddingText(nil): {1, 0, 0},
		"opposite query":       {-1, 0, 0},
	}}
	store, _ := NewStore([]Template{tpl}, StoreOptions{
		Collection: "templates",
		Vectors:    vectors,
		Embedder:   embedder,
	})
	ctx := context.Background()
	if err := store.Index(ctx); err != nil {
		t.Fatalf("Index: %v", err)
	}

	// Opposite vector has distance 2; similarity clamps to 0, never negative.
	scored, err := store.SearchVector(ctx, "opposite query", 5)
	if err != nil {
		t.Fatalf("SearchVector: %v", err)
	}
	if len(scored) != 1 || scored[0].Similarity != 0 {
		t.Errorf("Expected clamped similarity 0, got %+v", scored)
	}

	scored, err = store.SearchVector(ctx, "anything aligned", 5)
	if err != nil {
		t.Fatalf("SearchVector: %v", err)
	}
	if scored[0].Similarity < 0.999 {
		t.Errorf("Expected similarity ~1 for aligned query, got %f", scored[0].Similarity)
	}
}

func TestSearchTextRanksByJaccard(t *testing.T) {
	orders := orderTemplate()
	customers := Template{
		ID:           "find_customer",
		Description:  "Find a customer record by id",
		NLExamples:   []string{"show customer details"},
		SemanticTags: SemanticTags{Action: "find", PrimaryEntity: "customer"},
		ResultFormat: FormatList,
	}
	store, _ := NewStore([]Template{orders, customers}, StoreOptions{
		Collection: "templates",
		Vectors:    vectorstore.NewMemoryStore(),
	})

	scored := store.SearchText("show me customer 456's orders", 2)
	if len(scored) != 2 {
		t.Fatalf("Expected 2 scored templates, got %d", len(scored))
	}
	if scored[0].Template.ID != orders.ID {
		t.Errorf("Expected order template first, got %s", scored[0].Template.ID)
	}
	if scored[0].Similarity <= scored[1].Similarity {
		t.Errorf("Expected descending similarity: %f then %f", scored[0].Similarity, scored[1].Similarity)
	}
}

func TestSearchVectorFailsWhenEmbedderErrors(t *testing.T) {
	store, _ := NewStore([]Template{orderTemplate()}, StoreOptions{
		Collection: "templates",
		Vectors:    vectorstore.NewMemoryStore(),
		Embedder:   &stubEmbedder{err: errors.New("provider down")},
	})
	if _, err := store.SearchVector(context.Background(), "q", 5); err == nil {
		t.Error("Expected error when embedder fails")
	}
}

func TestReplaceRemovesStaleTemplates(t *testing.T) {
	vectors := vectorstore.NewMemoryStore()
	store, _ := NewStore([]Template{orderTemplate()}, StoreOptions{
		Collection: "templates",
		Vectors:    vectors,
		Embedder:   &stubEmbedder{},
	})
	ctx := context.Background()
	if err := store.Index(ctx); err != nil {
		t.Fatalf("Index: %v", err)
	}

	replacement := Template{
		ID:           "count_orders",
		Description:  "Count all orders",
		ResultFormat: FormatSummary,
	}
	if err := store.Replace(ctx, []Template{replacement}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	if _, err := store.Get("find_orders_by_customer_id"); !core.IsNotFound(err) {
		t.Errorf("Expected old template gone, got %v", err)
	}
	if _, err := store.Get("count_orders"); err != nil {
		t.Errorf("Expected new template present, got %v", err)
	}
	if n := vectors.Count("templates"); n != 1 {
		t.Errorf("Expected 1 vector after replace, got %d", n)
	}
}

func TestJaccard(t *testing.T) {
	a := Tokenize("show me customer orders")
	b := Tokenize("customer orders for today")
	sim := Jaccard(a, b)
	if sim <= 0 || sim >= 1 {
		t.Errorf("Expected partial overlap in (0,1), got %f", sim)
	}
	if Jaccard(a, a) != 1 {
		t.Errorf("Identical sets must score 1, got %f", Jaccard(a, a))
	}
	if Jaccard(a, map[string]bool{}) != 0 {
		t.Error("Empty set must score 0")
	}
}
