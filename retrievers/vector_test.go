package retrievers

import (
	"context"
	"errors"
	"testing"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/vectorstore"
)

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
	return []float32{1, 0}, nil
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

func seedCollection(t *testing.T, store core.VectorStore, collection string, records ...core.VectorRecord) {
	t.Helper()
	if err := store.Add(context.Background(), collection, records); err != nil {
		t.Fatalf("Add: %v", err)
	}
}

func TestVectorRetrieverFiltersByThreshold(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	seedCollection(t, store, "docs",
		core.VectorRecord{ID: "close", Embedding: []float32{1, 0}, Document: "refund policy details"},
		core.VectorRecord{ID: "far", Embedding: []float32{0, 1}, Document: "unrelated shipping note"},
	)

	r, err := NewVectorRetriever("docs-retriever", VectorRetrieverOptions{
		Collection:         "docs",
		Store:              store,
		Embedder:           &stubEmbedder{},
		RelevanceThreshold: 0.5,
	})
	if err != nil {
		t.Fatal(err)
	}

	items, err := r.Retrieve(context.Background(), "what is the refund policy", core.RetrieveOptions{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item above threshold, got %d", len(items))
	}
	if items[0].Content != "refund policy details" {
		t.Errorf("Content: %q", items[0].Content)
	}
	if items[0].Confidence < 0.99 {
		t.Errorf("Identical vectors must score ~1.0, got %f", items[0].Confidence)
	}
}

func TestVectorRetrieverRespectsOptionOverrides(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	seedCollection(t, store, "docs",
		core.VectorRecord{ID: "a", Embedding: []float32{1, 0}, Document: "a"},
		core.VectorRecord{ID: "b", Embedding: []float32{0.9, 0.1}, Document: "b"},
		core.VectorRecord{ID: "c", Embedding: []float32{0.8, 0.2}, Document: "c"},
	)
	seedCollection(t, store, "other",
		core.VectorRecord{ID: "x", Embedding: []float32{1, 0}, Document: "from other"},
	)

	r, err := NewVectorRetriever("docs-retriever", VectorRetrieverOptions{
		Collection: "docs",
		Store:      store,
		Embedder:   &stubEmbedder{},
	})
	if err != nil {
		t.Fatal(err)
	}

	items, err := r.Retrieve(context.Background(), "q", core.RetrieveOptions{MaxResults: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Errorf("MaxResults override: got %d items", len(items))
	}

	items, err = r.Retrieve(context.Background(), "q", core.RetrieveOptions{CollectionOverride: "other"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Content != "from other" {
		t.Errorf("Collection override: %v", items)
	}
}

func TestVectorRetrieverEmbedFailure(t *testing.T) {
	r, err := NewVectorRetriever("docs-retriever", VectorRetrieverOptions{
		Collection: "docs",
		Store:      vectorstore.NewMemoryStore(),
		Embedder:   &stubEmbedder{err: errors.New("provider down")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Retrieve(context.Background(), "q", core.RetrieveOptions{}); err == nil {
		t.Error("Expected embed error to propagate")
	}
}

func TestVectorRetrieverRequiresConfiguration(t *testing.T) {
	_, err := NewVectorRetriever("bad", VectorRetrieverOptions{Collection: "docs"})
	if !errors.Is(err, core.ErrMissingConfiguration) {
		t.Errorf("Expected missing configuration, got %v", err)
	}
}

func TestDistanceToSimilarityClamps(t *testing.T) {
	if s := distanceToSimilarity(2.0); s != 0 {
		t.Errorf("Opposite vectors: %f", s)
	}
	if s := distanceToSimilarity(-0.01); s != 1 {
		t.Errorf("Negative distance clamps to 1: %f", s)
	}
	if s := distanceToSimilarity(0.25); s != 0.75 {
		t.Errorf("Mid distance: %f", s)
	}
}
