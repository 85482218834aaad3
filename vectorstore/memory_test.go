package vectorstore

import (
	"context"
	"testing"

	"github.com/schmitech/orbit/core"
)

func record(id string, embedding []float32) core.VectorRecord {
	return core.VectorRecord{ID: id, Embedding: embedding, Document: "doc-" + id}
}

func TestMemoryStoreSearchOrdersByDistance(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Add(ctx, "templates", []core.VectorRecord{
		record("aligned", []float32{1, 0, 0}),
		record("close", []float32{0.9, 0.1, 0}),
		record("orthogonal", []float32{0, 1, 0}),
		record("opposite", []float32{-1, 0, 0}),
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	matches, err := store.Search(ctx, "templates", []float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("Expected 3 matches, got %d", len(matches))
	}
	if matches[0].Record.ID != "aligned" {
		t.Errorf("Expected aligned first, got %s", matches[0].Record.ID)
	}
	if matches[0].Distance > 1e-9 {
		t.Errorf("Identical vector should have ~0 distance, got %f", matches[0].Distance)
	}
	if matches[1].Record.ID != "close" {
		t.Errorf("Expected close second, got %s", matches[1].Record.ID)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Distance < matches[i-1].Distance {
			t.Errorf("Matches not sorted ascending: %f before %f", matches[i-1].Distance, matches[i].Distance)
		}
	}
}

func TestMemoryStoreOppositeVectorDistance(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Add(ctx, "c", []core.VectorRecord{record("opp", []float32{-1, 0})})
	matches, err := store.Search(ctx, "c", []float32{1, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if matches[0].Distance < 1.99 || matches[0].Distance > 2.01 {
		t.Errorf("Opposite vectors should have distance ~2, got %f", matches[0].Distance)
	}
}

func TestMemoryStoreUpsertReplacesByID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Add(ctx, "c", []core.VectorRecord{record("x", []float32{1, 0})})
	_ = store.Add(ctx, "c", []core.VectorRecord{record("x", []float32{0, 1})})

	if n := store.Count("c"); n != 1 {
		t.Errorf("Expected upsert to keep 1 record, got %d", n)
	}
	matches, _ := store.Search(ctx, "c", []float32{0, 1}, 1)
	if matches[0].Distance > 1e-9 {
		t.Errorf("Expected updated embedding to match query, distance %f", matches[0].Distance)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Add(ctx, "c", []core.VectorRecord{
		record("a", []float32{1, 0}),
		record("b", []float32{0, 1}),
	})
	if err := store.Delete(ctx, "c", []string{"a", "missing"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n := store.Count("c"); n != 1 {
		t.Errorf("Expected 1 record after delete, got %d", n)
	}

	if err := store.DeleteCollection(ctx, "c"); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}
	names, _ := store.ListCollections(ctx)
	if len(names) != 0 {
		t.Errorf("Expected no collections, got %v", names)
	}
}

func TestMemoryStoreSearchUnknownCollection(t *testing.T) {
	store := NewMemoryStore()
	matches, err := store.Search(context.Background(), "nope", []float32{1}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Expected empty result for unknown collection, got %d", len(matches))
	}
}

func TestMemoryStoreSkipsMismatchedDimensions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Add(ctx, "c", []core.VectorRecord{
		record("good", []float32{1, 0}),
		record("bad", []float32{1, 0, 0}),
	})
	matches, err := store.Search(ctx, "c", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].Record.ID != "good" {
		t.Errorf("Expected only dimension-compatible record, got %+v", matches)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	if _, err := New(core.VectorStoreConfig{Provider: "memory"}, nil); err != nil {
		t.Errorf("memory provider: %v", err)
	}
	if _, err := New(core.VectorStoreConfig{Provider: "chroma"}, nil); err == nil {
		t.Error("chroma without base_url should fail")
	}
	if _, err := New(core.VectorStoreConfig{Provider: "pinecone"}, nil); err == nil {
		t.Error("unknown provider should fail")
	}
}
