package retrievers

import (
	"context"
	"testing"
	"time"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/vectorstore"
)

func newTestChunkStore(t *testing.T) (*ChunkStore, *vectorstore.MemoryStore) {
	t.Helper()
	vectors := vectorstore.NewMemoryStore()
	store, err := NewChunkStore(ChunkStoreOptions{
		Vectors:  vectors,
		Embedder: &stubEmbedder{},
	})
	if err != nil {
		t.Fatal(err)
	}
	return store, vectors
}

func TestChunkStoreIndexAssignsIDsAndEmbeds(t *testing.T) {
	store, vectors := newTestChunkStore(t)

	chunks := []Chunk{
		{SourceURL: "file://report.pdf", Content: "quarterly revenue summary", Position: 0},
		{SourceURL: "file://report.pdf", Content: "appendix tables", Position: 1,
			Hierarchy: []string{"Report", "Appendix"}},
	}
	if err := store.IndexChunks(context.Background(), "acme", chunks); err != nil {
		t.Fatalf("IndexChunks: %v", err)
	}

	if n := vectors.Count(CollectionFor("acme")); n != 2 {
		t.Fatalf("Expected 2 records, got %d", n)
	}

	matches, err := vectors.Search(context.Background(), CollectionFor("acme"), []float32{1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range matches {
		if m.Record.Metadata["chunk_id"] == "" {
			t.Error("Chunk id must be assigned")
		}
		if m.Record.Metadata["source_url"] != "file://report.pdf" {
			t.Errorf("source_url: %v", m.Record.Metadata["source_url"])
		}
		if _, ok := m.Record.Metadata["expires_at"]; !ok {
			t.Error("Expiry stamp missing")
		}
	}
}

func TestChunkStoreIndexIsUpsert(t *testing.T) {
	store, vectors := newTestChunkStore(t)

	chunk := Chunk{ChunkID: "c1", SourceURL: "file://a", Content: "v1"}
	if err := store.IndexChunks(context.Background(), "acme", []Chunk{chunk}); err != nil {
		t.Fatal(err)
	}
	chunk.Content = "v2"
	if err := store.IndexChunks(context.Background(), "acme", []Chunk{chunk}); err != nil {
		t.Fatal(err)
	}
	if n := vectors.Count(CollectionFor("acme")); n != 1 {
		t.Errorf("Same (source, chunk) must upsert, got %d records", n)
	}
}

func TestFileChunkRetrieverReturnsChunks(t *testing.T) {
	store, _ := newTestChunkStore(t)
	err := store.IndexChunks(context.Background(), "acme", []Chunk{
		{ChunkID: "c1", SourceURL: "file://report.pdf", Content: "revenue grew 12 percent"},
	})
	if err != nil {
		t.Fatal(err)
	}

	r, err := NewFileChunkRetriever("acme-files", FileChunkRetrieverOptions{
		Owner: "acme",
		Store: store,
	})
	if err != nil {
		t.Fatal(err)
	}

	items, err := r.Retrieve(context.Background(), "how much did revenue grow", core.RetrieveOptions{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Items: %v", items)
	}
	if items[0].ChunkID != "c1" {
		t.Errorf("ChunkID: %q", items[0].ChunkID)
	}
	if items[0].SourceURL != "file://report.pdf" {
		t.Errorf("SourceURL: %q", items[0].SourceURL)
	}
}

func TestFileChunkRetrieverSkipsExpired(t *testing.T) {
	store, _ := newTestChunkStore(t)
	err := store.IndexChunks(context.Background(), "acme", []Chunk{
		{ChunkID: "c1", SourceURL: "file://a", Content: "stale content"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Advance the clock past the TTL.
	store.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	r, err := NewFileChunkRetriever("acme-files", FileChunkRetrieverOptions{
		Owner: "acme",
		Store: store,
	})
	if err != nil {
		t.Fatal(err)
	}

	items, err := r.Retrieve(context.Background(), "stale content", core.RetrieveOptions{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expired chunks must not be returned: %v", items)
	}
}

func TestFileChunkRetrieverScopesToFileIDs(t *testing.T) {
	store, _ := newTestChunkStore(t)
	err := store.IndexChunks(context.Background(), "acme", []Chunk{
		{ChunkID: "c1", SourceURL: "file://wanted.pdf", Content: "relevant passage"},
		{ChunkID: "c2", SourceURL: "file://other.pdf", Content: "relevant passage"},
	})
	if err != nil {
		t.Fatal(err)
	}

	r, err := NewFileChunkRetriever("acme-files", FileChunkRetrieverOptions{
		Owner: "acme",
		Store: store,
	})
	if err != nil {
		t.Fatal(err)
	}

	items, err := r.Retrieve(context.Background(), "relevant passage", core.RetrieveOptions{
		Extra: map[string]interface{}{"file_ids": []string{"file://wanted.pdf"}},
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Items: %v", items)
	}
	if items[0].SourceURL != "file://wanted.pdf" {
		t.Errorf("SourceURL: %q", items[0].SourceURL)
	}
}

func TestFileChunkRetrieverUnknownOwnerIsEmpty(t *testing.T) {
	store, _ := newTestChunkStore(t)
	r, err := NewFileChunkRetriever("ghost-files", FileChunkRetrieverOptions{
		Owner: "ghost",
		Store: store,
	})
	if err != nil {
		t.Fatal(err)
	}
	items, err := r.Retrieve(context.Background(), "anything", core.RetrieveOptions{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Items: %v", items)
	}
}
