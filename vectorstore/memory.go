// Package vectorstore provides the vector store backends behind template
// indexing and direct vector retrieval: an in-memory cosine store for tests
// and single-node deployments, and a Chroma HTTP store for shared state.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/schmitech/orbit/core"
)

// MemoryStore is a process-local vector store using exact cosine distance.
// Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]core.VectorRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]core.VectorRecord),
	}
}

// Add upserts records into a collection, creating the collection on first use.
func (m *MemoryStore) Add(ctx context.Context, collection string, records []core.VectorRecord) error {
	if collection == "" {
		return fmt.Errorf("collection name required: %w", core.ErrInvalidConfiguration)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]core.VectorRecord, len(records))
		m.collections[collection] = coll
	}
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record without id in collection %s: %w", collection, core.ErrInvalidConfiguration)
		}
		coll[r.ID] = r
	}
	return nil
}

// Search returns up to limit nearest records by cosine distance, ascending.
// Distance is 1 - cosine similarity, so the range is [0, 2].
func (m *MemoryStore) Search(ctx context.Context, collection string, embedding []float32, limit int) ([]core.VectorMatch, error) {
	if limit <= 0 {
		limit = 10
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	coll, ok := m.collections[collection]
	if !ok {
		return nil, nil
	}

	matches := make([]core.VectorMatch, 0, len(coll))
	for _, r := range coll {
		sim, err := cosineSimilarity(embedding, r.Embedding)
		if err != nil {
			continue
		}
		matches = append(matches, core.VectorMatch{Record: r, Distance: 1 - sim})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Record.ID < matches[j].Record.ID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Delete removes records by id. Missing ids are ignored.
func (m *MemoryStore) Delete(ctx context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.collections[collection]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(coll, id)
	}
	return nil
}

// DeleteCollection drops an entire collection. Missing collections are a no-op.
func (m *MemoryStore) DeleteCollection(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

// ListCollections returns collection names in sorted order.
func (m *MemoryStore) ListCollections(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of records in a collection.
func (m *MemoryStore) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("zero-norm vector")
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
