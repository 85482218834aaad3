// Package retrievers implements the non-intent adapters: direct vector
// similarity, keyword search over SQL, direct MongoDB lookup, and file-chunk
// retrieval. Each implements core.Adapter and filters results by a relevance
// threshold before returning.
package retrievers

import (
	"context"
	"fmt"
	"time"

	"github.com/schmitech/orbit/core"
)

const (
	defaultMaxResults         = 10
	defaultRelevanceThreshold = 0.3
)

// VectorRetriever answers queries by embedding them and searching one vector
// store collection.
type VectorRetriever struct {
	name       string
	collection string
	store      core.VectorStore
	embedder   core.Embedder
	maxResults int
	threshold  float64
	logger     core.Logger
}

// VectorRetrieverOptions configures a VectorRetriever.
type VectorRetrieverOptions struct {
	Collection         string
	Store              core.VectorStore
	Embedder           core.Embedder
	MaxResults         int
	RelevanceThreshold float64
	Logger             core.Logger
}

// NewVectorRetriever builds a retriever over one collection.
func NewVectorRetriever(name string, opts VectorRetrieverOptions) (*VectorRetriever, error) {
	if opts.Store == nil || opts.Embedder == nil {
		return nil, fmt.Errorf("retriever %s: vector store and embedder required: %w", name, core.ErrMissingConfiguration)
	}
	if opts.Collection == "" {
		return nil, fmt.Errorf("retriever %s: collection required: %w", name, core.ErrMissingConfiguration)
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaultMaxResults
	}
	if opts.RelevanceThreshold <= 0 {
		opts.RelevanceThreshold = defaultRelevanceThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &VectorRetriever{
		name:       name,
		collection: opts.Collection,
		store:      opts.Store,
		embedder:   opts.Embedder,
		maxResults: opts.MaxResults,
		threshold:  opts.RelevanceThreshold,
		logger:     logger,
	}, nil
}

// Name returns the adapter name.
func (r *VectorRetriever) Name() string { return r.name }

// Retrieve embeds the query and returns items above the relevance threshold,
// best first.
func (r *VectorRetriever) Retrieve(ctx context.Context, query string, options core.RetrieveOptions) ([]core.ContextItem, error) {
	start := time.Now()

	limit := r.maxResults
	if options.MaxResults > 0 {
		limit = options.MaxResults
	}
	threshold := r.threshold
	if options.RelevanceThreshold > 0 {
		threshold = options.RelevanceThreshold
	}
	collection := r.collection
	if options.CollectionOverride != "" {
		collection = options.CollectionOverride
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query for %s: %w", r.name, err)
	}

	matches, err := r.store.Search(ctx, collection, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", collection, err)
	}

	items := make([]core.ContextItem, 0, len(matches))
	for _, m := range matches {
		similarity := distanceToSimilarity(m.Distance)
		if similarity < threshold {
			continue
		}
		items = append(items, matchToItem(m, similarity))
	}

	r.logger.Debug("Vector retrieval complete", map[string]interface{}{
		"operation":   "vector_retrieve",
		"adapter":     r.name,
		"collection":  collection,
		"matches":     len(matches),
		"returned":    len(items),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return items, nil
}

// distanceToSimilarity converts a cosine distance in [0,2] to a similarity
// clamped to [0,1].
func distanceToSimilarity(distance float64) float64 {
	s := 1 - distance
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func matchToItem(m core.VectorMatch, similarity float64) core.ContextItem {
	item := core.ContextItem{
		Content:    m.Record.Document,
		Confidence: similarity,
		Metadata:   map[string]interface{}{"id": m.Record.ID},
	}
	for k, v := range m.Record.Metadata {
		item.Metadata[k] = v
	}
	if u, ok := m.Record.Metadata["source_url"].(string); ok {
		item.SourceURL = u
	}
	return item
}
