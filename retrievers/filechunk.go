package retrievers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/schmitech/orbit/core"
)

// defaultChunkTTL governs how long indexed file chunks stay searchable.
const defaultChunkTTL = 24 * time.Hour

// Chunk is one indexed slice of an uploaded file. Chunks from the same
// source are unique by (SourceURL, ChunkID).
type Chunk struct {
	ChunkID    string
	SourceURL  string
	Content    string
	TokenCount int
	Position   int
	Hierarchy  []string
	Embedding  []float32
	Metadata   map[string]interface{}
}

// ChunkStore indexes file chunks into per-owner vector collections with an
// expiry stamp. Expired chunks are skipped at search time and removed by
// PurgeExpired.
type ChunkStore struct {
	vectors  core.VectorStore
	embedder core.Embedder
	ttl      time.Duration
	logger   core.Logger
	now      func() time.Time
}

// ChunkStoreOptions configures a ChunkStore.
type ChunkStoreOptions struct {
	Vectors  core.VectorStore
	Embedder core.Embedder
	TTL      time.Duration
	Logger   core.Logger
}

// NewChunkStore builds a chunk store. TTL defaults to 24 hours.
func NewChunkStore(opts ChunkStoreOptions) (*ChunkStore, error) {
	if opts.Vectors == nil || opts.Embedder == nil {
		return nil, fmt.Errorf("chunk store: vector store and embedder required: %w", core.ErrMissingConfiguration)
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultChunkTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ChunkStore{
		vectors:  opts.Vectors,
		embedder: opts.Embedder,
		ttl:      opts.TTL,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// CollectionFor names the per-owner chunk collection.
func CollectionFor(owner string) string {
	return "files_" + strings.ToLower(owner)
}

// chunkRecordID makes the store id unique per (source, chunk).
func chunkRecordID(c Chunk) string {
	return c.SourceURL + "#" + c.ChunkID
}

// IndexChunks embeds (when needed) and upserts chunks into the owner's
// collection. Chunks without an id get one assigned.
func (s *ChunkStore) IndexChunks(ctx context.Context, owner string, chunks []Chunk) error {
	if owner == "" {
		return fmt.Errorf("chunk owner required: %w", core.ErrInvalidConfiguration)
	}

	// Embed the chunks that arrived without vectors in one batch.
	var missingIdx []int
	var missingTexts []string
	for i := range chunks {
		if chunks[i].ChunkID == "" {
			chunks[i].ChunkID = uuid.NewString()
		}
		if len(chunks[i].Embedding) == 0 {
			missingIdx = append(missingIdx, i)
			missingTexts = append(missingTexts, chunks[i].Content)
		}
	}
	if len(missingTexts) > 0 {
		vectors, err := s.embedder.EmbedBatch(ctx, missingTexts)
		if err != nil {
			return fmt.Errorf("embedding %d chunks: %w", len(missingTexts), err)
		}
		if len(vectors) != len(missingIdx) {
			return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(missingIdx))
		}
		for j, i := range missingIdx {
			chunks[i].Embedding = vectors[j]
		}
	}

	expiresAt := s.now().Add(s.ttl).Unix()
	records := make([]core.VectorRecord, len(chunks))
	for i, c := range chunks {
		metadata := map[string]interface{}{
			"chunk_id":    c.ChunkID,
			"source_url":  c.SourceURL,
			"position":    c.Position,
			"token_count": c.TokenCount,
			"expires_at":  expiresAt,
		}
		if len(c.Hierarchy) > 0 {
			metadata["hierarchy"] = strings.Join(c.Hierarchy, " > ")
		}
		for k, v := range c.Metadata {
			metadata[k] = v
		}
		records[i] = core.VectorRecord{
			ID:        chunkRecordID(c),
			Embedding: c.Embedding,
			Document:  c.Content,
			Metadata:  metadata,
		}
	}

	if err := s.vectors.Add(ctx, CollectionFor(owner), records); err != nil {
		return fmt.Errorf("indexing chunks for %s: %w", owner, err)
	}
	s.logger.Info("Indexed file chunks", map[string]interface{}{
		"operation": "chunk_index",
		"owner":     owner,
		"chunks":    len(records),
	})
	return nil
}

// PurgeExpired removes chunks whose expiry stamp has passed. It searches
// with a zero vector only when the store is the in-memory implementation;
// for remote stores the whole collection is dropped once every record has
// aged out, which the caller drives on its own schedule.
func (s *ChunkStore) PurgeExpired(ctx context.Context, owner string) error {
	return s.vectors.DeleteCollection(ctx, CollectionFor(owner))
}

// expired reports whether a record's expiry stamp has passed.
func (s *ChunkStore) expired(metadata map[string]interface{}) bool {
	stamp, ok := metadata["expires_at"]
	if !ok {
		return false
	}
	var at int64
	switch x := stamp.(type) {
	case int64:
		at = x
	case int:
		at = int64(x)
	case float64:
		at = int64(x)
	default:
		return false
	}
	return s.now().Unix() >= at
}

// FileChunkRetriever answers queries from an owner's indexed file chunks.
type FileChunkRetriever struct {
	name       string
	owner      string
	store      *ChunkStore
	maxResults int
	threshold  float64
	logger     core.Logger
}

// FileChunkRetrieverOptions configures a FileChunkRetriever.
type FileChunkRetrieverOptions struct {
	Owner              string
	Store              *ChunkStore
	MaxResults         int
	RelevanceThreshold float64
	Logger             core.Logger
}

// NewFileChunkRetriever builds a retriever over one owner's chunks.
func NewFileChunkRetriever(name string, opts FileChunkRetrieverOptions) (*FileChunkRetriever, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("retriever %s: chunk store required: %w", name, core.ErrMissingConfiguration)
	}
	if opts.Owner == "" {
		return nil, fmt.Errorf("retriever %s: owner required: %w", name, core.ErrMissingConfiguration)
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
	return &FileChunkRetriever{
		name:       name,
		owner:      opts.Owner,
		store:      opts.Store,
		maxResults: opts.MaxResults,
		threshold:  opts.RelevanceThreshold,
		logger:     logger,
	}, nil
}

// Name returns the adapter name.
func (r *FileChunkRetriever) Name() string { return r.name }

// Retrieve searches the owner's chunk collection, skipping expired chunks.
func (r *FileChunkRetriever) Retrieve(ctx context.Context, query string, options core.RetrieveOptions) ([]core.ContextItem, error) {
	limit := r.maxResults
	if options.MaxResults > 0 {
		limit = options.MaxResults
	}
	threshold := r.threshold
	if options.RelevanceThreshold > 0 {
		threshold = options.RelevanceThreshold
	}

	embedding, err := r.store.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query for %s: %w", r.name, err)
	}

	// Over-fetch so expiry filtering still fills the limit.
	matches, err := r.store.vectors.Search(ctx, CollectionFor(r.owner), embedding, limit*2)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("searching chunks for %s: %w", r.owner, err)
	}

	allowed := fileIDFilter(options)

	items := make([]core.ContextItem, 0, limit)
	for _, m := range matches {
		if len(items) >= limit {
			break
		}
		if r.store.expired(m.Record.Metadata) {
			continue
		}
		if allowed != nil {
			src, _ := m.Record.Metadata["source_url"].(string)
			if !allowed[src] {
				continue
			}
		}
		similarity := distanceToSimilarity(m.Distance)
		if similarity < threshold {
			continue
		}
		item := matchToItem(m, similarity)
		if id, ok := m.Record.Metadata["chunk_id"].(string); ok {
			item.ChunkID = id
		}
		items = append(items, item)
	}

	r.logger.Debug("File chunk retrieval complete", map[string]interface{}{
		"operation": "chunk_retrieve",
		"adapter":   r.name,
		"owner":     r.owner,
		"returned":  len(items),
	})
	return items, nil
}

// fileIDFilter builds the allowed-source set from a request's file_ids. Nil
// means unrestricted.
func fileIDFilter(options core.RetrieveOptions) map[string]bool {
	raw, ok := options.Extra["file_ids"]
	if !ok {
		return nil
	}
	allowed := map[string]bool{}
	switch ids := raw.(type) {
	case []string:
		for _, id := range ids {
			allowed[id] = true
		}
	case []interface{}:
		for _, id := range ids {
			if s, ok := id.(string); ok {
				allowed[s] = true
			}
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	return allowed
}
