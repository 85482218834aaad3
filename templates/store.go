package templates

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/schmitech/orbit/core"
)

// library is the persisted form of a template collection.
type library struct {
	Templates  []Template  `yaml:"templates"`
	Vocabulary *Vocabulary `yaml:"vocabulary,omitempty"`
}

// LoadLibrary reads a template library file. The file holds a `templates`
// list and an optional `vocabulary` block.
func LoadLibrary(path string) ([]Template, *Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading template library %s: %w", path, core.ErrMissingConfiguration)
	}

	var lib library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, nil, fmt.Errorf("parsing template library %s: %v: %w", path, err, core.ErrInvalidConfiguration)
	}

	seen := make(map[string]bool, len(lib.Templates))
	for i := range lib.Templates {
		t := &lib.Templates[i]
		if err := t.Validate(); err != nil {
			return nil, nil, err
		}
		if seen[t.ID] {
			return nil, nil, fmt.Errorf("duplicate template id %q in %s: %w", t.ID, path, core.ErrInvalidConfiguration)
		}
		seen[t.ID] = true
		if t.ResultFormat == "" {
			t.ResultFormat = FormatList
		}
	}
	return lib.Templates, lib.Vocabulary, nil
}

// Scored is one template with its match similarity in [0,1].
type Scored struct {
	Template   *Template
	Similarity float64
}

// Store indexes a template library into a vector store collection and serves
// nearest-neighbour and text-fallback lookups. Read-only at steady state;
// batch-replaced on reload.
type Store struct {
	collection string
	vectors    core.VectorStore
	embedder   core.Embedder
	vocab      *Vocabulary
	logger     core.Logger

	mu             sync.RWMutex
	templates      map[string]*Template
	embeddingTexts map[string]string
}

// StoreOptions configures a template store.
type StoreOptions struct {
	Collection string
	Vectors    core.VectorStore
	Embedder   core.Embedder
	Vocabulary *Vocabulary
	Logger     core.Logger
}

// NewStore creates an unindexed store over a template set.
func NewStore(templates []Template, opts StoreOptions) (*Store, error) {
	if opts.Collection == "" {
		return nil, fmt.Errorf("template store collection required: %w", core.ErrMissingConfiguration)
	}
	if opts.Vectors == nil {
		return nil, fmt.Errorf("template store requires a vector store: %w", core.ErrMissingConfiguration)
	}
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("gateway/templates")
	}

	s := &Store{
		collection:     opts.Collection,
		vectors:        opts.Vectors,
		embedder:       opts.Embedder,
		vocab:          opts.Vocabulary,
		logger:         logger,
		templates:      make(map[string]*Template, len(templates)),
		embeddingTexts: make(map[string]string, len(templates)),
	}
	for i := range templates {
		t := templates[i]
		s.templates[t.ID] = &t
		s.embeddingTexts[t.ID] = t.EmbeddingText(opts.Vocabulary)
	}
	return s, nil
}

// Index embeds every template and upserts it into the vector collection.
// Idempotent: the template id is the record id, so re-indexing replaces the
// embedding and metadata in place.
func (s *Store) Index(ctx context.Context) error {
	if s.embedder == nil {
		return fmt.Errorf("template store has no embedder: %w", core.ErrNotInitialized)
	}

	s.mu.RLock()
	ids := sortedIDs(s.templates)
	texts := make([]string, len(ids))
	for i, id := range ids {
		texts[i] = s.embeddingTexts[id]
	}
	s.mu.RUnlock()

	if len(ids) == 0 {
		return nil
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding template library: %w", err)
	}
	if len(embeddings) != len(ids) {
		return fmt.Errorf("embedder returned %d vectors for %d templates: %w",
			len(embeddings), len(ids), core.ErrRequestFailed)
	}

	records := make([]core.VectorRecord, len(ids))
	for i, id := range ids {
		records[i] = core.VectorRecord{
			ID:        id,
			Embedding: embeddings[i],
			Document:  texts[i],
			Metadata: map[string]interface{}{
				"template_id":    id,
				"embedding_text": texts[i],
			},
		}
	}
	if err := s.vectors.Add(ctx, s.collection, records); err != nil {
		return fmt.Errorf("indexing templates into %s: %w", s.collection, err)
	}

	s.logger.Info("Template library indexed", map[string]interface{}{
		"operation":  "template_index",
		"collection": s.collection,
		"templates":  len(ids),
	})
	return nil
}

// Get returns the template for an id.
func (s *Store) Get(id string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %q: %w", id, core.ErrTemplateNotFound)
	}
	return t, nil
}

// All returns every template, in id order.
func (s *Store) All() []*Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Template, 0, len(s.templates))
	for _, id := range sortedIDs(s.templates) {
		out = append(out, s.templates[id])
	}
	return out
}

// EmbeddingTextFor returns the canonical text a template was indexed under.
func (s *Store) EmbeddingTextFor(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.embeddingTexts[id]
	return text, ok
}

// Vocabulary returns the domain vocabulary, possibly nil.
func (s *Store) Vocabulary() *Vocabulary {
	return s.vocab
}

// SearchVector embeds the query and returns the nearest templates with
// similarity clamp(1 - distance, 0, 1).
func (s *Store) SearchVector(ctx context.Context, query string, limit int) ([]Scored, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("template store has no embedder: %w", core.ErrNotInitialized)
	}
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := s.vectors.Search(ctx, s.collection, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("searching template collection %s: %w", s.collection, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make([]Scored, 0, len(matches))
	for _, m := range matches {
		t, ok := s.templates[m.Record.ID]
		if !ok {
			// Stale vector entry from a removed template.
			continue
		}
		sim := 1 - m.Distance
		if sim < 0 {
			sim = 0
		}
		if sim > 1 {
			sim = 1
		}
		scored = append(scored, Scored{Template: t, Similarity: sim})
	}
	return scored, nil
}

// SearchText ranks templates by Jaccard similarity between the query and
// each template's embedding text. Used when the embedding provider fails.
func (s *Store) SearchText(query string, limit int) []Scored {
	queryTokens := Tokenize(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make([]Scored, 0, len(s.templates))
	for _, id := range sortedIDs(s.templates) {
		sim := Jaccard(queryTokens, Tokenize(s.embeddingTexts[id]))
		scored = append(scored, Scored{Template: s.templates[id], Similarity: sim})
	}
	// Insertion sort keeps ties in id order.
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Similarity > scored[j-1].Similarity; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// Replace swaps in a new template set and re-indexes. Used by the reload path.
func (s *Store) Replace(ctx context.Context, templates []Template) error {
	next := make(map[string]*Template, len(templates))
	texts := make(map[string]string, len(templates))
	for i := range templates {
		t := templates[i]
		if err := t.Validate(); err != nil {
			return err
		}
		next[t.ID] = &t
		texts[t.ID] = t.EmbeddingText(s.vocab)
	}

	s.mu.Lock()
	var removed []string
	for id := range s.templates {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	s.templates = next
	s.embeddingTexts = texts
	s.mu.Unlock()

	if len(removed) > 0 {
		if err := s.vectors.Delete(ctx, s.collection, removed); err != nil {
			s.logger.Warn("Failed to remove stale template vectors", map[string]interface{}{
				"operation": "template_reload",
				"removed":   removed,
				"error":     err.Error(),
			})
		}
	}
	return s.Index(ctx)
}
