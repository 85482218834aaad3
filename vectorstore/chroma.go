package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/schmitech/orbit/core"
)

// ChromaStore talks to a Chroma server over its REST API. Collection names
// are resolved to server-side ids once and cached for the life of the store.
type ChromaStore struct {
	baseURL    string
	tenant     string
	database   string
	httpClient *http.Client
	logger     core.Logger

	mu            sync.Mutex
	collectionIDs map[string]string
}

// ChromaOptions configures a ChromaStore.
type ChromaOptions struct {
	BaseURL  string
	Tenant   string
	Database string
	Timeout  time.Duration
	Logger   core.Logger
}

// NewChromaStore creates a store against a Chroma server.
func NewChromaStore(opts ChromaOptions) (*ChromaStore, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("chroma base_url required: %w", core.ErrMissingConfiguration)
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("chroma base_url %q: %v: %w", opts.BaseURL, err, core.ErrInvalidConfiguration)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("gateway/vectorstore")
	}

	return &ChromaStore{
		baseURL:       opts.BaseURL,
		tenant:        opts.Tenant,
		database:      opts.Database,
		httpClient:    &http.Client{Timeout: opts.Timeout},
		logger:        logger,
		collectionIDs: make(map[string]string),
	}, nil
}

type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Add upserts records into a collection, creating it if needed.
func (c *ChromaStore) Add(ctx context.Context, collection string, records []core.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	id, err := c.collectionID(ctx, collection, true)
	if err != nil {
		return err
	}

	payload := struct {
		IDs        []string                 `json:"ids"`
		Embeddings [][]float32              `json:"embeddings"`
		Documents  []string                 `json:"documents"`
		Metadatas  []map[string]interface{} `json:"metadatas"`
	}{}
	for _, r := range records {
		payload.IDs = append(payload.IDs, r.ID)
		payload.Embeddings = append(payload.Embeddings, r.Embedding)
		payload.Documents = append(payload.Documents, r.Document)
		meta := r.Metadata
		if meta == nil {
			meta = map[string]interface{}{}
		}
		payload.Metadatas = append(payload.Metadatas, meta)
	}

	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/collections/%s/upsert", id), payload, nil)
}

// Search queries the nearest records by the server's distance metric.
func (c *ChromaStore) Search(ctx context.Context, collection string, embedding []float32, limit int) ([]core.VectorMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	id, err := c.collectionID(ctx, collection, false)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	payload := map[string]interface{}{
		"query_embeddings": [][]float32{embedding},
		"n_results":        limit,
		"include":          []string{"documents", "metadatas", "distances", "embeddings"},
	}

	var resp struct {
		IDs        [][]string                 `json:"ids"`
		Documents  [][]string                 `json:"documents"`
		Metadatas  [][]map[string]interface{} `json:"metadatas"`
		Distances  [][]float64                `json:"distances"`
		Embeddings [][][]float32              `json:"embeddings"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/collections/%s/query", id), payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	matches := make([]core.VectorMatch, 0, len(resp.IDs[0]))
	for i, rid := range resp.IDs[0] {
		m := core.VectorMatch{Record: core.VectorRecord{ID: rid}}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			m.Record.Document = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			m.Record.Metadata = resp.Metadatas[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			m.Distance = resp.Distances[0][i]
		}
		if len(resp.Embeddings) > 0 && i < len(resp.Embeddings[0]) {
			m.Record.Embedding = resp.Embeddings[0][i]
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Delete removes records by id.
func (c *ChromaStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	id, err := c.collectionID(ctx, collection, false)
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return err
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/collections/%s/delete", id),
		map[string]interface{}{"ids": ids}, nil)
}

// DeleteCollection drops a collection by name.
func (c *ChromaStore) DeleteCollection(ctx context.Context, collection string) error {
	err := c.do(ctx, http.MethodDelete, "/api/v1/collections/"+url.PathEscape(collection), nil, nil)
	if err != nil && !core.IsNotFound(err) {
		return err
	}
	c.mu.Lock()
	delete(c.collectionIDs, collection)
	c.mu.Unlock()
	return nil
}

// ListCollections returns all collection names known to the server.
func (c *ChromaStore) ListCollections(ctx context.Context) ([]string, error) {
	var colls []chromaCollection
	if err := c.do(ctx, http.MethodGet, "/api/v1/collections", nil, &colls); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(colls))
	for _, coll := range colls {
		names = append(names, coll.Name)
	}
	return names, nil
}

// HealthCheck probes the server heartbeat endpoint.
func (c *ChromaStore) HealthCheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/v1/heartbeat", nil, nil)
}

func (c *ChromaStore) collectionID(ctx context.Context, name string, create bool) (string, error) {
	c.mu.Lock()
	if id, ok := c.collectionIDs[name]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	var coll chromaCollection
	err := c.do(ctx, http.MethodGet, "/api/v1/collections/"+url.PathEscape(name), nil, &coll)
	if err != nil {
		if !create || !core.IsNotFound(err) {
			return "", err
		}
		payload := map[string]interface{}{"name": name, "get_or_create": true}
		if err := c.do(ctx, http.MethodPost, "/api/v1/collections", payload, &coll); err != nil {
			return "", err
		}
	}
	if coll.ID == "" {
		return "", fmt.Errorf("chroma returned collection %q without id: %w", name, core.ErrRequestFailed)
	}

	c.mu.Lock()
	c.collectionIDs[name] = coll.ID
	c.mu.Unlock()
	return coll.ID, nil
}

func (c *ChromaStore) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding chroma request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building chroma request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tenant != "" {
		req.Header.Set("X-Chroma-Tenant", c.tenant)
	}
	if c.database != "" {
		req.Header.Set("X-Chroma-Database", c.database)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chroma request %s %s: %v: %w", method, path, err, core.ErrConnectionFailed)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("reading chroma response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("chroma %s %s: %w", method, path, core.ErrCollectionNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Chroma request failed", map[string]interface{}{
			"operation": "vectorstore_request",
			"method":    method,
			"path":      path,
			"status":    resp.StatusCode,
		})
		return fmt.Errorf("chroma %s %s returned %d: %w", method, path, resp.StatusCode, core.ErrRequestFailed)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding chroma response: %w", err)
		}
	}
	return nil
}
