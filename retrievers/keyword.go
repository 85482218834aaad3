package retrievers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/datasource"
	"github.com/schmitech/orbit/templates"
)

// KeywordRetriever searches a SQL table by keyword match over a text column
// and scores rows by token overlap with the query. It serves backends that
// have no vector index.
type KeywordRetriever struct {
	name       string
	ds         *datasource.SQLDatasource
	table      string
	textColumn string
	idColumn   string
	maxResults int
	threshold  float64
	logger     core.Logger
}

// KeywordRetrieverOptions configures a KeywordRetriever.
type KeywordRetrieverOptions struct {
	Datasource         *datasource.SQLDatasource
	Table              string
	TextColumn         string
	IDColumn           string
	MaxResults         int
	RelevanceThreshold float64
	Logger             core.Logger
}

// NewKeywordRetriever builds a retriever over one table.
func NewKeywordRetriever(name string, opts KeywordRetrieverOptions) (*KeywordRetriever, error) {
	if opts.Datasource == nil {
		return nil, fmt.Errorf("retriever %s: datasource required: %w", name, core.ErrMissingConfiguration)
	}
	if opts.Table == "" || opts.TextColumn == "" {
		return nil, fmt.Errorf("retriever %s: table and text column required: %w", name, core.ErrMissingConfiguration)
	}
	if opts.IDColumn == "" {
		opts.IDColumn = "id"
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
	return &KeywordRetriever{
		name:       name,
		ds:         opts.Datasource,
		table:      opts.Table,
		textColumn: opts.TextColumn,
		idColumn:   opts.IDColumn,
		maxResults: opts.MaxResults,
		threshold:  opts.RelevanceThreshold,
		logger:     logger,
	}, nil
}

// Name returns the adapter name.
func (r *KeywordRetriever) Name() string { return r.name }

// Retrieve runs a LIKE query per keyword and ranks the union of rows by
// token overlap with the query.
func (r *KeywordRetriever) Retrieve(ctx context.Context, query string, options core.RetrieveOptions) ([]core.ContextItem, error) {
	start := time.Now()

	limit := r.maxResults
	if options.MaxResults > 0 {
		limit = options.MaxResults
	}
	threshold := r.threshold
	if options.RelevanceThreshold > 0 {
		threshold = options.RelevanceThreshold
	}

	keywords := queryKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	db := r.ds.DB()
	// One LIKE clause per keyword; candidate pool is a few multiples of the
	// requested limit so scoring has material to rank.
	clauses := make([]string, len(keywords))
	args := make([]interface{}, len(keywords))
	for i, kw := range keywords {
		clauses[i] = fmt.Sprintf("%s LIKE ?", r.textColumn)
		args[i] = "%" + kw + "%"
	}
	sql := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s LIMIT %d",
		r.idColumn, r.textColumn, r.table, strings.Join(clauses, " OR "), limit*4)
	sql = db.Rebind(sql)

	rows, err := db.QueryxContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search on %s: %v: %w", r.table, err, core.ErrRequestFailed)
	}
	defer rows.Close()

	queryTokens := templates.Tokenize(query)
	var items []core.ContextItem
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scanning keyword row: %w", err)
		}
		content := stringValue(row[r.textColumn])
		score := templates.Jaccard(queryTokens, templates.Tokenize(content))
		if score < threshold {
			continue
		}
		items = append(items, core.ContextItem{
			Content:    content,
			Confidence: score,
			Metadata: map[string]interface{}{
				"id":     stringValue(row[r.idColumn]),
				"table":  r.table,
				"source": r.ds.Name(),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating keyword rows: %v: %w", err, core.ErrRequestFailed)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Confidence > items[j].Confidence })
	if len(items) > limit {
		items = items[:limit]
	}

	r.logger.Debug("Keyword retrieval complete", map[string]interface{}{
		"operation":   "keyword_retrieve",
		"adapter":     r.name,
		"table":       r.table,
		"keywords":    len(keywords),
		"returned":    len(items),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return items, nil
}

// queryKeywords picks the searchable terms of a query: lowercase tokens of
// three or more characters, stopwords removed, capped at eight.
func queryKeywords(query string) []string {
	seen := map[string]bool{}
	var out []string
	for token := range templates.Tokenize(query) {
		if len(token) < 3 || stopwords[token] || seen[token] {
			continue
		}
		seen[token] = true
		out = append(out, token)
	}
	sort.Strings(out)
	if len(out) > 8 {
		out = out[:8]
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "with": true,
	"that": true, "this": true, "from": true, "all": true, "any": true,
	"what": true, "which": true, "show": true, "list": true, "find": true,
	"get": true, "give": true, "please": true,
}

func stringValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
