package retrievers

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/datasource"
	"github.com/schmitech/orbit/templates"
)

// MongoRetriever searches one MongoDB collection with case-insensitive
// keyword regexes over a text field and scores documents by token overlap.
type MongoRetriever struct {
	name       string
	ds         *datasource.MongoDatasource
	collection string
	textField  string
	maxResults int
	threshold  float64
	logger     core.Logger
}

// MongoRetrieverOptions configures a MongoRetriever.
type MongoRetrieverOptions struct {
	Datasource         *datasource.MongoDatasource
	Collection         string
	TextField          string
	MaxResults         int
	RelevanceThreshold float64
	Logger             core.Logger
}

// NewMongoRetriever builds a retriever over one collection.
func NewMongoRetriever(name string, opts MongoRetrieverOptions) (*MongoRetriever, error) {
	if opts.Datasource == nil {
		return nil, fmt.Errorf("retriever %s: datasource required: %w", name, core.ErrMissingConfiguration)
	}
	if opts.Collection == "" || opts.TextField == "" {
		return nil, fmt.Errorf("retriever %s: collection and text field required: %w", name, core.ErrMissingConfiguration)
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
	return &MongoRetriever{
		name:       name,
		ds:         opts.Datasource,
		collection: opts.Collection,
		textField:  opts.TextField,
		maxResults: opts.MaxResults,
		threshold:  opts.RelevanceThreshold,
		logger:     logger,
	}, nil
}

// Name returns the adapter name.
func (r *MongoRetriever) Name() string { return r.name }

// keywordFilter builds a $or of case-insensitive regexes, one per keyword.
// An empty keyword set yields a nil filter (caller returns no results).
func keywordFilter(field string, keywords []string) bson.M {
	if len(keywords) == 0 {
		return nil
	}
	clauses := make(bson.A, len(keywords))
	for i, kw := range keywords {
		clauses[i] = bson.M{field: bson.M{
			"$regex":   regexp.QuoteMeta(kw),
			"$options": "i",
		}}
	}
	return bson.M{"$or": clauses}
}

// Retrieve finds candidate documents by keyword and ranks them by token
// overlap with the query.
func (r *MongoRetriever) Retrieve(ctx context.Context, query string, opts core.RetrieveOptions) ([]core.ContextItem, error) {
	start := time.Now()

	limit := r.maxResults
	if opts.MaxResults > 0 {
		limit = opts.MaxResults
	}
	threshold := r.threshold
	if opts.RelevanceThreshold > 0 {
		threshold = opts.RelevanceThreshold
	}

	filter := keywordFilter(r.textField, queryKeywords(query))
	if filter == nil {
		return nil, nil
	}

	coll := r.ds.Database().Collection(r.collection)
	cursor, err := coll.Find(ctx, filter, options.Find().SetLimit(int64(limit*4)))
	if err != nil {
		return nil, fmt.Errorf("searching %s: %v: %w", r.collection, err, core.ErrRequestFailed)
	}
	defer cursor.Close(ctx)

	queryTokens := templates.Tokenize(query)
	var items []core.ContextItem
	for cursor.Next(ctx) {
		doc := map[string]interface{}{}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding document from %s: %w", r.collection, err)
		}
		item, ok := scoreDocument(doc, r.textField, queryTokens, threshold)
		if !ok {
			continue
		}
		item.Metadata["collection"] = r.collection
		item.Metadata["source"] = r.ds.Name()
		items = append(items, item)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %v: %w", r.collection, err, core.ErrRequestFailed)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Confidence > items[j].Confidence })
	if len(items) > limit {
		items = items[:limit]
	}

	r.logger.Debug("Mongo retrieval complete", map[string]interface{}{
		"operation":   "mongo_retrieve",
		"adapter":     r.name,
		"collection":  r.collection,
		"returned":    len(items),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return items, nil
}

// scoreDocument turns one document into a ContextItem when its text field
// clears the threshold.
func scoreDocument(doc map[string]interface{}, textField string, queryTokens map[string]bool, threshold float64) (core.ContextItem, bool) {
	content := stringValue(doc[textField])
	if content == "" {
		return core.ContextItem{}, false
	}
	score := templates.Jaccard(queryTokens, templates.Tokenize(content))
	if score < threshold {
		return core.ContextItem{}, false
	}

	metadata := map[string]interface{}{}
	if id, ok := doc["_id"]; ok {
		if oid, isOID := id.(primitive.ObjectID); isOID {
			metadata["id"] = oid.Hex()
		} else {
			metadata["id"] = stringValue(id)
		}
	}
	return core.ContextItem{
		Content:    content,
		Confidence: score,
		Metadata:   metadata,
	}, true
}
