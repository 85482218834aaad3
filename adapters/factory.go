// Package adapters turns adapter descriptors into runtime instances. The
// registry caches instances by descriptor content hash, builds them lazily
// on first use, and supports hot reload with a per-adapter reload summary.
package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/schmitech/orbit/ai"
	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/datasource"
	"github.com/schmitech/orbit/intent"
	"github.com/schmitech/orbit/retrievers"
	"github.com/schmitech/orbit/templates"
)

// Implementation names accepted in adapter descriptors.
const (
	ImplIntentSQL     = "intent_sql"
	ImplIntentMongo   = "intent_mongo"
	ImplIntentHTTP    = "intent_http"
	ImplIntentGraphQL = "intent_graphql"
	ImplVector        = "vector"
	ImplKeyword       = "keyword"
	ImplMongo         = "mongo"
	ImplFileChunk     = "file_chunk"
)

// Factory assembles adapter instances from descriptors and shared
// infrastructure.
type Factory struct {
	datasources *datasource.Registry
	providers   *ai.Registry
	vectors     core.VectorStore
	inference   core.ProviderConfig
	embedding   core.ProviderConfig
	logger      core.Logger
}

// FactoryOptions carries the shared infrastructure a factory wires into
// every adapter it builds.
type FactoryOptions struct {
	Datasources *datasource.Registry
	Providers   *ai.Registry
	Vectors     core.VectorStore
	Inference   core.ProviderConfig
	Embedding   core.ProviderConfig
	Logger      core.Logger
}

// NewFactory builds an adapter factory.
func NewFactory(opts FactoryOptions) *Factory {
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("gateway/adapters")
	}
	return &Factory{
		datasources: opts.Datasources,
		providers:   opts.Providers,
		vectors:     opts.Vectors,
		inference:   opts.Inference,
		embedding:   opts.Embedding,
		logger:      logger,
	}
}

// providerConfig resolves the effective provider config for a descriptor
// override: a non-empty override replaces the provider name, keeping the
// base credentials and tuning.
func providerConfig(base core.ProviderConfig, override string) core.ProviderConfig {
	if override != "" {
		base.Provider = override
	}
	return base
}

// Build creates the adapter instance a descriptor describes.
func (f *Factory) Build(ctx context.Context, d core.AdapterDescriptor) (core.Adapter, error) {
	if !d.Enabled {
		return nil, fmt.Errorf("adapter %s is disabled: %w", d.Name, core.ErrAdapterNotFound)
	}

	switch d.Implementation {
	case ImplIntentSQL, ImplIntentMongo, ImplIntentHTTP, ImplIntentGraphQL:
		return f.buildIntent(ctx, d)
	case ImplVector:
		return f.buildVector(d)
	case ImplKeyword:
		return f.buildKeyword(ctx, d)
	case ImplMongo:
		return f.buildMongo(ctx, d)
	case ImplFileChunk:
		return f.buildFileChunk(d)
	default:
		return nil, fmt.Errorf("adapter %s: unknown implementation %q: %w",
			d.Name, d.Implementation, core.ErrInvalidConfiguration)
	}
}

func (f *Factory) buildIntent(ctx context.Context, d core.AdapterDescriptor) (core.Adapter, error) {
	libraryPath := configString(d.Config, "template_library", "")
	if libraryPath == "" {
		return nil, fmt.Errorf("adapter %s: template_library required: %w", d.Name, core.ErrMissingConfiguration)
	}
	tpls, vocab, err := templates.LoadLibrary(libraryPath)
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", d.Name, err)
	}

	embedder, err := f.providers.Embedder(providerConfig(f.embedding, d.EmbeddingProvider))
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", d.Name, err)
	}
	client, err := f.providers.Client(providerConfig(f.inference, d.InferenceProvider))
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", d.Name, err)
	}

	collection := configString(d.Config, "collection", "templates_"+d.Name)
	store, err := templates.NewStore(tpls, templates.StoreOptions{
		Collection: collection,
		Vectors:    f.vectors,
		Embedder:   embedder,
		Vocabulary: vocab,
		Logger:     f.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", d.Name, err)
	}
	if err := store.Index(ctx); err != nil {
		return nil, fmt.Errorf("adapter %s: indexing templates: %w", d.Name, err)
	}

	executor, err := f.intentExecutor(ctx, d)
	if err != nil {
		return nil, err
	}

	matcher := intent.NewMatcher(store,
		configFloat(d.Config, "confidence_threshold", 0),
		configInt(d.Config, "max_templates", 0),
		f.logger)
	extractor := intent.NewExtractor(client, vocab, f.logger)

	return intent.NewEngine(d.Name, matcher, extractor, executor,
		intent.WithLogger(f.logger)), nil
}

func (f *Factory) intentExecutor(ctx context.Context, d core.AdapterDescriptor) (intent.OperationExecutor, error) {
	switch d.Implementation {
	case ImplIntentSQL:
		ds, err := f.datasources.SQL(ctx, d.Datasource)
		if err != nil {
			return nil, fmt.Errorf("adapter %s: %w", d.Name, err)
		}
		return intent.NewSQLExecutor(ds, f.logger), nil

	case ImplIntentMongo:
		ds, err := f.datasources.Mongo(ctx, d.Datasource)
		if err != nil {
			return nil, fmt.Errorf("adapter %s: %w", d.Name, err)
		}
		return intent.NewMongoExecutor(ds,
			configString(d.Config, "collection", ""),
			int64(configInt(d.Config, "max_limit", 0)),
			f.logger), nil

	case ImplIntentHTTP:
		ds, err := f.datasources.HTTP(d.Datasource)
		if err != nil {
			return nil, fmt.Errorf("adapter %s: %w", d.Name, err)
		}
		return intent.NewHTTPExecutor(ds, configInt(d.Config, "max_retries", 0), f.logger), nil

	default: // ImplIntentGraphQL
		ds, err := f.datasources.HTTP(d.Datasource)
		if err != nil {
			return nil, fmt.Errorf("adapter %s: %w", d.Name, err)
		}
		return intent.NewGraphQLExecutor(ds, configBool(d.Config, "allow_partial", false), f.logger), nil
	}
}

func (f *Factory) buildVector(d core.AdapterDescriptor) (core.Adapter, error) {
	embedder, err := f.providers.Embedder(providerConfig(f.embedding, d.EmbeddingProvider))
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", d.Name, err)
	}
	return retrievers.NewVectorRetriever(d.Name, retrievers.VectorRetrieverOptions{
		Collection:         configString(d.Config, "collection", ""),
		Store:              f.vectors,
		Embedder:           embedder,
		MaxResults:         configInt(d.Config, "max_results", 0),
		RelevanceThreshold: configFloat(d.Config, "relevance_threshold", 0),
		Logger:             f.logger,
	})
}

func (f *Factory) buildKeyword(ctx context.Context, d core.AdapterDescriptor) (core.Adapter, error) {
	ds, err := f.datasources.SQL(ctx, d.Datasource)
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", d.Name, err)
	}
	return retrievers.NewKeywordRetriever(d.Name, retrievers.KeywordRetrieverOptions{
		Datasource:         ds,
		Table:              configString(d.Config, "table", ""),
		TextColumn:         configString(d.Config, "content_field", ""),
		IDColumn:           configString(d.Config, "id_field", ""),
		MaxResults:         configInt(d.Config, "max_results", 0),
		RelevanceThreshold: configFloat(d.Config, "relevance_threshold", 0),
		Logger:             f.logger,
	})
}

func (f *Factory) buildMongo(ctx context.Context, d core.AdapterDescriptor) (core.Adapter, error) {
	ds, err := f.datasources.Mongo(ctx, d.Datasource)
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", d.Name, err)
	}
	return retrievers.NewMongoRetriever(d.Name, retrievers.MongoRetrieverOptions{
		Datasource:         ds,
		Collection:         configString(d.Config, "collection", ""),
		TextField:          configString(d.Config, "content_field", ""),
		MaxResults:         configInt(d.Config, "max_results", 0),
		RelevanceThreshold: configFloat(d.Config, "relevance_threshold", 0),
		Logger:             f.logger,
	})
}

func (f *Factory) buildFileChunk(d core.AdapterDescriptor) (core.Adapter, error) {
	embedder, err := f.providers.Embedder(providerConfig(f.embedding, d.EmbeddingProvider))
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", d.Name, err)
	}
	store, err := retrievers.NewChunkStore(retrievers.ChunkStoreOptions{
		Vectors:  f.vectors,
		Embedder: embedder,
		TTL:      time.Duration(configInt(d.Config, "cache_ttl", 0)) * time.Second,
		Logger:   f.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", d.Name, err)
	}
	return retrievers.NewFileChunkRetriever(d.Name, retrievers.FileChunkRetrieverOptions{
		Owner:              configString(d.Config, "owner", d.Name),
		Store:              store,
		MaxResults:         configInt(d.Config, "max_results", 0),
		RelevanceThreshold: configFloat(d.Config, "relevance_threshold", 0),
		Logger:             f.logger,
	})
}

// Config map accessors. Descriptor config maps come from YAML, so numbers
// may arrive as int or float64.

func configString(m map[string]interface{}, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func configInt(m map[string]interface{}, key string, fallback int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func configFloat(m map[string]interface{}, key string, fallback float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

func configBool(m map[string]interface{}, key string, fallback bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return fallback
}
