package core

import (
	"context"
	"time"
)

// Logger interface - minimal logging interface shared by every package.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// ComponentAwareLogger can scope log output to a named component
// (e.g. "gateway/executor"). Implementations return a derived logger.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// Telemetry interface - optional telemetry support
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents a telemetry span
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// AIClient is the minimal surface the gateway needs from an LLM provider.
type AIClient interface {
	GenerateResponse(ctx context.Context, prompt string, options *AIOptions) (*AIResponse, error)
}

// StreamingAIClient is implemented by providers that can stream tokens.
// The callback receives each content delta; returning an error aborts the
// stream.
type StreamingAIClient interface {
	AIClient
	StreamResponse(ctx context.Context, prompt string, options *AIOptions, fn func(delta string) error) (*AIResponse, error)
}

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// AIOptions for AI generation
type AIOptions struct {
	Model        string
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
}

// AIResponse from AI client
type AIResponse struct {
	Content string
	Model   string
	Usage   TokenUsage
}

// TokenUsage for AI responses
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// VectorRecord is one (id, vector, metadata) entry in a vector store.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Document  string
	Metadata  map[string]interface{}
}

// VectorMatch is one nearest-neighbour search result. Distance is the raw
// store distance (cosine, in [0,2]); consumers convert to similarity.
type VectorMatch struct {
	Record   VectorRecord
	Distance float64
}

// VectorStore abstracts add/search/delete over named collections.
type VectorStore interface {
	Add(ctx context.Context, collection string, records []VectorRecord) error
	Search(ctx context.Context, collection string, embedding []float32, limit int) ([]VectorMatch, error)
	Delete(ctx context.Context, collection string, ids []string) error
	DeleteCollection(ctx context.Context, collection string) error
	ListCollections(ctx context.Context) ([]string, error)
}

// Adapter is the capability every retrieval component exposes: given a user
// query, return zero or more context items. Implementations must honour ctx
// cancellation and never panic across this boundary.
type Adapter interface {
	Name() string
	Retrieve(ctx context.Context, query string, options RetrieveOptions) ([]ContextItem, error)
}

// HealthChecker is implemented by components with a meaningful liveness probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Memory interface for state storage
type Memory interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// KeyResolver validates an API credential and resolves it to a key record.
// The concrete auth service is an external collaborator; the gateway only
// consumes this interface.
type KeyResolver interface {
	Resolve(ctx context.Context, apiKey string) (*APIKeyRecord, error)
}

// APIKeyRecord is the gateway-visible view of an API credential.
type APIKeyRecord struct {
	Key          string
	Active       bool
	AdapterNames []string
	SystemPrompt string
}

// Default no-op implementations

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// NoOpTelemetry provides a no-op telemetry implementation
type NoOpTelemetry struct{}

func (n *NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &NoOpSpan{}
}

func (n *NoOpTelemetry) RecordMetric(name string, value float64, labels map[string]string) {}

// NoOpSpan provides a no-op span implementation
type NoOpSpan struct{}

func (n *NoOpSpan) End()                                       {}
func (n *NoOpSpan) SetAttribute(key string, value interface{}) {}
func (n *NoOpSpan) RecordError(err error)                      {}

// StaticKeyResolver resolves keys from a fixed table. Used when the gateway
// runs without an external auth service.
type StaticKeyResolver struct {
	Records map[string]*APIKeyRecord
}

func (s *StaticKeyResolver) Resolve(ctx context.Context, apiKey string) (*APIKeyRecord, error) {
	rec, ok := s.Records[apiKey]
	if !ok || !rec.Active {
		return nil, ErrUnauthorized
	}
	return rec, nil
}
