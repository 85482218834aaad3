package core

import "time"

// ContextItem is one unit of evidence supplied to the LLM. Confidence is
// monotone: higher means more relevant. Retrievers drop items below their
// configured relevance threshold before returning.
type ContextItem struct {
	Content       string                 `json:"content"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Confidence    float64                `json:"confidence"`
	RawDocument   string                 `json:"raw_document,omitempty"`
	SourceAdapter string                 `json:"source_adapter,omitempty"`
	SourceURL     string                 `json:"source_url,omitempty"`
	ChunkID       string                 `json:"chunk_id,omitempty"`
}

// RetrieveOptions carries per-request knobs into adapters.
type RetrieveOptions struct {
	MaxResults         int
	RelevanceThreshold float64
	CollectionOverride string
	APIKey             string
	SessionID          string
	Extra              map[string]interface{}
}

// AdapterResult is the executor's per-adapter outcome. The executor always
// returns exactly one result per requested adapter.
type AdapterResult struct {
	AdapterName   string        `json:"adapter_name"`
	Success       bool          `json:"success"`
	Data          []ContextItem `json:"data,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// ChatMessage is one turn of a conversation as supplied by clients.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the POST /v1/chat request body.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	FileIDs  []string      `json:"file_ids,omitempty"`
}

// ChatResponse is the non-streaming chat reply.
type ChatResponse struct {
	Response string                   `json:"response"`
	Sources  []map[string]interface{} `json:"sources,omitempty"`
	Usage    *TokenUsage              `json:"usage,omitempty"`
}

// StreamChunk is one SSE frame of a streaming chat reply.
type StreamChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}
