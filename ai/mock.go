package ai

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/schmitech/orbit/core"
)

// MockFactory builds deterministic in-process providers. Used by tests and
// by deployments that want the full pipeline without a live LLM.
type MockFactory struct{}

func (f *MockFactory) Name() string { return "mock" }

func (f *MockFactory) Description() string {
	return "Deterministic in-process provider for tests and offline runs"
}

func (f *MockFactory) CreateClient(cfg core.ProviderConfig, logger core.Logger) (core.AIClient, error) {
	return &MockClient{model: cfg.Model}, nil
}

func (f *MockFactory) CreateEmbedder(cfg core.ProviderConfig, logger core.Logger) (core.Embedder, error) {
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 16
	}
	return &MockEmbedder{dims: dims}, nil
}

// MockClient echoes a canned response, or a scripted response when set.
type MockClient struct {
	model string

	// Response, when non-empty, is returned verbatim. Otherwise the client
	// echoes a summary of the prompt.
	Response string

	// Responses maps prompt substrings to responses, checked in insertion
	// order via Script.
	script []scriptEntry
}

type scriptEntry struct {
	contains string
	response string
}

// Script registers a response for prompts containing the given substring.
func (m *MockClient) Script(contains, response string) *MockClient {
	m.script = append(m.script, scriptEntry{contains: contains, response: response})
	return m
}

func (m *MockClient) respond(prompt string) string {
	for _, e := range m.script {
		if strings.Contains(prompt, e.contains) {
			return e.response
		}
	}
	if m.Response != "" {
		return m.Response
	}
	return "mock response"
}

func (m *MockClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	content := m.respond(prompt)
	return &core.AIResponse{
		Content: content,
		Model:   m.model,
		Usage: core.TokenUsage{
			PromptTokens:     len(strings.Fields(prompt)),
			CompletionTokens: len(strings.Fields(content)),
			TotalTokens:      len(strings.Fields(prompt)) + len(strings.Fields(content)),
		},
	}, nil
}

// StreamResponse streams the canned response word by word.
func (m *MockClient) StreamResponse(ctx context.Context, prompt string, options *core.AIOptions, fn func(delta string) error) (*core.AIResponse, error) {
	content := m.respond(prompt)
	words := strings.SplitAfter(content, " ")
	for _, w := range words {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := fn(w); err != nil {
			return nil, err
		}
	}
	return &core.AIResponse{Content: content, Model: m.model}, nil
}

// MockEmbedder produces stable pseudo-embeddings: the same text always maps
// to the same vector, and similar token sets land near each other.
type MockEmbedder struct {
	dims int
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, m.dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[int(h.Sum32())%m.dims] += 1
	}
	return vec, nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
