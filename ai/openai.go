package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/schmitech/orbit/core"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIFactory builds clients for OpenAI and any OpenAI-compatible server
// (Ollama, vLLM, llama.cpp) selected via base_url.
type OpenAIFactory struct{}

func (f *OpenAIFactory) Name() string { return "openai" }

func (f *OpenAIFactory) Description() string {
	return "OpenAI and OpenAI-compatible chat/embedding endpoints"
}

func (f *OpenAIFactory) CreateClient(cfg core.ProviderConfig, logger core.Logger) (core.AIClient, error) {
	return newOpenAIClient(cfg, logger)
}

func (f *OpenAIFactory) CreateEmbedder(cfg core.ProviderConfig, logger core.Logger) (core.Embedder, error) {
	return newOpenAIClient(cfg, logger)
}

// OpenAIClient implements core.StreamingAIClient and core.Embedder over the
// OpenAI REST API.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	temperature float32
	httpClient *http.Client
	logger     core.Logger
}

func newOpenAIClient(cfg core.ProviderConfig, logger core.Logger) (*OpenAIClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai provider requires a model: %w", core.ErrMissingConfiguration)
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("gateway/ai")
	}

	return &OpenAIClient{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: 180 * time.Second},
		logger:      logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *OpenAIClient) buildRequest(prompt string, options *core.AIOptions, stream bool) chatRequest {
	model := c.model
	temperature := c.temperature
	maxTokens := c.maxTokens
	systemPrompt := ""
	if options != nil {
		if options.Model != "" {
			model = options.Model
		}
		if options.MaxTokens > 0 {
			maxTokens = options.MaxTokens
		}
		temperature = options.Temperature
		systemPrompt = options.SystemPrompt
	}

	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	return chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
}

func (c *OpenAIClient) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request %s: %v: %w", path, err, core.ErrConnectionFailed)
	}
	return resp, nil
}

// GenerateResponse performs one non-streaming chat completion.
func (c *OpenAIClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	start := time.Now()
	reqBody := c.buildRequest(prompt, options, false)

	resp, err := c.post(ctx, "/chat/completions", reqBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("reading provider response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decoding provider response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("provider returned %d: %s: %w", resp.StatusCode, msg, core.ErrRequestFailed)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices: %w", core.ErrRequestFailed)
	}

	c.logger.Debug("Chat completion finished", map[string]interface{}{
		"operation":     "ai_generate",
		"model":         reqBody.Model,
		"prompt_tokens": parsed.Usage.PromptTokens,
		"total_tokens":  parsed.Usage.TotalTokens,
		"duration_ms":   time.Since(start).Milliseconds(),
	})

	return &core.AIResponse{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
		Usage: core.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

// StreamResponse performs a streaming chat completion, invoking fn for each
// content delta. The accumulated response is returned when the stream ends.
func (c *OpenAIClient) StreamResponse(ctx context.Context, prompt string, options *core.AIOptions, fn func(delta string) error) (*core.AIResponse, error) {
	reqBody := c.buildRequest(prompt, options, true)

	resp, err := c.post(ctx, "/chat/completions", reqBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, fmt.Errorf("provider returned %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(data)), core.ErrRequestFailed)
	}

	var content strings.Builder
	model := reqBody.Model
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Warn("Skipping malformed stream chunk", map[string]interface{}{
				"operation": "ai_stream",
				"error":     err.Error(),
			})
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		content.WriteString(delta)
		if err := fn(delta); err != nil {
			return nil, fmt.Errorf("stream consumer aborted: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %v: %w", err, core.ErrConnectionFailed)
	}

	return &core.AIResponse{Content: content.String(), Model: model}, nil
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed returns the embedding for one text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns embeddings for a batch of texts, in input order.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.post(ctx, "/embeddings", embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return nil, fmt.Errorf("reading embedding response: %w", err)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decoding embedding response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("embedding provider returned %d: %s: %w", resp.StatusCode, msg, core.ErrRequestFailed)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d inputs: %w",
			len(parsed.Data), len(texts), core.ErrRequestFailed)
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding provider returned out-of-range index %d: %w", d.Index, core.ErrRequestFailed)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
