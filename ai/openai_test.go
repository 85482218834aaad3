package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/schmitech/orbit/core"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*OpenAIClient, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	client, err := newOpenAIClient(core.ProviderConfig{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		APIKey:   "test-key",
		BaseURL:  srv.URL,
	}, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("newOpenAIClient: %v", err)
	}
	return client, srv.Close
}

func TestGenerateResponse(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	client, done := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "gpt-4o-mini",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "hello there"}},
			},
			"usage": map[string]int{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
		})
	})
	defer done()

	resp, err := client.GenerateResponse(context.Background(), "hi", &core.AIOptions{
		SystemPrompt: "be brief",
		Temperature:  0.1,
	})
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	if resp.Content != "hello there" {
		t.Errorf("Unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Errorf("Usage not mapped: %+v", resp.Usage)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Missing auth header, got %q", gotAuth)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("System prompt not sent first: %+v", gotReq.Messages)
	}
	if gotReq.Temperature != 0.1 {
		t.Errorf("Temperature not forwarded: %f", gotReq.Temperature)
	}
}

func TestGenerateResponseSurfacesProviderError(t *testing.T) {
	client, done := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "rate limited", "type": "rate_limit"},
		})
	})
	defer done()

	_, err := client.GenerateResponse(context.Background(), "hi", nil)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("Expected provider error message, got %v", err)
	}
	if !core.IsRetryable(err) {
		t.Errorf("Provider errors should be retryable, got %v", err)
	}
}

func TestStreamResponse(t *testing.T) {
	client, done := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("Expected stream=true in request")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Hel", "lo ", "world"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	defer done()

	var deltas []string
	resp, err := client.StreamResponse(context.Background(), "hi", nil, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("Accumulated content mismatch: %q", resp.Content)
	}
	if len(deltas) != 3 {
		t.Errorf("Expected 3 deltas, got %v", deltas)
	}
}

func TestStreamResponseConsumerAbort(t *testing.T) {
	client, done := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	defer done()

	_, err := client.StreamResponse(context.Background(), "hi", nil, func(delta string) error {
		return fmt.Errorf("client went away")
	})
	if err == nil || !strings.Contains(err.Error(), "aborted") {
		t.Errorf("Expected abort error, got %v", err)
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	client, done := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Return vectors out of order; the client must reorder by index.
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	})
	defer done()

	vectors, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Errorf("Vectors not ordered by index: %v", vectors)
	}
}

func TestRegistryResolvesProviders(t *testing.T) {
	r := DefaultRegistry(nil)

	if _, err := r.Client(core.ProviderConfig{Provider: "mock"}); err != nil {
		t.Errorf("mock client: %v", err)
	}
	if _, err := r.Embedder(core.ProviderConfig{Provider: "mock"}); err != nil {
		t.Errorf("mock embedder: %v", err)
	}
	if _, err := r.Client(core.ProviderConfig{Provider: "nope"}); !core.IsConfigurationError(err) {
		t.Errorf("Expected configuration error for unknown provider, got %v", err)
	}
	if err := r.Register(&MockFactory{}); err == nil {
		t.Error("Duplicate registration must fail")
	}
}

func TestMockClientScript(t *testing.T) {
	m := &MockClient{}
	m.Script("extract", `{"customer_id": 456}`)

	resp, _ := m.GenerateResponse(context.Background(), "please extract the parameters", nil)
	if resp.Content != `{"customer_id": 456}` {
		t.Errorf("Scripted response not used: %q", resp.Content)
	}

	var streamed strings.Builder
	_, err := m.StreamResponse(context.Background(), "anything else", nil, func(d string) error {
		streamed.WriteString(d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse: %v", err)
	}
	if streamed.String() != "mock response" {
		t.Errorf("Streamed content mismatch: %q", streamed.String())
	}
}

func TestMockEmbedderIsDeterministic(t *testing.T) {
	e := &MockEmbedder{dims: 8}
	a1, _ := e.Embed(context.Background(), "customer orders")
	a2, _ := e.Embed(context.Background(), "customer orders")
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatal("Same text must embed identically")
		}
	}
}
