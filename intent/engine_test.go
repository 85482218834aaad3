package intent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/templates"
)

type stubExecutor struct {
	rows     []map[string]interface{}
	err      error
	gotQuery map[string]interface{}
}

func (s *stubExecutor) Execute(ctx context.Context, t *templates.Template, params map[string]interface{}) ([]map[string]interface{}, error) {
	s.gotQuery = params
	return s.rows, s.err
}

func newTestEngine(t *testing.T, exec OperationExecutor) *Engine {
	t.Helper()
	tpl := ordersTemplate()
	store := indexedStore(t, &fixedEmbedder{vectors: map[string][]float32{}}, nil, tpl)
	matcher := NewMatcher(store, 0.75, 5, nil)
	extractor := NewExtractor(nil, nil, nil)
	return NewEngine("orders-intent", matcher, extractor, exec)
}

func TestEngineRetrieveSuccess(t *testing.T) {
	exec := &stubExecutor{rows: []map[string]interface{}{
		{"id": 1, "total": 19.99},
	}}
	engine := newTestEngine(t, exec)

	items, err := engine.Retrieve(context.Background(), "show me customer 456's orders", core.RetrieveOptions{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Items: %v", items)
	}
	if items[0].Confidence <= 0.75 {
		t.Errorf("Confidence must carry the match similarity, got %f", items[0].Confidence)
	}
	if !strings.Contains(items[0].Content, "total: 19.99") {
		t.Errorf("Content: %q", items[0].Content)
	}
	if exec.gotQuery["customer_id"] != 456 {
		t.Errorf("Extracted parameter not passed through: %v", exec.gotQuery)
	}
}

func TestEngineRetrieveNoMatchIsNotAnError(t *testing.T) {
	exec := &stubExecutor{}
	engine := newTestEngine(t, exec)

	// The embedder returns an orthogonal vector for unknown queries only
	// when configured; here the default vector matches, so force the miss
	// with a threshold the default similarity cannot reach.
	tpl := ordersTemplate()
	store := indexedStore(t, &fixedEmbedder{vectors: map[string][]float32{
		tpl.EmbeddingText(nil):   {1, 0},
		"completely unrelated q": {0, 1},
	}}, nil, tpl)
	engine = NewEngine("orders-intent", NewMatcher(store, 0.75, 5, nil), NewExtractor(nil, nil, nil), exec)

	items, err := engine.Retrieve(context.Background(), "completely unrelated q", core.RetrieveOptions{})
	if err != nil {
		t.Fatalf("No-match must not be an error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Items: %v", items)
	}
	if items[0].Metadata["no_matching_template"] != true {
		t.Errorf("Expected no-match marker, got %v", items[0].Metadata)
	}
	if items[0].Confidence != 0 {
		t.Errorf("No-match confidence must be 0, got %f", items[0].Confidence)
	}
	if exec.gotQuery != nil {
		t.Error("Executor must not run without a match")
	}
}

func TestEngineRetrieveValidationFailure(t *testing.T) {
	exec := &stubExecutor{}
	engine := newTestEngine(t, exec)

	// No customer id anywhere in the query: the required parameter stays
	// missing and validation blocks execution.
	items, err := engine.Retrieve(context.Background(), "show me customer orders", core.RetrieveOptions{})
	if err != nil {
		t.Fatalf("Validation failure must not be an error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Items: %v", items)
	}
	if !strings.HasPrefix(items[0].Content, "I could not complete this request:") {
		t.Errorf("Content: %q", items[0].Content)
	}
	if items[0].Metadata["success"] != false {
		t.Errorf("Expected success=false marker, got %v", items[0].Metadata)
	}
	if exec.gotQuery != nil {
		t.Error("Executor must not run with invalid parameters")
	}
}

func TestEngineRetrieveBackendErrorPropagates(t *testing.T) {
	exec := &stubExecutor{err: errors.New("connection refused")}
	engine := newTestEngine(t, exec)

	_, err := engine.Retrieve(context.Background(), "show me customer 456's orders", core.RetrieveOptions{})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Backend error must propagate for the circuit breaker, got %v", err)
	}
}

func TestEngineAppliesResponseMapping(t *testing.T) {
	exec := &stubExecutor{rows: []map[string]interface{}{
		{"customer": map[string]interface{}{"name": "Jane"}, "total": 42.0},
	}}

	tpl := ordersTemplate()
	tpl.ResponseMapping = map[string]string{"name": "customer.name", "amount": "total"}
	store := indexedStore(t, &fixedEmbedder{vectors: map[string][]float32{}}, nil, tpl)
	engine := NewEngine("orders-intent", NewMatcher(store, 0.75, 5, nil), NewExtractor(nil, nil, nil), exec)

	items, err := engine.Retrieve(context.Background(), "show me customer 456's orders", core.RetrieveOptions{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !strings.Contains(items[0].Content, "name: Jane") || !strings.Contains(items[0].Content, "amount: 42") {
		t.Errorf("Mapped content: %q", items[0].Content)
	}
}
