// Package chat implements the request orchestrator: it resolves the caller's
// adapter set, fans retrieval out through the executor, merges the returned
// context, assembles the prompt, and relays the LLM answer back, streaming
// or not. Degraded paths (all adapters failed, nothing retrieved) answer
// from configured messages or the bare LLM instead of erroring.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/schmitech/orbit/core"
)

// Runner is the executor surface the orchestrator needs.
type Runner interface {
	Execute(ctx context.Context, query string, adapterNames []string, options core.RetrieveOptions) []core.AdapterResult
}

// Options wires the orchestrator's collaborators. Executor and LLM are
// required; everything else degrades gracefully when absent.
type Options struct {
	Executor        Runner
	LLM             core.AIClient
	Resolver        core.KeyResolver
	Memory          core.Memory
	DefaultAdapters []string
	Config          core.ChatConfig
	Logger          core.Logger
	Telemetry       core.Telemetry
}

// Orchestrator drives one chat request end to end.
type Orchestrator struct {
	executor  Runner
	llm       core.AIClient
	resolver  core.KeyResolver
	defaults  []string
	config    core.ChatConfig
	history   *historyStore
	logger    core.Logger
	telemetry core.Telemetry
}

// New creates the orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("gateway/chat")
	}
	telemetry := opts.Telemetry
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Orchestrator{
		executor:  opts.Executor,
		llm:       opts.LLM,
		resolver:  opts.Resolver,
		defaults:  opts.DefaultAdapters,
		config:    opts.Config,
		history:   newHistoryStore(opts.Memory, opts.Config.HistoryTTL, logger),
		logger:    logger,
		telemetry: telemetry,
	}
}

// turn is the resolved state of one request before the LLM call.
type turn struct {
	query        string
	systemPrompt string
	adapters     []string
	context      []core.ContextItem
	history      []core.ChatMessage

	// canned, when non-empty, is returned verbatim without an LLM call.
	canned string
}

// prepare resolves the credential, runs retrieval, and decides the answer
// path.
func (o *Orchestrator) prepare(ctx context.Context, req core.ChatRequest, apiKey, sessionID string) (*turn, error) {
	query := lastUserMessage(req.Messages)
	if query == "" {
		return nil, fmt.Errorf("request has no user message: %w", core.ErrParameterValidation)
	}

	t := &turn{query: query, adapters: o.defaults}
	if apiKey != "" && o.resolver != nil {
		rec, err := o.resolver.Resolve(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		if len(rec.AdapterNames) > 0 {
			t.adapters = rec.AdapterNames
		}
		t.systemPrompt = rec.SystemPrompt
	}

	options := core.RetrieveOptions{APIKey: apiKey, SessionID: sessionID}
	if len(req.FileIDs) > 0 {
		options.Extra = map[string]interface{}{"file_ids": req.FileIDs}
	}

	results := o.executor.Execute(ctx, query, t.adapters, options)
	merged := Merge(results)

	// A parameter validation failure carries a human-readable reason; relay
	// it instead of letting the LLM invent an answer.
	if reason := validationFailure(merged); reason != "" {
		t.canned = reason
		return t, nil
	}

	t.context = filterContext(merged, o.config.RelevanceThreshold, o.config.MaxContextItems)
	t.history = o.history.load(ctx, sessionID)

	allFailed := len(results) > 0
	for _, r := range results {
		if r.Success {
			allFailed = false
			break
		}
	}
	switch {
	case allFailed && o.config.FallbackMessage != "":
		t.canned = o.config.FallbackMessage
	case !allFailed && len(t.context) == 0 && o.config.NoResultsMessage != "":
		t.canned = o.config.NoResultsMessage
	}

	o.logger.Debug("Chat turn prepared", map[string]interface{}{
		"operation":     "chat_prepare",
		"adapters":      t.adapters,
		"context_items": len(t.context),
		"degraded":      t.canned != "",
	})
	return t, nil
}

// Chat answers one request without streaming.
func (o *Orchestrator) Chat(ctx context.Context, req core.ChatRequest, apiKey, sessionID string) (*core.ChatResponse, error) {
	ctx, span := o.telemetry.StartSpan(ctx, "chat.request")
	defer span.End()

	t, err := o.prepare(ctx, req, apiKey, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if t.canned != "" {
		o.history.append(ctx, sessionID,
			core.ChatMessage{Role: "user", Content: t.query},
			core.ChatMessage{Role: "assistant", Content: t.canned})
		return &core.ChatResponse{Response: t.canned}, nil
	}

	resp, err := o.llm.GenerateResponse(ctx, buildPrompt(t.history, t.context, t.query), &core.AIOptions{
		SystemPrompt: t.systemPrompt,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("llm generation: %w", err)
	}

	o.history.append(ctx, sessionID,
		core.ChatMessage{Role: "user", Content: t.query},
		core.ChatMessage{Role: "assistant", Content: resp.Content})
	o.telemetry.RecordMetric("orbit.chat.requests", 1, map[string]string{"stream": "false"})

	return &core.ChatResponse{
		Response: resp.Content,
		Sources:  buildSources(t.context),
		Usage:    &resp.Usage,
	}, nil
}

// ChatStream answers one request, emitting content deltas as chunks. The
// final chunk has Done=true and empty content. Providers without streaming
// support emit the whole answer as a single chunk.
func (o *Orchestrator) ChatStream(ctx context.Context, req core.ChatRequest, apiKey, sessionID string, emit func(core.StreamChunk) error) error {
	ctx, span := o.telemetry.StartSpan(ctx, "chat.request.stream")
	defer span.End()

	t, err := o.prepare(ctx, req, apiKey, sessionID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	finish := func(full string) error {
		o.history.append(ctx, sessionID,
			core.ChatMessage{Role: "user", Content: t.query},
			core.ChatMessage{Role: "assistant", Content: full})
		return emit(core.StreamChunk{Done: true})
	}

	if t.canned != "" {
		if err := emit(core.StreamChunk{Response: t.canned}); err != nil {
			return err
		}
		return finish(t.canned)
	}

	prompt := buildPrompt(t.history, t.context, t.query)
	opts := &core.AIOptions{SystemPrompt: t.systemPrompt}

	if streamer, ok := o.llm.(core.StreamingAIClient); ok {
		resp, err := streamer.StreamResponse(ctx, prompt, opts, func(delta string) error {
			return emit(core.StreamChunk{Response: delta})
		})
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("llm streaming: %w", err)
		}
		o.telemetry.RecordMetric("orbit.chat.requests", 1, map[string]string{"stream": "true"})
		return finish(resp.Content)
	}

	resp, err := o.llm.GenerateResponse(ctx, prompt, opts)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("llm generation: %w", err)
	}
	if err := emit(core.StreamChunk{Response: resp.Content}); err != nil {
		return err
	}
	return finish(resp.Content)
}

// lastUserMessage returns the content of the most recent user turn.
func lastUserMessage(msgs []core.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return strings.TrimSpace(msgs[i].Content)
		}
	}
	return ""
}

// buildPrompt assembles the retrieval-augmented prompt: context block,
// recent conversation, then the question. An empty context produces a bare
// question, letting the LLM answer from its own knowledge.
func buildPrompt(history []core.ChatMessage, items []core.ContextItem, query string) string {
	var b strings.Builder

	if len(items) > 0 {
		b.WriteString("Use the following context to answer the question. ")
		b.WriteString("If the context does not contain the answer, say so.\n\nContext:\n")
		for i, item := range items {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, item.SourceAdapter, item.Content)
		}
		b.WriteString("\n")
	}

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

const sourceSnippetLen = 200

// buildSources summarizes the context items that informed the answer.
func buildSources(items []core.ContextItem) []map[string]interface{} {
	if len(items) == 0 {
		return nil
	}
	sources := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		snippet := item.Content
		if len(snippet) > sourceSnippetLen {
			snippet = snippet[:sourceSnippetLen] + "..."
		}
		src := map[string]interface{}{
			"adapter":    item.SourceAdapter,
			"content":    snippet,
			"confidence": item.Confidence,
		}
		if item.SourceURL != "" {
			src["source_url"] = item.SourceURL
		}
		if item.ChunkID != "" {
			src["chunk_id"] = item.ChunkID
		}
		sources = append(sources, src)
	}
	return sources
}
