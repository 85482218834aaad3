package intent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/templates"
)

// OperationExecutor runs one backend family's operation for a matched
// template and validated parameters.
type OperationExecutor interface {
	Execute(ctx context.Context, t *templates.Template, params map[string]interface{}) ([]map[string]interface{}, error)
}

// Engine is the intent retrieval pipeline: match → extract → validate →
// execute → shape. It implements core.Adapter; the backend family is
// selected by the injected OperationExecutor.
type Engine struct {
	name      string
	matcher   *Matcher
	extractor *Extractor
	executor  OperationExecutor
	logger    core.Logger
	telemetry core.Telemetry
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger core.Logger) EngineOption {
	return func(e *Engine) {
		if cal, ok := logger.(core.ComponentAwareLogger); ok {
			e.logger = cal.WithComponent("gateway/intent")
		} else if logger != nil {
			e.logger = logger
		}
	}
}

// WithTelemetry sets the telemetry provider.
func WithTelemetry(t core.Telemetry) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.telemetry = t
		}
	}
}

// NewEngine assembles the pipeline.
func NewEngine(name string, matcher *Matcher, extractor *Extractor, executor OperationExecutor, opts ...EngineOption) *Engine {
	e := &Engine{
		name:      name,
		matcher:   matcher,
		extractor: extractor,
		executor:  executor,
		logger:    &core.NoOpLogger{},
		telemetry: &core.NoOpTelemetry{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the adapter name.
func (e *Engine) Name() string { return e.name }

// Retrieve runs the full pipeline for one query. Match and validation
// shortfalls come back as marker ContextItems, not errors; only backend
// failures propagate as errors so the circuit breaker can see them.
func (e *Engine) Retrieve(ctx context.Context, query string, options core.RetrieveOptions) ([]core.ContextItem, error) {
	start := time.Now()
	ctx, span := e.telemetry.StartSpan(ctx, "intent.retrieve")
	defer span.End()
	span.SetAttribute("intent.adapter", e.name)

	match, err := e.matcher.Match(ctx, query)
	if err != nil {
		if core.IsNotFound(err) {
			e.logger.Debug("No template above threshold", map[string]interface{}{
				"operation": "intent_retrieve",
				"adapter":   e.name,
			})
			e.telemetry.RecordMetric("orbit.intent.no_match", 1, map[string]string{"adapter": e.name})
			return []core.ContextItem{noMatchItem()}, nil
		}
		return nil, fmt.Errorf("matching templates: %w", err)
	}
	span.SetAttribute("intent.template", match.Template.ID)
	span.SetAttribute("intent.similarity", match.Similarity)

	params, err := e.extractor.Extract(ctx, query, match.Template)
	if err != nil {
		return nil, fmt.Errorf("extracting parameters for %s: %w", match.Template.ID, err)
	}

	validated, problems := Validate(params, match.Template)
	if len(problems) > 0 {
		e.logger.Debug("Parameter validation failed", map[string]interface{}{
			"operation": "intent_retrieve",
			"adapter":   e.name,
			"template":  match.Template.ID,
			"problems":  problems,
		})
		return []core.ContextItem{validationFailureItem(match.Template.ID, problems)}, nil
	}

	rows, err := e.executor.Execute(ctx, match.Template, validated)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("executing template %s: %w", match.Template.ID, err)
	}

	rows = ApplyResponseMapping(rows, match.Template.ResponseMapping)
	item := Shape(rows, match.Template, validated, match.Similarity)

	e.logger.Info("Intent retrieval complete", map[string]interface{}{
		"operation":   "intent_retrieve",
		"adapter":     e.name,
		"template":    match.Template.ID,
		"similarity":  match.Similarity,
		"rows":        len(rows),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return []core.ContextItem{item}, nil
}

// noMatchItem marks a query nothing in the library could serve. The
// orchestrator answers from the bare LLM or with a fallback message.
func noMatchItem() core.ContextItem {
	return core.ContextItem{
		Content:    "",
		Confidence: 0,
		Metadata: map[string]interface{}{
			"no_matching_template": true,
		},
	}
}

// validationFailureItem carries the human-readable reason the template was
// not executed. The orchestrator may relay it verbatim.
func validationFailureItem(templateID string, problems []string) core.ContextItem {
	return core.ContextItem{
		Content:    "I could not complete this request: " + strings.Join(problems, "; "),
		Confidence: 0,
		Metadata: map[string]interface{}{
			"template_id":       templateID,
			"success":           false,
			"validation_errors": problems,
		},
	}
}
