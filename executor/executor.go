// Package executor implements the parallel adapter fan-out: bounded,
// per-adapter circuit-broken, timeout-enforced execution over retrieval
// adapters with first-success / all / best-effort strategies.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/resilience"
)

// Fan-out strategies.
const (
	StrategyAll          = "all"
	StrategyFirstSuccess = "first_success"
	StrategyBestEffort   = "best_effort"
)

// AdapterSource resolves adapter names to runtime instances. The adapter
// registry implements this.
type AdapterSource interface {
	Get(ctx context.Context, name string) (core.Adapter, error)
}

// ParallelExecutor fans a query out over adapters. Each invocation goes
// through the adapter's circuit breaker; concurrency is bounded by
// MaxConcurrentAdapters; the overall fan-out is bounded by the execution
// timeout. The effective per-call deadline is the minimum of the breaker's
// operation timeout and the remaining execution timeout.
type ParallelExecutor struct {
	source    AdapterSource
	breakers  *resilience.Manager
	config    core.ExecutionConfig
	semaphore chan struct{}

	logger    core.Logger
	telemetry core.Telemetry
}

// Option configures the executor.
type Option func(*ParallelExecutor)

// WithLogger sets the structured logger.
func WithLogger(logger core.Logger) Option {
	return func(e *ParallelExecutor) {
		if cal, ok := logger.(core.ComponentAwareLogger); ok {
			e.logger = cal.WithComponent("gateway/executor")
		} else if logger != nil {
			e.logger = logger
		}
	}
}

// WithTelemetry sets the telemetry provider.
func WithTelemetry(t core.Telemetry) Option {
	return func(e *ParallelExecutor) {
		if t != nil {
			e.telemetry = t
		}
	}
}

// New creates a parallel executor.
func New(source AdapterSource, breakers *resilience.Manager, config core.ExecutionConfig, opts ...Option) *ParallelExecutor {
	if config.MaxConcurrentAdapters < 1 {
		config.MaxConcurrentAdapters = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Strategy == "" {
		config.Strategy = StrategyAll
	}

	e := &ParallelExecutor{
		source:    source,
		breakers:  breakers,
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrentAdapters),
		logger:    &core.NoOpLogger{},
		telemetry: &core.NoOpTelemetry{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute fans query out over adapterNames using the configured strategy.
// The returned slice always has exactly one entry per requested adapter, in
// request order.
func (e *ParallelExecutor) Execute(ctx context.Context, query string, adapterNames []string, options core.RetrieveOptions) []core.AdapterResult {
	return e.ExecuteWithStrategy(ctx, query, adapterNames, options, e.config.Strategy)
}

type completion struct {
	idx    int
	result core.AdapterResult
}

// ExecuteWithStrategy runs the fan-out with an explicit strategy.
func (e *ParallelExecutor) ExecuteWithStrategy(ctx context.Context, query string, adapterNames []string, options core.RetrieveOptions, strategy string) []core.AdapterResult {
	start := time.Now()

	ctx, span := e.telemetry.StartSpan(ctx, "executor.execute")
	defer span.End()
	span.SetAttribute("executor.strategy", strategy)
	span.SetAttribute("executor.adapter_count", len(adapterNames))

	e.logger.Debug("Starting adapter fan-out", map[string]interface{}{
		"operation":     "executor_fanout",
		"strategy":      strategy,
		"adapters":      adapterNames,
		"max_concurrent": e.config.MaxConcurrentAdapters,
		"timeout_ms":    e.config.Timeout.Milliseconds(),
	})

	results := make([]core.AdapterResult, len(adapterNames))
	for i, name := range adapterNames {
		results[i] = core.AdapterResult{AdapterName: name, Success: false}
	}
	if len(adapterNames) == 0 {
		return results
	}

	fanCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	completions := make(chan completion, len(adapterNames))
	for i, name := range adapterNames {
		go e.launch(fanCtx, i, name, query, options, completions)
	}

	completed := make(map[int]bool, len(adapterNames))
	satisfied := false

collect:
	for len(completed) < len(adapterNames) {
		select {
		case c := <-completions:
			completed[c.idx] = true
			results[c.idx] = c.result

			if strategy == StrategyFirstSuccess && !satisfied && c.result.Success && len(c.result.Data) > 0 {
				satisfied = true
				cancel()
				break collect
			}

		case <-fanCtx.Done():
			break collect
		}
	}

	// Stamp outcomes for launches that did not complete in time. Their
	// operations may run to completion in the background; those late results
	// are discarded.
	for i := range adapterNames {
		if completed[i] {
			continue
		}
		if satisfied {
			results[i].Error = "cancelled"
		} else {
			results[i].Error = "execution timeout"
		}
		results[i].ExecutionTime = time.Since(start)
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	e.logger.Info("Adapter fan-out finished", map[string]interface{}{
		"operation":   "executor_fanout_complete",
		"strategy":    strategy,
		"adapters":    len(adapterNames),
		"succeeded":   succeeded,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	span.SetAttribute("executor.succeeded", succeeded)
	e.telemetry.RecordMetric("orbit.executor.fanouts", 1, map[string]string{"strategy": strategy})

	return results
}

// launch runs one adapter behind the concurrency semaphore and its circuit
// breaker, and reports a completion. A failed adapter never blocks others;
// panics are converted to failed results.
func (e *ParallelExecutor) launch(ctx context.Context, idx int, name, query string, options core.RetrieveOptions, out chan<- completion) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Adapter execution panic", map[string]interface{}{
				"operation": "executor_adapter_panic",
				"adapter":   name,
				"panic":     fmt.Sprintf("%v", r),
				"stack":     string(debug.Stack()),
			})
			out <- completion{idx: idx, result: core.AdapterResult{
				AdapterName:   name,
				Success:       false,
				Error:         fmt.Sprintf("adapter panic: %v", r),
				ExecutionTime: time.Since(start),
			}}
		}
	}()

	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		out <- completion{idx: idx, result: core.AdapterResult{
			AdapterName:   name,
			Success:       false,
			Error:         cancellationLabel(ctx),
			ExecutionTime: time.Since(start),
		}}
		return
	}

	adapter, err := e.source.Get(ctx, name)
	if err != nil {
		e.logger.Warn("Adapter resolution failed", map[string]interface{}{
			"operation": "executor_adapter_resolve",
			"adapter":   name,
			"error":     err.Error(),
		})
		out <- completion{idx: idx, result: core.AdapterResult{
			AdapterName:   name,
			Success:       false,
			Error:         truncateError(err),
			ExecutionTime: time.Since(start),
		}}
		return
	}

	var items []core.ContextItem
	breaker := e.breakers.Get(name)
	execErr := breaker.Execute(ctx, func(callCtx context.Context) error {
		retrieved, rerr := adapter.Retrieve(callCtx, query, options)
		if rerr != nil {
			return rerr
		}
		items = retrieved
		return nil
	})

	result := core.AdapterResult{
		AdapterName:   name,
		ExecutionTime: time.Since(start),
	}
	if execErr != nil {
		result.Success = false
		result.Error = truncateError(execErr)
		e.logger.Debug("Adapter execution failed", map[string]interface{}{
			"operation":   "executor_adapter_failed",
			"adapter":     name,
			"error":       result.Error,
			"duration_ms": result.ExecutionTime.Milliseconds(),
		})
	} else {
		result.Success = true
		result.Data = items
		e.logger.Debug("Adapter execution succeeded", map[string]interface{}{
			"operation":   "executor_adapter_success",
			"adapter":     name,
			"items":       len(items),
			"duration_ms": result.ExecutionTime.Milliseconds(),
		})
	}

	out <- completion{idx: idx, result: result}
}

func cancellationLabel(ctx context.Context) string {
	if ctx.Err() == context.DeadlineExceeded {
		return "execution timeout"
	}
	return "cancelled"
}

// truncateError bounds upstream error text so backend failures cannot flood
// result payloads or logs.
func truncateError(err error) string {
	const maxLen = 500
	msg := err.Error()
	if len(msg) > maxLen {
		return msg[:maxLen] + "..."
	}
	return msg
}
