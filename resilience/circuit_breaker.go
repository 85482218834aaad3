// Package resilience provides the per-adapter circuit breaker, worker-pool
// isolation, and retry helpers that guard every backend invocation.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/schmitech/orbit/core"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed allows all requests through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows a single probe request
	StateHalfOpen
)

// String returns the string representation of the state
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrorClassifier determines which errors count toward failure thresholds.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts infrastructure errors and timeouts; external
// cancellations and configuration errors do not move the state machine.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if core.IsTimeout(err) {
		return true
	}
	if core.IsCancellation(err) {
		return false
	}
	if core.IsConfigurationError(err) || core.IsStateError(err) || core.IsNotFound(err) {
		return false
	}
	return true
}

// Config holds configuration for one circuit breaker.
type Config struct {
	// Name identifies the breaker; by convention the adapter name.
	Name string

	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int

	// SuccessThreshold is the consecutive-success count in half-open that
	// closes the circuit.
	SuccessThreshold int

	// RecoveryTimeout is how long the circuit stays open before admitting a probe.
	RecoveryTimeout time.Duration

	// OperationTimeout is the hard per-call deadline.
	OperationTimeout time.Duration

	// Isolation selects how the operation runs: "none" (timeout only) or
	// "pool" (bounded worker pool of MaxWorkers). "process" is accepted for
	// configuration compatibility and degrades to a single-worker pool.
	Isolation string

	// MaxWorkers bounds the per-adapter worker pool.
	MaxWorkers int

	// ResponseTimeWindow bounds the rolling response-time sample.
	ResponseTimeWindow int

	// ErrorClassifier determines which errors count as failures.
	ErrorClassifier ErrorClassifier

	Logger  core.Logger
	Metrics MetricsCollector
}

// DefaultConfig returns production-ready breaker defaults.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:               name,
		FailureThreshold:   5,
		SuccessThreshold:   2,
		RecoveryTimeout:    30 * time.Second,
		OperationTimeout:   25 * time.Second,
		Isolation:          "pool",
		MaxWorkers:         4,
		ResponseTimeWindow: 100,
		ErrorClassifier:    DefaultErrorClassifier,
		Logger:             &core.NoOpLogger{},
		Metrics:            &noopMetrics{},
	}
}

// Validate checks the breaker configuration.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("configuration cannot be nil")
	}
	if c.Name == "" {
		return errors.New("circuit breaker name is required")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("success threshold must be at least 1, got %d", c.SuccessThreshold)
	}
	if c.RecoveryTimeout < 0 {
		return fmt.Errorf("recovery timeout must be non-negative, got %v", c.RecoveryTimeout)
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive, got %v", c.OperationTimeout)
	}
	switch c.Isolation {
	case "", "none", "pool", "process":
	default:
		return fmt.Errorf("unknown isolation mode %q", c.Isolation)
	}
	return nil
}

// Metrics is the per-breaker counter snapshot.
type Metrics struct {
	Total           uint64        `json:"total"`
	Successful      uint64        `json:"successful"`
	Failed          uint64        `json:"failed"`
	Timeout         uint64        `json:"timeout"`
	Rejected        uint64        `json:"rejected"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// CircuitBreaker wraps one adapter's invocations with a hard timeout,
// optional worker-pool isolation, failure accounting, and fast-fail when
// open. State transitions follow the consecutive-counter state machine.
type CircuitBreaker struct {
	config *Config
	pool   *WorkerPool

	mu                   sync.Mutex
	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureTime      time.Time
	lastSuccessTime      time.Time
	stateChangeTime      time.Time
	probeInFlight        bool
	forceOpen            bool
	forceClosed          bool

	metrics       Metrics
	responseTimes []time.Duration
	rtIdx         int
	rtFull        bool
}

// NewCircuitBreaker creates a circuit breaker in the closed state.
func NewCircuitBreaker(config *Config) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultConfig("default")
	}
	if err := config.Validate(); err != nil {
		if config.Logger != nil {
			config.Logger.Error("Circuit breaker configuration validation failed", map[string]interface{}{
				"operation": "circuit_breaker_validation_failed",
				"name":      config.Name,
				"error":     err.Error(),
			})
		}
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}

	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &noopMetrics{}
	}
	if config.ResponseTimeWindow <= 0 {
		config.ResponseTimeWindow = 100
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 4
	}

	cb := &CircuitBreaker{
		config:          config,
		state:           StateClosed,
		stateChangeTime: time.Now(),
		responseTimes:   make([]time.Duration, config.ResponseTimeWindow),
	}

	switch config.Isolation {
	case "pool":
		cb.pool = NewWorkerPool(config.Name, config.MaxWorkers, config.Logger)
	case "process":
		// Heavyweight isolation is for badly-behaved native backends; in
		// process we can only serialize, so degrade to one worker.
		cb.pool = NewWorkerPool(config.Name, 1, config.Logger)
		config.Logger.Warn("Process isolation degraded to single-worker pool", map[string]interface{}{
			"operation": "circuit_breaker_created",
			"name":      config.Name,
		})
	}

	config.Logger.Info("Circuit breaker created", map[string]interface{}{
		"operation":            "circuit_breaker_created",
		"name":                 config.Name,
		"failure_threshold":    config.FailureThreshold,
		"success_threshold":    config.SuccessThreshold,
		"recovery_timeout_ms":  config.RecoveryTimeout.Milliseconds(),
		"operation_timeout_ms": config.OperationTimeout.Milliseconds(),
		"isolation":            config.Isolation,
	})

	return cb, nil
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Execute wraps one invocation with the breaker's timeout, isolation, and
// accounting. It fast-fails with core.ErrCircuitBreakerOpen when open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, allowed := cb.beforeCall()
	if !allowed {
		cb.mu.Lock()
		cb.metrics.Rejected++
		cb.mu.Unlock()
		cb.config.Metrics.RecordRejection(cb.config.Name)
		return fmt.Errorf("circuit breaker %q is open: %w", cb.config.Name, core.ErrCircuitBreakerOpen)
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, cb.config.OperationTimeout)
	defer cancel()

	err := cb.run(callCtx, fn)
	elapsed := time.Since(start)

	// A call that completes at exactly the deadline counts as a timeout.
	if err == nil && elapsed >= cb.config.OperationTimeout {
		err = fmt.Errorf("operation completed at deadline: %w", core.ErrOperationTimeout)
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		// The per-call deadline fired, not the caller's context.
		err = fmt.Errorf("circuit breaker %q: %w", cb.config.Name, core.ErrOperationTimeout)
	}

	cb.afterCall(probe, err, elapsed)
	return err
}

// run dispatches the operation through the configured isolation. The
// function executes in its own goroutine in both modes so the timeout is
// always enforceable; panics are converted to errors.
func (cb *CircuitBreaker) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if cb.pool != nil {
		return cb.pool.Submit(ctx, fn)
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				cb.config.Logger.Error("Circuit breaker caught panic", map[string]interface{}{
					"operation": "circuit_breaker_panic",
					"name":      cb.config.Name,
					"panic":     fmt.Sprintf("%v", r),
				})
				done <- fmt.Errorf("panic in operation: %v\n%s", r, stack)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// The operation may run to completion in the background; its result
		// is discarded.
		return ctx.Err()
	}
}

// beforeCall decides whether the call may proceed and whether it is the
// half-open probe. At most one probe is in flight at a time.
func (cb *CircuitBreaker) beforeCall() (probe bool, allowed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.forceClosed {
		return false, true
	}
	if cb.forceOpen {
		return false, false
	}

	switch cb.state {
	case StateClosed:
		return false, true

	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.RecoveryTimeout {
			cb.transitionLocked(StateHalfOpen)
			cb.probeInFlight = true
			return true, true
		}
		return false, false

	case StateHalfOpen:
		if cb.probeInFlight {
			return false, false
		}
		cb.probeInFlight = true
		return true, true
	}

	return false, false
}

// afterCall records the outcome and evaluates transitions. Externally
// cancelled calls are recorded as neither success nor failure; timed-out
// calls are failures and additionally counted in metrics.timeout.
func (cb *CircuitBreaker) afterCall(probe bool, err error, elapsed time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probeInFlight = false
	}

	if cb.forceClosed || cb.forceOpen {
		return
	}

	cb.metrics.Total++
	cb.recordResponseTimeLocked(elapsed)

	if err == nil {
		cb.metrics.Successful++
		cb.lastSuccessTime = time.Now()
		cb.consecutiveFailures = 0
		cb.config.Metrics.RecordSuccess(cb.config.Name)

		if cb.state == StateHalfOpen {
			cb.consecutiveSuccesses++
			if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
				cb.transitionLocked(StateClosed)
				cb.consecutiveFailures = 0
			}
		}
		return
	}

	if core.IsTimeout(err) {
		cb.metrics.Timeout++
	} else if core.IsCancellation(err) {
		// External cancellation: no state movement, no failure accounting.
		cb.metrics.Total--
		return
	}

	if !cb.config.ErrorClassifier(err) {
		return
	}

	cb.metrics.Failed++
	cb.lastFailureTime = time.Now()
	cb.consecutiveSuccesses = 0
	cb.consecutiveFailures++
	cb.config.Metrics.RecordFailure(cb.config.Name, errorType(err))

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		// Any failure during the probe reopens immediately.
		cb.transitionLocked(StateOpen)
	}
}

// transitionLocked changes state; the mutex must be held.
func (cb *CircuitBreaker) transitionLocked(newState CircuitState) {
	oldState := cb.state
	if oldState == newState {
		return
	}
	cb.state = newState
	cb.stateChangeTime = time.Now()

	if newState == StateHalfOpen {
		cb.consecutiveSuccesses = 0
		cb.probeInFlight = false
	}

	cb.config.Logger.Info("Circuit breaker state changed", map[string]interface{}{
		"operation":            "circuit_breaker_transition",
		"name":                 cb.config.Name,
		"from":                 oldState.String(),
		"to":                   newState.String(),
		"consecutive_failures": cb.consecutiveFailures,
	})
	cb.config.Metrics.RecordStateChange(cb.config.Name, oldState.String(), newState.String())
}

func (cb *CircuitBreaker) recordResponseTimeLocked(d time.Duration) {
	cb.responseTimes[cb.rtIdx] = d
	cb.rtIdx = (cb.rtIdx + 1) % len(cb.responseTimes)
	if cb.rtIdx == 0 {
		cb.rtFull = true
	}

	n := cb.rtIdx
	if cb.rtFull {
		n = len(cb.responseTimes)
	}
	if n == 0 {
		return
	}
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += cb.responseTimes[i]
	}
	cb.metrics.AvgResponseTime = sum / time.Duration(n)
}

// GetState returns the current state string.
func (cb *CircuitBreaker) GetState() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

// Snapshot returns the externally visible breaker state.
type Snapshot struct {
	AdapterName          string    `json:"adapter_name"`
	State                string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastFailureTime      time.Time `json:"last_failure_time"`
	LastSuccessTime      time.Time `json:"last_success_time"`
	StateChangeTime      time.Time `json:"state_change_time"`
	Metrics              Metrics   `json:"metrics"`
}

// GetSnapshot returns a consistent copy of the breaker state and metrics.
func (cb *CircuitBreaker) GetSnapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		AdapterName:          cb.config.Name,
		State:                cb.state.String(),
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		LastFailureTime:      cb.lastFailureTime,
		LastSuccessTime:      cb.lastSuccessTime,
		StateChangeTime:      cb.stateChangeTime,
		Metrics:              cb.metrics,
	}
}

// ForceOpen manually opens the circuit, bypassing the state machine.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.forceOpen = true
	cb.forceClosed = false
	if cb.state != StateOpen {
		cb.transitionLocked(StateOpen)
	} else {
		cb.stateChangeTime = time.Now()
	}
}

// ForceClose manually closes the circuit, bypassing the state machine.
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.forceClosed = true
	cb.forceOpen = false
	cb.consecutiveFailures = 0
	if cb.state != StateClosed {
		cb.transitionLocked(StateClosed)
	} else {
		cb.stateChangeTime = time.Now()
	}
}

// ClearForce removes any manual override.
func (cb *CircuitBreaker) ClearForce() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.forceOpen = false
	cb.forceClosed = false
}

// Reset returns the breaker to closed and clears counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state
	cb.state = StateClosed
	cb.stateChangeTime = time.Now()
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.probeInFlight = false

	cb.config.Logger.Info("Circuit breaker reset", map[string]interface{}{
		"operation":      "circuit_breaker_reset",
		"name":           cb.config.Name,
		"previous_state": oldState.String(),
	})
}

// ResetMetrics clears counters without changing state.
func (cb *CircuitBreaker) ResetMetrics() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.metrics = Metrics{}
	cb.responseTimes = make([]time.Duration, cb.config.ResponseTimeWindow)
	cb.rtIdx = 0
	cb.rtFull = false
}

// Close releases the breaker's worker pool.
func (cb *CircuitBreaker) Close() {
	if cb.pool != nil {
		cb.pool.Close()
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, core.ErrOperationTimeout):
		return "timeout"
	case errors.Is(err, core.ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, core.ErrConnectionFailed):
		return "connection_failed"
	default:
		return fmt.Sprintf("%T", err)
	}
}
