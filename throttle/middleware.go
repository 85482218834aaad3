package throttle

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/quota"
)

// Response headers stamped on every counted request. The reset headers carry
// the unix timestamp of the next period boundary.
const (
	HeaderThrottleDelay    = "X-Throttle-Delay"
	HeaderDailyRemaining   = "X-Quota-Daily-Remaining"
	HeaderDailyReset       = "X-Quota-Daily-Reset"
	HeaderMonthlyRemaining = "X-Quota-Monthly-Remaining"
	HeaderMonthlyReset     = "X-Quota-Monthly-Reset"
)

// rejection is the 429 response body.
type rejection struct {
	Detail           string `json:"detail"`
	QuotaExceeded    string `json:"quota_exceeded"`
	DailyRemaining   int64  `json:"daily_remaining"`
	MonthlyRemaining int64  `json:"monthly_remaining"`
}

// Throttler is the chi middleware that shapes request flow by API key.
type Throttler struct {
	quota     *quota.Service
	threshold float64
	minDelay  time.Duration
	maxDelay  time.Duration
	curve     string
	anchors   map[int]float64
	excluded  []string
	logger    core.Logger
	telemetry core.Telemetry

	// sleep is swappable so tests measure delays without waiting them out.
	sleep func(ctx context.Context, d time.Duration)
}

// Options configures a Throttler.
type Options struct {
	Quota            *quota.Service
	ThresholdPercent float64
	MinDelay         time.Duration
	MaxDelay         time.Duration
	Curve            string
	PriorityAnchors  map[int]float64
	ExcludedPaths    []string
	Logger           core.Logger
	Telemetry        core.Telemetry
}

// New builds the throttler with defaults for unset options.
func New(opts Options) *Throttler {
	if opts.ThresholdPercent <= 0 {
		opts.ThresholdPercent = DefaultThreshold
	}
	if opts.MinDelay <= 0 {
		opts.MinDelay = DefaultMinDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.Curve == "" {
		opts.Curve = "linear"
	}
	if opts.PriorityAnchors == nil {
		opts.PriorityAnchors = DefaultPriorityAnchors
	}
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("gateway/throttle")
	}
	telemetry := opts.Telemetry
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Throttler{
		quota:     opts.Quota,
		threshold: opts.ThresholdPercent,
		minDelay:  opts.MinDelay,
		maxDelay:  opts.MaxDelay,
		curve:     opts.Curve,
		anchors:   opts.PriorityAnchors,
		excluded:  opts.ExcludedPaths,
		logger:    logger,
		telemetry: telemetry,
		sleep: func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
			}
		},
	}
}

// Middleware wraps a handler with quota counting, delay shaping, headers,
// and 429 enforcement. Requests without an API key and requests on excluded
// paths pass straight through.
func (t *Throttler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.isExcluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		cfg := t.quota.GetConfig(r.Context(), apiKey)
		usage, counted := t.quota.IncrementAndGet(r.Context(), apiKey)
		if !counted {
			// Quota backend down: fail open, no headers, no delay.
			next.ServeHTTP(w, r)
			return
		}

		// The delay and the limit check reflect usage before this request,
		// so the request that first crosses a limit is the one rejected.
		dailyUsed := usage.DailyUsed - 1
		monthlyUsed := usage.MonthlyUsed - 1

		dailyRemaining := remaining(dailyUsed, cfg.DailyLimit)
		monthlyRemaining := remaining(monthlyUsed, cfg.MonthlyLimit)

		delay := time.Duration(0)
		if cfg.ThrottleEnabled {
			u := usageFraction(dailyUsed, monthlyUsed, cfg.DailyLimit, cfg.MonthlyLimit)
			base := delayFor(u, t.threshold, t.minDelay, t.maxDelay, t.curve)
			delay = totalDelay(base, cfg.ThrottlePriority, t.anchors, t.maxDelay)
		}

		t.stampHeaders(w, delay, dailyRemaining, monthlyRemaining, usage)

		if exceeded := exceededPeriod(dailyUsed, monthlyUsed, cfg.DailyLimit, cfg.MonthlyLimit); exceeded != "" {
			t.telemetry.RecordMetric("orbit.throttle.rejected", 1, map[string]string{"period": exceeded})
			t.logger.Info("Quota exceeded", map[string]interface{}{
				"operation": "throttle",
				"period":    exceeded,
			})
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(rejection{
				Detail:           "Quota exceeded for the " + exceeded + " period",
				QuotaExceeded:    exceeded,
				DailyRemaining:   dailyRemaining,
				MonthlyRemaining: monthlyRemaining,
			})
			return
		}

		if delay > 0 {
			t.telemetry.RecordMetric("orbit.throttle.delay_ms", float64(delay.Milliseconds()), nil)
			t.sleep(r.Context(), delay)
			if r.Context().Err() != nil {
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (t *Throttler) isExcluded(path string) bool {
	for _, prefix := range t.excluded {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (t *Throttler) stampHeaders(w http.ResponseWriter, delay time.Duration, dailyRemaining, monthlyRemaining int64, usage quota.Usage) {
	h := w.Header()
	h.Set(HeaderThrottleDelay, strconv.FormatInt(delay.Milliseconds(), 10))
	h.Set(HeaderDailyRemaining, strconv.FormatInt(dailyRemaining, 10))
	h.Set(HeaderDailyReset, strconv.FormatInt(usage.DailyResetAt.Unix(), 10))
	h.Set(HeaderMonthlyRemaining, strconv.FormatInt(monthlyRemaining, 10))
	h.Set(HeaderMonthlyReset, strconv.FormatInt(usage.MonthlyResetAt.Unix(), 10))
}

// remaining never reports below zero; unlimited periods report -1.
func remaining(used int64, limit *int64) int64 {
	if limit == nil || *limit <= 0 {
		return -1
	}
	r := *limit - used
	if r < 0 {
		return 0
	}
	return r
}

// exceededPeriod names the first period over its limit, or "".
func exceededPeriod(dailyUsed, monthlyUsed int64, dailyLimit, monthlyLimit *int64) string {
	if dailyLimit != nil && *dailyLimit > 0 && dailyUsed > *dailyLimit {
		return "daily"
	}
	if monthlyLimit != nil && *monthlyLimit > 0 && monthlyUsed > *monthlyLimit {
		return "monthly"
	}
	return ""
}
