// Package quota implements the atomic per-key usage counters behind the
// throttle middleware. Counters live in Redis under period-stamped keys and
// are updated by one server-side script; any Redis failure degrades to
// fail-open zeros so quota outages never block traffic.
package quota

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/schmitech/orbit/core"
)

const (
	configCacheTTL = 5 * time.Minute

	dailyTTLBuffer   = 24 * time.Hour
	monthlyTTLBuffer = 5 * 24 * time.Hour
)

// incrementScript updates both counters and the last-request stamp in one
// round trip. Fresh keys (INCR returned 1) get their precomputed TTL.
// KEYS: daily, monthly, last_request. ARGV: daily TTL s, monthly TTL s, now.
var incrementScript = redis.NewScript(`
local daily = redis.call('INCR', KEYS[1])
if daily == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
local monthly = redis.call('INCR', KEYS[2])
if monthly == 1 then
  redis.call('EXPIRE', KEYS[2], ARGV[2])
end
redis.call('SET', KEYS[3], ARGV[3])
return {daily, monthly, redis.call('TTL', KEYS[1]), redis.call('TTL', KEYS[2])}
`)

// Config is the persisted per-key quota configuration. Nil limits mean
// unlimited.
type Config struct {
	DailyLimit       *int64 `json:"daily_limit,omitempty"`
	MonthlyLimit     *int64 `json:"monthly_limit,omitempty"`
	ThrottleEnabled  bool   `json:"throttle_enabled"`
	ThrottlePriority int    `json:"throttle_priority"`
}

// Usage is the result of one atomic increment. The Reset durations are the
// raw key TTLs, which include the retention buffer; DailyResetAt and
// MonthlyResetAt are the actual period boundaries clients see in headers.
type Usage struct {
	DailyUsed      int64
	MonthlyUsed    int64
	DailyReset     time.Duration
	MonthlyReset   time.Duration
	DailyResetAt   time.Time
	MonthlyResetAt time.Time
}

type cachedConfig struct {
	config    Config
	fetchedAt time.Time
}

// Service provides quota configuration lookup and atomic usage counting.
type Service struct {
	redis    *core.RedisClient
	prefix   string
	defaults Config
	logger   core.Logger

	mu    sync.Mutex
	cache map[string]cachedConfig

	now func() time.Time
}

// ServiceOptions configures a quota Service.
type ServiceOptions struct {
	Redis    *core.RedisClient
	Prefix   string
	Defaults Config
	Logger   core.Logger
}

// NewService builds the quota service. Prefix defaults to "quota:".
func NewService(opts ServiceOptions) *Service {
	if opts.Prefix == "" {
		opts.Prefix = "quota:"
	}
	if opts.Defaults.ThrottlePriority == 0 {
		opts.Defaults.ThrottlePriority = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("gateway/quota")
	}
	return &Service{
		redis:    opts.Redis,
		prefix:   opts.Prefix,
		defaults: opts.Defaults,
		logger:   logger,
		cache:    map[string]cachedConfig{},
		now:      time.Now,
	}
}

func (s *Service) dailyKey(key string, now time.Time) string {
	return s.prefix + key + ":daily:" + now.UTC().Format("20060102")
}

func (s *Service) monthlyKey(key string, now time.Time) string {
	return s.prefix + key + ":monthly:" + now.UTC().Format("200601")
}

func (s *Service) lastRequestKey(key string) string {
	return s.prefix + key + ":last_request"
}

func (s *Service) configKey(key string) string {
	return s.prefix + key + ":config"
}

// periodEnds returns the moments the current UTC day and month roll over,
// which is when each counter resets.
func periodEnds(now time.Time) (endOfDay, endOfMonth time.Time) {
	now = now.UTC()
	endOfDay = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	endOfMonth = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return endOfDay, endOfMonth
}

// periodTTLs computes the two fresh-key TTLs: seconds to the end of the
// current UTC period plus the buffer that lets a key outlive its period.
func periodTTLs(now time.Time) (daily, monthly int64) {
	endOfDay, endOfMonth := periodEnds(now)
	now = now.UTC()
	daily = int64(endOfDay.Sub(now)/time.Second) + int64(dailyTTLBuffer/time.Second)
	monthly = int64(endOfMonth.Sub(now)/time.Second) + int64(monthlyTTLBuffer/time.Second)
	return daily, monthly
}

// IncrementAndGet atomically bumps both counters and returns current usage.
// On any Redis failure it returns zeros and ok=false; callers treat that as
// within quota.
func (s *Service) IncrementAndGet(ctx context.Context, key string) (Usage, bool) {
	now := s.now()
	dailyTTL, monthlyTTL := periodTTLs(now)

	result, err := s.redis.RunScript(ctx, incrementScript,
		[]string{s.dailyKey(key, now), s.monthlyKey(key, now), s.lastRequestKey(key)},
		dailyTTL, monthlyTTL, now.UTC().Unix())
	if err != nil {
		s.logger.Warn("Quota increment failed, failing open", map[string]interface{}{
			"operation": "quota_increment",
			"error":     err.Error(),
		})
		return Usage{}, false
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 4 {
		s.logger.Warn("Unexpected quota script result, failing open", map[string]interface{}{
			"operation": "quota_increment",
			"result":    result,
		})
		return Usage{}, false
	}

	endOfDay, endOfMonth := periodEnds(now)
	return Usage{
		DailyUsed:      asInt64(values[0]),
		MonthlyUsed:    asInt64(values[1]),
		DailyReset:     time.Duration(asInt64(values[2])) * time.Second,
		MonthlyReset:   time.Duration(asInt64(values[3])) * time.Second,
		DailyResetAt:   endOfDay,
		MonthlyResetAt: endOfMonth,
	}, true
}

// GetConfig returns the persisted config for a key, the process defaults
// when none is stored, with a short local cache. Redis failures fall back
// to the defaults.
func (s *Service) GetConfig(ctx context.Context, key string) Config {
	s.mu.Lock()
	if entry, ok := s.cache[key]; ok && s.now().Sub(entry.fetchedAt) < configCacheTTL {
		s.mu.Unlock()
		return entry.config
	}
	s.mu.Unlock()

	cfg := s.defaults
	raw, err := s.redis.Get(ctx, s.configKey(key))
	switch {
	case err == redis.Nil:
		// No per-key config stored; defaults apply.
	case err != nil:
		s.logger.Warn("Quota config lookup failed, using defaults", map[string]interface{}{
			"operation": "quota_config",
			"error":     err.Error(),
		})
		return cfg
	default:
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			s.logger.Warn("Malformed quota config, using defaults", map[string]interface{}{
				"operation": "quota_config",
				"error":     err.Error(),
			})
			cfg = s.defaults
		}
	}

	s.mu.Lock()
	s.cache[key] = cachedConfig{config: cfg, fetchedAt: s.now()}
	s.mu.Unlock()
	return cfg
}

// SetConfig persists a per-key config and refreshes the local cache.
func (s *Service) SetConfig(ctx context.Context, key string, cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.configKey(key), string(data), 0); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[key] = cachedConfig{config: cfg, fetchedAt: s.now()}
	s.mu.Unlock()
	return nil
}

// Reset deletes the counters for a period ("daily", "monthly", or "all").
func (s *Service) Reset(ctx context.Context, key, period string) error {
	now := s.now()
	var keys []string
	switch period {
	case "daily":
		keys = []string{s.dailyKey(key, now)}
	case "monthly":
		keys = []string{s.monthlyKey(key, now)}
	case "all":
		keys = []string{s.dailyKey(key, now), s.monthlyKey(key, now), s.lastRequestKey(key)}
	default:
		return core.ErrInvalidConfiguration
	}
	return s.redis.Del(ctx, keys...)
}

func asInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case string:
		var n int64
		for _, c := range x {
			if c < '0' || c > '9' {
				return 0
			}
			n = n*10 + int64(c-'0')
		}
		return n
	default:
		return 0
	}
}
