package server

import (
	"net/http"
	"runtime"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.opts.Version,
	})
}

// handleReady reports whether the gateway can serve traffic: Redis reachable
// when configured, datasources connectable. Degraded dependencies return 503
// so load balancers stop routing here.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	problems := map[string]string{}

	if s.opts.Redis != nil {
		if err := s.opts.Redis.HealthCheck(r.Context()); err != nil {
			problems["redis"] = err.Error()
		}
	}
	if s.opts.Datasources != nil {
		for name, err := range s.opts.Datasources.HealthCheck(r.Context()) {
			if err != nil {
				problems["datasource:"+name] = err.Error()
			}
		}
	}

	if len(problems) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "degraded",
			"problems": problems,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

// handleAdapterHealth lists configured adapters, which have live instances,
// and each one's circuit breaker state.
func (s *Server) handleAdapterHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{}
	if s.opts.Adapters != nil {
		body["configured"] = s.opts.Adapters.Names()
		body["enabled"] = s.opts.Adapters.EnabledNames()
		body["built"] = s.opts.Adapters.Built()
	}
	if s.opts.Breakers != nil {
		body["circuit_breakers"] = s.opts.Breakers.Snapshots()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"version":         s.opts.Version,
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
		"goroutines":      runtime.NumGoroutine(),
		"heap_alloc_mb":   mem.HeapAlloc / (1 << 20),
		"num_gc":          mem.NumGC,
		"go_max_procs":    runtime.GOMAXPROCS(0),
	})
}
