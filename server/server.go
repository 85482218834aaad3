// Package server exposes the gateway over HTTP: the chat endpoint (JSON and
// SSE), health probes, the admin reload endpoint, and Prometheus metrics.
// Routing uses chi; throttling and CORS are middleware.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schmitech/orbit/adapters"
	"github.com/schmitech/orbit/chat"
	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/datasource"
	"github.com/schmitech/orbit/resilience"
	"github.com/schmitech/orbit/throttle"
)

// ReloadFunc re-reads the adapter configuration and applies it. An empty
// name reloads every adapter.
type ReloadFunc func(ctx context.Context, adapterName string) (adapters.ReloadSummary, error)

// Options wires the server's collaborators.
type Options struct {
	Config      core.ServerConfig
	Chat        *chat.Orchestrator
	Throttle    *throttle.Throttler
	Adapters    *adapters.Registry
	Breakers    *resilience.Manager
	Datasources *datasource.Registry
	Redis       *core.RedisClient
	Reload      ReloadFunc
	Metrics     *prometheus.Registry
	Logger      core.Logger
	Version     string
}

// Server is the HTTP surface of the gateway.
type Server struct {
	http    *http.Server
	router  chi.Router
	opts    Options
	logger  core.Logger
	started time.Time
}

// New builds the server and its route table.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("gateway/server")
	}

	s := &Server{
		opts:    opts,
		logger:  logger,
		started: time.Now(),
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:         opts.Config.Address,
		Handler:      s.router,
		ReadTimeout:  opts.Config.ReadTimeout,
		WriteTimeout: opts.Config.WriteTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	allowed := s.opts.Config.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key", "X-Session-ID"},
		ExposedHeaders: []string{
			throttle.HeaderThrottleDelay,
			throttle.HeaderDailyRemaining,
			throttle.HeaderDailyReset,
			throttle.HeaderMonthlyRemaining,
			throttle.HeaderMonthlyReset,
		},
	}))

	if s.opts.Throttle != nil {
		r.Use(s.opts.Throttle.Middleware)
	}

	r.Post("/v1/chat", s.handleChat)
	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	r.Get("/health/adapters", s.handleAdapterHealth)
	r.Get("/health/system", s.handleSystemHealth)
	r.Post("/admin/reload-adapters", s.handleReload)

	if s.opts.Metrics != nil {
		r.Method("GET", "/metrics", promhttp.HandlerFor(s.opts.Metrics, promhttp.HandlerOpts{}))
	}
	return r
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler { return s.router }

// Start begins serving. Blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", map[string]interface{}{
		"operation": "server_start",
		"address":   s.http.Addr,
	})
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req core.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	apiKey := r.Header.Get("X-API-Key")
	sessionID := r.Header.Get("X-Session-ID")

	if req.Stream {
		s.streamChat(w, r, req, apiKey, sessionID)
		return
	}

	resp, err := s.opts.Chat.Chat(r.Context(), req, apiKey, sessionID)
	if err != nil {
		s.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamChat relays the answer as server-sent events: one data line per
// chunk, then a [DONE] sentinel. Once the first byte is written the status
// is committed, so mid-stream errors terminate the stream silently.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req core.ChatRequest, apiKey, sessionID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	wroteAny := false
	err := s.opts.Chat.ChatStream(r.Context(), req, apiKey, sessionID, func(chunk core.StreamChunk) error {
		data, merr := json.Marshal(chunk)
		if merr != nil {
			return merr
		}
		if _, werr := fmt.Fprintf(w, "data: %s\n\n", data); werr != nil {
			return werr
		}
		wroteAny = true
		flusher.Flush()
		return nil
	})
	if err != nil {
		if !wroteAny {
			s.writeChatError(w, err)
			return
		}
		s.logger.Warn("Chat stream aborted", map[string]interface{}{
			"operation": "chat_stream",
			"error":     err.Error(),
		})
		return
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid or inactive API key")
	case errors.Is(err, core.ErrParameterValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("Chat request failed", map[string]interface{}{
			"operation": "chat_request",
			"error":     err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reload == nil {
		writeError(w, http.StatusNotImplemented, "reload not configured")
		return
	}
	name := r.URL.Query().Get("adapter_name")
	summary, err := s.opts.Reload(r.Context(), name)
	if err != nil {
		s.logger.Error("Adapter reload failed", map[string]interface{}{
			"operation": "adapter_reload",
			"adapter":   name,
			"error":     err.Error(),
		})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"error": detail})
}
