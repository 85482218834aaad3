package datasource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/schmitech/orbit/core"
)

// HTTPDatasource is one named REST or GraphQL endpoint plus its client.
type HTTPDatasource struct {
	name    string
	kind    string
	baseURL string
	headers map[string]string
	client  *http.Client
}

// openHTTP validates and builds an HTTP datasource.
func openHTTP(cfg core.DatasourceConfig) (*HTTPDatasource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("datasource %s: base_url required: %w", cfg.Name, core.ErrMissingConfiguration)
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" {
		return nil, fmt.Errorf("datasource %s: invalid base_url %q: %w", cfg.Name, cfg.BaseURL, core.ErrInvalidConfiguration)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	headers := map[string]string{}
	if raw, ok := cfg.Options["headers"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	return &HTTPDatasource{
		name:    cfg.Name,
		kind:    cfg.Type,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// NewHTTPDatasource wraps an endpoint that is provided directly rather than
// opened from configuration. A nil client gets a 30s-timeout default.
func NewHTTPDatasource(name, kind, baseURL string, headers map[string]string, client *http.Client) *HTTPDatasource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if headers == nil {
		headers = map[string]string{}
	}
	return &HTTPDatasource{
		name:    name,
		kind:    kind,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		client:  client,
	}
}

// Name returns the configured datasource name.
func (h *HTTPDatasource) Name() string { return h.name }

// Kind returns "http" or "graphql".
func (h *HTTPDatasource) Kind() string { return h.kind }

// BaseURL returns the endpoint base without a trailing slash.
func (h *HTTPDatasource) BaseURL() string { return h.baseURL }

// Client returns the shared HTTP client.
func (h *HTTPDatasource) Client() *http.Client { return h.client }

// NewRequest builds a request against the base URL with the datasource's
// configured headers applied. path may be absolute or relative.
func (h *HTTPDatasource) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = h.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("datasource %s: building request: %w", h.name, err)
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// HealthCheck issues a HEAD to the base URL. Any response counts as alive;
// only transport errors fail.
func (h *HTTPDatasource) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("datasource %s: %v: %w", h.name, err, core.ErrBackendUnavailable)
	}
	resp.Body.Close()
	return nil
}
