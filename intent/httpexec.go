package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/datasource"
	"github.com/schmitech/orbit/templates"
)

const (
	defaultHTTPMaxRetries = 3
	httpRetryBaseDelay    = 200 * time.Millisecond
)

// HTTPExecutor runs REST templates against a named HTTP datasource.
// Parameter locations route each value into the path, query string,
// headers, or JSON body. Retries apply to 5xx and transport errors only.
type HTTPExecutor struct {
	ds         *datasource.HTTPDatasource
	maxRetries int
	logger     core.Logger
}

// NewHTTPExecutor builds an executor over an HTTP datasource.
func NewHTTPExecutor(ds *datasource.HTTPDatasource, maxRetries int, logger core.Logger) *HTTPExecutor {
	if maxRetries <= 0 {
		maxRetries = defaultHTTPMaxRetries
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &HTTPExecutor{ds: ds, maxRetries: maxRetries, logger: logger}
}

// substitutePlaceholders expands both {name} and {{name}} forms. Double
// braces are rendered first so "{{x}}" never leaves a stray brace pair.
func substitutePlaceholders(pattern string, params map[string]interface{}) string {
	out := pattern
	for name, value := range params {
		s := fmt.Sprintf("%v", value)
		out = strings.ReplaceAll(out, "{{"+name+"}}", s)
		out = strings.ReplaceAll(out, "{"+name+"}", s)
	}
	return out
}

// Execute renders the HTTP operation and performs the request.
func (e *HTTPExecutor) Execute(ctx context.Context, t *templates.Template, params map[string]interface{}) ([]map[string]interface{}, error) {
	if t.HTTP == nil {
		return nil, fmt.Errorf("template %s has no http operation: %w", t.ID, core.ErrInvalidConfiguration)
	}
	op := t.HTTP

	method := strings.ToUpper(op.Method)
	if method == "" {
		method = http.MethodGet
	}

	// Split parameters by declared location. Path is the default for
	// values referenced in the endpoint pattern; query otherwise.
	pathParams := map[string]interface{}{}
	queryParams := url.Values{}
	headerParams := map[string]string{}
	bodyParams := map[string]interface{}{}

	for _, spec := range t.Parameters {
		value, ok := params[spec.Name]
		if !ok {
			continue
		}
		switch spec.Location {
		case "query":
			queryParams.Set(spec.Name, fmt.Sprintf("%v", value))
		case "header":
			headerParams[spec.Name] = fmt.Sprintf("%v", value)
		case "body":
			bodyParams[spec.Name] = value
		default: // path
			pathParams[spec.Name] = value
		}
	}

	endpoint := substitutePlaceholders(op.Endpoint, pathParams)
	for k, v := range op.QueryParams {
		queryParams.Set(k, substitutePlaceholders(v, params))
	}
	if len(queryParams) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + queryParams.Encode()
	}

	var bodyBytes []byte
	if op.Body != "" {
		bodyBytes = []byte(substitutePlaceholders(op.Body, params))
	} else if len(bodyParams) > 0 {
		var err error
		bodyBytes, err = json.Marshal(bodyParams)
		if err != nil {
			return nil, fmt.Errorf("encoding body parameters: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		if attempt > 1 {
			// Linearly increasing backoff between attempts.
			delay := httpRetryBaseDelay * time.Duration(attempt-1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		rows, retryable, err := e.attempt(ctx, t, method, endpoint, op.Headers, headerParams, bodyBytes)
		if err == nil {
			return rows, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		e.logger.Warn("HTTP operation failed, retrying", map[string]interface{}{
			"operation": "intent_http",
			"template":  t.ID,
			"attempt":   attempt,
			"error":     err.Error(),
		})
	}
	return nil, fmt.Errorf("after %d attempts: %w", e.maxRetries, lastErr)
}

// attempt performs one request. retryable is true for transport errors and
// 5xx responses; 4xx responses fail immediately with the body included.
func (e *HTTPExecutor) attempt(ctx context.Context, t *templates.Template, method, endpoint string, templateHeaders map[string]string, headerParams map[string]string, body []byte) ([]map[string]interface{}, bool, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := e.ds.NewRequest(ctx, method, endpoint, reader)
	if err != nil {
		return nil, false, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range templateHeaders {
		req.Header.Set(k, substitutePlaceholdersMapString(v, headerParams))
	}
	for k, v := range headerParams {
		req.Header.Set(k, v)
	}

	resp, err := e.ds.Client().Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("requesting %s: %v: %w", endpoint, err, core.ErrConnectionFailed)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, true, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%s returned %d: %s: %w",
			endpoint, resp.StatusCode, truncate(string(data), 200), core.ErrBackendUnavailable)
	case resp.StatusCode >= 400:
		return nil, false, fmt.Errorf("%s returned %d: %s: %w",
			endpoint, resp.StatusCode, truncate(string(data), 200), core.ErrRequestFailed)
	}

	rows, err := decodeRows(data)
	if err != nil {
		return nil, false, fmt.Errorf("template %s: %w", t.ID, err)
	}
	return rows, false, nil
}

func substitutePlaceholdersMapString(pattern string, params map[string]string) string {
	out := pattern
	for name, value := range params {
		out = strings.ReplaceAll(out, "{{"+name+"}}", value)
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}
	return out
}

// decodeRows accepts either a JSON array of objects or a single object
// (wrapped as one row).
func decodeRows(data []byte) ([]map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var rows []map[string]interface{}
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("decoding response array: %w", err)
		}
		return rows, nil
	}

	var row map[string]interface{}
	if err := json.Unmarshal(trimmed, &row); err != nil {
		return nil, fmt.Errorf("decoding response object: %w", err)
	}
	// A common envelope shape is {"results": [...]} or {"data": [...]}.
	for _, key := range []string{"results", "data", "items"} {
		if list, ok := row[key].([]interface{}); ok {
			rows := make([]map[string]interface{}, 0, len(list))
			for _, item := range list {
				if m, ok := item.(map[string]interface{}); ok {
					rows = append(rows, m)
				}
			}
			return rows, nil
		}
	}
	return []map[string]interface{}{row}, nil
}
