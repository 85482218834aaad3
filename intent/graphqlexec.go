package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/datasource"
	"github.com/schmitech/orbit/templates"
)

// GraphQLExecutor posts the template's document with coerced variables to a
// GraphQL datasource. GraphQL-level errors are surfaced even on HTTP 200.
type GraphQLExecutor struct {
	ds *datasource.HTTPDatasource
	// allowPartial uses data for partial results when errors are present.
	allowPartial bool
	logger       core.Logger
}

// NewGraphQLExecutor builds an executor over a GraphQL datasource.
func NewGraphQLExecutor(ds *datasource.HTTPDatasource, allowPartial bool, logger core.Logger) *GraphQLExecutor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &GraphQLExecutor{ds: ds, allowPartial: allowPartial, logger: logger}
}

// CoerceVariable converts an extracted value to its declared GraphQL type.
// Non-null (!) and list ([...]) wrappers are stripped for type detection.
func CoerceVariable(value interface{}, graphqlType string) (interface{}, error) {
	base := strings.TrimSuffix(strings.TrimSpace(graphqlType), "!")
	base = strings.TrimPrefix(base, "[")
	base = strings.TrimSuffix(base, "]")
	base = strings.TrimSuffix(base, "!")

	switch base {
	case "Int":
		switch v := value.(type) {
		case int:
			return v, nil
		case float64:
			return int(v), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to Int: %w", v, core.ErrParameterValidation)
			}
			return n, nil
		}
	case "Float":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to Float: %w", v, core.ErrParameterValidation)
			}
			return f, nil
		}
	case "Boolean":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to Boolean: %w", v, core.ErrParameterValidation)
			}
			return b, nil
		}
	case "ID", "String", "":
		return fmt.Sprintf("%v", value), nil
	}
	return value, nil
}

type graphqlRequest struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables"`
	OperationName string                 `json:"operationName,omitempty"`
}

type graphqlResponse struct {
	Data   map[string]interface{} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Execute posts the document and extracts rows from the response data.
func (e *GraphQLExecutor) Execute(ctx context.Context, t *templates.Template, params map[string]interface{}) ([]map[string]interface{}, error) {
	variables := make(map[string]interface{}, len(params))
	for _, spec := range t.Parameters {
		value, ok := params[spec.Name]
		if !ok {
			continue
		}
		coerced, err := CoerceVariable(value, spec.GraphQLType)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", spec.Name, err)
		}
		variables[spec.Name] = coerced
	}

	payload := graphqlRequest{
		Query:         t.OperationTemplate,
		Variables:     variables,
		OperationName: t.OperationName,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding GraphQL request: %w", err)
	}

	req, err := e.ds.NewRequest(ctx, http.MethodPost, "", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.ds.Client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting GraphQL query: %v: %w", err, core.ErrConnectionFailed)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("reading GraphQL response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GraphQL endpoint returned %d: %s: %w",
			resp.StatusCode, truncate(string(data), 200), core.ErrRequestFailed)
	}

	var parsed graphqlResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decoding GraphQL response: %w", err)
	}

	if len(parsed.Errors) > 0 {
		messages := make([]string, len(parsed.Errors))
		for i, ge := range parsed.Errors {
			messages[i] = ge.Message
		}
		gqlErr := fmt.Errorf("GraphQL errors: %s: %w", strings.Join(messages, "; "), core.ErrRequestFailed)

		if !e.allowPartial || parsed.Data == nil {
			return nil, gqlErr
		}
		e.logger.Warn("GraphQL returned partial data with errors", map[string]interface{}{
			"operation": "intent_graphql",
			"template":  t.ID,
			"errors":    messages,
		})
	}

	return graphqlRows(parsed.Data), nil
}

// graphqlRows flattens the single root field of the response data: a list
// becomes rows, an object becomes one row.
func graphqlRows(data map[string]interface{}) []map[string]interface{} {
	if len(data) == 0 {
		return nil
	}
	if len(data) == 1 {
		for _, v := range data {
			switch x := v.(type) {
			case []interface{}:
				rows := make([]map[string]interface{}, 0, len(x))
				for _, item := range x {
					if m, ok := item.(map[string]interface{}); ok {
						rows = append(rows, m)
					}
				}
				return rows
			case map[string]interface{}:
				return []map[string]interface{}{x}
			}
		}
	}
	return []map[string]interface{}{data}
}
