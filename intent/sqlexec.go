package intent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/datasource"
	"github.com/schmitech/orbit/templates"
)

var (
	conditionalRE = regexp.MustCompile(`(?s)\{%\s*if\s+(\w+)\s*%\}(.*?)\{%\s*endif\s*%\}`)
	placeholderRE = regexp.MustCompile(`%\((\w+)\)s`)
	likeBeforeRE  = regexp.MustCompile(`(?i)LIKE\s*$`)
)

// SQLExecutor runs rendered SQL templates against a named SQL datasource.
// Parameter values are always bound, never interpolated.
type SQLExecutor struct {
	ds     *datasource.SQLDatasource
	logger core.Logger
}

// NewSQLExecutor builds an executor over an open SQL datasource.
func NewSQLExecutor(ds *datasource.SQLDatasource, logger core.Logger) *SQLExecutor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &SQLExecutor{ds: ds, logger: logger}
}

// RenderSQL expands conditional blocks and rewrites %(name)s placeholders to
// positional ? binds with arguments in textual order. LIKE parameters
// without wildcards get them added at both ends. DuckDB shares this path:
// its driver takes the same positional form.
func RenderSQL(operation string, params map[string]interface{}) (string, []interface{}, error) {
	// Conditional blocks survive iff their parameter resolved to non-null.
	rendered := conditionalRE.ReplaceAllStringFunc(operation, func(block string) string {
		m := conditionalRE.FindStringSubmatch(block)
		if v, ok := params[m[1]]; ok && v != nil {
			return m[2]
		}
		return ""
	})

	var args []interface{}
	var missing []string
	lastEnd := 0
	var out strings.Builder

	for _, loc := range placeholderRE.FindAllStringSubmatchIndex(rendered, -1) {
		start, end := loc[0], loc[1]
		name := rendered[loc[2]:loc[3]]

		out.WriteString(rendered[lastEnd:start])

		value, ok := params[name]
		if !ok {
			missing = append(missing, name)
			out.WriteString("?")
			args = append(args, nil)
			lastEnd = end
			continue
		}

		if s, isStr := value.(string); isStr && likeBeforeRE.MatchString(rendered[:start]) && !strings.Contains(s, "%") {
			value = "%" + s + "%"
		}

		out.WriteString("?")
		args = append(args, value)
		lastEnd = end
	}
	out.WriteString(rendered[lastEnd:])

	if len(missing) > 0 {
		return "", nil, fmt.Errorf("unbound SQL parameters %v: %w", missing, core.ErrParameterValidation)
	}
	return out.String(), args, nil
}

// Execute renders and runs the template's SQL, returning JSON-safe rows.
func (e *SQLExecutor) Execute(ctx context.Context, t *templates.Template, params map[string]interface{}) ([]map[string]interface{}, error) {
	query, args, err := RenderSQL(t.OperationTemplate, params)
	if err != nil {
		return nil, err
	}

	db := e.ds.DB()
	// The driver's native bind style (e.g. $1 for Postgres) replaces the
	// canonical ? form.
	query = db.Rebind(query)

	e.logger.Debug("Executing SQL operation", map[string]interface{}{
		"operation": "intent_sql",
		"template":  t.ID,
		"args":      len(args),
	})

	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %v: %w", e.ds.Name(), err, core.ErrRequestFailed)
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scanning row from %s: %w", e.ds.Name(), err)
		}
		out = append(out, jsonSafeRow(row))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows from %s: %v: %w", e.ds.Name(), err, core.ErrRequestFailed)
	}
	return out, nil
}

// jsonSafeRow converts driver-native values to JSON-friendly forms: byte
// slices become strings, times become ISO-8601.
func jsonSafeRow(row map[string]interface{}) map[string]interface{} {
	for k, v := range row {
		switch x := v.(type) {
		case []byte:
			row[k] = string(x)
		case time.Time:
			row[k] = x.UTC().Format(time.RFC3339)
		}
	}
	return row
}
