package intent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/templates"
)

const (
	maxListValueLen = 500
	maxTableCellLen = 40
)

// Shape projects raw rows through the template's response mapping and
// renders them as one ContextItem. Confidence carries the post-boost match
// similarity; metadata carries the template id, parameters, row count, and
// the raw rows for downstream LLM use.
func Shape(rows []map[string]interface{}, t *templates.Template, params map[string]interface{}, similarity float64) core.ContextItem {
	var content string
	switch t.ResultFormat {
	case templates.FormatTable:
		content = shapeTable(rows, t)
	case templates.FormatSummary:
		content = shapeSummary(rows)
	default:
		content = shapeList(rows, t)
	}

	return core.ContextItem{
		Content:    content,
		Confidence: similarity,
		Metadata: map[string]interface{}{
			"template_id": t.ID,
			"parameters":  params,
			"row_count":   len(rows),
			"rows":        rows,
		},
	}
}

// fieldsFor picks the projection fields: display_fields when declared,
// otherwise all non-underscored row keys in sorted order.
func fieldsFor(rows []map[string]interface{}, t *templates.Template) []string {
	if len(t.DisplayFields) > 0 {
		return t.DisplayFields
	}
	seen := map[string]bool{}
	for _, row := range rows {
		for k := range row {
			if !strings.HasPrefix(k, "_") {
				seen[k] = true
			}
		}
	}
	fields := make([]string, 0, len(seen))
	for k := range seen {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

func shapeList(rows []map[string]interface{}, t *templates.Template) string {
	if len(rows) == 0 {
		return "No results found."
	}
	fields := fieldsFor(rows, t)

	var b strings.Builder
	for i, row := range rows {
		fmt.Fprintf(&b, "%d. ", i+1)
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			if v, ok := row[f]; ok {
				parts = append(parts, fmt.Sprintf("%s: %s", f, truncate(formatValue(v), maxListValueLen)))
			}
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func shapeTable(rows []map[string]interface{}, t *templates.Template) string {
	if len(rows) == 0 {
		return "No results found."
	}
	fields := fieldsFor(rows, t)

	var b strings.Builder
	b.WriteString(strings.Join(fields, " | "))
	b.WriteString("\n")
	for _, row := range rows {
		cells := make([]string, len(fields))
		for i, f := range fields {
			cells[i] = truncate(formatValue(row[f]), maxTableCellLen)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// shapeSummary passes the single object through verbatim for prose
// rendering by the orchestrator.
func shapeSummary(rows []map[string]interface{}) string {
	if len(rows) == 0 {
		return "No results found."
	}
	data, err := json.Marshal(rows[0])
	if err != nil {
		return fmt.Sprintf("%v", rows[0])
	}
	return string(data)
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// ApplyResponseMapping projects each row through path-based field
// extraction. An empty mapping is the identity.
func ApplyResponseMapping(rows []map[string]interface{}, mapping map[string]string) []map[string]interface{} {
	if len(mapping) == 0 {
		return rows
	}
	out := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		projected := make(map[string]interface{}, len(mapping))
		for field, path := range mapping {
			if v, ok := lookupPath(row, path); ok {
				projected[field] = v
			}
		}
		out[i] = projected
	}
	return out
}

// lookupPath walks a dotted path through nested maps.
func lookupPath(data interface{}, path string) (interface{}, bool) {
	current := data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
