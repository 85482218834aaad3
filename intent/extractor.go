package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/templates"
)

var (
	decimalRE = regexp.MustCompile(`\$?\d+(\.\d{2})?`)
	isoDateRE = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	emailRE   = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	integerRE = regexp.MustCompile(`\b\d+\b`)
	spanRE    = regexp.MustCompile(`(\d+)\s*(day|week|month)s?`)
)

// Extractor resolves template parameters from a query: deterministic
// patterns first, then one LLM call for whatever required parameters remain,
// then declared defaults.
type Extractor struct {
	client core.AIClient
	vocab  *templates.Vocabulary
	logger core.Logger
}

// NewExtractor builds an extractor. client may be nil, in which case the
// LLM pass is skipped and only patterns and defaults apply.
func NewExtractor(client core.AIClient, vocab *templates.Vocabulary, logger core.Logger) *Extractor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Extractor{client: client, vocab: vocab, logger: logger}
}

// Extract resolves every declared parameter it can. Missing parameters are
// simply absent from the returned map; validation decides whether that is
// fatal.
func (e *Extractor) Extract(ctx context.Context, query string, t *templates.Template) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(t.Parameters))

	for _, spec := range t.Parameters {
		if v, ok := e.extractPattern(query, spec, t); ok {
			params[spec.Name] = v
		}
	}

	var missing []templates.ParameterSpec
	for _, spec := range t.Parameters {
		if _, ok := params[spec.Name]; !ok && spec.Required {
			missing = append(missing, spec)
		}
	}
	if len(missing) > 0 && e.client != nil {
		llmValues, err := e.extractLLM(ctx, query, missing)
		if err != nil {
			e.logger.Warn("LLM parameter extraction failed", map[string]interface{}{
				"operation": "param_extract",
				"template":  t.ID,
				"error":     err.Error(),
			})
		} else {
			for k, v := range llmValues {
				params[k] = v
			}
		}
	}

	for _, spec := range t.Parameters {
		if _, ok := params[spec.Name]; !ok && spec.Default != nil {
			params[spec.Name] = spec.Default
		}
	}

	e.logger.Debug("Parameters extracted", map[string]interface{}{
		"operation": "param_extract",
		"template":  t.ID,
		"resolved":  len(params),
		"declared":  len(t.Parameters),
	})
	return params, nil
}

// extractPattern attempts type-driven deterministic extraction.
func (e *Extractor) extractPattern(query string, spec templates.ParameterSpec, t *templates.Template) (interface{}, bool) {
	lower := strings.ToLower(query)

	// Named time spans before generic integers: "last week" resolves to 7
	// days without any digits in the query.
	if isTimeSpanParam(spec) {
		if days, ok := e.extractTimeSpan(lower); ok {
			return days, true
		}
	}

	switch spec.Type {
	case "integer":
		return extractInteger(query, lower, spec, t)

	case "number":
		if m := decimalRE.FindString(query); m != "" {
			v, err := strconv.ParseFloat(strings.TrimPrefix(m, "$"), 64)
			if err == nil {
				return v, true
			}
		}

	case "date":
		if m := isoDateRE.FindString(query); m != "" {
			return m, true
		}

	case "boolean":
		// Booleans rarely appear verbatim in NL; left to the LLM pass.

	case "string":
		if len(spec.AllowedValues) > 0 {
			for _, candidate := range spec.AllowedValues {
				if strings.Contains(lower, strings.ToLower(candidate)) {
					return candidate, true
				}
			}
			return nil, false
		}
		if strings.Contains(strings.ToLower(spec.Name), "email") {
			if m := emailRE.FindString(query); m != "" {
				return m, true
			}
		}
	}
	return nil, false
}

// extractInteger finds an integer id, preferring digits adjacent to the
// parameter name or the template's primary entity over a lone number.
func extractInteger(query, lower string, spec templates.ParameterSpec, t *templates.Template) (interface{}, bool) {
	anchors := []string{strings.ToLower(strings.ReplaceAll(spec.Name, "_", " "))}
	for _, part := range strings.Split(spec.Name, "_") {
		if part != "id" && part != "" {
			anchors = append(anchors, strings.ToLower(part))
		}
	}
	if entity := strings.ToLower(t.SemanticTags.PrimaryEntity); entity != "" {
		anchors = append(anchors, entity)
	}

	for _, anchor := range anchors {
		re, err := regexp.Compile(regexp.QuoteMeta(anchor) + `[^0-9]{0,20}?(\d+)`)
		if err != nil {
			continue
		}
		if m := re.FindStringSubmatch(lower); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				return v, true
			}
		}
	}

	// A single unambiguous number in the query is accepted as-is.
	all := integerRE.FindAllString(query, -1)
	if len(all) == 1 {
		if v, err := strconv.Atoi(all[0]); err == nil {
			return v, true
		}
	}
	return nil, false
}

// isTimeSpanParam reports whether a parameter represents a day count.
func isTimeSpanParam(spec templates.ParameterSpec) bool {
	if spec.Type != "integer" {
		return false
	}
	name := strings.ToLower(spec.Name)
	desc := strings.ToLower(spec.Description)
	return strings.Contains(name, "day") || strings.Contains(name, "period") ||
		strings.Contains(desc, "days")
}

// extractTimeSpan resolves named periods ("last week" → 7) from the
// vocabulary, then "<n> days/weeks/months" phrases (weeks ×7, months ×30).
func (e *Extractor) extractTimeSpan(lower string) (int, bool) {
	if e.vocab != nil {
		for phrase, days := range e.vocab.TimePeriods {
			if strings.Contains(lower, strings.ToLower(phrase)) {
				return days, true
			}
		}
	}
	if m := spanRE.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		switch m[2] {
		case "week":
			n *= 7
		case "month":
			n *= 30
		}
		return n, true
	}
	return 0, false
}

// extractLLM asks the model for the still-missing parameters as one JSON
// object. Null values mean "not found" and are dropped.
func (e *Extractor) extractLLM(ctx context.Context, query string, missing []templates.ParameterSpec) (map[string]interface{}, error) {
	var b strings.Builder
	b.WriteString("Extract the following parameters from the user query.\n")
	b.WriteString("Respond with a single JSON object containing exactly these keys. ")
	b.WriteString("Use null for any parameter not present in the query.\n\nParameters:\n")
	for _, spec := range missing {
		fmt.Fprintf(&b, "- %s (%s)", spec.Name, spec.Type)
		if spec.Description != "" {
			fmt.Fprintf(&b, ": %s", spec.Description)
		}
		if len(spec.AllowedValues) > 0 {
			fmt.Fprintf(&b, " [allowed: %s]", strings.Join(spec.AllowedValues, ", "))
		}
		if spec.Example != "" {
			fmt.Fprintf(&b, " (example: %s)", spec.Example)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nUser query: %s\n", query)

	resp, err := e.client.GenerateResponse(ctx, b.String(), &core.AIOptions{
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	obj := firstJSONObject(resp.Content)
	if obj == "" {
		return nil, fmt.Errorf("no JSON object in extraction response: %w", core.ErrRequestFailed)
	}

	var values map[string]interface{}
	if err := json.Unmarshal([]byte(obj), &values); err != nil {
		return nil, fmt.Errorf("parsing extraction response: %w", err)
	}

	out := make(map[string]interface{}, len(values))
	for _, spec := range missing {
		v, ok := values[spec.Name]
		if !ok || v == nil {
			continue
		}
		out[spec.Name] = v
	}
	return out, nil
}

// firstJSONObject returns the first balanced {...} substring, respecting
// strings and escapes.
func firstJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
