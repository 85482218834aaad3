package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/schmitech/orbit/templates"
)

// Validate checks extracted parameters against the template's declarations.
// It returns the coerced parameter map and a list of human-readable
// problems; a non-empty problem list means the operation must not execute.
func Validate(params map[string]interface{}, t *templates.Template) (map[string]interface{}, []string) {
	coerced := make(map[string]interface{}, len(params))
	var problems []string

	for _, spec := range t.Parameters {
		raw, present := params[spec.Name]
		if !present || raw == nil {
			if spec.Required {
				problems = append(problems, fmt.Sprintf("missing required parameter %q (%s)", spec.Name, spec.Type))
			}
			continue
		}

		value, err := coerce(raw, spec.Type)
		if err != nil {
			problems = append(problems, fmt.Sprintf("parameter %q: %v", spec.Name, err))
			continue
		}

		if errs := checkRules(value, spec); len(errs) > 0 {
			for _, e := range errs {
				problems = append(problems, fmt.Sprintf("parameter %q: %s", spec.Name, e))
			}
			continue
		}
		coerced[spec.Name] = value
	}

	return coerced, problems
}

// coerce converts a raw extracted value to the declared type. LLM output
// frequently delivers numbers as strings and integers as float64.
func coerce(raw interface{}, typ string) (interface{}, error) {
	switch typ {
	case "integer":
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != float64(int(v)) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			return int(v), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("expected integer, got %q", v)
			}
			return n, nil
		}

	case "number":
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("expected number, got %q", v)
			}
			return f, nil
		}

	case "boolean":
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", v)
			}
			return b, nil
		}

	case "string":
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", raw), nil

	case "date":
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected ISO date string, got %T", raw)
		}
		if !isoDateRE.MatchString(s) {
			return nil, fmt.Errorf("expected YYYY-MM-DD date, got %q", s)
		}
		return s, nil

	case "array":
		switch v := raw.(type) {
		case []interface{}:
			return v, nil
		case string:
			parts := strings.Split(v, ",")
			out := make([]interface{}, 0, len(parts))
			for _, p := range parts {
				out = append(out, strings.TrimSpace(p))
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", raw, typ)
}

// checkRules applies validation_rules and allowed_values to a coerced value.
func checkRules(value interface{}, spec templates.ParameterSpec) []string {
	var errs []string

	if len(spec.AllowedValues) > 0 {
		if s, ok := value.(string); ok {
			found := false
			for _, allowed := range spec.AllowedValues {
				if strings.EqualFold(s, allowed) {
					found = true
					break
				}
			}
			if !found {
				errs = append(errs, fmt.Sprintf("value %q not in allowed values [%s]",
					s, strings.Join(spec.AllowedValues, ", ")))
			}
		}
	}

	rules := spec.ValidationRules
	if len(rules) == 0 {
		return errs
	}

	if min, ok := ruleNumber(rules, "min"); ok {
		if n, ok := asFloat(value); ok && n < min {
			errs = append(errs, fmt.Sprintf("value %v below minimum %v", value, min))
		}
	}
	if max, ok := ruleNumber(rules, "max"); ok {
		if n, ok := asFloat(value); ok && n > max {
			errs = append(errs, fmt.Sprintf("value %v above maximum %v", value, max))
		}
	}
	if pattern, ok := rules["pattern"].(string); ok {
		if s, isStr := value.(string); isStr {
			re, err := regexp.Compile(pattern)
			if err != nil {
				errs = append(errs, fmt.Sprintf("invalid pattern rule %q", pattern))
			} else if !re.MatchString(s) {
				errs = append(errs, fmt.Sprintf("value %q does not match pattern %s", s, pattern))
			}
		}
	}
	if length, ok := ruleNumber(rules, "length"); ok {
		if s, isStr := value.(string); isStr && len(s) != int(length) {
			errs = append(errs, fmt.Sprintf("value %q must be exactly %d characters", s, int(length)))
		}
	}

	return errs
}

func ruleNumber(rules map[string]interface{}, key string) (float64, bool) {
	raw, ok := rules[key]
	if !ok {
		return 0, false
	}
	return asFloat(raw)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
