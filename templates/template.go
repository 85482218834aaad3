// Package templates holds the NL→operation template library: record types,
// canonical embedding text, YAML loading, and the indexed store used by the
// intent engine for matching.
package templates

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/schmitech/orbit/core"
)

// Result formats for shaped template output.
const (
	FormatList    = "list"
	FormatTable   = "table"
	FormatSummary = "summary"
)

// Template maps natural language to one backend operation. Immutable once
// indexed; re-indexing the same id replaces the stored embedding.
type Template struct {
	ID                string            `yaml:"id" json:"id"`
	Description       string            `yaml:"description" json:"description"`
	NLExamples        []string          `yaml:"nl_examples" json:"nl_examples"`
	Tags              []string          `yaml:"tags" json:"tags"`
	SemanticTags      SemanticTags      `yaml:"semantic_tags" json:"semantic_tags"`
	Parameters        []ParameterSpec   `yaml:"parameters" json:"parameters"`
	OperationTemplate string            `yaml:"operation_template" json:"operation_template"`
	HTTP              *HTTPOperation    `yaml:"http,omitempty" json:"http,omitempty"`
	OperationName     string            `yaml:"operation_name,omitempty" json:"operation_name,omitempty"`
	ResultFormat      string            `yaml:"result_format" json:"result_format"`
	DisplayFields     []string          `yaml:"display_fields,omitempty" json:"display_fields,omitempty"`
	ResponseMapping   map[string]string `yaml:"response_mapping,omitempty" json:"response_mapping,omitempty"`
}

// SemanticTags classify a template for domain reranking.
type SemanticTags struct {
	Action          string   `yaml:"action" json:"action"`
	PrimaryEntity   string   `yaml:"primary_entity" json:"primary_entity"`
	SecondaryEntity string   `yaml:"secondary_entity,omitempty" json:"secondary_entity,omitempty"`
	Qualifiers      []string `yaml:"qualifiers,omitempty" json:"qualifiers,omitempty"`
}

// ParameterSpec declares one extractable parameter of a template.
type ParameterSpec struct {
	Name            string                 `yaml:"name" json:"name"`
	Type            string                 `yaml:"type" json:"type"`
	Required        bool                   `yaml:"required" json:"required"`
	Default         interface{}            `yaml:"default,omitempty" json:"default,omitempty"`
	Description     string                 `yaml:"description,omitempty" json:"description,omitempty"`
	AllowedValues   []string               `yaml:"allowed_values,omitempty" json:"allowed_values,omitempty"`
	Example         string                 `yaml:"example,omitempty" json:"example,omitempty"`
	Location        string                 `yaml:"location,omitempty" json:"location,omitempty"`
	GraphQLType     string                 `yaml:"graphql_type,omitempty" json:"graphql_type,omitempty"`
	ValidationRules map[string]interface{} `yaml:"validation_rules,omitempty" json:"validation_rules,omitempty"`
}

// HTTPOperation describes a REST call skeleton. Endpoint patterns support
// both {name} and {{name}} placeholders.
type HTTPOperation struct {
	Endpoint    string            `yaml:"endpoint" json:"endpoint"`
	Method      string            `yaml:"method" json:"method"`
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	QueryParams map[string]string `yaml:"query_params,omitempty" json:"query_params,omitempty"`
	Body        string            `yaml:"body,omitempty" json:"body,omitempty"`
}

// Vocabulary supplies domain knowledge for matching and extraction: entity
// synonyms boost template similarity, action verbs map query verbs to
// semantic actions, and time periods resolve named spans to day counts.
type Vocabulary struct {
	EntitySynonyms map[string][]string `yaml:"entity_synonyms" json:"entity_synonyms"`
	ActionVerbs    map[string][]string `yaml:"action_verbs" json:"action_verbs"`
	TimePeriods    map[string]int      `yaml:"time_periods" json:"time_periods"`
}

// SynonymsFor returns the declared synonyms for an entity, nil if none.
func (v *Vocabulary) SynonymsFor(entity string) []string {
	if v == nil {
		return nil
	}
	return v.EntitySynonyms[strings.ToLower(entity)]
}

// VerbsFor returns the verbs mapped to a semantic action, nil if none.
func (v *Vocabulary) VerbsFor(action string) []string {
	if v == nil {
		return nil
	}
	return v.ActionVerbs[strings.ToLower(action)]
}

// Validate checks structural requirements before a template is indexed.
func (t *Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("template without id: %w", core.ErrInvalidConfiguration)
	}
	if t.Description == "" {
		return fmt.Errorf("template %s: description required: %w", t.ID, core.ErrInvalidConfiguration)
	}
	switch t.ResultFormat {
	case "", FormatList, FormatTable, FormatSummary:
	default:
		return fmt.Errorf("template %s: unknown result_format %q: %w", t.ID, t.ResultFormat, core.ErrInvalidConfiguration)
	}
	for _, p := range t.Parameters {
		switch p.Type {
		case "integer", "number", "string", "boolean", "date", "array":
		default:
			return fmt.Errorf("template %s: parameter %s has unknown type %q: %w",
				t.ID, p.Name, p.Type, core.ErrInvalidConfiguration)
		}
	}
	return nil
}

// Parameter returns the spec for a named parameter.
func (t *Template) Parameter(name string) (ParameterSpec, bool) {
	for _, p := range t.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// EmbeddingText builds the canonical text a template is embedded under:
// description, examples, tags, parameter names, semantic tag fields, and
// the primary entity's declared synonyms, normalized to single-spaced
// lowercase.
func (t *Template) EmbeddingText(vocab *Vocabulary) string {
	parts := make([]string, 0, 8)
	parts = append(parts, t.Description)
	parts = append(parts, t.NLExamples...)
	parts = append(parts, t.Tags...)

	names := make([]string, 0, len(t.Parameters))
	for _, p := range t.Parameters {
		names = append(names, p.Name)
	}
	if len(names) > 0 {
		parts = append(parts, strings.Join(names, " "))
	}

	if t.SemanticTags.Action != "" {
		parts = append(parts, t.SemanticTags.Action)
	}
	if t.SemanticTags.PrimaryEntity != "" {
		parts = append(parts, t.SemanticTags.PrimaryEntity)
	}
	if t.SemanticTags.SecondaryEntity != "" {
		parts = append(parts, t.SemanticTags.SecondaryEntity)
	}
	parts = append(parts, t.SemanticTags.Qualifiers...)
	parts = append(parts, vocab.SynonymsFor(t.SemanticTags.PrimaryEntity)...)

	text := strings.ToLower(strings.Join(parts, " "))
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
}

// Tokenize splits normalized text into a word set for Jaccard scoring.
func Tokenize(text string) map[string]bool {
	tokens := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, `.,:;!?'"()[]{}`)
		if w != "" {
			tokens[w] = true
		}
	}
	return tokens
}

// Jaccard computes |A∩B| / |A∪B| over word sets. Returns 0 for empty input.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// sortedIDs returns template ids in stable order for deterministic logs.
func sortedIDs(templates map[string]*Template) []string {
	ids := make([]string, 0, len(templates))
	for id := range templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
