// Package intent implements the intent retrieval engine: natural language
// is matched to a template, parameters are extracted and validated, the
// template's backend operation is executed, and rows are shaped into a
// ContextItem for the orchestrator.
package intent

import (
	"context"
	"strings"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/templates"
)

// Reranking boosts applied on top of vector similarity.
const (
	entityBoost = 0.20
	actionBoost = 0.15

	defaultConfidenceThreshold = 0.75
	defaultMaxTemplates        = 5
)

// Match is one accepted template with its post-boost similarity.
type Match struct {
	Template   *templates.Template
	Similarity float64
	// TextFallback is set when the embedding provider failed and the match
	// came from Jaccard scoring.
	TextFallback bool
}

// Matcher ranks templates against a query.
type Matcher struct {
	store        *templates.Store
	threshold    float64
	maxTemplates int
	logger       core.Logger
}

// NewMatcher builds a matcher over an indexed template store. Zero values
// select the defaults (threshold 0.75, top 5).
func NewMatcher(store *templates.Store, threshold float64, maxTemplates int, logger core.Logger) *Matcher {
	if threshold <= 0 {
		threshold = defaultConfidenceThreshold
	}
	if maxTemplates <= 0 {
		maxTemplates = defaultMaxTemplates
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Matcher{
		store:        store,
		threshold:    threshold,
		maxTemplates: maxTemplates,
		logger:       logger,
	}
}

// Match returns the best template for the query, or ErrNoMatchingTemplate
// when nothing reaches the confidence threshold. Embedding failures degrade
// to pure-text scoring instead of failing the request.
func (m *Matcher) Match(ctx context.Context, query string) (*Match, error) {
	scored, err := m.store.SearchVector(ctx, query, m.maxTemplates)
	fallback := false
	if err != nil {
		m.logger.Warn("Embedding search failed, falling back to text similarity", map[string]interface{}{
			"operation": "template_match",
			"error":     err.Error(),
		})
		scored = m.store.SearchText(query, m.maxTemplates)
		fallback = true
	}
	if len(scored) == 0 {
		return nil, core.ErrNoMatchingTemplate
	}

	vocab := m.store.Vocabulary()
	queryLower := strings.ToLower(query)

	best := -1
	bestSim := -1.0
	for i, s := range scored {
		sim := s.Similarity + boost(queryLower, s.Template, vocab)
		if sim > 1 {
			sim = 1
		}
		scored[i].Similarity = sim
		if sim > bestSim {
			bestSim = sim
			best = i
		}
	}

	m.logger.Debug("Template candidates ranked", map[string]interface{}{
		"operation":  "template_match",
		"candidates": len(scored),
		"best":       scored[best].Template.ID,
		"similarity": bestSim,
		"fallback":   fallback,
	})

	if bestSim < m.threshold {
		return nil, core.ErrNoMatchingTemplate
	}
	return &Match{
		Template:     scored[best].Template,
		Similarity:   bestSim,
		TextFallback: fallback,
	}, nil
}

// boost applies domain reranking: the primary entity (or a synonym) in the
// query adds entityBoost; a verb mapped to the template's action adds
// actionBoost.
func boost(queryLower string, t *templates.Template, vocab *templates.Vocabulary) float64 {
	var total float64

	entity := strings.ToLower(t.SemanticTags.PrimaryEntity)
	if entity != "" {
		terms := append([]string{entity}, vocab.SynonymsFor(entity)...)
		for _, term := range terms {
			if containsWord(queryLower, strings.ToLower(term)) {
				total += entityBoost
				break
			}
		}
	}

	action := strings.ToLower(t.SemanticTags.Action)
	if action != "" {
		verbs := append([]string{action}, vocab.VerbsFor(action)...)
		for _, verb := range verbs {
			if containsWord(queryLower, strings.ToLower(verb)) {
				total += actionBoost
				break
			}
		}
	}
	return total
}

// containsWord reports whether text contains term on word boundaries, so
// "order" does not match "border". Plural "s" on the text side is allowed.
func containsWord(text, term string) bool {
	if term == "" {
		return false
	}
	idx := 0
	for {
		i := strings.Index(text[idx:], term)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(term)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		if strings.HasPrefix(text[end:], "s") {
			end++
		}
		afterOK := end >= len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}
