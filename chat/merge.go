package chat

import "github.com/schmitech/orbit/core"

// Merge flattens executor results into one context list. Adapter order is
// preserved and every item is stamped with the adapter it came from. No
// deduplication happens here; overlapping evidence is left to the LLM.
func Merge(results []core.AdapterResult) []core.ContextItem {
	var merged []core.ContextItem
	for _, r := range results {
		if !r.Success {
			continue
		}
		for _, item := range r.Data {
			item.SourceAdapter = r.AdapterName
			merged = append(merged, item)
		}
	}
	return merged
}

// usable reports whether an item carries real evidence. Intent engines emit
// zero-confidence marker items for no-match and validation failures; those
// steer the degraded-answer path instead of the prompt.
func usable(item core.ContextItem) bool {
	if item.Content == "" {
		return false
	}
	if v, ok := item.Metadata["no_matching_template"].(bool); ok && v {
		return false
	}
	if v, ok := item.Metadata["success"].(bool); ok && !v {
		return false
	}
	return true
}

// filterContext drops markers and low-confidence items, then caps the list.
func filterContext(items []core.ContextItem, threshold float64, max int) []core.ContextItem {
	var kept []core.ContextItem
	for _, item := range items {
		if !usable(item) {
			continue
		}
		if threshold > 0 && item.Confidence < threshold {
			continue
		}
		kept = append(kept, item)
	}
	if max > 0 && len(kept) > max {
		kept = kept[:max]
	}
	return kept
}

// validationFailure returns the human-readable reason from the first
// validation-failure marker, empty if none. The orchestrator relays it
// verbatim instead of asking the LLM to guess.
func validationFailure(items []core.ContextItem) string {
	for _, item := range items {
		if v, ok := item.Metadata["success"].(bool); ok && !v && item.Content != "" {
			return item.Content
		}
	}
	return ""
}
