// Copyright 2025 James Ross
package policy

import (
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/fleetctl/workload-controller/internal/domain"
)

// A selector is a comma-separated set of terms: `path==value` (exact) or
// `path=glob` (doublestar glob match against a string value), evaluated
// against a decision target flattened to a JSON-like document so a single
// selector syntax can reach cluster_id, workload_id and arbitrary labels.
// Grounded on the JSONPath-driven classifier selector in
// internal/dlq-remediation-pipeline/classifier.go.
type selectorTerm struct {
	path  string
	value string
	glob  bool
}

func parseSelector(sel string) ([]selectorTerm, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" || sel == "*" {
		return nil, nil
	}
	var terms []selectorTerm
	for _, part := range strings.Split(sel, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.Index(part, "=="); idx >= 0 {
			terms = append(terms, selectorTerm{path: strings.TrimSpace(part[:idx]), value: strings.TrimSpace(part[idx+2:])})
			continue
		}
		if idx := strings.Index(part, "="); idx >= 0 {
			terms = append(terms, selectorTerm{path: strings.TrimSpace(part[:idx]), value: strings.TrimSpace(part[idx+1:]), glob: true})
			continue
		}
		return nil, newPolicyError("INVALID_POLICY", "selector term missing '=' or '==': "+part)
	}
	return terms, nil
}

func targetDocument(t domain.DecisionTarget) map[string]interface{} {
	doc := map[string]interface{}{
		"workload_id": t.WorkloadID,
		"cluster_id":  t.ClusterID,
		"labels":      map[string]interface{}{},
	}
	labels := doc["labels"].(map[string]interface{})
	for k, v := range t.Labels {
		labels[k] = v
	}
	return doc
}

// matches reports whether a decision target satisfies every term of sel.
func matches(sel string, target domain.DecisionTarget) (bool, error) {
	terms, err := parseSelector(sel)
	if err != nil {
		return false, err
	}
	if len(terms) == 0 {
		return true, nil
	}
	doc := targetDocument(target)
	for _, term := range terms {
		val, err := jsonpath.Get(term.path, doc)
		if err != nil {
			return false, nil
		}
		str, ok := val.(string)
		if !ok {
			return false, nil
		}
		if term.glob {
			ok2, err := doublestar.Match(term.value, str)
			if err != nil || !ok2 {
				return false, nil
			}
		} else if str != term.value {
			return false, nil
		}
	}
	return true, nil
}
