// Copyright 2025 James Ross
package clusterdriver

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// parseLabelSelectorString parses a comma-separated "k=v,k2=v2" selector,
// the subset of Kubernetes label-selector syntax this driver needs.
func parseLabelSelectorString(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid selector term %q", pair)
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out, nil
}

func jerr(err error) zap.Field {
	return zap.Error(err)
}
