// Copyright 2025 James Ross
package planexec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// actionPlanSchema validates an inbound ActionPlan JSON document before it
// is decoded into the typed domain.ActionPlan, grounded on
// internal/json-payload-studio's gojsonschema.Validate usage.
const actionPlanSchema = `{
  "type": "object",
  "required": ["id", "decisions"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "source": {"type": "string"},
    "decisions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "verb", "target"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "verb": {"enum": ["scale", "deploy", "drain", "restart", "rollback", "delete"]},
          "target": {
            "type": "object",
            "required": ["workload_id", "cluster_id"],
            "properties": {
              "workload_id": {"type": "string"},
              "cluster_id": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(actionPlanSchema)

// ValidateActionPlanJSON checks raw against the ActionPlan schema before a
// caller decodes it. Unknown verbs are a validation error per the spec's
// design notes ("unknown verbs are a validation error, not runtime
// behavior"), enforced here by the schema's verb enum.
func ValidateActionPlanJSON(raw []byte) error {
	documentLoader := gojsonschema.NewBytesLoader(raw)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("planexec: schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &PlanError{Code: "INVALID_PLAN", Message: strings.Join(msgs, "; ")}
	}
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("planexec: decode probe: %w", err)
	}
	return nil
}
