package extract

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// buildResponseSchema compiles the JSON Schema the model response must
// satisfy: amount and date are required field objects, every confidence is
// a number in [0,1]. The schema is deliberately loose about extra keys so a
// chatty model does not fail validation for adding harmless fields.
func buildResponseSchema() (*jsonschema.Schema, error) {
	fieldObject := func(valueSchema map[string]any) map[string]any {
		return map[string]any{
			"type":     "object",
			"required": []string{"value", "confidence"},
			"properties": map[string]any{
				"value": valueSchema,
				"confidence": map[string]any{
					"type":    "number",
					"minimum": 0,
					"maximum": 1,
				},
			},
		}
	}

	doc := map[string]any{
		"$schema":  "https://json-schema.org/draft/2020-12/schema",
		"type":     "object",
		"required": []string{"amount", "date"},
		"properties": map[string]any{
			"merchant":    fieldObject(map[string]any{"type": []string{"string", "null"}}),
			"description": fieldObject(map[string]any{"type": []string{"string", "null"}}),
			"amount":      fieldObject(map[string]any{"type": []string{"number", "string"}}),
			"currency":    fieldObject(map[string]any{"type": []string{"string", "null"}}),
			"date":        fieldObject(map[string]any{"type": []string{"string", "null"}}),
			"category":    fieldObject(map[string]any{"type": []string{"string", "null"}}),
			"line_items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"description": map[string]any{"type": "string"},
						"amount":      map[string]any{"type": []string{"number", "string"}},
					},
				},
			},
		},
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("buildResponseSchema: marshal: %w", err)
	}
	schema, err := jsonschema.CompileString("extraction.schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("buildResponseSchema: compile: %w", err)
	}
	return schema, nil
}
