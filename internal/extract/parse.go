package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrServiceUnavailable means the completion service kept failing
	// through the retry budget. The document degrades to review.
	ErrServiceUnavailable = errors.New("completion service unavailable")

	// ErrMalformedResponse means the response did not match the expected
	// structured shape even after lenient sanitation.
	ErrMalformedResponse = errors.New("malformed completion response")
)

// fieldJSON is the {value, confidence} pair the model returns per field.
// Value stays raw because the model may send strings or numbers.
type fieldJSON struct {
	Value      json.RawMessage `json:"value"`
	Confidence float64         `json:"confidence"`
}

type lineItemJSON struct {
	Description string          `json:"description"`
	Amount      json.RawMessage `json:"amount"`
}

type responseJSON struct {
	Merchant    fieldJSON      `json:"merchant"`
	Description fieldJSON      `json:"description"`
	Amount      fieldJSON      `json:"amount"`
	Currency    fieldJSON      `json:"currency"`
	Date        fieldJSON      `json:"date"`
	Category    fieldJSON      `json:"category"`
	LineItems   []lineItemJSON `json:"line_items"`
}

// cleanModelJSON strips code fences and any prose around the outermost JSON
// object. Models add both despite instructions.
func cleanModelJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// parseResponse turns the raw model output into a responseJSON. It tries
// strict schema validation first, then sanitizes synonyms and bare values
// and validates again. Both failing is a malformed response.
func (e *Extractor) parseResponse(raw string) (*responseJSON, error) {
	cleaned := cleanModelJSON(raw)

	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return nil, fmt.Errorf("parseResponse: not JSON: %v: %w", err, ErrMalformedResponse)
	}

	if err := e.schema.Validate(v); err != nil {
		v = sanitizeResponse(v)
		if err := e.schema.Validate(v); err != nil {
			return nil, fmt.Errorf("parseResponse: schema: %v: %w", compactValidationError(err), ErrMalformedResponse)
		}
	}

	normalized, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("parseResponse: remarshal: %w", err)
	}
	var resp responseJSON
	if err := json.Unmarshal(normalized, &resp); err != nil {
		return nil, fmt.Errorf("parseResponse: decode: %v: %w", err, ErrMalformedResponse)
	}
	return &resp, nil
}

// fieldSynonyms maps keys models like to invent onto the canonical names.
var fieldSynonyms = map[string]string{
	"vendor":           "merchant",
	"store":            "merchant",
	"merchant_name":    "merchant",
	"total":            "amount",
	"total_amount":     "amount",
	"grand_total":      "amount",
	"transaction_date": "date",
	"purchase_date":    "date",
	"items":            "line_items",
}

// sanitizeResponse repairs common shape deviations: synonym keys, bare
// values instead of {value, confidence} objects, string confidences.
// Repaired values get a neutral confidence of 0.5 because the model never
// reported one.
func sanitizeResponse(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}

	out := make(map[string]any, len(obj))
	for k, val := range obj {
		key := strings.ToLower(strings.TrimSpace(k))
		if canonical, ok := fieldSynonyms[key]; ok {
			key = canonical
		}
		if _, exists := out[key]; exists {
			continue
		}
		out[key] = val
	}

	for _, key := range []string{"merchant", "description", "amount", "currency", "date", "category"} {
		val, ok := out[key]
		if !ok {
			continue
		}
		field, isObj := val.(map[string]any)
		if !isObj {
			out[key] = map[string]any{"value": val, "confidence": 0.5}
			continue
		}
		if conf, ok := field["confidence"].(string); ok {
			var f float64
			if _, err := fmt.Sscanf(conf, "%g", &f); err == nil {
				field["confidence"] = f
			}
		}
		// Percentages show up now and then.
		if conf, ok := field["confidence"].(float64); ok && conf > 1 && conf <= 100 {
			field["confidence"] = conf / 100
		}
		if _, ok := field["confidence"]; !ok {
			field["confidence"] = 0.5
		}
		if _, ok := field["value"]; !ok {
			field["value"] = nil
		}
	}

	return out
}

// compactValidationError flattens jsonschema's multi-line error into one
// line so it fits a log field and a corrective prompt.
func compactValidationError(err error) string {
	return strings.Join(strings.Fields(err.Error()), " ")
}
