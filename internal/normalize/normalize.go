// Package normalize coerces raw CRM field values into canonical
// representations. All functions are pure; the only lookups are against the
// in-memory schema registry.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/talentbridge-systems/crmsync/internal/schema"
)

// FieldWarning records a single field that could not be coerced. Warnings
// never abort processing; the field is dropped or passed through instead.
type FieldWarning struct {
	Field  string
	Reason string
}

// Normalizer applies per-field coercion rules driven by the schema registry.
type Normalizer struct {
	registry *schema.Registry
}

// New creates a normalizer bound to the given registry.
func New(registry *schema.Registry) *Normalizer {
	return &Normalizer{registry: registry}
}

// Payload normalizes every field present in both the incoming payload and
// the entity's schema. Fields absent from the schema pass through unmodified,
// which keeps the pipeline forward-compatible with upstream schema additions.
func (n *Normalizer) Payload(entityType string, fields map[string]any) (map[string]any, []FieldWarning) {
	out := make(map[string]any, len(fields))
	var warnings []FieldWarning

	for name, value := range fields {
		dataType, ok := n.registry.FieldType(entityType, name)
		if !ok {
			out[name] = value
			continue
		}

		switch dataType {
		case schema.TypePhone:
			out[name] = Phone(stringify(value))
		case schema.TypeMultiValue:
			values, ok := MultiValue(value)
			if !ok {
				out[name] = value
				warnings = append(warnings, FieldWarning{Field: name, Reason: "unsupported multi-value shape"})
				continue
			}
			out[name] = values
		case schema.TypeTimestamp:
			ts, ok := Timestamp(value)
			if !ok {
				// Unparsable timestamps yield no value for the field.
				warnings = append(warnings, FieldWarning{Field: name, Reason: "unparsable timestamp"})
				continue
			}
			out[name] = ts
		default:
			out[name] = value
		}
	}

	return out, warnings
}

// Phone normalizes a phone number to E.164-style form:
// 11 digits starting with country code 1 get a "+" prefix, exactly 10 digits
// get "+1", anything else keeps its digits behind a single "+".
// Input without any digits is returned unchanged.
func Phone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case d == "":
		return raw
	case len(d) == 11 && d[0] == '1':
		return "+" + d
	case len(d) == 10:
		return "+1" + d
	default:
		return "+" + d
	}
}

// MultiValue coerces a multi-value enumeration into a list of strings.
// It accepts an already-structured list, a JSON array string, or a
// comma-separated string; each element is whitespace-trimmed.
func MultiValue(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			out = append(out, strings.TrimSpace(s))
		}
		return out, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, strings.TrimSpace(stringify(item)))
		}
		return out, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return []string{}, true
		}
		if strings.HasPrefix(s, "[") {
			var items []any
			if err := json.Unmarshal([]byte(s), &items); err == nil {
				out := make([]string, 0, len(items))
				for _, item := range items {
					out = append(out, strings.TrimSpace(stringify(item)))
				}
				return out, true
			}
			// Fall through to comma splitting for malformed JSON arrays.
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out, true
	default:
		return nil, false
	}
}

// timestampLayouts are tried in order; the first match wins.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp parses an ISO-8601 timestamp (a trailing Z is treated as UTC)
// and returns a normalized RFC3339 string. The string form keeps the
// normalized payload serializable. Numeric input is interpreted as a Unix
// epoch (milliseconds when the magnitude says so).
func Timestamp(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC().Format(time.RFC3339), true
			}
		}
		return "", false
	case time.Time:
		return v.UTC().Format(time.RFC3339), true
	case float64:
		return epochToRFC3339(int64(v)), true
	case int64:
		return epochToRFC3339(v), true
	case int:
		return epochToRFC3339(int64(v)), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return epochToRFC3339(n), true
		}
		return "", false
	default:
		return "", false
	}
}

func epochToRFC3339(n int64) string {
	// Heuristic: values this large are epoch milliseconds.
	if n > 1_000_000_000_000 {
		return time.UnixMilli(n).UTC().Format(time.RFC3339)
	}
	return time.Unix(n, 0).UTC().Format(time.RFC3339)
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
