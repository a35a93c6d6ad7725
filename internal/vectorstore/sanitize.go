package vectorstore

import (
	"encoding/json"
	"fmt"
)

// SanitizeMetadata enforces the Pinecone-compatible metadata-value rule:
// only strings/numbers/booleans/lists-of-strings survive; nulls are
// dropped; nested maps are stringified as JSON; empty lists are dropped.
// It is idempotent: applying it twice yields the same mapping.
func SanitizeMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		sv, keep := sanitizeValue(v)
		if keep {
			out[k] = sv
		}
	}
	return out
}

func sanitizeValue(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string:
		return val, true
	case bool:
		return val, true
	case int:
		return val, true
	case int32:
		return val, true
	case int64:
		return val, true
	case float32:
		return val, true
	case float64:
		return val, true
	case []string:
		if len(val) == 0 {
			return nil, false
		}
		return append([]string(nil), val...), true
	case []any:
		strs := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				strs = append(strs, s)
			} else if item != nil {
				strs = append(strs, fmt.Sprintf("%v", item))
			}
		}
		if len(strs) == 0 {
			return nil, false
		}
		return strs, true
	case map[string]any:
		if len(val) == 0 {
			return nil, false
		}
		b, err := json.Marshal(val)
		if err != nil {
			return nil, false
		}
		return string(b), true
	default:
		return fmt.Sprintf("%v", val), true
	}
}
