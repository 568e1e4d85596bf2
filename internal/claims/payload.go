package claims

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// maxUnwrapDepth bounds the string-unwrapping loop. Payloads in the wild have
// been seen double-encoded; anything deeper is treated as undecodable.
const maxUnwrapDepth = 5

// DecodePayload turns a raw observation payload into a map. Payloads may
// already be a JSON object, or a JSON string containing an object, encoded one
// or more times; string layers are unwrapped iteratively until an object
// appears or no further decoding is possible. Non-object payloads (arrays,
// scalars) decode to nil without error.
func DecodePayload(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	current := []byte(raw)
	for depth := 0; depth < maxUnwrapDepth; depth++ {
		var obj map[string]any
		if err := json.Unmarshal(current, &obj); err == nil {
			return obj, nil
		}

		var s string
		if err := json.Unmarshal(current, &s); err != nil {
			return nil, fmt.Errorf("claims: undecodable payload: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		current = []byte(s)
	}
	return nil, fmt.Errorf("claims: payload exceeded %d decode passes", maxUnwrapDepth)
}

// Lookup resolves a field through an ordered alias list, first match wins.
// It checks the top-level map, then one level down inside the common wrapper
// keys historical integrations have used.
func Lookup(m map[string]any, aliases []string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, alias := range aliases {
		if v, ok := m[alias]; ok {
			if s, ok := stringValue(v); ok {
				return s, true
			}
		}
	}
	for _, wrapper := range []string{"data", "result", "response"} {
		inner, ok := m[wrapper].(map[string]any)
		if !ok {
			continue
		}
		for _, alias := range aliases {
			if v, ok := inner[alias]; ok {
				if s, ok := stringValue(v); ok {
					return s, true
				}
			}
		}
	}
	return "", false
}

// variantAliases are the input-payload field names that carry the action
// variant across tool versions.
var variantAliases = []string{"action", "variant", "operation"}

// Variant resolves the action variant from a decoded input payload. A nil map
// or an absent field means no variant.
func Variant(input map[string]any) string {
	v, _ := Lookup(input, variantAliases)
	return v
}

// stringValue renders a scalar payload value as a string. Objects and arrays
// never match a record-identifying field.
func stringValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", false
		}
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
