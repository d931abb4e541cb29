package merge

import (
	"encoding/json"
	"fmt"
)

// Normalize converts attribute values into their JSON data model: strings,
// float64, bool, []any and map[string]any. Values loaded from a store and
// values freshly built by a provider then compare equal when they carry the
// same data.
func Normalize(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return normalizeEach(m)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return normalizeEach(m)
	}
	return out
}

// normalizeEach handles maps where a single value cannot be encoded. Such
// values are kept as their printed form.
func normalizeEach(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		b, err := json.Marshal(v)
		if err != nil {
			out[k] = fmt.Sprintf("%v", v)
			continue
		}
		var nv any
		if err := json.Unmarshal(b, &nv); err != nil {
			out[k] = fmt.Sprintf("%v", v)
			continue
		}
		out[k] = nv
	}
	return out
}

// render prints a normalized value for change records.
func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
