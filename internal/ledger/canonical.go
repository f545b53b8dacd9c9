package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalJSON encodes v deterministically for hashing.
//
// The value is first pushed through encoding/json so that every number
// becomes a float64 and every composite becomes map[string]any or []any;
// this guarantees the same bytes whether the payload is hashed at submit
// time or recomputed from storage later. Object keys are emitted in sorted
// order as flattened [k, v, k, v, ...] pairs. Values encoding/json cannot
// represent (channels, funcs, NaN, Inf) are rejected.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	stable := normalize(decoded)

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(stable); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}

// normalize rewrites a decoded JSON value into an order-stable form.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			out = append(out, k, normalize(val[k]))
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, normalize(item))
		}
		return out
	default:
		// string, float64, bool, nil — already stable.
		return val
	}
}
