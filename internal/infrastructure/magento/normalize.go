package magento

import (
	"sort"
	"strconv"
)

// Normalize converts a decoded response payload into a uniform shape:
// objects become map[string]any, lists become []any, recursively. The
// remote serializer emits PHP associative arrays with consecutive
// numeric keys ("0", "1", ...) for what are logically lists; those are
// rewritten into ordered arrays so callers see one consistent structure
// regardless of how a given record happened to be encoded.
func Normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if items, ok := numericKeyed(val); ok {
			return items
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	default:
		return v
	}
}

// numericKeyed converts an object whose keys are all decimal indices
// into an array ordered by index. Empty objects stay objects.
func numericKeyed(m map[string]any) ([]any, bool) {
	if len(m) == 0 {
		return nil, false
	}
	type indexed struct {
		idx int
		val any
	}
	items := make([]indexed, 0, len(m))
	for k, v := range m {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			return nil, false
		}
		items = append(items, indexed{idx: idx, val: Normalize(v)})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].idx < items[j].idx })
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it.val
	}
	return out, true
}

// AsList coerces a normalized payload into a list of records. A single
// record object is wrapped; nil yields an empty list.
func AsList(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return val
	default:
		return []any{val}
	}
}

// AsRecord coerces a normalized payload into a record object, returning
// false for anything else.
func AsRecord(v any) (map[string]any, bool) {
	rec, ok := v.(map[string]any)
	return rec, ok
}
