package diff

import "reflect"

// Clone deep-copies a view model value. Maps and slices are copied
// recursively; leaves are returned as-is.
func Clone(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, member := range v {
			out[k] = Clone(member)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, member := range v {
			out[i] = Clone(member)
		}
		return out
	default:
		return value
	}
}

// CloneMap is Clone specialized to a view model root. A nil input yields an
// empty map so callers always get a usable tree.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return Clone(m).(map[string]any)
}

// ReplaceContents replaces every entry of dst with the entries of src,
// preserving dst's identity. Callers holding a reference to dst observe the
// new contents; this is the explicit handle used to refresh a view model or
// user data map after a suspension point.
func ReplaceContents(dst, src map[string]any) {
	for k := range dst {
		delete(dst, k)
	}
	for k, v := range src {
		dst[k] = v
	}
}

// equal reports whether two view model values are the same. Numbers compare
// by value across Go numeric kinds, since a tree decoded from a client
// message carries float64 where a server-built tree may carry int.
func equal(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
