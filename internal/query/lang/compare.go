package lang

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// compareValues orders two arbitrary field values. The second return value
// is false when the two values are not meaningfully comparable (mismatched
// types, or exactly one of them nil; two nils compare equal), in which case
// relational operators other than (not-)equals treat the row as not matching.
func compareValues(a, b interface{}) (int, bool) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		return 0, false
	}

	switch av := a.(type) {
	case float64:
		bv, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		return cmpFloat(av, bv), true
	case int:
		bv, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		return cmpFloat(float64(av), bv), true
	case int64:
		bv, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		return cmpFloat(float64(av), bv), true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		default:
			return 0, true
		}
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if av {
			return 1, true
		}
		return -1, true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case av.Before(bv):
			return -1, true
		case av.After(bv):
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// identityHash produces a stable identifier for a row, used both as the
// skip-cache key and as the final tie-breaker when ordering rows that
// compare equal on every ORDER BY field.
func identityHash(row Row) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha1.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, row[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
