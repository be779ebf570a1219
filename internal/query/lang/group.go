package lang

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// Groupable is implemented by result values that know how to merge with
// another row sharing the same group key. Row's implementation sums
// numeric fields present in both rows and keeps the first row's value for
// every other field.
type Groupable interface {
	Group(other Row) Row
}

// groupKey hashes the concatenation of a row's group-by field values, the
// same way rows sharing a group are recognized regardless of field order.
func groupKey(row Row, fields []string) string {
	h := sha1.New()
	for _, f := range fields {
		fmt.Fprintf(h, "%v;", row[f])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// groupRows collapses rows sharing the same group-by field values into one
// row per group, in first-seen order. The first row of a group is kept and
// each later row is folded into it with Row.Group (numeric fields summed,
// other fields keep the first row's value); the group-by fields themselves
// keep the group's own values.
func groupRows(rows []Row, fields []string) []Row {
	if len(fields) == 0 {
		return rows
	}
	order := make([]string, 0)
	groups := make(map[string]Row)
	for _, row := range rows {
		key := groupKey(row, fields)
		existing, ok := groups[key]
		if !ok {
			groups[key] = row.Clone()
			order = append(order, key)
			continue
		}
		keyValues := make(Row, len(fields))
		for _, f := range fields {
			if v, ok := existing[f]; ok {
				keyValues[f] = v
			}
		}
		merged := existing.Group(row)
		for f, v := range keyValues {
			merged[f] = v
		}
		groups[key] = merged
	}
	out := make([]Row, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}
	return out
}
