package tracker

import (
	"sort"
	"strconv"
	"strings"
)

// Signature fingerprints a shape. It is order-insensitive: the id list is
// sorted, so a store returning the same rows in a different order yields the
// same signature.
func Signature(shape Shape) string {
	ids := make([]string, len(shape.IDs))
	copy(ids, shape.IDs)
	sort.Strings(ids)

	var updated int64
	if !shape.LastUpdatedAt.IsZero() {
		updated = shape.LastUpdatedAt.UnixNano()
	}

	var b strings.Builder
	b.WriteString(strconv.Itoa(shape.Count))
	b.WriteByte('|')
	b.WriteString(strings.Join(ids, ","))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(updated, 10))
	return b.String()
}
