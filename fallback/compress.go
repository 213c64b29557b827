// Package fallback removes translations that repeat the English baseline.
// Lookups of removed prefixes fall back to English at runtime.
package fallback

import (
	"github.com/INLOpen/phoneprefix/core"
)

// Stats counts what Compress changed.
type Stats struct {
	Removed int
	Blanked int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Removed += other.Removed
	s.Blanked += other.Blanked
}

// Compress mutates table in place against the English table of the same
// country. An entry whose description equals the English one is deleted,
// unless a shorter truncation of its prefix is still present in table; then
// its description is set to "" so a longest-prefix lookup stops there instead
// of falling through to the shorter prefix.
//
// The overlap check sees the table as it is being mutated, in table order.
// A nil english table makes Compress a no-op.
func Compress(table, english *core.PrefixTable) Stats {
	var st Stats
	if table == nil || english == nil {
		return st
	}
	table.Range(func(prefix, description string) bool {
		englishDesc, ok := english.Get(prefix)
		if !ok || englishDesc != description {
			return true
		}
		if hasOverlappingPrefix(prefix, table) {
			table.Set(prefix, "")
			st.Blanked++
		} else {
			table.Delete(prefix)
			st.Removed++
		}
		return true
	})
	return st
}

// hasOverlappingPrefix reports whether a proper truncation of prefix, from
// len-1 digits down to one digit, is a key of table.
func hasOverlappingPrefix(prefix string, table *core.PrefixTable) bool {
	for n := len(prefix) - 1; n > 0; n-- {
		if table.Has(prefix[:n]) {
			return true
		}
	}
	return false
}

// RemoveEmptyEnglish drops English entries without a description. English is
// the last resort of a lookup, so an empty English value carries nothing.
func RemoveEmptyEnglish(table *core.PrefixTable) int {
	removed := 0
	table.Range(func(prefix, description string) bool {
		if description == "" {
			table.Delete(prefix)
			removed++
		}
		return true
	})
	return removed
}
