package store

import (
	"slices"
	"strings"
)

// Reserved index names used in Ranges.
const (
	// IndexByID addresses a single document by primary key.
	IndexByID = "by_id"
	// IndexAll addresses a whole table (scans).
	IndexAll = "*"
)

// Range identifies a set of documents a query read or a write touched:
// one document (by_id), one index key, or a whole table.
//
// Ranges are point ranges: two ranges overlap iff they are equal. Writes
// always touch the table-wide range as well, so scans are invalidated by
// any write to their table.
type Range struct {
	Table string
	Index string
	Key   string
}

// DocRange addresses a single document.
func DocRange(table, id string) Range {
	return Range{Table: table, Index: IndexByID, Key: id}
}

// TableRange addresses every document of a table.
func TableRange(table string) Range {
	return Range{Table: table, Index: IndexAll}
}

// IndexRange addresses one key of a secondary index.
func IndexRange(table, index string, values ...any) Range {
	return Range{Table: table, Index: index, Key: Key(values...)}
}

func (r Range) String() string {
	return r.Table + "/" + r.Index + "/" + r.Key
}

// RangeSet is a set of Ranges.
type RangeSet map[Range]struct{}

// NewRangeSet creates a set holding ranges.
func NewRangeSet(ranges ...Range) RangeSet {
	s := make(RangeSet, len(ranges))
	for _, r := range ranges {
		s[r] = struct{}{}
	}
	return s
}

// Add inserts r.
func (s RangeSet) Add(r Range) {
	s[r] = struct{}{}
}

// Has reports whether r is in the set.
func (s RangeSet) Has(r Range) bool {
	_, ok := s[r]
	return ok
}

// Intersects reports whether the two sets share any range.
func (s RangeSet) Intersects(other RangeSet) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for r := range small {
		if _, ok := large[r]; ok {
			return true
		}
	}
	return false
}

// Clone returns a copy of the set.
func (s RangeSet) Clone() RangeSet {
	out := make(RangeSet, len(s))
	for r := range s {
		out[r] = struct{}{}
	}
	return out
}

// Sorted returns the ranges in deterministic order.
func (s RangeSet) Sorted() []Range {
	out := make([]Range, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Range) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}

// Strings returns the sorted string forms of the ranges.
func (s RangeSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, r := range sorted {
		out[i] = r.String()
	}
	return out
}
