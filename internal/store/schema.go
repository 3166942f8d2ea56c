package store

import (
	"fmt"
	"strings"

	"github.com/roach88/livechat/internal/canon"
)

// Index declares a secondary lookup over one or more document fields.
//
// An array-valued field contributes one entry per element (e.g. a
// conversation is indexed once per member). A document missing any of the
// fields, or holding null, has no entry in the index.
type Index struct {
	Name   string
	Fields []string
	Unique bool
}

// Table declares a collection and its indexes.
type Table struct {
	Name    string
	Indexes []Index
}

// Schema is the validated set of tables a store accepts.
type Schema struct {
	tables map[string]Table
	order  []string
}

// NewSchema validates table and index declarations.
func NewSchema(tables ...Table) (*Schema, error) {
	s := &Schema{tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		if t.Name == "" || strings.ContainsAny(t.Name, "/*") {
			return nil, fmt.Errorf("schema: invalid table name %q", t.Name)
		}
		if _, dup := s.tables[t.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate table %q", t.Name)
		}
		seen := make(map[string]bool, len(t.Indexes))
		for _, idx := range t.Indexes {
			if idx.Name == "" || idx.Name == IndexByID || idx.Name == IndexAll || strings.Contains(idx.Name, "/") {
				return nil, fmt.Errorf("schema: table %q: invalid index name %q", t.Name, idx.Name)
			}
			if seen[idx.Name] {
				return nil, fmt.Errorf("schema: table %q: duplicate index %q", t.Name, idx.Name)
			}
			if len(idx.Fields) == 0 {
				return nil, fmt.Errorf("schema: index %s.%s has no fields", t.Name, idx.Name)
			}
			for _, f := range idx.Fields {
				if strings.HasPrefix(f, "_") {
					return nil, fmt.Errorf("schema: index %s.%s: system field %q cannot be indexed", t.Name, idx.Name, f)
				}
			}
			seen[idx.Name] = true
		}
		s.tables[t.Name] = t
		s.order = append(s.order, t.Name)
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error.
// Use only for schemas declared in code.
func MustSchema(tables ...Table) *Schema {
	s, err := NewSchema(tables...)
	if err != nil {
		panic(err)
	}
	return s
}

// Tables returns table names in declaration order.
func (s *Schema) Tables() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Schema) table(name string) (Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return Table{}, fmt.Errorf("unknown table %q", name)
	}
	return t, nil
}

func (t Table) index(name string) (Index, error) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, nil
		}
	}
	return Index{}, fmt.Errorf("table %q has no index %q", t.Name, name)
}

// entry is one (index, key) pair a document occupies.
type entry struct {
	index  string
	key    string
	unique bool
}

// entries computes every index entry for a document body.
func (t Table) entries(fields map[string]any) ([]entry, error) {
	var out []entry
	for _, idx := range t.Indexes {
		combos := [][]any{{}}
		skip := false
		for _, f := range idx.Fields {
			v, ok := fields[f]
			if !ok || v == nil {
				skip = true
				break
			}
			values := []any{v}
			if arr, isArr := v.([]any); isArr {
				values = arr
			}
			if len(values) == 0 {
				skip = true
				break
			}
			next := make([][]any, 0, len(combos)*len(values))
			for _, c := range combos {
				for _, val := range values {
					combo := make([]any, len(c), len(c)+1)
					copy(combo, c)
					next = append(next, append(combo, val))
				}
			}
			combos = next
		}
		if skip {
			continue
		}

		seen := make(map[string]bool, len(combos))
		for _, c := range combos {
			key, err := indexKey(c)
			if err != nil {
				return nil, fmt.Errorf("index %s.%s: %w", t.Name, idx.Name, err)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, entry{index: idx.Name, key: key, unique: idx.Unique})
		}
	}
	return out, nil
}

// indexKey encodes index field values as a canonical JSON array, so that
// lookups built from Go values match entries built from stored JSON.
func indexKey(values []any) (string, error) {
	b, err := canon.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Key returns the encoded index key for values, as used in Range.Key.
// Panics on unsupported value types; use only with strings, ints and bools.
func Key(values ...any) string {
	k, err := indexKey(values)
	if err != nil {
		panic(err)
	}
	return k
}
