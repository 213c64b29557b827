package core

// PrefixTable is an insertion-ordered mapping from a phone number prefix to
// its geographic description. An empty description is a real value meaning
// "deliberately no description", which is different from a missing prefix.
//
// PrefixTable is not safe for concurrent mutation.
type PrefixTable struct {
	entries []tableEntry
	index   map[string]int
	live    int
}

type tableEntry struct {
	prefix      string
	description string
	deleted     bool
}

// NewPrefixTable returns an empty table with room for sizeHint entries.
func NewPrefixTable(sizeHint int) *PrefixTable {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &PrefixTable{
		entries: make([]tableEntry, 0, sizeHint),
		index:   make(map[string]int, sizeHint),
	}
}

// PrefixTableFromPairs builds a table from alternating prefix, description arguments.
// It is mostly useful in tests.
func PrefixTableFromPairs(pairs ...string) *PrefixTable {
	t := NewPrefixTable(len(pairs) / 2)
	for i := 0; i+1 < len(pairs); i += 2 {
		t.Set(pairs[i], pairs[i+1])
	}
	return t
}

// Set stores description under prefix. An existing prefix keeps its position
// and takes the new description (last value wins).
func (t *PrefixTable) Set(prefix, description string) {
	if i, ok := t.index[prefix]; ok {
		t.entries[i].description = description
		return
	}
	t.index[prefix] = len(t.entries)
	t.entries = append(t.entries, tableEntry{prefix: prefix, description: description})
	t.live++
}

// Get returns the description stored for prefix.
func (t *PrefixTable) Get(prefix string) (string, bool) {
	i, ok := t.index[prefix]
	if !ok {
		return "", false
	}
	return t.entries[i].description, true
}

// Has reports whether prefix is a key of the table.
func (t *PrefixTable) Has(prefix string) bool {
	_, ok := t.index[prefix]
	return ok
}

// Delete removes prefix. It is safe to call from inside Range.
func (t *PrefixTable) Delete(prefix string) bool {
	i, ok := t.index[prefix]
	if !ok {
		return false
	}
	t.entries[i].deleted = true
	t.entries[i].description = ""
	delete(t.index, prefix)
	t.live--
	return true
}

// Len returns the number of live entries.
func (t *PrefixTable) Len() int {
	if t == nil {
		return 0
	}
	return t.live
}

// Range calls fn for every live entry in insertion order until fn returns false.
// fn may Delete or Set existing prefixes; entries added during Range are not visited.
func (t *PrefixTable) Range(fn func(prefix, description string) bool) {
	if t == nil {
		return
	}
	n := len(t.entries)
	for i := 0; i < n; i++ {
		e := t.entries[i]
		if e.deleted {
			continue
		}
		if !fn(e.prefix, e.description) {
			return
		}
	}
}

// Keys returns the live prefixes in insertion order.
func (t *PrefixTable) Keys() []string {
	keys := make([]string, 0, t.Len())
	t.Range(func(prefix, _ string) bool {
		keys = append(keys, prefix)
		return true
	})
	return keys
}

// Map returns a plain map copy of the table.
func (t *PrefixTable) Map() map[string]string {
	m := make(map[string]string, t.Len())
	t.Range(func(prefix, description string) bool {
		m[prefix] = description
		return true
	})
	return m
}

// Clone returns a compacted copy of the table.
func (t *PrefixTable) Clone() *PrefixTable {
	c := NewPrefixTable(t.Len())
	t.Range(func(prefix, description string) bool {
		c.Set(prefix, description)
		return true
	})
	return c
}
