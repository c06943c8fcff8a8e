package index

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Strategy selects how the index resolves paths.
type Strategy int

const (
	// StrategyAuto starts linear and promotes to hashed at the fast
	// threshold.
	StrategyAuto Strategy = iota
	// StrategyLinear keeps entries in one path-ordered slice and scans it.
	StrategyLinear
	// StrategyHashed keeps a path map plus a lazily rebuilt ordering.
	StrategyHashed
)

func (s Strategy) String() string {
	switch s {
	case StrategyAuto:
		return "auto"
	case StrategyLinear:
		return "linear"
	case StrategyHashed:
		return "hashed"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy parses a strategy from its config name.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "", "auto":
		return StrategyAuto, nil
	case "linear":
		return StrategyLinear, nil
	case "hashed":
		return StrategyHashed, nil
	}
	return 0, fmt.Errorf("unknown index strategy %q", name)
}

// table is the lookup structure behind an Index. sorted returns the
// table's own backing slice; callers must not modify it.
type table interface {
	strategy() Strategy
	len() int
	get(path string) (Entry, bool)
	put(e Entry)
	remove(path string) bool
	sorted() []Entry
}

// linearTable is a path-ordered slice. Lookups scan from the front; that
// is fine for the small trees it serves.
type linearTable struct {
	entries []Entry
}

func newLinearTable(capacity int) *linearTable {
	return &linearTable{entries: make([]Entry, 0, capacity)}
}

func (t *linearTable) strategy() Strategy { return StrategyLinear }

func (t *linearTable) len() int { return len(t.entries) }

func (t *linearTable) get(path string) (Entry, bool) {
	for _, e := range t.entries {
		if e.Path == path {
			return e, true
		}
	}
	return Entry{}, false
}

func (t *linearTable) put(e Entry) {
	n := len(t.entries)
	// Loading a saved index appends in order; keep that path O(1).
	if n == 0 || t.entries[n-1].Path < e.Path {
		t.entries = append(t.entries, e)
		return
	}
	for i := range t.entries {
		switch c := strings.Compare(t.entries[i].Path, e.Path); {
		case c == 0:
			t.entries[i] = e
			return
		case c > 0:
			t.entries = slices.Insert(t.entries, i, e)
			return
		}
	}
	t.entries = append(t.entries, e)
}

func (t *linearTable) remove(path string) bool {
	for i := range t.entries {
		if t.entries[i].Path == path {
			t.entries = slices.Delete(t.entries, i, i+1)
			return true
		}
	}
	return false
}

func (t *linearTable) sorted() []Entry {
	return t.entries
}

// hashedTable resolves paths through a map and rebuilds the path ordering
// only when something asks for it after a membership change.
type hashedTable struct {
	byPath map[string]Entry
	order  []Entry
	dirty  bool
}

func newHashedTable(capacity int) *hashedTable {
	return &hashedTable{byPath: make(map[string]Entry, capacity)}
}

func (t *hashedTable) strategy() Strategy { return StrategyHashed }

func (t *hashedTable) len() int { return len(t.byPath) }

func (t *hashedTable) get(path string) (Entry, bool) {
	e, ok := t.byPath[path]
	return e, ok
}

func (t *hashedTable) put(e Entry) {
	t.byPath[e.Path] = e
	t.dirty = true
}

func (t *hashedTable) remove(path string) bool {
	if _, ok := t.byPath[path]; !ok {
		return false
	}
	delete(t.byPath, path)
	t.dirty = true
	return true
}

func (t *hashedTable) sorted() []Entry {
	if !t.dirty && t.order != nil {
		return t.order
	}
	order := make([]Entry, 0, len(t.byPath))
	for _, e := range t.byPath {
		order = append(order, e)
	}
	sort.Slice(order, func(i, j int) bool {
		return order[i].Path < order[j].Path
	})
	t.order = order
	t.dirty = false
	return t.order
}
