// Package index implements the staging area: an ordered map from
// repository-relative paths to the blob each path will hold in the next
// commit, together with the stat data used to skip rehashing unchanged
// files.
//
// An Index is not safe for concurrent use. Callers that hash in parallel
// collect results first and apply them from a single goroutine.
package index

import (
	"fmt"
	"iter"
	"math"
	"runtime"
	"strings"

	"github.com/odvcencio/vessel/pkg/object"
)

// DefaultFastThreshold is the entry count at which an auto-strategy index
// moves from the linear table to the hashed table.
const DefaultFastThreshold = 512

// Entry is the staged state of one path.
type Entry struct {
	Path    string      // slash-separated, relative to the worktree root
	ID      object.Hash // blob ObjectID
	Mode    string      // object.TreeModeFile, TreeModeExecutable or TreeModeSymlink
	Size    int64       // cached size at staging time
	ModTime int64       // cached modification time, unix nanoseconds
	Stage   uint8       // 0 for normal entries
}

// Index is the staging area.
type Index struct {
	strategy  Strategy
	threshold int
	workers   int
	tbl       table
}

// Option configures an Index.
type Option func(*Index)

// WithStrategy pins the lookup strategy. StrategyAuto (the default) starts
// linear and switches to hashed once the index reaches the fast threshold.
func WithStrategy(s Strategy) Option {
	return func(idx *Index) {
		idx.strategy = s
	}
}

// WithFastThreshold sets the auto-strategy switch point. Values <= 0 keep
// DefaultFastThreshold.
func WithFastThreshold(n int) Option {
	return func(idx *Index) {
		if n > 0 {
			idx.threshold = n
		}
	}
}

// WithWorkers bounds the number of files Diff rehashes in parallel.
func WithWorkers(n int) Option {
	return func(idx *Index) {
		if n > 0 {
			idx.workers = n
		}
	}
}

// New returns an empty Index.
func New(opts ...Option) *Index {
	idx := &Index{
		strategy:  StrategyAuto,
		threshold: DefaultFastThreshold,
		workers:   runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.strategy == StrategyHashed {
		idx.tbl = newHashedTable(0)
	} else {
		idx.tbl = newLinearTable(0)
	}
	return idx
}

// Strategy reports the lookup strategy currently in use. It is never
// StrategyAuto.
func (idx *Index) Strategy() Strategy {
	return idx.tbl.strategy()
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return idx.tbl.len()
}

// Add stages e, replacing any entry with the same path.
func (idx *Index) Add(e Entry) error {
	if err := ValidatePath(e.Path); err != nil {
		return fmt.Errorf("index add: %w", err)
	}
	id, err := object.ParseHash(string(e.ID))
	if err != nil {
		return fmt.Errorf("index add %q: %w", e.Path, err)
	}
	e.ID = id
	mode, err := normalizeMode(e.Mode)
	if err != nil {
		return fmt.Errorf("index add %q: %w", e.Path, err)
	}
	e.Mode = mode
	idx.tbl.put(e)
	idx.maybePromote()
	return nil
}

// Remove unstages path. Removing a path that is not staged fails with
// object.ErrNotFound.
func (idx *Index) Remove(path string) error {
	if !idx.tbl.remove(path) {
		return fmt.Errorf("index remove %q: %w", path, object.ErrNotFound)
	}
	return nil
}

// Get returns the entry for path.
func (idx *Index) Get(path string) (Entry, error) {
	e, ok := idx.tbl.get(path)
	if !ok {
		return Entry{}, fmt.Errorf("index get %q: %w", path, object.ErrNotFound)
	}
	return e, nil
}

// Has reports whether path is staged.
func (idx *Index) Has(path string) bool {
	_, ok := idx.tbl.get(path)
	return ok
}

// Entries returns a copy of every entry, ordered by path.
func (idx *Index) Entries() []Entry {
	sorted := idx.tbl.sorted()
	out := make([]Entry, len(sorted))
	copy(out, sorted)
	return out
}

// All yields every entry ordered by path. Each call starts a fresh pass.
func (idx *Index) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range idx.Entries() {
			if !yield(e) {
				return
			}
		}
	}
}

// Clone returns an independent copy using the same options.
func (idx *Index) Clone() *Index {
	out := &Index{
		strategy:  idx.strategy,
		threshold: idx.threshold,
		workers:   idx.workers,
	}
	entries := idx.tbl.sorted()
	if idx.tbl.strategy() == StrategyHashed {
		out.tbl = newHashedTable(len(entries))
	} else {
		out.tbl = newLinearTable(len(entries))
	}
	for _, e := range entries {
		out.tbl.put(e)
	}
	return out
}

func (idx *Index) maybePromote() {
	if idx.strategy != StrategyAuto || idx.tbl.strategy() == StrategyHashed {
		return
	}
	if idx.tbl.len() < idx.threshold {
		return
	}
	entries := idx.tbl.sorted()
	hashed := newHashedTable(len(entries))
	for _, e := range entries {
		hashed.put(e)
	}
	idx.tbl = hashed
}

// ValidatePath rejects paths that cannot be stored in a tree: empty,
// absolute, non-canonical, or containing components a tree entry cannot
// name.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", object.ErrFormat)
	}
	if len(path) > math.MaxUint16 {
		return fmt.Errorf("%w: path too long (%d bytes)", object.ErrFormat, len(path))
	}
	if strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return fmt.Errorf("%w: path %q is not repository-relative", object.ErrFormat, path)
	}
	for _, part := range strings.Split(path, "/") {
		if err := object.ValidateTreeEntryName(part); err != nil {
			return fmt.Errorf("%w: path %q: %w", object.ErrFormat, path, err)
		}
	}
	return nil
}

func normalizeMode(mode string) (string, error) {
	switch mode {
	case "":
		return object.TreeModeFile, nil
	case object.TreeModeFile, object.TreeModeExecutable, object.TreeModeSymlink:
		return mode, nil
	}
	return "", fmt.Errorf("%w: mode %q cannot be staged", object.ErrFormat, mode)
}
