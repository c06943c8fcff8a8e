package repo

import (
	"errors"
	"fmt"
	"sort"

	"github.com/odvcencio/vessel/pkg/index"
	"github.com/odvcencio/vessel/pkg/object"
)

// Status holds both sides of the working state.
type Status struct {
	Branch   string         // "" when HEAD is detached
	Staged   []index.Change // index against the HEAD commit's tree
	Unstaged []index.Change // worktree against the index; ChangeAdded means untracked
}

// Clean reports whether there is nothing staged and nothing changed.
func (s *Status) Clean() bool {
	return len(s.Staged) == 0 && len(s.Unstaged) == 0
}

// Status compares HEAD, the index and the worktree. Reading never takes a
// ref lock.
func (r *Repo) Status() (*Status, error) {
	idx, err := r.ReadIndex()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	branch, err := r.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	headFiles, err := r.headFiles()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	unstaged, err := idx.Diff(r.Worktree)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return &Status{
		Branch:   branch,
		Staged:   diffIndexAgainstTree(idx, headFiles),
		Unstaged: unstaged,
	}, nil
}

// headFiles flattens the HEAD commit's tree. An unborn branch has no files.
func (r *Repo) headFiles() ([]TreeFileEntry, error) {
	head, err := r.ResolveRef(headName)
	if errors.Is(err, object.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c, err := r.Store.ReadCommit(head)
	if err != nil {
		return nil, err
	}
	return r.FlattenTree(c.TreeHash)
}

func diffIndexAgainstTree(idx *index.Index, tree []TreeFileEntry) []index.Change {
	inTree := make(map[string]TreeFileEntry, len(tree))
	for _, f := range tree {
		inTree[f.Path] = f
	}

	var changes []index.Change
	for e := range idx.All() {
		f, ok := inTree[e.Path]
		switch {
		case !ok:
			changes = append(changes, index.Change{Path: e.Path, Kind: index.ChangeAdded})
		case f.ID != e.ID || f.Mode != e.Mode:
			changes = append(changes, index.Change{Path: e.Path, Kind: index.ChangeModified})
		}
	}
	for _, f := range tree {
		if !idx.Has(f.Path) {
			changes = append(changes, index.Change{Path: f.Path, Kind: index.ChangeDeleted})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}
