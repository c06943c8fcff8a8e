package repo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/odvcencio/vessel/pkg/index"
	"github.com/odvcencio/vessel/pkg/object"
)

// Reset unstages paths by restoring index entries to their HEAD versions.
//
// Behavior:
//   - If a path exists in HEAD, its index entry is reset to HEAD's blob and mode.
//   - If a path does not exist in HEAD, its index entry is removed.
//   - If no paths are provided, the entire index is reset to HEAD.
//
// Reset does not modify the working tree. Restored entries carry the HEAD
// blob's size and a zero mtime, so the next status rehashes them instead
// of trusting stale stat data.
func (r *Repo) Reset(paths []string) ([]string, error) {
	idx, err := r.ReadIndex()
	if err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	files, err := r.headFiles()
	if err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	head := make(map[string]TreeFileEntry, len(files))
	for _, f := range files {
		head[f.Path] = f
	}

	targets, err := resetTargets(paths, idx, head)
	if err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}

	var changed []string
	for _, p := range targets {
		f, inHead := head[p]
		if !inHead {
			if idx.Remove(p) == nil {
				changed = append(changed, p)
			}
			continue
		}
		if cur, err := idx.Get(p); err == nil && cur.ID == f.ID && cur.Mode == f.Mode {
			continue
		}
		blob, err := r.Store.ReadBlob(f.ID)
		if err != nil {
			return nil, fmt.Errorf("reset %q: %w", p, err)
		}
		if err := idx.Add(index.Entry{Path: p, ID: f.ID, Mode: f.Mode, Size: int64(len(blob.Data))}); err != nil {
			return nil, fmt.Errorf("reset: %w", err)
		}
		changed = append(changed, p)
	}

	if len(changed) > 0 {
		if err := r.WriteIndex(idx); err != nil {
			return nil, fmt.Errorf("reset: %w", err)
		}
	}
	return changed, nil
}

func resetTargets(paths []string, idx *index.Index, head map[string]TreeFileEntry) ([]string, error) {
	all := make(map[string]struct{}, idx.Len()+len(head))
	for e := range idx.All() {
		all[e.Path] = struct{}{}
	}
	for p := range head {
		all[p] = struct{}{}
	}
	if len(paths) == 0 {
		return sortedPathSet(all), nil
	}

	targets := make(map[string]struct{})
	for _, raw := range paths {
		rel, err := cleanPath(raw)
		if err != nil {
			return nil, err
		}
		matched := false
		for p := range all {
			if under(p, rel) {
				targets[p] = struct{}{}
				matched = true
			}
		}
		if !matched {
			return nil, fmt.Errorf("path %q did not match staged or HEAD entries: %w", raw, object.ErrNotFound)
		}
	}
	return sortedPathSet(targets), nil
}

func sortedPathSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Clean deletes untracked worktree files: files that are neither staged
// nor ignored. With dryRun set it only reports them.
func (r *Repo) Clean(dryRun bool) ([]string, error) {
	idx, err := r.ReadIndex()
	if err != nil {
		return nil, fmt.Errorf("clean: %w", err)
	}
	var untracked []string
	for st, err := range r.Worktree.Files() {
		if err != nil {
			return nil, fmt.Errorf("clean: %w", err)
		}
		if !idx.Has(st.Path) {
			untracked = append(untracked, st.Path)
		}
	}
	if dryRun {
		return untracked, nil
	}
	for _, p := range untracked {
		if err := os.Remove(r.Worktree.Abs(p)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("clean %q: %w: %w", p, object.ErrIO, err)
		}
	}
	return untracked, nil
}
