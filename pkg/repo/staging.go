package repo

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/vessel/pkg/index"
	"github.com/odvcencio/vessel/pkg/mempool"
	"github.com/odvcencio/vessel/pkg/object"
)

// AddResult reports a bulk add. Objects written for staged paths stay in
// the store even when other paths fail.
type AddResult struct {
	Staged []string         // sorted paths whose index entry changed
	Failed map[string]error // per-path failures, keyed by the path as given
}

// Err joins the per-path failures, or returns nil when every path was
// staged.
func (res *AddResult) Err() error {
	if len(res.Failed) == 0 {
		return nil
	}
	paths := make([]string, 0, len(res.Failed))
	for p := range res.Failed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	errs := make([]error, 0, len(paths))
	for _, p := range paths {
		errs = append(errs, fmt.Errorf("%s: %w", p, res.Failed[p]))
	}
	return errors.Join(errs...)
}

func (r *Repo) indexPath() string {
	return r.refPath("index")
}

func (r *Repo) workers() int {
	if r.Config.Core.Workers > 0 {
		return r.Config.Core.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// ReadIndex loads the staging index. A missing index file yields an empty
// index.
func (r *Repo) ReadIndex() (*index.Index, error) {
	idx, err := index.Load(r.indexPath(), r.Config.indexOptions()...)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return idx, nil
}

// WriteIndex atomically replaces the staging index.
func (r *Repo) WriteIndex(idx *index.Index) error {
	if err := idx.Save(r.indexPath()); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// cleanPath normalizes a worktree-relative path. "" and "." name the whole
// worktree and come back as ".".
func cleanPath(p string) (string, error) {
	if p == "" {
		return ".", nil
	}
	clean := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: path %q is outside the worktree", object.ErrFormat, p)
	}
	return clean, nil
}

func under(p, prefix string) bool {
	return prefix == "." || p == prefix || strings.HasPrefix(p, prefix+"/")
}

// Add stages worktree paths (slash-separated, relative to the worktree
// root). Directories are staged recursively; a staged path that no longer
// exists on disk is unstaged. File contents are hashed and written to the
// store in parallel, then the index is updated in one pass and saved.
//
// Per-path failures are collected in the result and never undo the paths
// that succeeded. The returned error covers only index load and save.
func (r *Repo) Add(paths []string) (*AddResult, error) {
	idx, err := r.ReadIndex()
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}

	res := &AddResult{Failed: make(map[string]error)}
	files, removed := r.expandAddPaths(idx, paths, res)
	entries, errs := r.stageFiles(files)

	for _, p := range removed {
		if err := idx.Remove(p); err == nil {
			res.Staged = append(res.Staged, p)
		}
	}
	for i, e := range entries {
		if errs[i] != nil {
			res.Failed[files[i]] = errs[i]
			r.log.Warn("add failed", zap.String("path", files[i]), zap.Error(errs[i]))
			continue
		}
		if old, err := idx.Get(e.Path); err == nil && old == e {
			continue
		}
		if err := idx.Add(e); err != nil {
			res.Failed[files[i]] = err
			continue
		}
		res.Staged = append(res.Staged, e.Path)
	}
	sort.Strings(res.Staged)

	if len(res.Staged) > 0 {
		if err := r.WriteIndex(idx); err != nil {
			return res, fmt.Errorf("add: %w", err)
		}
	}
	r.log.Info("add finished",
		zap.Int("files", len(files)),
		zap.Int("staged", len(res.Staged)),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}

// expandAddPaths resolves the arguments of Add into the files to hash and
// the staged paths that vanished from disk.
func (r *Repo) expandAddPaths(idx *index.Index, paths []string, res *AddResult) (files, removed []string) {
	seenFile := make(map[string]bool)
	seenRemoved := make(map[string]bool)
	addFile := func(p string) {
		if !seenFile[p] {
			seenFile[p] = true
			files = append(files, p)
		}
	}

	for _, arg := range paths {
		rel, err := cleanPath(arg)
		if err != nil {
			res.Failed[arg] = err
			continue
		}

		info, err := os.Lstat(r.Worktree.Abs(rel))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			found := false
			for e := range idx.All() {
				if under(e.Path, rel) {
					found = true
					if !seenRemoved[e.Path] {
						seenRemoved[e.Path] = true
						removed = append(removed, e.Path)
					}
				}
			}
			if !found {
				res.Failed[arg] = fmt.Errorf("pathspec %q: %w", arg, object.ErrNotFound)
			}
			continue
		case err != nil:
			res.Failed[arg] = fmt.Errorf("%w: %w", object.ErrIO, err)
			continue
		}

		if !info.IsDir() {
			if r.Worktree.Ignored(rel, false) {
				res.Failed[arg] = fmt.Errorf("%w: path %q is ignored", object.ErrFormat, rel)
				continue
			}
			addFile(rel)
			continue
		}

		if rel != "." && r.Worktree.Ignored(rel, true) {
			res.Failed[arg] = fmt.Errorf("%w: path %q is ignored", object.ErrFormat, rel)
			continue
		}
		onDisk := make(map[string]bool)
		for st, err := range r.Worktree.Files() {
			if err != nil {
				res.Failed[arg] = err
				break
			}
			if under(st.Path, rel) {
				onDisk[st.Path] = true
				addFile(st.Path)
			}
		}
		if res.Failed[arg] != nil {
			continue
		}
		for e := range idx.All() {
			if under(e.Path, rel) && !onDisk[e.Path] && !seenRemoved[e.Path] {
				seenRemoved[e.Path] = true
				removed = append(removed, e.Path)
			}
		}
	}
	return files, removed
}

// stageFiles hashes and stores each file on a bounded worker pool. The
// i-th entry or error belongs to files[i].
func (r *Repo) stageFiles(files []string) ([]index.Entry, []error) {
	entries := make([]index.Entry, len(files))
	errs := make([]error, len(files))

	var g errgroup.Group
	g.SetLimit(r.workers())
	for i, rel := range files {
		g.Go(func() error {
			entries[i], errs[i] = r.stageFile(rel)
			return nil
		})
	}
	_ = g.Wait()
	return entries, errs
}

// stageFile reads one file into arena memory, writes it as a blob and
// returns its index entry. The arena is released before returning; only
// the ObjectID escapes.
func (r *Repo) stageFile(rel string) (index.Entry, error) {
	st, err := r.Worktree.Stat(rel)
	if err != nil {
		return index.Entry{}, err
	}
	rc, err := r.Worktree.Open(rel)
	if err != nil {
		return index.Entry{}, err
	}
	defer rc.Close()

	var id object.Hash
	err = mempool.Scoped(func(arena *mempool.Arena) error {
		buf := arena.Alloc(int(st.Size))
		if _, err := io.ReadFull(rc, buf); err != nil {
			return fmt.Errorf("read %q: %w: file changed while staging: %w", rel, object.ErrIO, err)
		}
		var probe [1]byte
		if n, _ := rc.Read(probe[:]); n > 0 {
			return fmt.Errorf("read %q: %w: file grew while staging", rel, object.ErrIO)
		}
		var err error
		id, err = r.Store.Put(object.TypeBlob, buf)
		return err
	})
	if err != nil {
		return index.Entry{}, err
	}
	return index.Entry{
		Path:    rel,
		ID:      id,
		Mode:    st.Mode,
		Size:    st.Size,
		ModTime: st.ModTime,
	}, nil
}

// Remove unstages paths (files, or directories recursively). Unless cached
// is set, the files are deleted from the worktree as well. Every path must
// match at least one staged entry; otherwise nothing is changed and the
// error wraps object.ErrNotFound.
func (r *Repo) Remove(paths []string, cached bool) ([]string, error) {
	idx, err := r.ReadIndex()
	if err != nil {
		return nil, fmt.Errorf("remove: %w", err)
	}

	var targets []string
	seen := make(map[string]bool)
	for _, arg := range paths {
		rel, err := cleanPath(arg)
		if err != nil {
			return nil, fmt.Errorf("remove: %w", err)
		}
		matched := false
		for e := range idx.All() {
			if under(e.Path, rel) {
				matched = true
				if !seen[e.Path] {
					seen[e.Path] = true
					targets = append(targets, e.Path)
				}
			}
		}
		if !matched {
			return nil, fmt.Errorf("remove: pathspec %q did not match any staged path: %w", arg, object.ErrNotFound)
		}
	}

	for _, p := range targets {
		if err := idx.Remove(p); err != nil {
			return nil, fmt.Errorf("remove: %w", err)
		}
	}
	if err := r.WriteIndex(idx); err != nil {
		return nil, fmt.Errorf("remove: %w", err)
	}
	if !cached {
		for _, p := range targets {
			if err := os.Remove(r.Worktree.Abs(p)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return targets, fmt.Errorf("remove %q: %w: %w", p, object.ErrIO, err)
			}
		}
	}
	sort.Strings(targets)
	return targets, nil
}
