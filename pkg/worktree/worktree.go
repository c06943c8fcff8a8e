// Package worktree exposes a directory on disk as an index.Snapshot: a
// lazy walk of files with their stat data, and content streams for
// rehashing and staging.
package worktree

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/vessel/pkg/index"
	"github.com/odvcencio/vessel/pkg/object"
)

// Dir is a working tree rooted at an absolute directory.
type Dir struct {
	root   string
	ignore *Ignore
}

// New returns the worktree rooted at root. metaDir names the repository
// metadata directory, which is never part of the worktree.
func New(root, metaDir string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("worktree %q: %w: %w", root, object.ErrIO, err)
	}
	return &Dir{
		root:   abs,
		ignore: LoadIgnore(abs, metaDir, ".git"),
	}, nil
}

// Root returns the absolute worktree root.
func (d *Dir) Root() string {
	return d.root
}

// Ignored reports whether rel is excluded from the worktree.
func (d *Dir) Ignored(rel string, isDir bool) bool {
	return d.ignore.Match(rel, isDir)
}

// Files walks the worktree directory by directory and yields every regular file
// and symlink that is not ignored. Each call starts a new walk.
func (d *Dir) Files() iter.Seq2[index.FileStat, error] {
	return func(yield func(index.FileStat, error) bool) {
		err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			rel, err := d.rel(p)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			if entry.IsDir() {
				if d.ignore.Match(rel, true) {
					return fs.SkipDir
				}
				return nil
			}
			if !entry.Type().IsRegular() && entry.Type()&fs.ModeSymlink == 0 {
				return nil
			}
			if d.ignore.Match(rel, false) {
				return nil
			}
			info, err := entry.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			st, err := d.statFrom(rel, p, info)
			if err != nil {
				return err
			}
			if !yield(st, nil) {
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			yield(index.FileStat{}, fmt.Errorf("walk %s: %w: %w", d.root, object.ErrIO, err))
		}
	}
}

// Stat returns the stat data of one worktree file.
func (d *Dir) Stat(rel string) (index.FileStat, error) {
	abs := d.Abs(rel)
	info, err := os.Lstat(abs)
	if err != nil {
		return index.FileStat{}, wrapFSError("stat", rel, err)
	}
	if info.IsDir() {
		return index.FileStat{}, fmt.Errorf("stat %q: %w: is a directory", rel, object.ErrFormat)
	}
	return d.statFrom(rel, abs, info)
}

// Open streams the content that would be stored for rel: the file bytes,
// or the link target for a symlink.
func (d *Dir) Open(rel string) (io.ReadCloser, error) {
	abs := d.Abs(rel)
	info, err := os.Lstat(abs)
	if err != nil {
		return nil, wrapFSError("open", rel, err)
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(abs)
		if err != nil {
			return nil, wrapFSError("readlink", rel, err)
		}
		return io.NopCloser(strings.NewReader(filepath.ToSlash(target))), nil
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, wrapFSError("open", rel, err)
	}
	return f, nil
}

// Abs converts a slash-separated worktree path to an OS path.
func (d *Dir) Abs(rel string) string {
	return filepath.Join(d.root, filepath.FromSlash(rel))
}

// Rel converts a user-supplied path (absolute, or relative to the current
// directory) into a slash-separated worktree path. Paths outside the
// worktree are rejected.
func (d *Dir) Rel(p string) (string, error) {
	abs := p
	if !filepath.IsAbs(p) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w: %w", p, object.ErrIO, err)
		}
		abs = filepath.Join(cwd, p)
	}
	rel, err := d.rel(abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("resolve %q: %w: outside worktree %s", p, object.ErrFormat, d.root)
	}
	return rel, nil
}

func (d *Dir) rel(abs string) (string, error) {
	rel, err := filepath.Rel(d.root, abs)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", abs, err)
	}
	return filepath.ToSlash(rel), nil
}

func (d *Dir) statFrom(rel, abs string, info fs.FileInfo) (index.FileStat, error) {
	st := index.FileStat{
		Path:    rel,
		Size:    info.Size(),
		ModTime: info.ModTime().UnixNano(),
		Mode:    ModeOf(info),
	}
	if st.Mode == object.TreeModeSymlink {
		target, err := os.Readlink(abs)
		if err != nil {
			return index.FileStat{}, wrapFSError("readlink", rel, err)
		}
		st.Size = int64(len(filepath.ToSlash(target)))
	}
	return st, nil
}

// ModeOf maps file info to a tree mode.
func ModeOf(info fs.FileInfo) string {
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		return object.TreeModeSymlink
	case info.Mode()&0o111 != 0:
		return object.TreeModeExecutable
	default:
		return object.TreeModeFile
	}
}

func wrapFSError(op, rel string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s %q: %w: %w", op, rel, object.ErrNotFound, err)
	}
	return fmt.Errorf("%s %q: %w: %w", op, rel, object.ErrIO, err)
}
