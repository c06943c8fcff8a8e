package repo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/vessel/pkg/object"
)

var ErrRefCASMismatch = errors.New("ref compare-and-swap mismatch")
var ErrRefUpdatedButReflogAppendFailed = errors.New("ref updated but reflog append failed")

// RefUpdateReflogError indicates the ref file update succeeded, but appending
// the corresponding reflog entry failed.
type RefUpdateReflogError struct {
	Ref     string
	OldHash object.Hash
	NewHash object.Hash
	Err     error
}

func (e *RefUpdateReflogError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("update ref %q: %s (old=%s new=%s): %v",
		e.Ref, ErrRefUpdatedButReflogAppendFailed, e.OldHash, e.NewHash, e.Err)
}

func (e *RefUpdateReflogError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *RefUpdateReflogError) Is(target error) bool {
	return target == ErrRefUpdatedButReflogAppendFailed
}

const (
	headName         = "HEAD"
	refsPrefix       = "refs/"
	symbolicPrefix   = "ref: "
	lockSuffix       = ".lock"
	refLockRetryWait = 5 * time.Millisecond
)

func branchRef(name string) string {
	return refsPrefix + name
}

// ValidateBranchName rejects names that cannot be stored as a ref file.
func ValidateBranchName(name string) error {
	if name == "" || name == headName {
		return fmt.Errorf("%w: invalid branch name %q", object.ErrFormat, name)
	}
	if strings.ContainsAny(name, " \t\\:~^?*[") {
		return fmt.Errorf("%w: invalid branch name %q", object.ErrFormat, name)
	}
	for _, part := range strings.Split(name, "/") {
		if err := object.ValidateTreeEntryName(part); err != nil || strings.HasPrefix(part, ".") || strings.HasSuffix(part, lockSuffix) {
			return fmt.Errorf("%w: invalid branch name %q", object.ErrFormat, name)
		}
	}
	return nil
}

func validateRefName(name string) error {
	if name == headName {
		return nil
	}
	branch, ok := strings.CutPrefix(name, refsPrefix)
	if !ok {
		return fmt.Errorf("%w: ref %q must be HEAD or start with %s", object.ErrFormat, name, refsPrefix)
	}
	return ValidateBranchName(branch)
}

func (r *Repo) refPath(name string) string {
	return filepath.Join(r.MetaDir, filepath.FromSlash(name))
}

// Head reads .vessel/HEAD. If the content starts with "ref: ", it returns
// the ref path (e.g. "refs/main"). Otherwise it returns the raw content as
// a detached hash string.
func (r *Repo) Head() (string, error) {
	data, err := os.ReadFile(r.refPath(headName))
	if err != nil {
		return "", fmt.Errorf("head: %w: %w", object.ErrIO, err)
	}
	content := strings.TrimSpace(string(data))
	if target, ok := strings.CutPrefix(content, symbolicPrefix); ok {
		return target, nil
	}
	return content, nil
}

// CurrentBranch returns the branch HEAD points at, or "" when HEAD is
// detached.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.Head()
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	if branch, ok := strings.CutPrefix(head, refsPrefix); ok {
		return branch, nil
	}
	return "", nil
}

// ResolveRef resolves a ref name to a commit hash.
//
// Resolution order:
//  1. "HEAD": read HEAD, following a symbolic target.
//  2. "refs/...": read .vessel/<name>.
//  3. A branch name: read .vessel/refs/<name>.
//  4. A full hex ObjectID naming an existing object.
//
// A branch with no commits yet resolves to object.ErrNotFound.
func (r *Repo) ResolveRef(name string) (object.Hash, error) {
	if name == headName {
		head, err := r.Head()
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(head, refsPrefix) {
			return r.ResolveRef(head)
		}
		h, err := object.ParseHash(head)
		if err != nil {
			return "", fmt.Errorf("resolve HEAD: %w", err)
		}
		return h, nil
	}

	refName := name
	if !strings.HasPrefix(name, refsPrefix) {
		refName = branchRef(name)
	}
	if err := validateRefName(refName); err == nil {
		h, err := readRefHash(r.refPath(refName))
		if err != nil {
			return "", fmt.Errorf("resolve ref %q: %w", name, err)
		}
		if h != "" {
			return h, nil
		}
	}
	if h, err := object.ParseHash(name); err == nil && r.Store.Exists(h) {
		return h, nil
	}
	return "", fmt.Errorf("resolve ref %q: %w", name, object.ErrNotFound)
}

// UpdateRef writes a hash to the named ref ("HEAD" or "refs/<branch>").
func (r *Repo) UpdateRef(name string, h object.Hash) error {
	return r.UpdateRefCAS(name, h)
}

// UpdateRefCAS writes a hash to the named ref using lockfile + rename
// atomic semantics. If expectedOld is provided, the update only succeeds
// when the current ref hash matches it; an empty expectedOld requires the
// ref not to exist yet.
//
// The lock is scoped to the one ref file, so updates to different
// branches never contend. Waiting longer than refs.lock_timeout fails with
// object.ErrLockContention. Reflog append happens after the rename; if it
// fails, the ref update remains committed and a RefUpdateReflogError is
// returned.
func (r *Repo) UpdateRefCAS(name string, h object.Hash, expectedOld ...object.Hash) error {
	return r.updateRef(name, h, "update", expectedOld...)
}

func (r *Repo) updateRef(name string, h object.Hash, reason string, expectedOld ...object.Hash) error {
	if len(expectedOld) > 1 {
		return fmt.Errorf("update ref %q: expected at most one old hash", name)
	}
	if err := validateRefName(name); err != nil {
		return fmt.Errorf("update ref: %w", err)
	}
	if _, err := object.ParseHash(string(h)); err != nil {
		return fmt.Errorf("update ref %q: %w", name, err)
	}

	oldHash, err := r.withRefLock(name, func(lockFile *os.File, old object.Hash) error {
		if len(expectedOld) == 1 && old != expectedOld[0] {
			return fmt.Errorf("%w (expected %s, found %s)", ErrRefCASMismatch, displayHash(expectedOld[0]), displayHash(old))
		}
		_, err := lockFile.WriteString(string(h) + "\n")
		return err
	})
	if err != nil {
		return fmt.Errorf("update ref %q: %w", name, err)
	}
	r.log.Debug("updated ref",
		zap.String("ref", name),
		zap.String("old", string(oldHash)),
		zap.String("new", string(h)),
	)

	if err := r.appendReflog(name, oldHash, h, reason); err != nil {
		return &RefUpdateReflogError{Ref: name, OldHash: oldHash, NewHash: h, Err: err}
	}
	return nil
}

// SetHead points HEAD at a branch (symbolic) or, when target is a commit
// ObjectID, at that commit directly (detached).
func (r *Repo) SetHead(target string) error {
	var content string
	var newHash object.Hash
	if h, err := object.ParseHash(target); err == nil {
		if _, err := r.Store.ReadCommit(h); err != nil {
			return fmt.Errorf("set HEAD: %w", err)
		}
		content, newHash = string(h), h
	} else {
		if err := ValidateBranchName(target); err != nil {
			return fmt.Errorf("set HEAD: %w", err)
		}
		ref := branchRef(target)
		h, err := readRefHash(r.refPath(ref))
		if err != nil {
			return fmt.Errorf("set HEAD: %w", err)
		}
		if h == "" {
			return fmt.Errorf("set HEAD: branch %q: %w", target, object.ErrNotFound)
		}
		content, newHash = symbolicPrefix+ref, h
	}

	var oldHash object.Hash
	_, err := r.withRefLock(headName, func(lockFile *os.File, _ object.Hash) error {
		if h, err := r.ResolveRef(headName); err == nil {
			oldHash = h
		}
		_, err := lockFile.WriteString(content + "\n")
		return err
	})
	if err != nil {
		return fmt.Errorf("set HEAD: %w", err)
	}
	if err := r.appendReflog(headName, oldHash, newHash, "checkout: moving to "+target); err != nil {
		return &RefUpdateReflogError{Ref: headName, OldHash: oldHash, NewHash: newHash, Err: err}
	}
	return nil
}

// withRefLock holds the ref's lockfile while fn writes the new content
// into it, then publishes the lockfile by renaming it over the ref. fn
// receives the ref's current hash ("" when absent or symbolic). The ref
// is left untouched if fn or any step before the rename fails.
func (r *Repo) withRefLock(name string, fn func(lockFile *os.File, old object.Hash) error) (object.Hash, error) {
	refPath := r.refPath(name)
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return "", fmt.Errorf("%w: mkdir: %w", object.ErrIO, err)
	}

	lockPath := refPath + lockSuffix
	lockFile, err := r.acquireRefLock(lockPath)
	if err != nil {
		return "", err
	}
	published := false
	defer func() {
		if lockFile != nil {
			_ = lockFile.Close()
		}
		if !published {
			_ = os.Remove(lockPath)
		}
	}()

	old, err := readRefHash(refPath)
	if err != nil && !(name == headName && errors.Is(err, object.ErrFormat)) {
		return "", err
	}
	if err := fn(lockFile, old); err != nil {
		return old, err
	}
	if err := lockFile.Sync(); err != nil {
		return old, fmt.Errorf("%w: sync: %w", object.ErrIO, err)
	}
	err = lockFile.Close()
	lockFile = nil
	if err != nil {
		return old, fmt.Errorf("%w: close: %w", object.ErrIO, err)
	}
	if err := os.Rename(lockPath, refPath); err != nil {
		return old, fmt.Errorf("%w: rename: %w", object.ErrIO, err)
	}
	published = true
	return old, nil
}

func (r *Repo) acquireRefLock(lockPath string) (*os.File, error) {
	timeout := r.Config.Refs.LockTimeout.Duration
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: lock: %w", object.ErrIO, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: lock %s held for more than %s", object.ErrLockContention, lockPath, timeout)
		}
		time.Sleep(refLockRetryWait)
	}
}

// readRefHash returns the hash stored in a ref file, or "" if the file does
// not exist. Symbolic content reads as "" with an ErrFormat error.
func readRefHash(refPath string) (object.Hash, error) {
	data, err := os.ReadFile(refPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %w", object.ErrIO, err)
	}
	h, err := object.ParseHash(strings.TrimSpace(string(data)))
	if err != nil {
		return "", fmt.Errorf("ref file %s: %w", refPath, err)
	}
	return h, nil
}

func displayHash(h object.Hash) string {
	if h == "" {
		return "<none>"
	}
	return string(h)
}

// ListRefs lists branch refs under .vessel/refs. Names are returned
// relative to refs/, e.g. "main" or "feature/x".
func (r *Repo) ListRefs() (map[string]object.Hash, error) {
	root := filepath.Join(r.MetaDir, "refs")
	refs := make(map[string]object.Hash)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), lockSuffix) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		h, err := readRefHash(path)
		if err != nil {
			return err
		}
		refs[filepath.ToSlash(rel)] = h
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return refs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}
