package repo

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/odvcencio/vessel/pkg/object"
)

// CreateBranch creates a new branch pointing at the given commit. It fails
// if the branch already exists.
func (r *Repo) CreateBranch(name string, target object.Hash) error {
	if err := ValidateBranchName(name); err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	if _, err := r.Store.ReadCommit(target); err != nil {
		return fmt.Errorf("create branch %q: %w", name, err)
	}
	if err := r.updateRef(branchRef(name), target, "branch: created", ""); err != nil {
		if errors.Is(err, ErrRefCASMismatch) {
			return fmt.Errorf("create branch: branch %q already exists: %w", name, err)
		}
		return fmt.Errorf("create branch %q: %w", name, err)
	}
	return nil
}

// DeleteBranch removes a branch ref and its reflog. The current branch
// cannot be deleted.
func (r *Repo) DeleteBranch(name string) error {
	if err := ValidateBranchName(name); err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	current, err := r.CurrentBranch()
	if err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	if current == name {
		return fmt.Errorf("delete branch: cannot delete current branch %q", name)
	}

	ref := branchRef(name)
	_, err = r.withRefLockRemove(ref)
	if err != nil {
		return fmt.Errorf("delete branch %q: %w", name, err)
	}
	_ = os.Remove(r.reflogPath(ref))
	return nil
}

// withRefLockRemove deletes a ref while holding its lock so a concurrent
// update cannot resurrect a half-deleted branch.
func (r *Repo) withRefLockRemove(ref string) (object.Hash, error) {
	refPath := r.refPath(ref)
	lockPath := refPath + lockSuffix
	lockFile, err := r.acquireRefLock(lockPath)
	if err != nil {
		return "", err
	}
	defer func() {
		lockFile.Close()
		os.Remove(lockPath)
	}()

	old, err := readRefHash(refPath)
	if err != nil {
		return "", err
	}
	if old == "" {
		return "", fmt.Errorf("branch does not exist: %w", object.ErrNotFound)
	}
	if err := os.Remove(refPath); err != nil {
		return "", fmt.Errorf("%w: %w", object.ErrIO, err)
	}
	return old, nil
}

// ListBranches returns the branch names sorted alphabetically.
func (r *Repo) ListBranches() ([]string, error) {
	refs, err := r.ListRefs()
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
