package repo

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"

	"github.com/odvcencio/vessel/pkg/object"
)

// ErrNothingStaged is returned by Commit when the index is empty or
// matches the parent commit's tree.
var ErrNothingStaged = errors.New("nothing staged")

// CommitSigner signs canonical commit payload bytes and returns an encoded
// signature string to be persisted in CommitObj.Signature.
type CommitSigner func(payload []byte) (string, error)

// Commit creates a new commit from the current index.
//
//  1. Read the index
//  2. BuildTree from it, bottom-up
//  3. Resolve HEAD to get the parent commit (absent for the first commit)
//  4. Create and write the CommitObj
//  5. Move the current branch (or detached HEAD) with a CAS against the parent
func (r *Repo) Commit(message, author string) (object.Hash, error) {
	return r.CommitWithSigner(message, author, nil)
}

// CommitWithSigner creates a new commit and signs it when signer is provided.
func (r *Repo) CommitWithSigner(message, author string, signer CommitSigner) (object.Hash, error) {
	idx, err := r.ReadIndex()
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	if idx.Len() == 0 {
		return "", fmt.Errorf("commit: %w", ErrNothingStaged)
	}
	for e := range idx.All() {
		if e.Stage != 0 {
			return "", fmt.Errorf("commit: %w: %q has unresolved stage %d", object.ErrFormat, e.Path, e.Stage)
		}
	}

	treeHash, err := r.BuildTree(idx)
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	head, err := r.Head()
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	var parents []object.Hash
	parentHash, err := r.ResolveRef(headName)
	switch {
	case err == nil:
		parent, err := r.Store.ReadCommit(parentHash)
		if err != nil {
			return "", fmt.Errorf("commit: read parent: %w", err)
		}
		if parent.TreeHash == treeHash {
			return "", fmt.Errorf("commit: %w: tree matches %s", ErrNothingStaged, parentHash.Short())
		}
		parents = append(parents, parentHash)
	case errors.Is(err, object.ErrNotFound) && strings.HasPrefix(head, refsPrefix):
		// First commit on an unborn branch.
	default:
		return "", fmt.Errorf("commit: %w", err)
	}

	commitObj := &object.CommitObj{
		TreeHash:  treeHash,
		Parents:   parents,
		Author:    author,
		Timestamp: r.now().Unix(),
		Message:   message,
	}
	if err := object.ValidateCommit(commitObj); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	if signer != nil {
		signature, err := signer(object.CommitSigningPayload(commitObj))
		if err != nil {
			return "", fmt.Errorf("commit: sign commit: %w", err)
		}
		commitObj.Signature = signature
	}

	commitHash, err := r.Store.WriteCommit(commitObj)
	if err != nil {
		return "", fmt.Errorf("commit: write commit: %w", err)
	}

	// head is either a ref path ("refs/main") or a detached hash; either
	// way the update is a CAS against the parent, where "" means the ref
	// must not exist yet.
	refName := head
	if !strings.HasPrefix(head, refsPrefix) {
		refName = headName
	}
	reason := "commit: " + firstLine(message)
	if len(parents) == 0 {
		reason = "commit (initial): " + firstLine(message)
	}
	if err := r.updateRef(refName, commitHash, reason, parentHash); err != nil {
		var reflogErr *RefUpdateReflogError
		if errors.As(err, &reflogErr) {
			r.log.Warn("commit recorded without reflog entry", zap.Error(err))
			return commitHash, err
		}
		return "", fmt.Errorf("commit: %w", err)
	}

	r.log.Info("committed",
		zap.String("id", string(commitHash)),
		zap.String("ref", refName),
		zap.String("tree", string(treeHash)),
	)
	return commitHash, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

// LogEntry is one commit yielded by Log.
type LogEntry struct {
	ID     object.Hash
	Commit *object.CommitObj
}

// commitReader is the slice of the store Log needs.
type commitReader interface {
	ReadCommit(h object.Hash) (*object.CommitObj, error)
}

// Log walks history from start following first-parent links, newest
// first. The sequence is lazy: each commit is read when the consumer asks
// for it. A commit reached twice means the ancestry has a cycle, which is
// reported as object.ErrCorruption and ends the walk.
func (r *Repo) Log(start object.Hash) iter.Seq2[LogEntry, error] {
	return walkLog(r.Store, start)
}

func walkLog(store commitReader, start object.Hash) iter.Seq2[LogEntry, error] {
	return func(yield func(LogEntry, error) bool) {
		visited := make(map[object.Hash]bool)
		for current := start; current != ""; {
			if visited[current] {
				yield(LogEntry{}, fmt.Errorf("log: %w: commit %s is its own ancestor", object.ErrCorruption, current))
				return
			}
			visited[current] = true

			c, err := store.ReadCommit(current)
			if err != nil {
				yield(LogEntry{}, fmt.Errorf("log: read commit %s: %w", current, err))
				return
			}
			if !yield(LogEntry{ID: current, Commit: c}, nil) {
				return
			}
			current = ""
			if len(c.Parents) > 0 {
				current = c.Parents[0]
			}
		}
	}
}
