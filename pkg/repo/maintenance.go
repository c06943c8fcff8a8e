package repo

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/odvcencio/vessel/pkg/object"
)

// Pack consolidates every loose object into a new pack using the
// repository's [pack] settings. It is never run implicitly by writes.
func (r *Repo) Pack() (*object.PackSummary, error) {
	summary, err := r.Store.PackLooseObjects(r.Config.consolidateOptions())
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}
	r.log.Info("pack finished",
		zap.Int("objects", summary.PackedObjects),
		zap.Int("pruned", summary.PrunedLoose),
		zap.String("file", summary.PackFile),
	)
	return summary, nil
}

// VerifyReport combines object store verification with the checks that
// tie refs to the store.
type VerifyReport struct {
	Objects *object.VerifySummary
	Refs    int // refs whose commit and tree were readable
}

// Verify re-hashes every stored object, then checks that the index decodes
// and that every branch and HEAD name a readable commit with a readable
// root tree.
func (r *Repo) Verify() (*VerifyReport, error) {
	objects, err := r.Store.Verify()
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	if _, err := r.ReadIndex(); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	refs, err := r.ListRefs()
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	targets := make(map[string]object.Hash, len(refs)+1)
	for name, h := range refs {
		targets[branchRef(name)] = h
	}
	if head, err := r.Head(); err == nil && !strings.HasPrefix(head, refsPrefix) {
		targets[headName] = object.Hash(head)
	}

	report := &VerifyReport{Objects: objects}
	for name, h := range targets {
		c, err := r.Store.ReadCommit(h)
		if err != nil {
			return nil, fmt.Errorf("verify: ref %s: %w", name, err)
		}
		if _, err := r.Store.ReadTree(c.TreeHash); err != nil {
			return nil, fmt.Errorf("verify: ref %s tree: %w", name, err)
		}
		report.Refs++
	}
	return report, nil
}
