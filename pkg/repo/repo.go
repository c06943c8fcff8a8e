// Package repo coordinates the object store, the staging index, the
// working tree and the refs of one repository.
package repo

import (
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/vessel/pkg/object"
	"github.com/odvcencio/vessel/pkg/worktree"
)

// MetaDirName is the repository metadata directory at the worktree root.
const MetaDirName = ".vessel"

// Repo represents an opened repository. A Repo is safe for concurrent
// readers; staging and committing from several goroutines serialize only
// on the ref lock, so callers should not run them concurrently on the same
// index.
type Repo struct {
	RootDir  string        // working directory root
	MetaDir  string        // .vessel/ directory
	Store    *object.Store // content-addressed object store
	Worktree *worktree.Dir
	Config   *Config

	log *zap.Logger
	now func() time.Time
}

// Option configures a Repo on Init or Open.
type Option func(*Repo)

// WithLogger sets the logger used by the repository and its store.
func WithLogger(log *zap.Logger) Option {
	return func(r *Repo) {
		if log != nil {
			r.log = log
		}
	}
}

// WithClock overrides the commit and reflog time source.
func WithClock(now func() time.Time) Option {
	return func(r *Repo) {
		if now != nil {
			r.now = now
		}
	}
}

func newRepo(root, metaDir string, cfg *Config, opts []Option) (*Repo, error) {
	r := &Repo{
		RootDir: root,
		MetaDir: metaDir,
		Config:  cfg,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	wt, err := worktree.New(root, MetaDirName)
	if err != nil {
		return nil, err
	}
	r.Worktree = wt
	r.Store = object.NewStore(metaDir,
		object.WithLogger(r.log.Named("store")),
		object.WithCompressionLevel(cfg.Core.CompressionLevel),
		object.WithCacheSize(cfg.Core.CacheSize),
		object.WithFastPacks(cfg.Pack.Fast),
	)
	return r, nil
}

// Close releases the store's open packs.
func (r *Repo) Close() error {
	return r.Store.Close()
}
