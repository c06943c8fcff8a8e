package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/odvcencio/vessel/pkg/object"
)

// DefaultBranch is the branch HEAD points at in a new repository.
const DefaultBranch = "main"

// Init creates a new repository at path. It creates the .vessel/ directory
// structure: HEAD, config.toml, objects/, refs/ and logs/refs/. Returns an
// error if a .vessel/ directory already exists.
func Init(path string, opts ...Option) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("init: %w: abs path: %w", object.ErrIO, err)
	}
	metaDir := filepath.Join(abs, MetaDirName)

	if _, err := os.Stat(metaDir); err == nil {
		return nil, fmt.Errorf("init: repository already exists at %s", metaDir)
	}

	dirs := []string{
		filepath.Join(metaDir, "objects"),
		filepath.Join(metaDir, "refs"),
		filepath.Join(metaDir, "logs", "refs"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: %w: mkdir %s: %w", object.ErrIO, d, err)
		}
	}

	cfg := DefaultConfig()
	if err := WriteConfig(metaDir, cfg); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	if err := writeFileAtomic(metaDir, "HEAD", []byte(symbolicPrefix+branchRef(DefaultBranch)+"\n")); err != nil {
		return nil, fmt.Errorf("init: write HEAD: %w", err)
	}

	r, err := newRepo(abs, metaDir, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	r.log.Info("initialized repository", zap.String("root", abs))
	return r, nil
}

// Open searches upward from path for a .vessel/ directory and opens the
// repository. Returns an error wrapping object.ErrNotFound if none is found.
func Open(path string, opts ...Option) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w: abs path: %w", object.ErrIO, err)
	}

	cur := abs
	for {
		metaDir := filepath.Join(cur, MetaDirName)
		info, err := os.Stat(metaDir)
		if err == nil && info.IsDir() {
			cfg, err := ReadConfig(metaDir)
			if err != nil {
				return nil, fmt.Errorf("open: %w", err)
			}
			r, err := newRepo(cur, metaDir, cfg, opts)
			if err != nil {
				return nil, fmt.Errorf("open: %w", err)
			}
			return r, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open: %w: %w", object.ErrIO, err)
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, fmt.Errorf("open: %w: not a vessel repository (or any parent up to /)", object.ErrNotFound)
		}
		cur = parent
	}
}
