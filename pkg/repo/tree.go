package repo

import (
	"fmt"
	"path"
	"strings"

	"github.com/odvcencio/vessel/pkg/index"
	"github.com/odvcencio/vessel/pkg/object"
)

// TreeFileEntry represents a single file in a flattened tree.
type TreeFileEntry struct {
	Path string
	Mode string
	ID   object.Hash
}

// BuildTree converts the path-ordered index entries into a hierarchy of
// tree objects, writing every subtree before its parent, and returns the
// root tree hash. A path that is both a file and a directory prefix of
// another path fails with object.ErrFormat.
func (r *Repo) BuildTree(idx *index.Index) (object.Hash, error) {
	return r.buildTreeDir(idx.Entries(), "")
}

// buildTreeDir builds the tree for prefix from entries, which must be the
// sorted entries lying under prefix.
func (r *Repo) buildTreeDir(entries []index.Entry, prefix string) (object.Hash, error) {
	var tree object.TreeObj
	names := make(map[string]bool)
	for i := 0; i < len(entries); {
		rel := entries[i].Path[len(prefix):]
		name, _, isDir := strings.Cut(rel, "/")
		if names[name] {
			return "", fmt.Errorf("build tree: %w: %q is both a file and a directory", object.ErrFormat, prefix+name)
		}
		names[name] = true
		if !isDir {
			tree.Entries = append(tree.Entries, object.TreeEntry{
				Name: name,
				Mode: entries[i].Mode,
				ID:   entries[i].ID,
			})
			i++
			continue
		}

		// Entries are sorted by full path, so everything under name/ is
		// contiguous.
		childPrefix := prefix + name + "/"
		j := i
		for j < len(entries) && strings.HasPrefix(entries[j].Path, childPrefix) {
			j++
		}
		subHash, err := r.buildTreeDir(entries[i:j], childPrefix)
		if err != nil {
			return "", err
		}
		tree.Entries = append(tree.Entries, object.TreeEntry{
			Name: name,
			Mode: object.TreeModeDir,
			ID:   subHash,
		})
		i = j
	}

	h, err := r.Store.WriteTree(&tree)
	if err != nil {
		return "", fmt.Errorf("write tree %q: %w", strings.TrimSuffix(prefix, "/"), err)
	}
	return h, nil
}

// FlattenTree walks a tree object recursively, returning all file entries
// with their full slash-separated paths in path order.
func (r *Repo) FlattenTree(h object.Hash) ([]TreeFileEntry, error) {
	return r.flattenTreeRec(h, "")
}

func (r *Repo) flattenTreeRec(h object.Hash, prefix string) ([]TreeFileEntry, error) {
	treeObj, err := r.Store.ReadTree(h)
	if err != nil {
		return nil, fmt.Errorf("flatten tree: read %s: %w", h, err)
	}

	var result []TreeFileEntry
	for _, entry := range treeObj.Entries {
		fullPath := entry.Name
		if prefix != "" {
			fullPath = path.Join(prefix, entry.Name)
		}
		if entry.IsDir() {
			sub, err := r.flattenTreeRec(entry.ID, fullPath)
			if err != nil {
				return nil, err
			}
			result = append(result, sub...)
			continue
		}
		result = append(result, TreeFileEntry{Path: fullPath, Mode: entry.Mode, ID: entry.ID})
	}
	return result, nil
}
