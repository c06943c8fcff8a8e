package index

import (
	"fmt"
	"io"
	"iter"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/vessel/pkg/mempool"
	"github.com/odvcencio/vessel/pkg/object"
)

// hashBufferSize is the copy buffer each rehash worker streams through.
const hashBufferSize = 64 << 10

// FileStat is the stat data a Snapshot reports for one worktree file.
type FileStat struct {
	Path    string // slash-separated, relative to the snapshot root
	Size    int64
	ModTime int64 // unix nanoseconds
	Mode    string
}

// Snapshot is a view of a working tree. Files yields every tracked-eligible
// file; each call starts a new walk. Open streams one file's content.
type Snapshot interface {
	Files() iter.Seq2[FileStat, error]
	Open(path string) (io.ReadCloser, error)
}

// ChangeKind classifies a difference between the index and a snapshot.
type ChangeKind int

const (
	ChangeAdded    ChangeKind = iota + 1 // present in the snapshot, not staged
	ChangeModified                       // staged, content or mode differs
	ChangeDeleted                        // staged, missing from the snapshot
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Change is one entry of a Diff result.
type Change struct {
	Path string
	Kind ChangeKind
}

// Diff compares the index against snap and returns the changed paths in
// path order. A file whose size and modification time match the cached
// values is assumed unchanged. A different size or mode is reported as
// modified without rehashing: blobs of different lengths cannot share an
// ObjectID, so the content has changed. A file that differs only in modification time is rehashed and
// reported as modified only when its ObjectID actually differs.
func (idx *Index) Diff(snap Snapshot) ([]Change, error) {
	var changes []Change
	var suspects []FileStat
	seen := make(map[string]struct{}, idx.Len())

	for fs, err := range snap.Files() {
		if err != nil {
			return nil, fmt.Errorf("index diff: walk: %w", err)
		}
		seen[fs.Path] = struct{}{}
		e, ok := idx.tbl.get(fs.Path)
		switch {
		case !ok:
			changes = append(changes, Change{Path: fs.Path, Kind: ChangeAdded})
		case fs.Size != e.Size || fs.Mode != e.Mode:
			changes = append(changes, Change{Path: fs.Path, Kind: ChangeModified})
		case fs.ModTime == e.ModTime:
		default:
			suspects = append(suspects, fs)
		}
	}

	for _, e := range idx.tbl.sorted() {
		if _, ok := seen[e.Path]; !ok {
			changes = append(changes, Change{Path: e.Path, Kind: ChangeDeleted})
		}
	}

	modified, err := idx.rehash(snap, suspects)
	if err != nil {
		return nil, err
	}
	changes = append(changes, modified...)

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Path < changes[j].Path
	})
	return changes, nil
}

// rehash streams each suspect through the object digest in parallel and
// returns the ones whose content changed.
func (idx *Index) rehash(snap Snapshot, suspects []FileStat) ([]Change, error) {
	if len(suspects) == 0 {
		return nil, nil
	}
	workers := min(idx.workers, len(suspects))
	changed := make([]bool, len(suspects))

	err := mempool.Scoped(func(arena *mempool.Arena) error {
		buffers := make(chan []byte, workers)
		for i := 0; i < workers; i++ {
			buffers <- arena.Alloc(hashBufferSize)
		}

		var g errgroup.Group
		g.SetLimit(workers)
		for i, fs := range suspects {
			g.Go(func() error {
				buf := <-buffers
				defer func() { buffers <- buf }()

				id, err := hashFile(snap, fs, buf)
				if err != nil {
					return err
				}
				e, _ := idx.tbl.get(fs.Path)
				changed[i] = id != e.ID
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, fmt.Errorf("index diff: %w", err)
	}

	var out []Change
	for i, fs := range suspects {
		if changed[i] {
			out = append(out, Change{Path: fs.Path, Kind: ChangeModified})
		}
	}
	return out, nil
}

func hashFile(snap Snapshot, fs FileStat, buf []byte) (object.Hash, error) {
	rc, err := snap.Open(fs.Path)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", fs.Path, err)
	}
	defer rc.Close()
	id, err := object.HashObjectReaderBuffer(object.TypeBlob, fs.Size, rc, buf)
	if err != nil {
		return "", fmt.Errorf("hash %q: %w", fs.Path, err)
	}
	return id, nil
}
