package object

import (
	"encoding/hex"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FastPackReader maps the whole pack into memory, resolves lookups with a
// binary search over the sorted table and decompresses independent
// lookups in parallel. Its observable behavior matches PackReader.
type FastPackReader struct {
	path     string
	checksum Hash
	entries  []PackTOCEntry

	mu    sync.RWMutex
	data  []byte
	unmap func() error
}

// OpenFastPack maps and validates a pack file.
func OpenFastPack(path string) (*FastPackReader, error) {
	data, unmap, err := mapPackFile(path)
	if err != nil {
		return nil, fmt.Errorf("open pack %s: %w", path, err)
	}
	fp, err := newFastPackReader(path, data)
	if err != nil {
		_ = unmap()
		return nil, err
	}
	fp.unmap = unmap
	return fp, nil
}

func newFastPackReader(path string, data []byte) (*FastPackReader, error) {
	hdr, err := UnmarshalPackHeader(data)
	if err != nil {
		return nil, fmt.Errorf("open pack %s: %w", path, err)
	}
	size := int64(len(data))
	if size < packMinSize(hdr.NumObjects) {
		return nil, fmt.Errorf("open pack %s: %w: truncated (%d bytes for %d objects)", path, ErrFormat, size, hdr.NumObjects)
	}
	tocEnd := packHeaderSize + int(hdr.NumObjects)*packTOCEntrySize
	trailer := data[size-packTrailerSize:]
	_, entries, err := parsePackTable(data[:packHeaderSize], data[packHeaderSize:tocEnd], trailer, size)
	if err != nil {
		return nil, fmt.Errorf("open pack %s: %w", path, err)
	}
	return &FastPackReader{
		path:     path,
		checksum: Hash(hex.EncodeToString(trailer)),
		entries:  entries,
		data:     data,
	}, nil
}

// Path returns the pack file path.
func (p *FastPackReader) Path() string { return p.path }

// Checksum returns the trailer checksum, which also names the pack.
func (p *FastPackReader) Checksum() Hash { return p.checksum }

// Len returns the number of objects in the pack.
func (p *FastPackReader) Len() int { return len(p.entries) }

func (p *FastPackReader) find(h Hash) (PackTOCEntry, bool) {
	i := sort.Search(len(p.entries), func(i int) bool {
		return p.entries[i].ID >= h
	})
	if i < len(p.entries) && p.entries[i].ID == h {
		return p.entries[i], true
	}
	return PackTOCEntry{}, false
}

// Has reports whether the pack holds h.
func (p *FastPackReader) Has(h Hash) bool {
	_, ok := p.find(h)
	return ok
}

// Get decompresses and verifies one object straight from the mapping.
func (p *FastPackReader) Get(h Hash) (ObjectType, []byte, error) {
	e, ok := p.find(h)
	if !ok {
		return "", nil, fmt.Errorf("pack get %s: %w", h, ErrNotFound)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.data == nil {
		return "", nil, fmt.Errorf("pack get %s: %w: pack closed", h, ErrIO)
	}
	objType, data, err := decodePackedEntry(e, p.data[e.Offset:e.Offset+e.Length])
	if err != nil {
		return "", nil, fmt.Errorf("pack get %s: %w", h, err)
	}
	return objType, data, nil
}

// PackedObject is one result of GetMany.
type PackedObject struct {
	ID   Hash
	Type ObjectType
	Data []byte
}

// GetMany resolves ids in parallel across at most workers goroutines
// (GOMAXPROCS when workers <= 0). Results keep the order of ids. The first
// failure cancels the remaining lookups.
func (p *FastPackReader) GetMany(ids []Hash, workers int) ([]PackedObject, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]PackedObject, len(ids))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, id := range ids {
		g.Go(func() error {
			objType, data, err := p.Get(id)
			if err != nil {
				return err
			}
			out[i] = PackedObject{ID: id, Type: objType, Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// IDs returns every ObjectID in the pack in ascending order.
func (p *FastPackReader) IDs() []Hash {
	out := make([]Hash, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.ID
	}
	return out
}

// Close unmaps the pack. Lookups after Close fail with ErrIO.
func (p *FastPackReader) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data == nil {
		return nil
	}
	p.data = nil
	if p.unmap == nil {
		return nil
	}
	return p.unmap()
}
