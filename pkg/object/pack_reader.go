package object

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// PackReader is the base AGCL reader. It keeps only the table in memory
// and reads payloads with positional reads; lookups scan the table
// linearly.
type PackReader struct {
	path     string
	checksum Hash
	entries  []PackTOCEntry

	mu sync.RWMutex
	f  *os.File
}

// OpenPack opens and validates a pack file.
func OpenPack(path string) (*PackReader, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open pack %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("open pack %s: %w: %w", path, ErrIO, err)
	}
	pr, err := newPackReader(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return pr, nil
}

func newPackReader(path string, f *os.File) (*PackReader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("open pack %s: %w: %w", path, ErrIO, err)
	}
	size := info.Size()

	header := make([]byte, packHeaderSize)
	if err := readFullAt(f, header, 0); err != nil {
		return nil, fmt.Errorf("open pack %s: header: %w", path, err)
	}
	hdr, err := UnmarshalPackHeader(header)
	if err != nil {
		return nil, fmt.Errorf("open pack %s: %w", path, err)
	}
	if size < packMinSize(hdr.NumObjects) {
		return nil, fmt.Errorf("open pack %s: %w: truncated (%d bytes for %d objects)", path, ErrFormat, size, hdr.NumObjects)
	}

	toc := make([]byte, int(hdr.NumObjects)*packTOCEntrySize)
	if err := readFullAt(f, toc, packHeaderSize); err != nil {
		return nil, fmt.Errorf("open pack %s: table: %w", path, err)
	}
	trailer := make([]byte, packTrailerSize)
	if err := readFullAt(f, trailer, size-packTrailerSize); err != nil {
		return nil, fmt.Errorf("open pack %s: trailer: %w", path, err)
	}

	_, entries, err := parsePackTable(header, toc, trailer, size)
	if err != nil {
		return nil, fmt.Errorf("open pack %s: %w", path, err)
	}
	return &PackReader{
		path:     path,
		checksum: Hash(hex.EncodeToString(trailer)),
		entries:  entries,
		f:        f,
	}, nil
}

func readFullAt(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: short read at %d (%d of %d bytes)", ErrFormat, off, n, len(buf))
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}

// Path returns the pack file path.
func (p *PackReader) Path() string { return p.path }

// Checksum returns the trailer checksum, which also names the pack.
func (p *PackReader) Checksum() Hash { return p.checksum }

// Len returns the number of objects in the pack.
func (p *PackReader) Len() int { return len(p.entries) }

func (p *PackReader) find(h Hash) (PackTOCEntry, bool) {
	for _, e := range p.entries {
		if e.ID == h {
			return e, true
		}
	}
	return PackTOCEntry{}, false
}

// Has reports whether the pack holds h.
func (p *PackReader) Has(h Hash) bool {
	_, ok := p.find(h)
	return ok
}

// Get reads, decompresses and verifies one object.
func (p *PackReader) Get(h Hash) (ObjectType, []byte, error) {
	e, ok := p.find(h)
	if !ok {
		return "", nil, fmt.Errorf("pack get %s: %w", h, ErrNotFound)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.f == nil {
		return "", nil, fmt.Errorf("pack get %s: %w: pack closed", h, ErrIO)
	}
	payload := make([]byte, e.Length)
	if err := readFullAt(p.f, payload, int64(e.Offset)); err != nil {
		return "", nil, fmt.Errorf("pack get %s: %w", h, err)
	}
	objType, data, err := decodePackedEntry(e, payload)
	if err != nil {
		return "", nil, fmt.Errorf("pack get %s: %w", h, err)
	}
	return objType, data, nil
}

// IDs returns every ObjectID in the pack in ascending order.
func (p *PackReader) IDs() []Hash {
	out := make([]Hash, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.ID
	}
	return out
}

// Entries returns a copy of the table.
func (p *PackReader) Entries() []PackTOCEntry {
	out := make([]PackTOCEntry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Close releases the file handle.
func (p *PackReader) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return err
}
