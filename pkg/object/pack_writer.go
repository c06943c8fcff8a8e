package object

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
)

// PackFile is the sink a PackWriter needs: sequential appends, a
// positional rewrite of the table, and a durable flush. *os.File
// satisfies it.
type PackFile interface {
	io.Writer
	io.WriterAt
	Sync() error
}

// PackWriter builds an AGCL pack. It writes the header and a zeroed table,
// appends payloads while recording their offsets, then rewrites the table
// and appends the trailer in Finish.
type PackWriter struct {
	out      PackFile
	header   []byte
	offset   uint64
	level    int
	expected uint32
	entries  []PackTOCEntry
	seen     map[Hash]struct{}
	finished bool
}

// NewPackWriter writes the header and placeholder table for numObjects
// entries.
func NewPackWriter(out PackFile, numObjects uint32, level int) (*PackWriter, error) {
	header := PackHeader{
		Version:    supportedPackVersion,
		NumObjects: numObjects,
	}.Marshal()
	if _, err := out.Write(header); err != nil {
		return nil, fmt.Errorf("write pack header: %w: %w", ErrIO, err)
	}
	placeholder := make([]byte, int(numObjects)*packTOCEntrySize)
	if _, err := out.Write(placeholder); err != nil {
		return nil, fmt.Errorf("write pack table placeholder: %w: %w", ErrIO, err)
	}
	if level <= 0 {
		level = defaultCompressionLevel
	}
	return &PackWriter{
		out:      out,
		header:   header,
		offset:   uint64(len(header) + len(placeholder)),
		level:    level,
		expected: numObjects,
		entries:  make([]PackTOCEntry, 0, numObjects),
		seen:     make(map[Hash]struct{}, numObjects),
	}, nil
}

// CurrentOffset returns the byte offset the next payload will start at.
func (p *PackWriter) CurrentOffset() uint64 {
	return p.offset
}

// WriteEntry compresses data with codec and appends it.
func (p *PackWriter) WriteEntry(objType ObjectType, data []byte, codec Codec) (Hash, error) {
	h := HashObject(objType, data)
	payload, used, err := CompressPayload(nil, data, codec, p.level)
	if err != nil {
		return "", fmt.Errorf("compress pack entry %s: %w", h, err)
	}
	if err := p.WriteCompressedEntry(h, objType, used, uint64(len(data)), payload); err != nil {
		return "", err
	}
	return h, nil
}

// WriteCompressedEntry appends a payload that was compressed elsewhere,
// e.g. by a parallel build pipeline. The caller vouches that payload
// decodes to size bytes hashing to id; readers verify it anyway.
func (p *PackWriter) WriteCompressedEntry(id Hash, objType ObjectType, codec Codec, size uint64, payload []byte) error {
	if p.finished {
		return fmt.Errorf("pack writer already finished")
	}
	if uint32(len(p.entries)) >= p.expected {
		return fmt.Errorf("pack object count exceeded: expected %d", p.expected)
	}
	kind, ok := objectTypeToPackType(objType)
	if !ok {
		return fmt.Errorf("pack entry %s: %w: unknown type %q", id, ErrFormat, objType)
	}
	if _, dup := p.seen[id]; dup {
		return fmt.Errorf("pack entry %s: duplicate object", id)
	}
	if _, err := id.Raw(); err != nil {
		return fmt.Errorf("pack entry: %w", err)
	}

	if _, err := p.out.Write(payload); err != nil {
		return fmt.Errorf("write pack entry %s: %w: %w", id, ErrIO, err)
	}
	p.entries = append(p.entries, PackTOCEntry{
		ID:     id,
		Offset: p.offset,
		Length: uint64(len(payload)),
		Size:   size,
		Type:   kind,
		Codec:  codec,
	})
	p.seen[id] = struct{}{}
	p.offset += uint64(len(payload))
	return nil
}

// Finish validates the object count, rewrites the table with final
// offsets, appends the trailer and syncs. It returns the trailer checksum
// as a hex digest.
func (p *PackWriter) Finish() (Hash, error) {
	if p.finished {
		return "", fmt.Errorf("pack writer already finished")
	}
	if uint32(len(p.entries)) != p.expected {
		return "", fmt.Errorf("pack object count mismatch: wrote %d, expected %d", len(p.entries), p.expected)
	}

	sort.Slice(p.entries, func(i, j int) bool {
		return p.entries[i].ID < p.entries[j].ID
	})
	toc := make([]byte, len(p.entries)*packTOCEntrySize)
	for i, e := range p.entries {
		if err := e.marshalTo(toc[i*packTOCEntrySize : (i+1)*packTOCEntrySize]); err != nil {
			return "", fmt.Errorf("marshal pack table: %w", err)
		}
	}
	if _, err := p.out.WriteAt(toc, packHeaderSize); err != nil {
		return "", fmt.Errorf("rewrite pack table: %w: %w", ErrIO, err)
	}

	sum := packTableChecksum(p.header, toc)
	if _, err := p.out.Write(sum); err != nil {
		return "", fmt.Errorf("write pack trailer: %w: %w", ErrIO, err)
	}
	if err := p.out.Sync(); err != nil {
		return "", fmt.Errorf("sync pack: %w: %w", ErrIO, err)
	}

	p.finished = true
	return Hash(hex.EncodeToString(sum)), nil
}

// Entries returns the table as written, sorted by ObjectID. Only valid
// after Finish.
func (p *PackWriter) Entries() []PackTOCEntry {
	out := make([]PackTOCEntry, len(p.entries))
	copy(out, p.entries)
	return out
}
