package object

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// AGCL pack layout, all integers big-endian:
//
//	header  16 bytes  "AGCL" | version u32 | count u32 | flags u32
//	table   count × 64 bytes, sorted by ObjectID:
//	        id[32] | offset u64 | length u64 | size u64 | kind u8 | codec u8 | pad[6]
//	payload concatenated, individually compressed object contents
//	trailer 32 bytes BLAKE3 over header and table
//
// The table is written as a placeholder first and rewritten with final
// offsets once every payload is on disk.
const (
	packHeaderSize       = 16
	packTOCEntrySize     = 64
	packTrailerSize      = 32
	supportedPackVersion = 1
	packFileExt          = ".agcl"

	// lz4MaxRatio bounds how far one lz4 block byte can expand: each
	// continuation byte of a length field adds at most 255.
	lz4MaxRatio = 255
)

var packMagic = [4]byte{'A', 'G', 'C', 'L'}

// PackObjectType is the one-byte kind tag stored in the table.
type PackObjectType uint8

const (
	PackBlob   PackObjectType = 1
	PackTree   PackObjectType = 2
	PackCommit PackObjectType = 3
)

func objectTypeToPackType(t ObjectType) (PackObjectType, bool) {
	switch t {
	case TypeBlob:
		return PackBlob, true
	case TypeTree:
		return PackTree, true
	case TypeCommit:
		return PackCommit, true
	}
	return 0, false
}

func packTypeToObjectType(t PackObjectType) (ObjectType, bool) {
	switch t {
	case PackBlob:
		return TypeBlob, true
	case PackTree:
		return TypeTree, true
	case PackCommit:
		return TypeCommit, true
	}
	return "", false
}

// Pack is a readable AGCL pack. PackReader and FastPackReader share this
// contract; they differ only in how bytes are located and decoded.
type Pack interface {
	Path() string
	Checksum() Hash
	Len() int
	Has(h Hash) bool
	Get(h Hash) (ObjectType, []byte, error)
	IDs() []Hash
	Close() error
}

// PackHeader is the fixed-size pack header.
type PackHeader struct {
	Version    uint32
	NumObjects uint32
	Flags      uint32
}

// Marshal serializes the header to its 16-byte form.
func (h PackHeader) Marshal() []byte {
	buf := make([]byte, packHeaderSize)
	copy(buf[:4], packMagic[:])
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	binary.BigEndian.PutUint32(buf[8:12], h.NumObjects)
	binary.BigEndian.PutUint32(buf[12:16], h.Flags)
	return buf
}

// UnmarshalPackHeader parses and validates a pack header.
func UnmarshalPackHeader(data []byte) (*PackHeader, error) {
	if len(data) < packHeaderSize {
		return nil, fmt.Errorf("pack header: %w: too short: got %d bytes", ErrFormat, len(data))
	}
	if !bytes.Equal(data[:4], packMagic[:]) {
		return nil, fmt.Errorf("pack header: %w: invalid magic %q", ErrFormat, data[:4])
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version != supportedPackVersion {
		return nil, fmt.Errorf("pack header: %w: unsupported version %d", ErrFormat, version)
	}
	return &PackHeader{
		Version:    version,
		NumObjects: binary.BigEndian.Uint32(data[8:12]),
		Flags:      binary.BigEndian.Uint32(data[12:16]),
	}, nil
}

// PackTOCEntry locates one object inside a pack.
type PackTOCEntry struct {
	ID     Hash
	Offset uint64 // from start of file
	Length uint64 // stored (compressed) length
	Size   uint64 // uncompressed content length
	Type   PackObjectType
	Codec  Codec
}

func (e PackTOCEntry) marshalTo(buf []byte) error {
	raw, err := e.ID.Raw()
	if err != nil {
		return err
	}
	copy(buf[0:32], raw[:])
	binary.BigEndian.PutUint64(buf[32:40], e.Offset)
	binary.BigEndian.PutUint64(buf[40:48], e.Length)
	binary.BigEndian.PutUint64(buf[48:56], e.Size)
	buf[56] = byte(e.Type)
	buf[57] = byte(e.Codec)
	clear(buf[58:64])
	return nil
}

func unmarshalPackTOCEntry(buf []byte) PackTOCEntry {
	return PackTOCEntry{
		ID:     HashFromRaw(buf[0:32]),
		Offset: binary.BigEndian.Uint64(buf[32:40]),
		Length: binary.BigEndian.Uint64(buf[40:48]),
		Size:   binary.BigEndian.Uint64(buf[48:56]),
		Type:   PackObjectType(buf[56]),
		Codec:  Codec(buf[57]),
	}
}

func packTableChecksum(header, toc []byte) []byte {
	h := blake3.New()
	h.Write(header)
	h.Write(toc)
	return h.Sum(nil)
}

// parsePackTable validates a pack's header, table and trailer against the
// file size before any entry is trusted.
func parsePackTable(header, toc, trailer []byte, fileSize int64) (*PackHeader, []PackTOCEntry, error) {
	hdr, err := UnmarshalPackHeader(header)
	if err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(packTableChecksum(header, toc), trailer) {
		return nil, nil, fmt.Errorf("pack table: %w: checksum mismatch", ErrCorruption)
	}

	dataStart := uint64(packHeaderSize) + uint64(hdr.NumObjects)*packTOCEntrySize
	dataEnd := uint64(fileSize) - packTrailerSize

	entries := make([]PackTOCEntry, hdr.NumObjects)
	for i := range entries {
		e := unmarshalPackTOCEntry(toc[i*packTOCEntrySize : (i+1)*packTOCEntrySize])
		if i > 0 && entries[i-1].ID >= e.ID {
			return nil, nil, fmt.Errorf("pack table: %w: entry %d out of order", ErrFormat, i)
		}
		if _, ok := packTypeToObjectType(e.Type); !ok {
			return nil, nil, fmt.Errorf("pack table: %w: entry %d: unknown type %d", ErrFormat, i, e.Type)
		}
		if e.Codec > CodecLZ4 {
			return nil, nil, fmt.Errorf("pack table: %w: entry %d: unknown codec %d", ErrFormat, i, e.Codec)
		}
		if err := checkPackedSize(e); err != nil {
			return nil, nil, fmt.Errorf("pack table: %w: entry %d: %w", ErrFormat, i, err)
		}
		end := e.Offset + e.Length
		if e.Offset < dataStart || end < e.Offset || end > dataEnd {
			return nil, nil, fmt.Errorf(
				"pack table: %w: entry %d range [%d,%d) outside payload [%d,%d)",
				ErrFormat, i, e.Offset, end, dataStart, dataEnd,
			)
		}
		entries[i] = e
	}
	return hdr, entries, nil
}

// checkPackedSize rejects uncompressed sizes the stored length cannot
// produce, before any buffer is sized from them.
func checkPackedSize(e PackTOCEntry) error {
	if e.Size > MaxObjectSize {
		return fmt.Errorf("size %d exceeds limit %d", e.Size, uint64(MaxObjectSize))
	}
	switch e.Codec {
	case CodecNone:
		if e.Size != e.Length {
			return fmt.Errorf("uncompressed entry size %d != length %d", e.Size, e.Length)
		}
	case CodecLZ4:
		if e.Size > (e.Length+1)*lz4MaxRatio {
			return fmt.Errorf("lz4 entry size %d unreachable from length %d", e.Size, e.Length)
		}
	}
	return nil
}

// packMinSize returns the smallest valid file size for count objects.
func packMinSize(count uint32) int64 {
	return packHeaderSize + int64(count)*packTOCEntrySize + packTrailerSize
}

// decodePackedEntry decompresses a payload and verifies it hashes to the
// entry's ObjectID.
func decodePackedEntry(e PackTOCEntry, payload []byte) (ObjectType, []byte, error) {
	objType, ok := packTypeToObjectType(e.Type)
	if !ok {
		return "", nil, fmt.Errorf("%w: unsupported packed object type %d", ErrFormat, e.Type)
	}
	data, err := DecompressPayload(payload, e.Codec, int(e.Size))
	if err != nil {
		return "", nil, err
	}
	if computed := HashObject(objType, data); computed != e.ID {
		return "", nil, fmt.Errorf(
			"%w: packed object hash mismatch: expected %s, computed %s",
			ErrCorruption, e.ID, computed,
		)
	}
	return objType, data, nil
}
