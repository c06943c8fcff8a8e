package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zeebo/blake3"

	"github.com/odvcencio/vessel/pkg/mempool"
	"github.com/odvcencio/vessel/pkg/object"
)

// Index file layout, integers big-endian:
//
//	header   "VIDX" | version u32 | count u32
//	entries  stage u8 | mode u32 | size i64 | mtime_ns i64 | id[32] | path_len u16 | path
//	trailer  BLAKE3-256 over everything before it
//
// Entries are stored in path order.
const (
	indexVersion     = 1
	indexHeaderSize  = 12
	indexTrailerSize = 32
	entryFixedSize   = 1 + 4 + 8 + 8 + object.HashSize + 2
)

var indexMagic = [4]byte{'V', 'I', 'D', 'X'}

// MarshalBinary encodes the index in its on-disk form.
func (idx *Index) MarshalBinary() ([]byte, error) {
	entries := idx.tbl.sorted()
	return appendIndex(make([]byte, 0, encodedSize(entries)), entries)
}

func encodedSize(entries []Entry) int {
	n := indexHeaderSize + indexTrailerSize
	for _, e := range entries {
		n += entryFixedSize + len(e.Path)
	}
	return n
}

func appendIndex(dst []byte, entries []Entry) ([]byte, error) {
	start := len(dst)
	dst = append(dst, indexMagic[:]...)
	dst = binary.BigEndian.AppendUint32(dst, indexVersion)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(entries)))
	for _, e := range entries {
		mode, err := strconv.ParseUint(e.Mode, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("encode index entry %q: %w: mode %q", e.Path, object.ErrFormat, e.Mode)
		}
		raw, err := e.ID.Raw()
		if err != nil {
			return nil, fmt.Errorf("encode index entry %q: %w", e.Path, err)
		}
		dst = append(dst, e.Stage)
		dst = binary.BigEndian.AppendUint32(dst, uint32(mode))
		dst = binary.BigEndian.AppendUint64(dst, uint64(e.Size))
		dst = binary.BigEndian.AppendUint64(dst, uint64(e.ModTime))
		dst = append(dst, raw[:]...)
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(e.Path)))
		dst = append(dst, e.Path...)
	}
	sum := blake3.Sum256(dst[start:])
	return append(dst, sum[:]...), nil
}

// Decode parses an encoded index. A version other than the supported one
// fails with object.ErrFormat before the checksum is looked at; a checksum
// mismatch fails with object.ErrCorruption.
func Decode(data []byte, opts ...Option) (*Index, error) {
	if len(data) < indexHeaderSize {
		return nil, fmt.Errorf("decode index: %w: truncated header (%d bytes)", object.ErrFormat, len(data))
	}
	if !bytes.Equal(data[:4], indexMagic[:]) {
		return nil, fmt.Errorf("decode index: %w: bad magic %q", object.ErrFormat, data[:4])
	}
	if v := binary.BigEndian.Uint32(data[4:8]); v != indexVersion {
		return nil, fmt.Errorf("decode index: %w: unsupported version %d", object.ErrFormat, v)
	}
	if len(data) < indexHeaderSize+indexTrailerSize {
		return nil, fmt.Errorf("decode index: %w: truncated (%d bytes)", object.ErrFormat, len(data))
	}
	body := data[:len(data)-indexTrailerSize]
	sum := blake3.Sum256(body)
	if !bytes.Equal(sum[:], data[len(body):]) {
		return nil, fmt.Errorf("decode index: %w: checksum mismatch", object.ErrCorruption)
	}

	count := int(binary.BigEndian.Uint32(body[8:12]))
	if count > (len(body)-indexHeaderSize)/entryFixedSize {
		return nil, fmt.Errorf("decode index: %w: %d entries cannot fit in %d bytes", object.ErrFormat, count, len(body))
	}

	idx := New(opts...)
	off := indexHeaderSize
	prev := ""
	for i := 0; i < count; i++ {
		if off+entryFixedSize > len(body) {
			return nil, fmt.Errorf("decode index: %w: entry %d truncated", object.ErrFormat, i)
		}
		rec := body[off : off+entryFixedSize]
		pathLen := int(binary.BigEndian.Uint16(rec[entryFixedSize-2:]))
		off += entryFixedSize
		if off+pathLen > len(body) {
			return nil, fmt.Errorf("decode index: %w: entry %d path truncated", object.ErrFormat, i)
		}
		e := Entry{
			Stage:   rec[0],
			Mode:    strconv.FormatUint(uint64(binary.BigEndian.Uint32(rec[1:5])), 8),
			Size:    int64(binary.BigEndian.Uint64(rec[5:13])),
			ModTime: int64(binary.BigEndian.Uint64(rec[13:21])),
			ID:      object.HashFromRaw(rec[21 : 21+object.HashSize]),
			Path:    string(body[off : off+pathLen]),
		}
		off += pathLen

		if err := ValidatePath(e.Path); err != nil {
			return nil, fmt.Errorf("decode index: entry %d: %w", i, err)
		}
		if _, err := normalizeMode(e.Mode); err != nil {
			return nil, fmt.Errorf("decode index: entry %q: %w: mode %s", e.Path, object.ErrFormat, e.Mode)
		}
		if i > 0 && e.Path <= prev {
			return nil, fmt.Errorf("decode index: %w: entry %q out of order", object.ErrFormat, e.Path)
		}
		prev = e.Path
		idx.tbl.put(e)
	}
	if off != len(body) {
		return nil, fmt.Errorf("decode index: %w: %d trailing bytes", object.ErrFormat, len(body)-off)
	}
	idx.maybePromote()
	return idx, nil
}

// Load reads the index file at path. A missing file yields an empty index.
func Load(path string, opts ...Option) (*Index, error) {
	var idx *Index
	err := mempool.Scoped(func(arena *mempool.Arena) error {
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				idx = New(opts...)
				return nil
			}
			return fmt.Errorf("load index: %w: %w", object.ErrIO, err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("load index: %w: %w", object.ErrIO, err)
		}
		buf := arena.Alloc(int(info.Size()))
		if _, err := io.ReadFull(f, buf); err != nil {
			return fmt.Errorf("load index: %w: %w", object.ErrIO, err)
		}
		// Decode copies every path and ID out of buf.
		idx, err = Decode(buf, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// Save writes the index to path atomically: the encoded form goes to a
// synced temp file in the same directory, which is then renamed over path.
func (idx *Index) Save(path string) error {
	return mempool.Scoped(func(arena *mempool.Arena) error {
		entries := idx.tbl.sorted()
		buf, err := appendIndex(arena.Alloc(encodedSize(entries))[:0], entries)
		if err != nil {
			return fmt.Errorf("save index: %w", err)
		}
		tmpName, err := writeTemp(filepath.Dir(path), buf)
		if err != nil {
			return fmt.Errorf("save index: %w", err)
		}
		if err := os.Rename(tmpName, path); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("save index: rename: %w: %w", object.ErrIO, err)
		}
		syncDir(filepath.Dir(path))
		return nil
	})
}

// writeTemp writes data to a new synced temp file in dir and returns its
// name. The file is not yet visible as the index.
func writeTemp(dir string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".index-tmp-*")
	if err != nil {
		return "", fmt.Errorf("tmpfile: %w: %w", object.ErrIO, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write: %w: %w", object.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("sync: %w: %w", object.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close: %w: %w", object.ErrIO, err)
	}
	return tmpName, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
