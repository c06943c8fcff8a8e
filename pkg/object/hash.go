package object

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strconv"
	"strings"
)

// HashSize is the number of raw bytes in an ObjectID.
const HashSize = sha256.Size

// HashBytes computes the raw SHA-256 hash of data and returns it as a
// lowercase hex-encoded Hash.
func HashBytes(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// HashObject computes the SHA-256 of the envelope "type len\0content",
// mirroring Git's object hashing but with SHA-256.
func HashObject(objType ObjectType, data []byte) Hash {
	d := NewDigest()
	d.Write(envelopeHeader(objType, int64(len(data))))
	d.Write(data)
	return d.Sum()
}

// HashObjectReader digests an object of the given type whose content is
// streamed from r. size must be the exact content length; a short or long
// stream is reported as an error rather than producing a wrong ID.
func HashObjectReader(objType ObjectType, size int64, r io.Reader) (Hash, error) {
	return HashObjectReaderBuffer(objType, size, r, nil)
}

// HashObjectReaderBuffer is HashObjectReader with a caller-supplied copy
// buffer. buf may be nil.
func HashObjectReaderBuffer(objType ObjectType, size int64, r io.Reader, buf []byte) (Hash, error) {
	d := NewDigest()
	d.Write(envelopeHeader(objType, size))
	var n int64
	var err error
	if len(buf) > 0 {
		n, err = io.CopyBuffer(d, io.LimitReader(r, size+1), buf)
	} else {
		n, err = io.Copy(d, io.LimitReader(r, size+1))
	}
	if err != nil {
		return "", fmt.Errorf("hash object stream: %w: %w", ErrIO, err)
	}
	if n != size {
		return "", fmt.Errorf("hash object stream: %w: read %d bytes, expected %d", ErrIO, n, size)
	}
	return d.Sum(), nil
}

// Digest is a streaming HashEngine context. Feeding the same byte sequence
// through any split of Write calls yields the same Sum as HashBytes.
type Digest struct {
	h hash.Hash
}

// NewDigest opens a streaming digest context.
func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

// Write appends p to the digested stream. It never fails.
func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Sum finalizes the stream and returns the ObjectID. The context may keep
// receiving writes afterwards; Sum does not reset it.
func (d *Digest) Sum() Hash {
	return Hash(hex.EncodeToString(d.h.Sum(nil)))
}

// ParseHash validates a hex ObjectID and returns it in lowercase, the form
// every ObjectID is stored and compared in.
func ParseHash(s string) (Hash, error) {
	if len(s) != HashSize*2 {
		return "", fmt.Errorf("parse hash %q: %w: length %d, want %d", s, ErrFormat, len(s), HashSize*2)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("parse hash %q: %w: %w", s, ErrFormat, err)
	}
	return Hash(strings.ToLower(s)), nil
}

// Raw returns the 32 raw digest bytes of h.
func (h Hash) Raw() ([HashSize]byte, error) {
	var out [HashSize]byte
	if len(h) != HashSize*2 {
		return out, fmt.Errorf("hash length must be %d hex chars, got %d: %w", HashSize*2, len(h), ErrFormat)
	}
	if _, err := hex.Decode(out[:], []byte(h)); err != nil {
		return out, fmt.Errorf("invalid hash %q: %w: %w", string(h), ErrFormat, err)
	}
	return out, nil
}

// HashFromRaw hex-encodes a raw digest.
func HashFromRaw(raw []byte) Hash {
	return Hash(hex.EncodeToString(raw))
}

// Short returns the first eight characters of h.
func (h Hash) Short() string {
	if len(h) > 8 {
		return string(h[:8])
	}
	return string(h)
}

func envelopeHeader(objType ObjectType, size int64) []byte {
	out := make([]byte, 0, len(objType)+22)
	out = append(out, objType...)
	out = append(out, ' ')
	out = strconv.AppendInt(out, size, 10)
	return append(out, 0)
}
