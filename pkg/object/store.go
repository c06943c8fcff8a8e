package object

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	defaultCacheSize        = 1024
	defaultCompressionLevel = 3
	packReadAttempts        = 3
	packReadBackoff         = 10 * time.Millisecond
)

// Store is a content-addressed object store with a 2-character fan-out
// directory layout: objects/ab/cdef0123... Loose objects are zstd frames
// of the envelope "type len\0content". Packed objects live in
// objects/packs/*.agcl.
type Store struct {
	root      string
	log       *zap.Logger
	level     int
	fastPacks bool
	cache     *lru.Cache[Hash, cachedObject]

	packsMu     sync.RWMutex
	packsLoaded bool
	packs       []Pack
}

type cachedObject struct {
	objType ObjectType
	data    []byte
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(log *zap.Logger) StoreOption {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithCompressionLevel sets the zstd level (1-22, mapped onto the encoder
// presets) for loose objects and zstd-coded pack entries.
func WithCompressionLevel(level int) StoreOption {
	return func(s *Store) {
		if level > 0 {
			s.level = level
		}
	}
}

// WithFastPacks selects the memory-mapped pack reader.
func WithFastPacks(fast bool) StoreOption {
	return func(s *Store) {
		s.fastPacks = fast
	}
}

// WithCacheSize bounds the decoded-object cache. Zero or less disables it.
func WithCacheSize(n int) StoreOption {
	return func(s *Store) {
		if n <= 0 {
			s.cache = nil
			return
		}
		s.cache, _ = lru.New[Hash, cachedObject](n)
	}
}

// NewStore creates a Store rooted at the given directory. The objects/
// subdirectory is created lazily on first write.
func NewStore(root string, opts ...StoreOption) *Store {
	s := &Store{
		root:  root,
		log:   zap.NewNop(),
		level: defaultCompressionLevel,
	}
	s.cache, _ = lru.New[Hash, cachedObject](defaultCacheSize)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the directory holding objects/.
func (s *Store) Root() string {
	return s.root
}

// objectPath returns the filesystem path for a given hash.
func (s *Store) objectPath(h Hash) string {
	return filepath.Join(s.root, "objects", string(h[:2]), string(h[2:]))
}

func (s *Store) packDir() string {
	return filepath.Join(s.root, "objects", "packs")
}

// HasLoose reports whether h is stored as a loose object.
func (s *Store) HasLoose(h Hash) bool {
	if len(h) != HashSize*2 {
		return false
	}
	_, err := os.Stat(s.objectPath(h))
	return err == nil
}

// Exists reports whether the store contains an object with the given hash,
// loose or packed. It does not decompress anything.
func (s *Store) Exists(h Hash) bool {
	if s.HasLoose(h) {
		return true
	}
	packs, err := s.loadedPacks()
	if err != nil {
		return false
	}
	for _, p := range packs {
		if p.Has(h) {
			return true
		}
	}
	return false
}

// Put stores an object and returns its content hash. Storing content that
// already exists is a no-op. Writes are atomic: data is written to a temp
// file and then renamed into place, so concurrent writers of the same
// object all succeed.
func (s *Store) Put(objType ObjectType, data []byte) (Hash, error) {
	if !objType.Valid() {
		return "", fmt.Errorf("object write: %w: unknown type %q", ErrFormat, objType)
	}
	if int64(len(data)) > MaxObjectSize {
		return "", fmt.Errorf("object write: %w: %d bytes exceeds limit %d", ErrFormat, len(data), int64(MaxObjectSize))
	}
	h := HashObject(objType, data)

	// Fast path: already exists.
	if s.Exists(h) {
		return h, nil
	}

	raw := compressZstd(nil, makeObjectEnvelope(objType, data), s.level)

	dir := filepath.Join(s.root, "objects", string(h[:2]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("object write mkdir: %w: %w", ErrIO, err)
	}

	// Atomic write via temp + rename.
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("object write tmpfile: %w: %w", ErrIO, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("object write: %w: %w", ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("object write sync: %w: %w", ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("object write close: %w: %w", ErrIO, err)
	}

	dest := s.objectPath(h)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("object write rename: %w: %w", ErrIO, err)
	}

	s.log.Debug("object written",
		zap.String("id", string(h)),
		zap.String("type", string(objType)),
		zap.Int("size", len(data)),
		zap.Int("stored", len(raw)),
	)
	return h, nil
}

// Get retrieves an object by hash, returning its type and raw content. The
// digest of the decompressed content is re-verified against h before
// anything is returned.
func (s *Store) Get(h Hash) (ObjectType, []byte, error) {
	if _, err := ParseHash(string(h)); err != nil {
		return "", nil, fmt.Errorf("object read: %w", err)
	}
	if s.cache != nil {
		if c, ok := s.cache.Get(h); ok {
			return c.objType, bytes.Clone(c.data), nil
		}
	}

	objType, data, err := s.readLoose(h)
	if errors.Is(err, ErrNotFound) {
		objType, data, err = s.readFromPacks(h)
	}
	if err != nil {
		return "", nil, err
	}

	if s.cache != nil {
		s.cache.Add(h, cachedObject{objType: objType, data: bytes.Clone(data)})
	}
	return objType, data, nil
}

// readLoose reads and verifies a loose object.
func (s *Store) readLoose(h Hash) (ObjectType, []byte, error) {
	raw, err := os.ReadFile(s.objectPath(h))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, fmt.Errorf("object read %s: %w", h, ErrNotFound)
		}
		return "", nil, fmt.Errorf("object read %s: %w: %w", h, ErrIO, err)
	}
	envelope, err := decompressZstd(raw, len(raw)*2)
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w: %w", h, ErrCorruption, err)
	}
	objType, content, err := parseObjectEnvelope(envelope, h)
	if err != nil {
		return "", nil, err
	}
	if computed := HashObject(objType, content); computed != h {
		return "", nil, fmt.Errorf("object read %s: %w: computed %s", h, ErrCorruption, computed)
	}
	return objType, content, nil
}

// readFromPacks searches every pack for h, retrying transient I/O
// failures a bounded number of times.
func (s *Store) readFromPacks(h Hash) (ObjectType, []byte, error) {
	var lastErr error
	for attempt := 0; attempt < packReadAttempts; attempt++ {
		if attempt > 0 {
			s.log.Warn("retrying pack read",
				zap.String("id", string(h)),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr),
			)
			time.Sleep(packReadBackoff * time.Duration(attempt))
		}
		objType, data, err := s.readFromPacksOnce(h)
		if err == nil {
			return objType, data, nil
		}
		if !errors.Is(err, ErrIO) {
			return "", nil, err
		}
		lastErr = err
	}
	return "", nil, lastErr
}

func (s *Store) readFromPacksOnce(h Hash) (ObjectType, []byte, error) {
	packs, err := s.loadedPacks()
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}
	for _, p := range packs {
		if !p.Has(h) {
			continue
		}
		objType, data, err := p.Get(h)
		if err != nil {
			return "", nil, fmt.Errorf("object read %s: pack %s: %w", h, filepath.Base(p.Path()), err)
		}
		return objType, data, nil
	}
	return "", nil, fmt.Errorf("object read %s: %w", h, ErrNotFound)
}

// Close releases open pack handles.
func (s *Store) Close() error {
	s.packsMu.Lock()
	defer s.packsMu.Unlock()
	var errs []error
	for _, p := range s.packs {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.packs = nil
	s.packsLoaded = false
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Typed convenience methods
// ---------------------------------------------------------------------------

// WriteBlob serializes and stores a Blob.
func (s *Store) WriteBlob(b *Blob) (Hash, error) {
	return s.Put(TypeBlob, b.Data)
}

// ReadBlob reads and deserializes a Blob.
func (s *Store) ReadBlob(h Hash) (*Blob, error) {
	data, err := s.readTyped(h, TypeBlob)
	if err != nil {
		return nil, err
	}
	return &Blob{Data: data}, nil
}

// WriteTree serializes and stores a TreeObj.
func (s *Store) WriteTree(tr *TreeObj) (Hash, error) {
	if err := ValidateTree(tr); err != nil {
		return "", fmt.Errorf("write tree: %w", err)
	}
	return s.Put(TypeTree, MarshalTree(tr))
}

// ReadTree reads and deserializes a TreeObj.
func (s *Store) ReadTree(h Hash) (*TreeObj, error) {
	data, err := s.readTyped(h, TypeTree)
	if err != nil {
		return nil, err
	}
	return UnmarshalTree(data)
}

// WriteCommit serializes and stores a CommitObj.
func (s *Store) WriteCommit(c *CommitObj) (Hash, error) {
	if err := ValidateCommit(c); err != nil {
		return "", fmt.Errorf("write commit: %w", err)
	}
	return s.Put(TypeCommit, MarshalCommit(c))
}

// ReadCommit reads and deserializes a CommitObj.
func (s *Store) ReadCommit(h Hash) (*CommitObj, error) {
	data, err := s.readTyped(h, TypeCommit)
	if err != nil {
		return nil, err
	}
	return UnmarshalCommit(data)
}

// ReadObject reads any object and decodes it into the tagged variant.
func (s *Store) ReadObject(h Hash) (*Object, error) {
	objType, data, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	return Decode(objType, data)
}

func (s *Store) readTyped(h Hash, want ObjectType) ([]byte, error) {
	objType, data, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	if objType != want {
		return nil, fmt.Errorf("object %s: %w: type mismatch: got %q, want %q", h, ErrFormat, objType, want)
	}
	return data, nil
}

func makeObjectEnvelope(objType ObjectType, data []byte) []byte {
	header := envelopeHeader(objType, int64(len(data)))
	out := make([]byte, 0, len(header)+len(data))
	out = append(out, header...)
	out = append(out, data...)
	return out
}

// parseObjectEnvelope splits "type len\0content". A malformed envelope
// means the stored bytes are damaged.
func parseObjectEnvelope(raw []byte, h Hash) (ObjectType, []byte, error) {
	nulIdx := bytes.IndexByte(raw, 0)
	if nulIdx < 0 {
		return "", nil, fmt.Errorf("object read %s: %w: invalid envelope (no NUL)", h, ErrCorruption)
	}
	header := string(raw[:nulIdx])
	content := raw[nulIdx+1:]

	typ, lenStr, ok := bytes.Cut([]byte(header), []byte{' '})
	if !ok {
		return "", nil, fmt.Errorf("object read %s: %w: invalid header %q", h, ErrCorruption, header)
	}
	objType := ObjectType(typ)
	if !objType.Valid() {
		return "", nil, fmt.Errorf("object read %s: %w: unknown type %q", h, ErrCorruption, objType)
	}
	length, err := strconv.Atoi(string(lenStr))
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w: invalid length %q", h, ErrCorruption, lenStr)
	}
	if len(content) != length {
		return "", nil, fmt.Errorf("object read %s: %w: length mismatch (header=%d, actual=%d)", h, ErrCorruption, length, len(content))
	}
	return objType, content, nil
}
