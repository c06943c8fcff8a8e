// Package mempool provides a scoped arena for bulk operations.
//
// An Arena hands out byte slices carved from large blocks. The blocks come
// from a process-wide freelist and go back to it when the arena is
// released, so a bulk add over thousands of small files reuses the same
// few blocks instead of churning the heap.
//
// Nothing allocated from an Arena may outlive the operation that created
// it. Copy anything that must survive (an ObjectID, a path kept in the
// index) into ordinary memory before Release.
package mempool

import (
	"errors"
	"sync"
)

// DefaultBlockSize is the size of pooled blocks.
const DefaultBlockSize = 256 << 10

// ErrReleased is the panic value raised when a released arena is used.
var ErrReleased = errors.New("mempool: arena used after release")

// Stats describes an arena's footprint.
type Stats struct {
	Blocks      int   // pooled blocks held
	Oversized   int   // dedicated allocations larger than a block
	Allocations int   // calls to Alloc
	BytesInUse  int64 // bytes handed out
}

type block struct {
	buf []byte
	off int
}

// Arena is a scoped allocator. It is safe for concurrent use by the
// workers of a single operation.
type Arena struct {
	mu        sync.Mutex
	list      *freelist
	blockSize int
	blocks    []*block
	cur       *block
	oversized int
	allocs    int
	inUse     int64
	released  bool
}

// Option configures an Arena.
type Option func(*Arena)

// WithBlockSize overrides the pooled block size. Arenas with a non-default
// block size draw from their own freelist.
func WithBlockSize(n int) Option {
	return func(a *Arena) {
		if n > 0 && n != DefaultBlockSize {
			a.blockSize = n
			a.list = freelistFor(n)
		}
	}
}

// New creates an arena. The caller owns it and must call Release.
func New(opts ...Option) *Arena {
	a := &Arena{
		blockSize: DefaultBlockSize,
		list:      defaultFreelist,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Scoped runs fn with a fresh arena and releases it when fn returns, on
// every path including a panic.
func Scoped(fn func(a *Arena) error, opts ...Option) error {
	a := New(opts...)
	defer a.Release()
	return fn(a)
}

// Alloc returns a zeroed slice of length n. Requests larger than a quarter
// block get a dedicated allocation so they do not waste pooled space.
func (a *Arena) Alloc(n int) []byte {
	if n < 0 {
		panic("mempool: negative allocation")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		panic(ErrReleased)
	}
	a.allocs++
	a.inUse += int64(n)
	if n == 0 {
		return []byte{}
	}
	if n > a.blockSize/4 {
		a.oversized++
		return make([]byte, n)
	}
	if a.cur == nil || len(a.cur.buf)-a.cur.off < n {
		a.cur = a.list.get()
		a.blocks = append(a.blocks, a.cur)
	}
	start := a.cur.off
	a.cur.off += n
	// Full slice expression so appends by the caller cannot spill into the
	// next allocation.
	return a.cur.buf[start:a.cur.off:a.cur.off]
}

// Copy returns an arena-backed copy of b.
func (a *Arena) Copy(b []byte) []byte {
	out := a.Alloc(len(b))
	copy(out, b)
	return out
}

// Stats returns the current footprint.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Blocks:      len(a.blocks),
		Oversized:   a.oversized,
		Allocations: a.allocs,
		BytesInUse:  a.inUse,
	}
}

// Release returns every block to the freelist. It is idempotent.
func (a *Arena) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return
	}
	a.released = true
	for _, b := range a.blocks {
		a.list.put(b)
	}
	a.blocks = nil
	a.cur = nil
}
