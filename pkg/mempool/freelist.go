package mempool

import "sync"

// maxFreeBlocks bounds how many idle blocks a freelist keeps.
const maxFreeBlocks = 64

// freelist is a mutex-guarded stack of reusable blocks of one size.
type freelist struct {
	size int
	mu   sync.Mutex
	list []*block
}

var (
	defaultFreelist = &freelist{size: DefaultBlockSize}

	freelistsMu sync.Mutex
	freelists   = map[int]*freelist{DefaultBlockSize: defaultFreelist}
)

func freelistFor(size int) *freelist {
	freelistsMu.Lock()
	defer freelistsMu.Unlock()
	fl, ok := freelists[size]
	if !ok {
		fl = &freelist{size: size}
		freelists[size] = fl
	}
	return fl
}

func (l *freelist) get() *block {
	var b *block
	l.mu.Lock()
	if n := len(l.list); n != 0 {
		b = l.list[n-1]
		l.list = l.list[:n-1]
	}
	l.mu.Unlock()
	if b == nil {
		b = &block{buf: make([]byte, l.size)}
	}
	return b
}

func (l *freelist) put(b *block) {
	// Zero only the used prefix; the rest was never handed out.
	clear(b.buf[:b.off])
	b.off = 0
	l.mu.Lock()
	if len(l.list) < maxFreeBlocks {
		l.list = append(l.list, b)
	}
	l.mu.Unlock()
}

func (l *freelist) idle() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.list)
}
