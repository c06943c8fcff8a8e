package object

import "errors"

// Error taxonomy shared by the store, the pack layer, the index and the
// repository. Every error surfaced by those packages wraps exactly one of
// these so callers can branch with errors.Is.
var (
	// ErrNotFound reports a missing object, ref or path.
	ErrNotFound = errors.New("not found")

	// ErrCorruption reports a digest or checksum mismatch, or a cycle in
	// commit ancestry. It is never repaired automatically.
	ErrCorruption = errors.New("corruption")

	// ErrFormat reports an unsupported version or a malformed serialized
	// index, pack or object.
	ErrFormat = errors.New("format error")

	// ErrIO reports an underlying filesystem failure. Pack reads failing
	// with ErrIO may be retried.
	ErrIO = errors.New("i/o error")

	// ErrLockContention reports that a ref lock is held elsewhere.
	ErrLockContention = errors.New("lock contention")
)
