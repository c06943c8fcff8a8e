//go:build unix

package object

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mapPackFile maps path read-only. The returned function unmaps it.
func mapPackFile(path string) ([]byte, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	size := info.Size()
	if size < packHeaderSize+packTrailerSize {
		return nil, nil, fmt.Errorf("%w: pack too short: %d bytes", ErrFormat, size)
	}
	if int64(int(size)) != size {
		return nil, nil, fmt.Errorf("%w: pack too large to map: %d bytes", ErrFormat, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: mmap: %w", ErrIO, err)
	}
	return data, func() error { return unix.Munmap(data) }, nil
}
