//go:build !unix

package object

import (
	"errors"
	"fmt"
	"os"
)

// mapPackFile reads the whole pack on platforms without mmap support.
func mapPackFile(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if len(data) < packHeaderSize+packTrailerSize {
		return nil, nil, fmt.Errorf("%w: pack too short: %d bytes", ErrFormat, len(data))
	}
	return data, func() error { return nil }, nil
}
