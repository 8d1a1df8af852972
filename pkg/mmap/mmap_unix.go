//go:build unix

// Package mmap maps files read-only into memory.
package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

// Map memory-maps the file at path. An empty file maps to a nil slice.
func Map(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	} else if fi.Size() == 0 {
		return nil, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	// Series files are consumed front to back exactly once.
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)
	return data, nil
}

// Unmap releases a mapping returned by Map.
func Unmap(data []byte) error {
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}
