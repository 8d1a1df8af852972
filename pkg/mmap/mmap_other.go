//go:build !unix

package mmap

import "os"

// Map reads the file at path into memory on platforms without mmap support.
func Map(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil, err
	}
	return data, nil
}

// Unmap is a no-op for data returned by Map.
func Unmap(data []byte) error { return nil }
