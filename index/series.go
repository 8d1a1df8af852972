package index

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// SampleSize is the size in bytes of one sample.
const SampleSize = 4

// Series is a sampled stat ranking. Element i approximates the value held at
// source rank i*stride. A committed Series is never modified.
type Series []int32

// Bytes returns the memory held by the samples.
func (s Series) Bytes() int64 { return int64(len(s)) * SampleSize }

// Validate returns an error if the series is not non-increasing.
func (s Series) Validate() error {
	for i := 1; i < len(s); i++ {
		if s[i] > s[i-1] {
			return fmt.Errorf("series not descending at sample %d: %d > %d", i, s[i], s[i-1])
		}
	}
	return nil
}

// Checksum returns the xxhash of the little-endian encoding of s, which is
// also the content of its persisted file.
func (s Series) Checksum() uint64 {
	d := xxhash.New()
	var buf [4096]byte
	for len(s) > 0 {
		n := len(s)
		if n > len(buf)/SampleSize {
			n = len(buf) / SampleSize
		}
		for i, v := range s[:n] {
			binary.LittleEndian.PutUint32(buf[i*SampleSize:], uint32(v))
		}
		d.Write(buf[:n*SampleSize])
		s = s[n:]
	}
	return d.Sum64()
}
