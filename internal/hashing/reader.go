// Package hashing provides a reader that feeds everything it reads
// through a hash.Hash, so callers can checksum a stream in the same pass
// they copy it instead of buffering twice.
package hashing

import (
	"hash"
	"io"
)

// Reader hashes all data read from the underlying reader.
type Reader struct {
	io.Reader
	h hash.Hash
}

// NewReader returns a new Reader that hashes everything read from r using
// h. Using the returned reader and calling Sum() after reading io.EOF
// gives a hash value for the read data.
func NewReader(r io.Reader, h hash.Hash) *Reader {
	return &Reader{
		Reader: io.TeeReader(r, h),
		h:      h,
	}
}

// Sum returns the hash of the data read so far.
func (h *Reader) Sum(d []byte) []byte {
	return h.h.Sum(d)
}
