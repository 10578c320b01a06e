package crypto

import (
	"io"

	"github.com/cascadefs/waterfall/internal/errors"
)

// StreamCipher wraps an inner plaintext reader and a Key, producing
// fixed-size encrypted chunks. Each call to Next reads exactly
// chunkSize-Overhead plaintext bytes from the inner reader (zero-padding a
// short final read), then seals the chunk in place, so every chunk it
// returns is exactly chunkSize bytes. This is the Chunked implementation
// the container uploader (internal/upload) wraps its ranged plaintext
// reader in before handing it to a transport PUT.
type StreamCipher struct {
	inner     io.Reader
	key       *Key
	chunkSize int
	buf       []byte
	done      bool
}

// NewStreamCipher constructs a StreamCipher. chunkSize must be larger than
// Overhead.
func NewStreamCipher(inner io.Reader, key *Key, chunkSize int) (*StreamCipher, error) {
	if chunkSize <= Overhead {
		return nil, errors.Errorf("crypto: chunk size %d too small, must exceed overhead %d", chunkSize, Overhead)
	}
	return &StreamCipher{
		inner:     inner,
		key:       key,
		chunkSize: chunkSize,
		buf:       make([]byte, chunkSize),
	}, nil
}

// Next returns the next encrypted chunk, or nil, io.EOF once the inner
// reader has been fully drained. It never returns a short chunk: the final
// chunk of a stream is always chunkSize bytes, zero-padded past the
// plaintext's true length. Callers must track the true plaintext length
// themselves (the container packer does, via bytes_range) to discard that
// padding on decrypt.
func (s *StreamCipher) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	payload := s.buf[NonceSize : s.chunkSize-TagSize]
	for i := range payload {
		payload[i] = 0
	}

	n, err := io.ReadFull(s.inner, payload)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.Wrap(err, "ReadFull")
	}

	if n == 0 && (err == io.EOF) {
		s.done = true
		return nil, io.EOF
	}

	if n < len(payload) {
		// short final read: the rest of payload stays zeroed (padding).
		s.done = true
	}

	if encErr := s.key.Encrypt(s.buf); encErr != nil {
		return nil, encErr
	}

	out := make([]byte, s.chunkSize)
	copy(out, s.buf)
	return out, nil
}
