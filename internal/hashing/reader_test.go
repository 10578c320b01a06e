package hashing

import (
	"bytes"
	"crypto/sha256"
	"io"
	"testing"

	"github.com/cascadefs/waterfall/internal/rtest"
)

func TestReaderHashesWhatItReads(t *testing.T) {
	for _, size := range []int{5, 23, 2<<18 + 23, 1 << 20} {
		data := rtest.Random(size, size)
		expected := sha256.Sum256(data)

		rd := NewReader(bytes.NewReader(data), sha256.New())
		n, err := io.Copy(io.Discard, rd)
		rtest.OK(t, err)
		rtest.Equals(t, int64(size), n)
		rtest.Equals(t, expected[:], rd.Sum(nil))
	}
}
