// Package chunked provides the small ranged-reader primitives the rest of
// waterfall composes to move plaintext in and out of containers without
// ever materializing a whole file in memory: a chunk-producing interface,
// lazy openers keyed by byte range, an omit-stream adapter that trims a
// chunk-rounded read down to the caller's exact request, and a
// concatenator that stitches several ranged leaves into one linear read.
package chunked

import (
	"io"
	"sort"

	"github.com/cascadefs/waterfall/internal/errors"
)

// Chunked streams successive chunks of arbitrary size. Next returns
// io.EOF exactly at end-of-stream and never returns a nil chunk alongside
// a nil error.
type Chunked interface {
	Next() ([]byte, error)
}

// ByteRange is a half-open plaintext byte range [Lo, Hi).
type ByteRange struct {
	Lo, Hi int64
}

// Len returns the number of bytes the range covers.
func (r ByteRange) Len() int64 { return r.Hi - r.Lo }

// Empty reports whether the range covers zero bytes.
func (r ByteRange) Empty() bool { return r.Hi <= r.Lo }

// Intersect returns the overlap of r and o, and false if they do not
// overlap (or either is empty).
func (r ByteRange) Intersect(o ByteRange) (ByteRange, bool) {
	lo := r.Lo
	if o.Lo > lo {
		lo = o.Lo
	}
	hi := r.Hi
	if o.Hi < hi {
		hi = o.Hi
	}
	if hi <= lo {
		return ByteRange{}, false
	}
	return ByteRange{Lo: lo, Hi: hi}, true
}

// RoundOutward expands r to the smallest multiple-of-chunkSize-aligned
// range that contains it, and returns the prefix to skip and the total
// byte count to keep once the rounded range has been read and decrypted —
// the inputs an omit stream needs to trim back down to r.
func RoundOutward(r ByteRange, chunkSize int64) (rounded ByteRange, skipPrefix, totalAfterSkip int64) {
	lo := (r.Lo / chunkSize) * chunkSize
	hi := ((r.Hi + chunkSize - 1) / chunkSize) * chunkSize
	return ByteRange{Lo: lo, Hi: hi}, r.Lo - lo, r.Hi - r.Lo
}

// LazyOpen opens a fresh read cursor over the whole of some plaintext
// object. Implementations must support being called more than once, each
// call producing an independent reader.
type LazyOpen interface {
	Open() (io.Reader, error)
}

// RangeLazyOpen opens a fresh read cursor over a plaintext subrange,
// yielding exactly Hi-Lo bytes.
type RangeLazyOpen interface {
	OpenRange(r ByteRange) (io.Reader, error)
}

// Ranged reports the plaintext range an object covers.
type Ranged interface {
	Range() ByteRange
}

// Leaf is one component of a multi-chunked concatenation: it knows its own
// range and can open a reader over any subrange of it.
type Leaf interface {
	Ranged
	RangeLazyOpen
}

// NewOmitStream wraps inner, dropping the first skipPrefix bytes and
// capping the total bytes returned after that to totalAfterSkip. It never
// reads further from inner than needed to satisfy those bounds.
func NewOmitStream(inner io.Reader, skipPrefix, totalAfterSkip int64) io.Reader {
	return &omitStream{inner: inner, skip: skipPrefix, remaining: totalAfterSkip}
}

type omitStream struct {
	inner     io.Reader
	skip      int64
	remaining int64
}

func (o *omitStream) Read(p []byte) (int, error) {
	for o.skip > 0 {
		n := int64(len(p))
		if n > o.skip {
			n = o.skip
		}
		if n == 0 {
			n = 1
		}
		read, err := o.inner.Read(p[:n])
		o.skip -= int64(read)
		if err != nil {
			return 0, err
		}
	}

	if o.remaining <= 0 {
		return 0, io.EOF
	}

	max := int64(len(p))
	if max > o.remaining {
		max = o.remaining
	}

	n, err := o.inner.Read(p[:max])
	o.remaining -= int64(n)
	return n, err
}

// Concatenator composes a sorted sequence of ranged leaves into one linear
// reader covering a requested plaintext range, transparently switching
// leaves as it reads. Leaves whose range does not intersect the request
// are skipped entirely; a leaf that only partially overlaps is opened with
// just the intersection.
type Concatenator struct {
	leaves  []Leaf
	request ByteRange
	idx     int
	covered int64
	cur     io.Reader
}

// NewConcatenator builds a Concatenator over leaves for the given
// request range. leaves need not be pre-sorted; NewConcatenator sorts a
// copy by each leaf's range start.
func NewConcatenator(leaves []Leaf, request ByteRange) *Concatenator {
	sorted := make([]Leaf, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Range().Lo < sorted[j].Range().Lo
	})

	return &Concatenator{leaves: sorted, request: request, covered: request.Lo}
}

func (c *Concatenator) Read(p []byte) (int, error) {
	if c.request.Empty() {
		return 0, io.EOF
	}

	for {
		if c.cur == nil {
			if err := c.advance(); err != nil {
				return 0, err
			}
		}

		n, err := c.cur.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			c.cur = nil
			continue
		}
		if err != nil {
			return 0, err
		}
	}
}

// advance opens the next leaf intersecting the unread tail of the
// request, or returns io.EOF if the request has been fully covered, or
// errors.ErrUnexpectedEOF if the leaves run out before it has been.
func (c *Concatenator) advance() error {
	if c.covered >= c.request.Hi {
		return io.EOF
	}

	for c.idx < len(c.leaves) {
		leaf := c.leaves[c.idx]
		c.idx++

		inter, ok := leaf.Range().Intersect(ByteRange{Lo: c.covered, Hi: c.request.Hi})
		if !ok {
			continue
		}

		r, err := leaf.OpenRange(inter)
		if err != nil {
			return errors.Wrap(err, "OpenRange")
		}

		c.cur = r
		c.covered = inter.Hi
		return nil
	}

	return errors.ErrUnexpectedEOF
}

// WithCancel wraps inner so that Next returns cancelErr, instead of
// calling through, once isRunning reports false — checked once per chunk,
// which is how cipher streams and decrypt streams unwind within one
// chunk's worth of I/O of a stop request.
func WithCancel(inner Chunked, isRunning func() bool, cancelErr error) Chunked {
	return &cancelChunked{inner: inner, isRunning: isRunning, err: cancelErr}
}

type cancelChunked struct {
	inner     Chunked
	isRunning func() bool
	err       error
}

func (c *cancelChunked) Next() ([]byte, error) {
	if !c.isRunning() {
		return nil, c.err
	}
	return c.inner.Next()
}

// ChunkReader adapts a Chunked into an io.Reader, buffering the remainder
// of a chunk across Read calls that don't consume it whole.
type ChunkReader struct {
	src  Chunked
	buf  []byte
	done bool
}

// NewChunkReader wraps src as an io.Reader.
func NewChunkReader(src Chunked) *ChunkReader {
	return &ChunkReader{src: src}
}

func (c *ChunkReader) Read(p []byte) (int, error) {
	if len(c.buf) == 0 {
		if c.done {
			return 0, io.EOF
		}
		chunk, err := c.src.Next()
		if err == io.EOF {
			c.done = true
			return 0, io.EOF
		}
		if err != nil {
			return 0, err
		}
		c.buf = chunk
	}

	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}
