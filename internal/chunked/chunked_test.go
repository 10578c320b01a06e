package chunked

import (
	"bytes"
	"io"
	"testing"

	"github.com/cascadefs/waterfall/internal/rtest"
)

func TestByteRangeIntersect(t *testing.T) {
	a := ByteRange{Lo: 0, Hi: 10}
	b := ByteRange{Lo: 5, Hi: 15}
	inter, ok := a.Intersect(b)
	rtest.Assert(t, ok, "expected overlap")
	rtest.Equals(t, ByteRange{Lo: 5, Hi: 10}, inter)

	c := ByteRange{Lo: 10, Hi: 20}
	_, ok = a.Intersect(c)
	rtest.Assert(t, !ok, "adjacent ranges must not intersect")
}

func TestRoundOutward(t *testing.T) {
	rounded, skip, total := RoundOutward(ByteRange{Lo: 5, Hi: 23}, 10)
	rtest.Equals(t, ByteRange{Lo: 0, Hi: 30}, rounded)
	rtest.Equals(t, int64(5), skip)
	rtest.Equals(t, int64(18), total)
}

func TestOmitStream(t *testing.T) {
	inner := bytes.NewReader([]byte("0123456789abcdef"))
	o := NewOmitStream(inner, 4, 6)

	got, err := io.ReadAll(o)
	rtest.OK(t, err)
	rtest.Equals(t, "456789", string(got))
}

func TestOmitStreamNeverReadsPastBound(t *testing.T) {
	inner := &countingReader{data: []byte("0123456789")}
	o := NewOmitStream(inner, 2, 3)

	got, err := io.ReadAll(o)
	rtest.OK(t, err)
	rtest.Equals(t, "234", string(got))
	rtest.Assert(t, inner.readCalls <= 3, "omit stream over-read: %d Read calls for 5 useful bytes", inner.readCalls)
}

type countingReader struct {
	data      []byte
	pos       int
	readCalls int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.readCalls++
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	n := copy(p, c.data[c.pos:])
	c.pos += n
	return n, nil
}

type fakeLeaf struct {
	r    ByteRange
	data []byte // plaintext for r.Lo..r.Hi, indexed from 0
}

func (f *fakeLeaf) Range() ByteRange { return f.r }

func (f *fakeLeaf) OpenRange(req ByteRange) (io.Reader, error) {
	start := req.Lo - f.r.Lo
	end := req.Hi - f.r.Lo
	return bytes.NewReader(f.data[start:end]), nil
}

func TestConcatenatorSingleLeaf(t *testing.T) {
	leaf := &fakeLeaf{r: ByteRange{Lo: 0, Hi: 10}, data: []byte("0123456789")}
	c := NewConcatenator([]Leaf{leaf}, ByteRange{Lo: 2, Hi: 8})

	got, err := io.ReadAll(c)
	rtest.OK(t, err)
	rtest.Equals(t, "234567", string(got))
}

func TestConcatenatorMultipleLeavesInOrder(t *testing.T) {
	leafB := &fakeLeaf{r: ByteRange{Lo: 10, Hi: 20}, data: []byte("bbbbbbbbbb")}
	leafA := &fakeLeaf{r: ByteRange{Lo: 0, Hi: 10}, data: []byte("aaaaaaaaaa")}

	// leaves passed out of order; Concatenator must sort them.
	c := NewConcatenator([]Leaf{leafB, leafA}, ByteRange{Lo: 5, Hi: 15})

	got, err := io.ReadAll(c)
	rtest.OK(t, err)
	rtest.Equals(t, "aaaaabbbbb", string(got))
}

func TestConcatenatorSkipsNonIntersectingLeaves(t *testing.T) {
	leafA := &fakeLeaf{r: ByteRange{Lo: 0, Hi: 10}, data: []byte("aaaaaaaaaa")}
	leafB := &fakeLeaf{r: ByteRange{Lo: 10, Hi: 20}, data: []byte("bbbbbbbbbb")}
	leafC := &fakeLeaf{r: ByteRange{Lo: 20, Hi: 30}, data: []byte("cccccccccc")}

	c := NewConcatenator([]Leaf{leafA, leafB, leafC}, ByteRange{Lo: 20, Hi: 25})

	got, err := io.ReadAll(c)
	rtest.OK(t, err)
	rtest.Equals(t, "ccccc", string(got))
}

func TestConcatenatorEmptyRangeOpensNoLeaf(t *testing.T) {
	leaf := &countingOpenLeaf{fakeLeaf: fakeLeaf{r: ByteRange{Lo: 0, Hi: 10}, data: []byte("0123456789")}}
	c := NewConcatenator([]Leaf{leaf}, ByteRange{Lo: 5, Hi: 5})

	got, err := io.ReadAll(c)
	rtest.OK(t, err)
	rtest.Equals(t, "", string(got))
	rtest.Equals(t, 0, leaf.opens)
}

type countingOpenLeaf struct {
	fakeLeaf
	opens int
}

func (c *countingOpenLeaf) OpenRange(req ByteRange) (io.Reader, error) {
	c.opens++
	return c.fakeLeaf.OpenRange(req)
}

func TestConcatenatorPastEndFails(t *testing.T) {
	leaf := &fakeLeaf{r: ByteRange{Lo: 0, Hi: 10}, data: []byte("0123456789")}
	c := NewConcatenator([]Leaf{leaf}, ByteRange{Lo: 0, Hi: 20})

	_, err := io.ReadAll(c)
	rtest.Assert(t, err != nil, "expected error reading past the available leaves")
}

type nextOnlyChunked struct {
	chunks [][]byte
	i      int
}

func (n *nextOnlyChunked) Next() ([]byte, error) {
	if n.i >= len(n.chunks) {
		return nil, io.EOF
	}
	c := n.chunks[n.i]
	n.i++
	return c, nil
}

func TestChunkReader(t *testing.T) {
	src := &nextOnlyChunked{chunks: [][]byte{[]byte("ab"), []byte("cde"), []byte("f")}}
	r := NewChunkReader(src)

	got, err := io.ReadAll(r)
	rtest.OK(t, err)
	rtest.Equals(t, "abcdef", string(got))
}

func TestChunkReaderSmallReads(t *testing.T) {
	src := &nextOnlyChunked{chunks: [][]byte{[]byte("abcdef")}}
	r := NewChunkReader(src)

	buf := make([]byte, 2)
	var out []byte
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		rtest.OK(t, err)
	}
	rtest.Equals(t, "abcdef", string(out))
}
