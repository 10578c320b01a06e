package container

import (
	"encoding/json"
	"testing"

	"github.com/cascadefs/waterfall/internal/chunked"
	"github.com/cascadefs/waterfall/internal/errors"
	"github.com/cascadefs/waterfall/internal/rtest"
)

func TestParamsArithmetic(t *testing.T) {
	p := Params{ChunkSize: 65536, ContainerCap: 25 * 1024 * 1024}

	rtest.Equals(t, int64(65536-28), p.PayloadPerChunk())
	rtest.Equals(t, p.ContainerCap/p.ChunkSize, p.MaxChunksPerContainer())
	rtest.Equals(t, p.MaxChunksPerContainer()*p.PayloadPerChunk(), p.MaxPayloadPerContainer())
}

func TestSplitSmallFileSingleContainer(t *testing.T) {
	p := Params{ChunkSize: 4096, ContainerCap: 1024 * 1024}

	ranges, err := Split(11, p)
	rtest.OK(t, err)
	rtest.Equals(t, 1, len(ranges))
	rtest.Equals(t, chunked.ByteRange{Lo: 0, Hi: 11}, ranges[0])
}

func TestSplitMultiContainer(t *testing.T) {
	p := Params{ChunkSize: 65536, ContainerCap: 25 * 1024 * 1024}
	size := int64(30 * 1024 * 1024)

	ranges, err := Split(size, p)
	rtest.OK(t, err)
	rtest.Equals(t, 2, len(ranges))

	rtest.Equals(t, int64(0), ranges[0].Lo)
	rtest.Equals(t, p.MaxPayloadPerContainer(), ranges[0].Hi)
	rtest.Equals(t, ranges[0].Hi, ranges[1].Lo)
	rtest.Equals(t, size, ranges[1].Hi)
}

func TestSplitPartitionsWithNoGapsOrOverlap(t *testing.T) {
	p := Params{ChunkSize: 1000, ContainerCap: 3500}
	size := int64(10007)

	ranges, err := Split(size, p)
	rtest.OK(t, err)

	var cursor int64
	for _, r := range ranges {
		rtest.Equals(t, cursor, r.Lo)
		cursor = r.Hi
	}
	rtest.Equals(t, size, cursor)
}

func TestSplitEmptyFileYieldsNoContainers(t *testing.T) {
	p := Params{ChunkSize: 4096, ContainerCap: 1024 * 1024}

	ranges, err := Split(0, p)
	rtest.OK(t, err)
	rtest.Equals(t, 0, len(ranges))
}

func TestSplitRejectsChunkSizeBelowOverhead(t *testing.T) {
	p := Params{ChunkSize: 20, ContainerCap: 1024}
	_, err := Split(100, p)
	rtest.Assert(t, err != nil, "expected error for chunk size below AEAD overhead")
}

func TestSplitRejectsContainerSmallerThanOneChunk(t *testing.T) {
	p := Params{ChunkSize: 4096, ContainerCap: 100}
	_, err := Split(1000, p)
	rtest.Assert(t, err != nil, "expected error when container cap can't fit even one chunk")
}

func TestCheckOversize(t *testing.T) {
	err := CheckOversize(10, 65536, 25*1024*1024)
	rtest.OK(t, err)

	err = CheckOversize(1000, 65536, 25*1024*1024)
	rtest.Assert(t, errors.Is(err, errors.ErrOversize), "expected ErrOversize")
}

func TestPaddedWireSize(t *testing.T) {
	p := Params{ChunkSize: 100, ContainerCap: 100000}
	r := chunked.ByteRange{Lo: 0, Hi: 250}

	// payload per chunk = 72; ceil(250/72) = 4 chunks -> 400 bytes on wire.
	rtest.Equals(t, int64(4), p.ChunkCount(r))
	rtest.Equals(t, int64(400), p.PaddedWireSize(r))
}

func TestPartialContainerFinalizeRoundtripsThroughJSON(t *testing.T) {
	pc, err := NewPartialContainer("hunter2", chunked.ByteRange{Lo: 0, Hi: 100}, 4096)
	rtest.OK(t, err)

	c := pc.Finalize("https://example.invalid/a", 1)

	data, err := json.Marshal(c)
	rtest.OK(t, err)

	var back Container
	rtest.OK(t, json.Unmarshal(data, &back))

	rtest.Equals(t, c.StorageURL, back.StorageURL)
	rtest.Equals(t, c.ChunkSize, back.ChunkSize)
	rtest.Equals(t, c.ChunkCount, back.ChunkCount)
	rtest.Equals(t, c.Range, back.Range)
	rtest.Equals(t, c.Salt, back.Salt)
}

func TestContainerJSONShape(t *testing.T) {
	pc, err := NewPartialContainer("hunter2", chunked.ByteRange{Lo: 5, Hi: 10}, 4096)
	rtest.OK(t, err)
	c := pc.Finalize("https://example.invalid/b", 1)

	data, err := json.Marshal(c)
	rtest.OK(t, err)

	var raw map[string]interface{}
	rtest.OK(t, json.Unmarshal(data, &raw))

	for _, key := range []string{"storage_url", "chunk_size", "chunk_count", "salt", "bytes_range"} {
		_, ok := raw[key]
		rtest.Assert(t, ok, "manifest container JSON missing key %q", key)
	}

	br, ok := raw["bytes_range"].([]interface{})
	rtest.Assert(t, ok, "bytes_range was not a JSON array")
	rtest.Equals(t, 2, len(br))
}
