package waterfall

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/cascadefs/waterfall/internal/chunked"
	"github.com/cascadefs/waterfall/internal/container"
	"github.com/cascadefs/waterfall/internal/errors"
	"github.com/cascadefs/waterfall/internal/rtest"
)

func makeContainer(t *testing.T, r chunked.ByteRange) container.Container {
	pc, err := container.NewPartialContainer("pw", r, 4096)
	rtest.OK(t, err)
	return pc.Finalize("https://example.invalid/x", 1)
}

func TestManifestValidateAcceptsPartition(t *testing.T) {
	m := &Manifest{
		Filename: "file.bin",
		Size:     30,
		Containers: []container.Container{
			makeContainer(t, chunked.ByteRange{Lo: 10, Hi: 30}),
			makeContainer(t, chunked.ByteRange{Lo: 0, Hi: 10}),
		},
	}

	rtest.OK(t, m.Validate())
	rtest.Equals(t, int64(0), m.Containers[0].Range.Lo)
}

func TestManifestValidateDetectsGap(t *testing.T) {
	m := &Manifest{
		Size: 30,
		Containers: []container.Container{
			makeContainer(t, chunked.ByteRange{Lo: 0, Hi: 10}),
			makeContainer(t, chunked.ByteRange{Lo: 15, Hi: 30}),
		},
	}
	rtest.Assert(t, m.Validate() != nil, "expected gap to be detected")
}

func TestManifestValidateDetectsOverlap(t *testing.T) {
	m := &Manifest{
		Size: 30,
		Containers: []container.Container{
			makeContainer(t, chunked.ByteRange{Lo: 0, Hi: 20}),
			makeContainer(t, chunked.ByteRange{Lo: 15, Hi: 30}),
		},
	}
	rtest.Assert(t, m.Validate() != nil, "expected overlap to be detected")
}

func TestManifestValidateDetectsShortCoverage(t *testing.T) {
	m := &Manifest{
		Size: 30,
		Containers: []container.Container{
			makeContainer(t, chunked.ByteRange{Lo: 0, Hi: 20}),
		},
	}
	rtest.Assert(t, m.Validate() != nil, "expected short coverage to be detected")
}

func TestManifestEncodeDecodeRoundtrip(t *testing.T) {
	m := &Manifest{
		Filename: "notes.txt",
		Size:     11,
		Password: "hunter2",
		Containers: []container.Container{
			makeContainer(t, chunked.ByteRange{Lo: 0, Hi: 11}),
		},
	}

	data, err := m.Encode()
	rtest.OK(t, err)

	back, err := Decode(data)
	rtest.OK(t, err)

	rtest.Equals(t, m.Filename, back.Filename)
	rtest.Equals(t, m.Size, back.Size)
	rtest.Equals(t, m.Password, back.Password)
	rtest.Equals(t, 1, len(back.Containers))
	rtest.Equals(t, m.Containers[0].Range, back.Containers[0].Range)
}

func TestManifestJSONFieldNames(t *testing.T) {
	m := &Manifest{
		Filename: "a.bin",
		Size:     5,
		Containers: []container.Container{
			makeContainer(t, chunked.ByteRange{Lo: 0, Hi: 5}),
		},
	}

	data, err := m.Encode()
	rtest.OK(t, err)

	var raw map[string]interface{}
	rtest.OK(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"filename", "size", "password", "containers"} {
		_, ok := raw[key]
		rtest.Assert(t, ok, "manifest JSON missing key %q", key)
	}
	_, hasTree := raw["tree"]
	rtest.Assert(t, !hasTree, "single-file manifest should omit tree key")
}

func TestResumeBlobRoundtrip(t *testing.T) {
	rb := &ResumeBlob{
		FilePath:      "/tmp/foo.bin",
		FileSize:      1000,
		FileHash:      rtest.Random(1, 32),
		ChunkSize:     65536,
		ContainerSize: 25 * 1024 * 1024,
		ContainersCompleted: []container.Container{
			makeContainer(t, chunked.ByteRange{Lo: 0, Hi: 500}),
		},
		RemainingRanges: []chunked.ByteRange{{Lo: 500, Hi: 1000}},
		ThreadCount:     4,
	}

	data, err := rb.Encode()
	rtest.OK(t, err)

	back, err := DecodeResumeBlob(data)
	rtest.OK(t, err)

	rtest.Equals(t, rb.FilePath, back.FilePath)
	rtest.Equals(t, rb.FileSize, back.FileSize)
	rtest.Equals(t, rb.FileHash, back.FileHash)
	rtest.Equals(t, rb.RemainingRanges, back.RemainingRanges)
	rtest.Equals(t, 1, len(back.ContainersCompleted))
}

func TestResumeBlobValidateAgainstDetectsStaleness(t *testing.T) {
	rb := &ResumeBlob{FileSize: 1000, FileHash: []byte{1, 2, 3}}

	rtest.OK(t, rb.ValidateAgainst(1000, []byte{1, 2, 3}))

	err := rb.ValidateAgainst(999, []byte{1, 2, 3})
	rtest.Assert(t, errors.Is(err, errors.ErrResumeStale), "expected ErrResumeStale on size mismatch")

	err = rb.ValidateAgainst(1000, []byte{9, 9, 9})
	rtest.Assert(t, errors.Is(err, errors.ErrResumeStale), "expected ErrResumeStale on hash mismatch")
}

func TestHashFileDeterministic(t *testing.T) {
	data := rtest.Random(5, 4096)
	h1, err := HashFile(bytes.NewReader(data))
	rtest.OK(t, err)
	h2, err := HashFile(bytes.NewReader(data))
	rtest.OK(t, err)
	rtest.Equals(t, h1, h2)
}
