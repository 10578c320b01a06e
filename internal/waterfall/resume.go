package waterfall

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"

	"github.com/cascadefs/waterfall/internal/chunked"
	"github.com/cascadefs/waterfall/internal/container"
	"github.com/cascadefs/waterfall/internal/errors"
	"github.com/cascadefs/waterfall/internal/hashing"
)

// ResumeBlob is the state a paused or interrupted upload is re-entered
// from: the manifest-under-construction plus the integrity witnesses
// needed to confirm the source file hasn't changed since.
type ResumeBlob struct {
	FilePath            string
	FileSize            int64
	FileHash            []byte // SHA-256 over the plaintext
	ChunkSize           int64
	ContainerSize       int64
	ContainersCompleted []container.Container
	RemainingRanges     []chunked.ByteRange
	ThreadCount         int
}

type resumeBlobWire struct {
	FilePath            string                `json:"file_path"`
	FileSize            int64                 `json:"file_size"`
	FileHash            string                `json:"file_hash"`
	ChunkSize           int64                 `json:"chunk_size"`
	ContainerSize       int64                 `json:"container_size"`
	ContainersCompleted []container.Container `json:"containers_completed"`
	RemainingRanges     []chunked.ByteRange   `json:"remaining_ranges"`
	ThreadCount         int                   `json:"thread_count"`
}

// MarshalJSON encodes the resume blob, hex-encoding FileHash.
func (r ResumeBlob) MarshalJSON() ([]byte, error) {
	return json.Marshal(resumeBlobWire{
		FilePath:            r.FilePath,
		FileSize:            r.FileSize,
		FileHash:            hex.EncodeToString(r.FileHash),
		ChunkSize:           r.ChunkSize,
		ContainerSize:       r.ContainerSize,
		ContainersCompleted: r.ContainersCompleted,
		RemainingRanges:     r.RemainingRanges,
		ThreadCount:         r.ThreadCount,
	})
}

// UnmarshalJSON decodes a resume blob, hex-decoding FileHash.
func (r *ResumeBlob) UnmarshalJSON(data []byte) error {
	var w resumeBlobWire
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Wrap(err, "unmarshal resume blob")
	}

	hash, err := hex.DecodeString(w.FileHash)
	if err != nil {
		return errors.Wrap(err, "decode resume blob file_hash")
	}

	r.FilePath = w.FilePath
	r.FileSize = w.FileSize
	r.FileHash = hash
	r.ChunkSize = w.ChunkSize
	r.ContainerSize = w.ContainerSize
	r.ContainersCompleted = w.ContainersCompleted
	r.RemainingRanges = w.RemainingRanges
	r.ThreadCount = w.ThreadCount
	return nil
}

// HashFile returns the SHA-256 digest of everything read from f.
func HashFile(f io.Reader) ([]byte, error) {
	hr := hashing.NewReader(f, sha256.New())
	if _, err := io.Copy(io.Discard, hr); err != nil {
		return nil, errors.Wrap(err, "hash file")
	}
	return hr.Sum(nil), nil
}

// ValidateAgainst checks a resume blob against the live file's current
// size and hash, failing with errors.ErrResumeStale on any mismatch —
// the re-entry contract a resumed upload must satisfy before its FIFO and
// finalized-container list are trusted.
func (r *ResumeBlob) ValidateAgainst(liveSize int64, liveHash []byte) error {
	if liveSize != r.FileSize || !bytes.Equal(liveHash, r.FileHash) {
		return errors.ErrResumeStale
	}
	return nil
}

// Encode serializes the resume blob as indented JSON.
func (r *ResumeBlob) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal resume blob")
	}
	return data, nil
}

// DecodeResumeBlob parses a resume blob.
func DecodeResumeBlob(data []byte) (*ResumeBlob, error) {
	var r ResumeBlob
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "unmarshal resume blob")
	}
	return &r, nil
}
