// Package container implements the byte-range/padded-chunk arithmetic a
// container is packed and unpacked by, and the data types recording a
// container once its upload is finalized.
package container

import (
	"encoding/hex"
	"encoding/json"

	"github.com/cascadefs/waterfall/internal/chunked"
	"github.com/cascadefs/waterfall/internal/crypto"
	"github.com/cascadefs/waterfall/internal/errors"
)

// Params describes the chunk and container sizing an upload was started
// with.
type Params struct {
	// ChunkSize is the on-wire size of every chunk, including the 28-byte
	// AEAD overhead.
	ChunkSize int64
	// ContainerCap is the tier's maximum attachment size in bytes.
	ContainerCap int64
}

// PayloadPerChunk returns p = ChunkSize - crypto.Overhead.
func (p Params) PayloadPerChunk() int64 {
	return p.ChunkSize - crypto.Overhead
}

// MaxChunksPerContainer returns k = floor(ContainerCap / ChunkSize).
func (p Params) MaxChunksPerContainer() int64 {
	return p.ContainerCap / p.ChunkSize
}

// MaxPayloadPerContainer returns K = k * p, the largest plaintext range a
// single container under these params can hold.
func (p Params) MaxPayloadPerContainer() int64 {
	return p.MaxChunksPerContainer() * p.PayloadPerChunk()
}

// ChunkCount returns the number of on-wire chunks a range of this size
// packs into, i.e. ceil(len(r) / PayloadPerChunk()).
func (p Params) ChunkCount(r chunked.ByteRange) int64 {
	n := r.Len()
	per := p.PayloadPerChunk()
	return (n + per - 1) / per
}

// PaddedWireSize returns the total on-wire byte size of r once chunked and
// encrypted, including zero-padding in the final chunk.
func (p Params) PaddedWireSize(r chunked.ByteRange) int64 {
	return p.ChunkCount(r) * p.ChunkSize
}

// validate checks that p can hold at least one chunk.
func (p Params) validate() error {
	if p.ChunkSize <= crypto.Overhead {
		return errors.Errorf("container: chunk size %d too small for %d bytes of overhead", p.ChunkSize, crypto.Overhead)
	}
	if p.MaxChunksPerContainer() <= 0 {
		return errors.Errorf("container: container cap %d cannot hold even one chunk of size %d", p.ContainerCap, p.ChunkSize)
	}
	return nil
}

// Split partitions a plaintext of the given size into the byte ranges one
// container each will cover: ceil(size/K) ranges of at most
// MaxPayloadPerContainer bytes each, the last one possibly shorter.
func Split(size int64, p Params) ([]chunked.ByteRange, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	capacity := p.MaxPayloadPerContainer()

	var ranges []chunked.ByteRange
	for lo := int64(0); lo < size; lo += capacity {
		hi := lo + capacity
		if hi > size {
			hi = size
		}
		ranges = append(ranges, chunked.ByteRange{Lo: lo, Hi: hi})
	}
	return ranges, nil
}

// CheckOversize fails with errors.ErrOversize if chunkCount chunks of
// chunkSize bytes each would exceed tierCap.
func CheckOversize(chunkCount, chunkSize, tierCap int64) error {
	if chunkCount*chunkSize > tierCap {
		return errors.ErrOversize
	}
	return nil
}

// PartialContainer is a container that has a freshly derived key and a
// target range, but has not yet been uploaded.
type PartialContainer struct {
	Salt  []byte
	Key   *crypto.Key
	Range chunked.ByteRange
	Chunk int64 // chunk size this container was packed with
}

// NewPartialContainer derives a fresh salt and container key for a new
// container covering r.
func NewPartialContainer(password string, r chunked.ByteRange, chunkSize int64) (*PartialContainer, error) {
	salt := crypto.NewSalt()
	key, err := crypto.DerivePBKDF2(password, salt)
	if err != nil {
		return nil, err
	}
	return &PartialContainer{Salt: salt, Key: key, Range: r, Chunk: chunkSize}, nil
}

// Finalize records the public URL and true chunk count once the upload of
// this container has completed.
func (pc *PartialContainer) Finalize(publicURL string, chunkCount int64) Container {
	return Container{
		StorageURL: publicURL,
		ChunkSize:  pc.Chunk,
		ChunkCount: chunkCount,
		Salt:       pc.Salt,
		Range:      pc.Range,
	}
}

// Container is one finalized, uploaded container, as recorded in the
// manifest.
type Container struct {
	StorageURL string            `json:"storage_url"`
	ChunkSize  int64             `json:"chunk_size"`
	ChunkCount int64             `json:"chunk_count"`
	Salt       []byte            `json:"-"`
	Range      chunked.ByteRange `json:"bytes_range"`
}

// manifestContainer is Container's JSON wire shape: the manifest records
// salt as lowercase hex, not raw bytes.
type manifestContainer struct {
	StorageURL string            `json:"storage_url"`
	ChunkSize  int64             `json:"chunk_size"`
	ChunkCount int64             `json:"chunk_count"`
	Salt       string            `json:"salt"`
	Range      chunked.ByteRange `json:"bytes_range"`
}

// MarshalJSON encodes Container per the manifest's container entry shape,
// hex-encoding the salt.
func (c Container) MarshalJSON() ([]byte, error) {
	return json.Marshal(manifestContainer{
		StorageURL: c.StorageURL,
		ChunkSize:  c.ChunkSize,
		ChunkCount: c.ChunkCount,
		Salt:       hex.EncodeToString(c.Salt),
		Range:      c.Range,
	})
}

// UnmarshalJSON decodes Container from the manifest's container entry
// shape, hex-decoding the salt.
func (c *Container) UnmarshalJSON(data []byte) error {
	var m manifestContainer
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrap(err, "unmarshal container")
	}

	salt, err := hex.DecodeString(m.Salt)
	if err != nil {
		return errors.Wrap(err, "decode container salt")
	}

	c.StorageURL = m.StorageURL
	c.ChunkSize = m.ChunkSize
	c.ChunkCount = m.ChunkCount
	c.Salt = salt
	c.Range = m.Range
	return nil
}
