// Package download implements the ranged downloader (C9): a container
// opener that derives keys, issues ranged GETs, and decrypts chunks, plus
// a leaf adapter that lets internal/chunked's concatenator stitch many
// containers' worth of ciphertext into one linear plaintext reader.
package download

import (
	"context"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cascadefs/waterfall/internal/chunked"
	"github.com/cascadefs/waterfall/internal/container"
	"github.com/cascadefs/waterfall/internal/crypto"
	"github.com/cascadefs/waterfall/internal/errors"
)

// keyCacheSize bounds the container-key LRU: large enough to avoid
// re-deriving PBKDF2 keys for a manifest with a few dozen containers
// without holding every key from an enormous one in memory at once.
const keyCacheSize = 32

// RangedFetcher issues one ranged GET against a container's storage URL,
// returning exactly the byte subrange [lo, hi] (inclusive, matching HTTP
// Range semantics) requested. A non-206 response must be returned as an
// error so retry logic can act on it.
type RangedFetcher interface {
	FetchRange(ctx context.Context, storageURL string, lo, hi int64) (io.ReadCloser, error)
}

// ContainerOpener derives per-container keys (cached by salt) and issues
// retried ranged fetches, handing back decrypted, authenticated plaintext.
type ContainerOpener struct {
	fetcher    RangedFetcher
	password   string
	keyCache   *lru.Cache[string, *crypto.Key]
	maxElapsed time.Duration
	isRunning  func() bool
}

// NewContainerOpener builds a ContainerOpener. isRunning, if non-nil, is
// polled once per chunk so a cancellation unwinds a download within one
// chunk of I/O, matching the upload side's cancellation granularity.
func NewContainerOpener(fetcher RangedFetcher, password string, maxElapsed time.Duration, isRunning func() bool) (*ContainerOpener, error) {
	cache, err := lru.New[string, *crypto.Key](keyCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "lru.New")
	}
	if isRunning == nil {
		isRunning = func() bool { return true }
	}
	return &ContainerOpener{
		fetcher:    fetcher,
		password:   password,
		keyCache:   cache,
		maxElapsed: maxElapsed,
		isRunning:  isRunning,
	}, nil
}

func (o *ContainerOpener) key(salt []byte) (*crypto.Key, error) {
	cacheKey := string(salt)
	if key, ok := o.keyCache.Get(cacheKey); ok {
		return key, nil
	}

	key, err := crypto.DerivePBKDF2(o.password, salt)
	if err != nil {
		return nil, err
	}
	o.keyCache.Add(cacheKey, key)
	return key, nil
}

func (o *ContainerOpener) fetchWithRetry(storageURL string, lo, hi int64) (io.ReadCloser, error) {
	var body io.ReadCloser

	op := func() error {
		b, err := o.fetcher.FetchRange(context.Background(), storageURL, lo, hi)
		if err != nil {
			if errors.IsFatal(errors.Cause(err)) {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = o.maxElapsed

	if err := backoff.Retry(op, b); err != nil {
		if errors.IsFatal(errors.Cause(err)) {
			return nil, err
		}
		return nil, errors.Wrapf(errors.ErrUnavailable, "fetch %s [%d-%d]: %v", storageURL, lo, hi, err)
	}
	return body, nil
}

// Leaf returns a chunked.Leaf over c, backed by this opener's fetcher,
// key cache, and retry policy.
func (o *ContainerOpener) Leaf(c container.Container) *Leaf {
	return &Leaf{opener: o, c: c}
}

// Leaf adapts one finalized container into a chunked.Leaf.
type Leaf struct {
	opener *ContainerOpener
	c      container.Container
}

// Range reports the container's plaintext range, used by
// chunked.Concatenator to decide which leaves intersect a request.
func (l *Leaf) Range() chunked.ByteRange { return l.c.Range }

// OpenRange issues a ranged GET covering req (a plaintext subrange
// relative to the whole download, not this container), rounds it outward
// to whole chunks, decrypts each chunk it reads, and trims the result back
// to req with an omit stream.
func (l *Leaf) OpenRange(req chunked.ByteRange) (io.Reader, error) {
	local := chunked.ByteRange{Lo: req.Lo - l.c.Range.Lo, Hi: req.Hi - l.c.Range.Lo}
	if local.Empty() {
		return emptyReader{}, nil
	}

	payload := l.c.ChunkSize - crypto.Overhead
	rounded, skip, total := chunked.RoundOutward(local, payload)

	wireLo := (rounded.Lo / payload) * l.c.ChunkSize
	wireHi := (rounded.Hi / payload) * l.c.ChunkSize

	key, err := l.opener.key(l.c.Salt)
	if err != nil {
		return nil, err
	}

	body, err := l.opener.fetchWithRetry(l.c.StorageURL, wireLo, wireHi-1)
	if err != nil {
		return nil, err
	}

	ds := &decryptStream{body: body, key: key, chunkSize: l.c.ChunkSize}
	plain := chunked.NewChunkReader(chunked.WithCancel(ds, l.opener.isRunning, errors.ErrCancelled))
	return chunked.NewOmitStream(plain, skip, total), nil
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }

// decryptStream reads fixed-size ciphertext chunks from body, verifies
// and decrypts each in place, and yields just the plaintext payload.
type decryptStream struct {
	body      io.ReadCloser
	key       *crypto.Key
	chunkSize int64
}

func (d *decryptStream) Next() ([]byte, error) {
	buf := make([]byte, d.chunkSize)
	n, err := io.ReadFull(d.body, buf)
	if n == 0 {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read chunk")
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, errors.Wrap(err, "read chunk")
	}
	if int64(n) != d.chunkSize {
		return nil, errors.Wrap(errors.ErrCorrupt, "short chunk read from container")
	}

	if derr := d.key.Decrypt(buf); derr != nil {
		return nil, errors.ErrCorrupt
	}

	return buf[crypto.NonceSize : d.chunkSize-crypto.TagSize], nil
}

// OpenManifestRange builds a single linear plaintext reader over request,
// stitching together whichever of containers intersect it.
func (o *ContainerOpener) OpenManifestRange(containers []container.Container, request chunked.ByteRange) io.Reader {
	leaves := make([]chunked.Leaf, len(containers))
	for i, c := range containers {
		leaves[i] = o.Leaf(c)
	}
	return chunked.NewConcatenator(leaves, request)
}
