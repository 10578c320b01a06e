// Package b2transport implements transport.AttachmentTransport against a
// Backblaze B2 bucket, for self-hosted deployments that want an
// attachment-shaped object store without depending on a chat service's
// reserve/PUT/commit RPCs. The reserve/commit vocabulary is kept even
// though B2 itself has no such two-phase handshake: Reserve picks an
// object name, Put streams the bytes into it with the B2 SDK's writer,
// and Commit resolves the final download URL.
package b2transport

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/Backblaze/blazer/b2"

	"github.com/cascadefs/waterfall/internal/debug"
	"github.com/cascadefs/waterfall/internal/errors"
	"github.com/cascadefs/waterfall/internal/transport"
)

// Transport adapts a B2 bucket to the attachment transport shape.
type Transport struct {
	bucket *b2.Bucket
	prefix string
}

// ensure statically that *Transport implements transport.AttachmentTransport.
var _ transport.AttachmentTransport = &Transport{}

// Open authenticates against B2 and opens bucket, mirroring the teacher's
// b2 backend's own Open.
func Open(ctx context.Context, accountID, key, bucketName, prefix string) (*Transport, error) {
	if accountID == "" || key == "" {
		return nil, errors.Fatalf("b2transport: account ID and key are required")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	client, err := b2.NewClient(ctx, accountID, key)
	if err != nil {
		return nil, errors.Wrap(err, "b2.NewClient")
	}

	bucket, err := client.Bucket(ctx, bucketName)
	if err != nil {
		return nil, errors.Wrap(err, "Bucket")
	}

	return &Transport{bucket: bucket, prefix: prefix}, nil
}

func (t *Transport) objectName(handle string) string {
	return path.Join(t.prefix, handle)
}

// Reserve picks a B2 object name for filename; the "upload URL" this
// transport hands back is just that object name, since B2's SDK writes
// directly to a named object rather than a presigned PUT endpoint.
func (t *Transport) Reserve(ctx context.Context, filename string, size int64) (uploadURL, handle string, err error) {
	handle = fmt.Sprintf("%d-%s", time.Now().UnixNano(), filename)
	debug.Log("reserved b2 object %v for %v (%v bytes)", handle, filename, size)
	return t.objectName(handle), handle, nil
}

// Put streams r into the object named by uploadURL.
func (t *Transport) Put(ctx context.Context, uploadURL string, r io.Reader, size int64) error {
	obj := t.bucket.Object(uploadURL)
	w := obj.NewWriter(ctx)

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return errors.Wrapf(errors.ErrUnavailable, "b2 upload: %v", err)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(errors.ErrUnavailable, "b2 upload close: %v", err)
	}
	return nil
}

// Commit resolves a stable download URL for the object; B2 objects are
// public immediately after a successful write, so this is bookkeeping
// only — no separate finalize RPC exists on B2's side.
func (t *Transport) Commit(ctx context.Context, filename, handle string) (publicURL string, cooldownHintMs int, remainingBudget int, err error) {
	obj := t.bucket.Object(t.objectName(handle))
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return "", 0, 0, errors.Wrapf(errors.ErrUnavailable, "b2 attrs: %v", err)
	}
	return objectURLPrefix + attrs.Name, 0, 0, nil
}

// objectURLPrefix marks URLs this transport produced, so FetchRange can
// recover the bare object name from a manifest's storage_url.
const objectURLPrefix = "b2object://"

// FetchRange issues a ranged read of the object named in publicURL.
func (t *Transport) FetchRange(ctx context.Context, publicURL string, lo, hi int64) (io.ReadCloser, error) {
	name := strings.TrimPrefix(publicURL, objectURLPrefix)
	obj := t.bucket.Object(name)
	return obj.NewRangeReader(ctx, lo, hi-lo+1), nil
}
