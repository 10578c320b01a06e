// Package s3transport implements transport.AttachmentTransport against any
// S3-compatible endpoint, letting integration tests exercise the container
// uploader and downloader against a real ranged-GET/PUT object store
// without reaching the chat service.
package s3transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cascadefs/waterfall/internal/debug"
	"github.com/cascadefs/waterfall/internal/errors"
	"github.com/cascadefs/waterfall/internal/transport"
)

// Transport adapts an S3 bucket to the attachment transport shape.
type Transport struct {
	client *minio.Client
	bucket string
}

// ensure statically that *Transport implements transport.AttachmentTransport.
var _ transport.AttachmentTransport = &Transport{}

// Open dials endpoint with static credentials, matching the teacher's s3
// backend's client construction.
func Open(endpoint, accessKeyID, secretAccessKey, bucket string, useTLS bool) (*Transport, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useTLS,
	})
	if err != nil {
		return nil, errors.Wrap(err, "minio.New")
	}

	return &Transport{client: client, bucket: bucket}, nil
}

// Reserve picks an S3 object key for filename. There is no separate
// reservation RPC on S3; the "upload URL" is the object key itself.
func (t *Transport) Reserve(ctx context.Context, filename string, size int64) (uploadURL, handle string, err error) {
	handle = fmt.Sprintf("%d-%s", time.Now().UnixNano(), filename)
	debug.Log("reserved s3 object %v for %v (%v bytes)", handle, filename, size)
	return handle, handle, nil
}

// Put uploads r to the named object key.
func (t *Transport) Put(ctx context.Context, uploadURL string, r io.Reader, size int64) error {
	_, err := t.client.PutObject(ctx, t.bucket, uploadURL, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return errors.Wrapf(errors.ErrUnavailable, "s3 PutObject: %v", err)
	}
	return nil
}

// objectURLPrefix marks URLs this transport produced, so FetchRange can
// recover the bare object key from a manifest's storage_url.
const objectURLPrefix = "s3object://"

// Commit has nothing left to finalize on S3; it just resolves the stable
// download URL.
func (t *Transport) Commit(ctx context.Context, filename, handle string) (publicURL string, cooldownHintMs int, remainingBudget int, err error) {
	return objectURLPrefix + handle, 0, 0, nil
}

// FetchRange issues a ranged GetObject.
func (t *Transport) FetchRange(ctx context.Context, publicURL string, lo, hi int64) (io.ReadCloser, error) {
	key := publicURL[len(objectURLPrefix):]

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(lo, hi); err != nil {
		return nil, errors.Wrap(err, "SetRange")
	}

	obj, err := t.client.GetObject(ctx, t.bucket, key, opts)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUnavailable, "s3 GetObject: %v", err)
	}
	return obj, nil
}
