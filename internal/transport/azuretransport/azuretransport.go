// Package azuretransport implements transport.AttachmentTransport against
// an Azure Blob container: block blob PUT, then an x-ms-range ranged GET
// on read.
package azuretransport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/cascadefs/waterfall/internal/debug"
	"github.com/cascadefs/waterfall/internal/errors"
	"github.com/cascadefs/waterfall/internal/transport"
)

// Transport adapts an Azure Blob container to the attachment transport
// shape.
type Transport struct {
	client        *azblob.Client
	containerName string
}

// ensure statically that *Transport implements transport.AttachmentTransport.
var _ transport.AttachmentTransport = &Transport{}

// Open authenticates with a storage account key and targets containerName,
// mirroring the teacher's azure backend's client construction.
func Open(accountName, accountKey, containerName, endpointSuffix string) (*Transport, error) {
	if endpointSuffix == "" {
		endpointSuffix = "core.windows.net"
	}

	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, errors.Wrap(err, "NewSharedKeyCredential")
	}

	url := fmt.Sprintf("https://%s.blob.%s/", accountName, endpointSuffix)
	client, err := azblob.NewClientWithSharedKeyCredential(url, cred, nil)
	if err != nil {
		return nil, errors.Wrap(err, "NewClientWithSharedKeyCredential")
	}

	return &Transport{client: client, containerName: containerName}, nil
}

// Reserve picks a blob name for filename; Azure has no separate reservation
// RPC, so the "upload URL" is just that blob name.
func (t *Transport) Reserve(ctx context.Context, filename string, size int64) (uploadURL, handle string, err error) {
	handle = fmt.Sprintf("%d-%s", time.Now().UnixNano(), filename)
	debug.Log("reserved azure blob %v for %v (%v bytes)", handle, filename, size)
	return handle, handle, nil
}

// Put uploads r as a block blob.
func (t *Transport) Put(ctx context.Context, uploadURL string, r io.Reader, size int64) error {
	_, err := t.client.UploadStream(ctx, t.containerName, uploadURL, streaming.NopCloser(r), nil)
	if err != nil {
		return errors.Wrapf(errors.ErrUnavailable, "azure UploadStream: %v", err)
	}
	return nil
}

// objectURLPrefix marks URLs this transport produced, so FetchRange can
// recover the bare blob name from a manifest's storage_url.
const objectURLPrefix = "azblob://"

// Commit has nothing left to finalize; it just resolves the stable
// download URL.
func (t *Transport) Commit(ctx context.Context, filename, handle string) (publicURL string, cooldownHintMs int, remainingBudget int, err error) {
	return objectURLPrefix + handle, 0, 0, nil
}

// FetchRange issues a ranged DownloadStream (Azure's equivalent of
// x-ms-range).
func (t *Transport) FetchRange(ctx context.Context, publicURL string, lo, hi int64) (io.ReadCloser, error) {
	name := publicURL[len(objectURLPrefix):]

	blobClient := t.client.ServiceClient().NewContainerClient(t.containerName).NewBlobClient(name)
	resp, err := blobClient.DownloadStream(ctx, &blob.DownloadStreamOptions{
		Range: azblob.HTTPRange{Offset: lo, Count: hi - lo + 1},
	})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUnavailable, "azure DownloadStream: %v", err)
	}
	return resp.Body, nil
}
