// Package transport implements the chat-service attachment transport: the
// reserve/PUT/commit/ranged-GET cycle the core treats as a replaceable
// collaborator. AttachmentTransport is the seam the uploader pool and
// container opener are built against; alternate sub-packages
// (b2transport, s3transport, azuretransport) implement the same interface
// against real object stores.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/http2"

	"github.com/cascadefs/waterfall/internal/debug"
	"github.com/cascadefs/waterfall/internal/errors"
	"github.com/cascadefs/waterfall/internal/progress"
)

func newBytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

// AttachmentTransport is the four operations the core needs from the
// chat service (or a stand-in object store): reserve a slot, PUT the
// bytes, commit the message and learn its public URL, and a ranged GET
// to read any of it back.
type AttachmentTransport interface {
	// Reserve asks for an upload slot for a file of the given size,
	// returning an upload URL to PUT to and an opaque handle to commit.
	Reserve(ctx context.Context, filename string, size int64) (uploadURL, handle string, err error)

	// Put uploads exactly size bytes from r to uploadURL.
	Put(ctx context.Context, uploadURL string, r io.Reader, size int64) error

	// Commit posts the handle and learns the attachment's public URL,
	// plus an advisory cooldown hint (ms) and remaining budget parsed
	// from rate-limit response headers (both zero if absent).
	Commit(ctx context.Context, filename, handle string) (publicURL string, cooldownHintMs int, remainingBudget int, err error)

	// FetchRange issues a ranged GET against a public URL, returning
	// exactly the bytes in [lo, hi] (inclusive).
	FetchRange(ctx context.Context, publicURL string, lo, hi int64) (io.ReadCloser, error)
}

// Options configures the chat-service Client built by New. The b2, s3 and
// azure transports take their own constructor arguments instead.
type Options struct {
	BaseURL    string
	Token      string
	ChannelID  string
	MaxRetries uint64
}

// Client is the HTTP-backed AttachmentTransport talking to the chat
// service described in the manifest's "attachment transport" contract.
type Client struct {
	opts       Options
	http       *http.Client
	maxRetries uint64
}

// New builds a Client with a tuned HTTP/2 transport, mirroring the
// teacher's shared backend transport: generous idle-connection reuse,
// HTTP/2 health-check pings on idle connections, and one 60-second
// timeout covering each whole request.
func New(opts Options) *Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if h2, err := http2.ConfigureTransports(tr); err == nil {
		h2.ReadIdleTimeout = 60 * time.Second
		h2.PingTimeout = 60 * time.Second
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 8
	}

	return &Client{
		opts: opts,
		http: &http.Client{
			Transport: tr,
			Timeout:   60 * time.Second,
		},
		maxRetries: maxRetries,
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
}

type reserveRequestFile struct {
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
	ID       int    `json:"id"`
}

type reserveRequest struct {
	Files []reserveRequestFile `json:"files"`
}

type reserveResponse struct {
	UploadURL      string `json:"upload_url"`
	UploadFilename string `json:"upload_filename"`
}

// Reserve issues POST /reserve.
func (c *Client) Reserve(ctx context.Context, filename string, size int64) (string, string, error) {
	body, err := json.Marshal(reserveRequest{Files: []reserveRequestFile{{Filename: filename, FileSize: size, ID: 0}}})
	if err != nil {
		return "", "", errors.Wrap(err, "marshal reserve request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/reserve", newBytesReader(body))
	if err != nil {
		return "", "", errors.Wrap(err, "NewRequest")
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", errors.Wrapf(errors.ErrUnavailable, "reserve: %v", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 500 {
		return "", "", errors.Wrapf(errors.ErrUnavailable, "reserve: server status %v", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", errors.Errorf("reserve: unexpected status %v", resp.Status)
	}

	var out reserveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", errors.Wrap(err, "decode reserve response")
	}

	debug.Log("reserved upload slot for %v (%v bytes): %v", filename, size, out.UploadFilename)
	return out.UploadURL, out.UploadFilename, nil
}

// Put issues the raw PUT of the padded container bytes.
func (c *Client) Put(ctx context.Context, uploadURL string, r io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, io.NopCloser(r))
	if err != nil {
		return errors.Wrap(err, "NewRequest")
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(errors.ErrUnavailable, "PUT: %v", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 500 {
		return errors.Wrapf(errors.ErrUnavailable, "PUT: server status %v", resp.Status)
	}
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("PUT: unexpected status %v", resp.Status)
	}
	return nil
}

type commitRequestAttachment struct {
	ID               int    `json:"id"`
	Filename         string `json:"filename"`
	UploadedFilename string `json:"uploaded_filename"`
}

type commitRequest struct {
	Attachments []commitRequestAttachment `json:"attachments"`
}

type commitResponseAttachment struct {
	URL string `json:"url"`
}

type commitResponse struct {
	Attachments []commitResponseAttachment `json:"attachments"`
}

// Commit issues POST /commit and parses the advisory rate-limit headers.
func (c *Client) Commit(ctx context.Context, filename, handle string) (string, int, int, error) {
	body, err := json.Marshal(commitRequest{Attachments: []commitRequestAttachment{
		{ID: 0, Filename: filename, UploadedFilename: handle},
	}})
	if err != nil {
		return "", 0, 0, errors.Wrap(err, "marshal commit request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/commit", newBytesReader(body))
	if err != nil {
		return "", 0, 0, errors.Wrap(err, "NewRequest")
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, 0, errors.Wrapf(errors.ErrUnavailable, "commit: %v", err)
	}
	defer drainAndClose(resp.Body)

	cooldownHintMs, remainingBudget := parseRateLimitHeaders(resp.Header)

	if resp.StatusCode >= 500 {
		return "", 0, 0, errors.Wrapf(errors.ErrUnavailable, "commit: server status %v", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, 0, errors.Errorf("commit: unexpected status %v", resp.Status)
	}

	var out commitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, 0, errors.Wrap(err, "decode commit response")
	}
	if len(out.Attachments) == 0 {
		return "", 0, 0, errors.New("commit: response listed no attachments")
	}

	return out.Attachments[0].URL, cooldownHintMs, remainingBudget, nil
}

// parseRateLimitHeaders reads the advisory x-ratelimit-remaining (int) and
// x-ratelimit-reset-after (float seconds) headers. Absent or malformed
// values yield zero, matching the spec's "treat as advisory only."
func parseRateLimitHeaders(h http.Header) (cooldownHintMs, remainingBudget int) {
	if v := h.Get("x-ratelimit-remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			remainingBudget = n
		}
	}
	if v := h.Get("x-ratelimit-reset-after"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cooldownHintMs = int(f * 1000)
		}
	}
	return cooldownHintMs, remainingBudget
}

// FetchRange issues the ranged GET and requires HTTP 206.
func (c *Client) FetchRange(ctx context.Context, publicURL string, lo, hi int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, publicURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "NewRequest")
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", lo, hi))
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUnavailable, "GET: %v", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		drainAndClose(resp.Body)
		return nil, errors.Wrapf(errors.ErrUnavailable, "GET: server status %v", resp.Status)
	}
	if resp.StatusCode != http.StatusPartialContent {
		drainAndClose(resp.Body)
		return nil, errors.Errorf("GET: expected 206, got %v", resp.Status)
	}

	return resp.Body, nil
}

// Upload builds an uploadpool.UploadFunc wiring Reserve+Put+Commit
// together under one name: each call reserves a fresh slot for filename,
// PUTs the padded ciphertext, and commits. The reserve and commit calls are
// retried with backoff; a failed PUT is returned to the caller at once.
// Every container uploaded under the same filename gets a distinct
// attachment, since each call reserves its own slot.
func (c *Client) Upload(filename string) func(r io.Reader, size int64, signal *progress.Signal) (string, int, int, error) {
	return func(r io.Reader, size int64, signal *progress.Signal) (string, int, int, error) {
		return c.upload(filename, r, size)
	}
}

func (c *Client) upload(filename string, r io.Reader, size int64) (string, int, int, error) {
	ctx := context.Background()

	uploadURL, handle, err := c.retryReserve(ctx, filename, size)
	if err != nil {
		return "", 0, 0, err
	}

	if err := c.Put(ctx, uploadURL, r, size); err != nil {
		return "", 0, 0, err
	}

	return c.retryCommit(ctx, filename, handle)
}

func (c *Client) retryReserve(ctx context.Context, filename string, size int64) (uploadURL, handle string, err error) {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	op := func() error {
		u, h, e := c.Reserve(ctx, filename, size)
		if e != nil {
			if !errors.Is(e, errors.ErrUnavailable) {
				return backoff.Permanent(e)
			}
			return e
		}
		uploadURL, handle = u, h
		return nil
	}
	if retryErr := backoff.Retry(op, b); retryErr != nil {
		return "", "", retryErr
	}
	return uploadURL, handle, nil
}

func (c *Client) retryCommit(ctx context.Context, filename, handle string) (publicURL string, cooldownHintMs, remainingBudget int, err error) {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	op := func() error {
		url, hint, budget, e := c.Commit(ctx, filename, handle)
		if e != nil {
			if !errors.Is(e, errors.ErrUnavailable) {
				return backoff.Permanent(e)
			}
			return e
		}
		publicURL, cooldownHintMs, remainingBudget = url, hint, budget
		return nil
	}
	if retryErr := backoff.Retry(op, b); retryErr != nil {
		return "", 0, 0, retryErr
	}
	return publicURL, cooldownHintMs, remainingBudget, nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
