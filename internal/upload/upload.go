// Package upload implements the container uploader (C7): it splits a
// plaintext range into per-container ranges, drives W worker goroutines
// that each pack and upload one range at a time through the uploader
// pool, and requeues any range whose upload fails to the tail of a shared
// FIFO so another attempt (by any worker) eventually picks it up.
package upload

import (
	"sync"

	"github.com/cascadefs/waterfall/internal/chunked"
	"github.com/cascadefs/waterfall/internal/container"
	"github.com/cascadefs/waterfall/internal/crypto"
	"github.com/cascadefs/waterfall/internal/errors"
	"github.com/cascadefs/waterfall/internal/progress"
	"github.com/cascadefs/waterfall/internal/uploadpool"
	"golang.org/x/sync/errgroup"
)

// ContainerUploader drives one file's (or one tree stream's) worth of
// plaintext into finalized containers.
type ContainerUploader struct {
	source   chunked.RangeLazyOpen
	size     int64
	params   container.Params
	password string
	workers  int
	pool     *uploadpool.Pool
	signal   *progress.Signal

	mu        sync.Mutex
	fifo      []chunked.ByteRange
	finalized []container.Container
}

// New builds a ContainerUploader. Call Seed first to re-enter a paused
// upload, or call Run directly to start fresh.
func New(source chunked.RangeLazyOpen, size int64, params container.Params, password string, workers int, pool *uploadpool.Pool, signal *progress.Signal) *ContainerUploader {
	return &ContainerUploader{
		source:   source,
		size:     size,
		params:   params,
		password: password,
		workers:  workers,
		pool:     pool,
		signal:   signal,
	}
}

// Seed restores FIFO and finalized-container state from a resume blob, so
// that Run continues rather than restarts the split.
func (u *ContainerUploader) Seed(remaining []chunked.ByteRange, finalized []container.Container) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.fifo = append([]chunked.ByteRange(nil), remaining...)
	u.finalized = append([]container.Container(nil), finalized...)
}

// Run seeds the initial split if nothing has been seeded yet, spawns
// Workers goroutines to drain the range FIFO, and returns every finalized
// container once all workers have exited (FIFO empty, or the signal was
// stopped).
func (u *ContainerUploader) Run() ([]container.Container, error) {
	u.mu.Lock()
	if len(u.fifo) == 0 && len(u.finalized) == 0 {
		ranges, err := container.Split(u.size, u.params)
		if err != nil {
			u.mu.Unlock()
			return nil, err
		}
		u.fifo = ranges
	}
	u.mu.Unlock()

	var g errgroup.Group
	for i := 0; i < u.workers; i++ {
		g.Go(u.work)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return u.Snapshot(), nil
}

// Snapshot returns a copy of the currently finalized containers, safe to
// call while Run is still in progress (e.g. to write an interim resume
// blob).
func (u *ContainerUploader) Snapshot() []container.Container {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]container.Container(nil), u.finalized...)
}

// RemainingRanges returns a copy of the ranges not yet finalized, for
// writing into a resume blob on pause.
func (u *ContainerUploader) RemainingRanges() []chunked.ByteRange {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]chunked.ByteRange(nil), u.fifo...)
}

func (u *ContainerUploader) work() error {
	for u.signal.IsRunning() {
		r, ok := u.pop()
		if !ok {
			return nil
		}

		if err := u.uploadRange(r); err != nil {
			u.requeue(r)
			if errors.Is(err, errors.ErrCancelled) {
				return nil
			}
			if errors.IsFatal(errors.Cause(err)) {
				return err
			}
			continue
		}
	}
	return nil
}

func (u *ContainerUploader) pop() (chunked.ByteRange, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.fifo) == 0 {
		return chunked.ByteRange{}, false
	}
	r := u.fifo[0]
	u.fifo = u.fifo[1:]
	return r, true
}

func (u *ContainerUploader) requeue(r chunked.ByteRange) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.fifo = append(u.fifo, r)
}

func (u *ContainerUploader) uploadRange(r chunked.ByteRange) error {
	plaintext, err := u.source.OpenRange(r)
	if err != nil {
		return errors.Wrap(err, "OpenRange")
	}

	pc, err := container.NewPartialContainer(u.password, r, u.params.ChunkSize)
	if err != nil {
		return err
	}

	cipherStream, err := crypto.NewStreamCipher(plaintext, pc.Key, int(u.params.ChunkSize))
	if err != nil {
		return err
	}

	body := chunked.NewChunkReader(chunked.WithCancel(cipherStream, u.signal.IsRunning, errors.ErrCancelled))

	paddedSize := u.params.PaddedWireSize(r)
	chunkCount := u.params.ChunkCount(r)

	publicURL, _, _, err := u.pool.DoUpload(body, paddedSize, u.signal)
	if err != nil {
		return errors.Wrap(err, "DoUpload")
	}

	finalized := pc.Finalize(publicURL, chunkCount)

	u.mu.Lock()
	u.finalized = append(u.finalized, finalized)
	u.mu.Unlock()

	u.signal.Report(r)
	return nil
}
