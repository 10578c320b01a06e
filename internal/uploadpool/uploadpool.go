// Package uploadpool implements the credential pool a container uploader
// draws from: a set of per-credential workers, each with its own cooldown
// and upload capability, and a selector that spreads work across whichever
// worker currently has the fewest uploads in flight.
package uploadpool

import (
	"io"
	"sync"
	"time"

	"github.com/cascadefs/waterfall/internal/progress"
	"github.com/cascadefs/waterfall/internal/ratelimit"
)

// UploadFunc performs one container PUT, returning the resulting public
// URL plus any rate-limit hints the transport parsed out of the response.
type UploadFunc func(reader io.Reader, size int64, signal *progress.Signal) (publicURL string, cooldownHintMs int, remainingBudget int, err error)

// Worker is one credential's upload capability: a cooldown governing its
// pacing and concurrency, the tier's max attachment size, and the callable
// that performs the PUT.
type Worker struct {
	Cooldown          ratelimit.Cooldown
	MaxAttachmentSize int64
	Upload            UploadFunc
}

// Pool selects among a set of per-credential Workers for each container
// upload, retrying the selection until one has spare capacity.
type Pool struct {
	mu      sync.Mutex
	workers []*Worker
}

// New returns a Pool over the given workers.
func New(workers []*Worker) *Pool {
	return &Pool{workers: workers}
}

// selectRetryInterval is how long DoUpload sleeps between selection
// attempts when every worker is at capacity.
const selectRetryInterval = 50 * time.Millisecond

// DoUpload uploads size bytes read from reader through whichever worker
// the selector currently favors. Results arrive in completion order, not
// submission order — callers must not assume a call that returns first
// was the first one issued.
func (p *Pool) DoUpload(reader io.Reader, size int64, signal *progress.Signal) (publicURL string, cooldownHintMs int, remainingBudget int, err error) {
	for {
		worker, ok := p.claim()
		if !ok {
			time.Sleep(selectRetryInterval)
			continue
		}

		worker.Cooldown.Wait()

		publicURL, cooldownHintMs, remainingBudget, err = worker.Upload(reader, size, signal)
		endedAt := time.Now()

		p.mu.Lock()
		if err == nil {
			if wc, ok := worker.Cooldown.(*ratelimit.WorkCooldown); ok && (cooldownHintMs > 0 || remainingBudget > 0) {
				wc.Update(time.Duration(cooldownHintMs)*time.Millisecond, remainingBudget)
			}
		}
		worker.Cooldown.EndWork(endedAt)
		p.mu.Unlock()

		return publicURL, cooldownHintMs, remainingBudget, err
	}
}

// claim locks the worker list, runs the selector, and if a worker has
// spare capacity marks it started and returns it with the lock released,
// so the network call itself never happens while holding it.
func (p *Pool) claim() (*Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cooldowns := make([]ratelimit.Cooldown, len(p.workers))
	for i, w := range p.workers {
		cooldowns[i] = w.Cooldown
	}

	idx := ratelimit.Select(cooldowns)
	if idx < 0 {
		return nil, false
	}

	worker := p.workers[idx]
	worker.Cooldown.StartWork()
	return worker, true
}
