package uploadpool

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cascadefs/waterfall/internal/progress"
	"github.com/cascadefs/waterfall/internal/ratelimit"
	"github.com/cascadefs/waterfall/internal/rtest"
)

func TestDoUploadReturnsURL(t *testing.T) {
	w := &Worker{
		Cooldown: ratelimit.NewWorkCooldown(1),
		Upload: func(r io.Reader, size int64, s *progress.Signal) (string, int, int, error) {
			return "https://example.invalid/a", 0, 0, nil
		},
	}
	p := New([]*Worker{w})

	url, _, _, err := p.DoUpload(bytes.NewReader(nil), 0, progress.New())
	rtest.OK(t, err)
	rtest.Equals(t, "https://example.invalid/a", url)
}

func TestDoUploadEndsWorkAfterCompletion(t *testing.T) {
	wc := ratelimit.NewWorkCooldown(1)
	w := &Worker{
		Cooldown: wc,
		Upload: func(r io.Reader, size int64, s *progress.Signal) (string, int, int, error) {
			rtest.Assert(t, !wc.CanAcceptMore(), "expected worker marked in-flight during upload")
			return "u", 0, 0, nil
		},
	}
	p := New([]*Worker{w})

	_, _, _, err := p.DoUpload(bytes.NewReader(nil), 0, progress.New())
	rtest.OK(t, err)
	rtest.Assert(t, wc.CanAcceptMore(), "expected capacity freed after DoUpload returns")
}

func TestDoUploadAppliesCooldownHint(t *testing.T) {
	wc := ratelimit.NewWorkCooldown(5)
	w := &Worker{
		Cooldown: wc,
		Upload: func(r io.Reader, size int64, s *progress.Signal) (string, int, int, error) {
			return "u", 200, 3, nil
		},
	}
	p := New([]*Worker{w})

	_, hint, budget, err := p.DoUpload(bytes.NewReader(nil), 0, progress.New())
	rtest.OK(t, err)
	rtest.Equals(t, 200, hint)
	rtest.Equals(t, 3, budget)

	wc.StartWork()
	wc.StartWork()
	wc.StartWork()
	rtest.Assert(t, !wc.CanAcceptMore(), "expected max_concurrency updated to remaining_budget=3")
}

func TestDoUploadPropagatesUploadError(t *testing.T) {
	uploadErr := io.ErrClosedPipe
	w := &Worker{
		Cooldown: ratelimit.NewWorkCooldown(1),
		Upload: func(r io.Reader, size int64, s *progress.Signal) (string, int, int, error) {
			return "", 0, 0, uploadErr
		},
	}
	p := New([]*Worker{w})

	_, _, _, err := p.DoUpload(bytes.NewReader(nil), 0, progress.New())
	rtest.Assert(t, err == uploadErr, "expected upload error to propagate")
}

func TestDoUploadSpreadsAcrossWorkers(t *testing.T) {
	var countA, countB int64

	wA := &Worker{
		Cooldown: ratelimit.NewWorkCooldown(1),
		Upload: func(r io.Reader, size int64, s *progress.Signal) (string, int, int, error) {
			atomic.AddInt64(&countA, 1)
			time.Sleep(5 * time.Millisecond)
			return "a", 0, 0, nil
		},
	}
	wB := &Worker{
		Cooldown: ratelimit.NewWorkCooldown(1),
		Upload: func(r io.Reader, size int64, s *progress.Signal) (string, int, int, error) {
			atomic.AddInt64(&countB, 1)
			time.Sleep(5 * time.Millisecond)
			return "b", 0, 0, nil
		},
	}
	p := New([]*Worker{wA, wB})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _, err := p.DoUpload(bytes.NewReader(nil), 0, progress.New())
			rtest.OK(t, err)
		}()
	}
	wg.Wait()

	rtest.Assert(t, countA > 0 && countB > 0, "expected work spread across both workers, got a=%d b=%d", countA, countB)
}
