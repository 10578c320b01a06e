package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cascadefs/waterfall/internal/progress"
	"github.com/cascadefs/waterfall/internal/ratelimit"
)

// jobDir is where the CLI's in-memory-at-runtime, file-backed JobRegistry
// persists job tuples between process invocations.
func jobDir() string {
	if dir := os.Getenv("WATERFALL_JOB_DIR"); dir != "" {
		return dir
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return ".waterfall-jobs"
	}
	return filepath.Join(cache, "waterfall", "jobs")
}

// ratelimitWorkCooldown builds the single-credential CLI's cooldown: a
// concurrency cap matching the worker count, refined at runtime by
// whatever rate-limit headers the transport parses out of a commit
// response.
func ratelimitWorkCooldown(workers int) *ratelimit.WorkCooldown {
	return ratelimit.NewWorkCooldown(workers)
}

// printProgress starts a goroutine that periodically reports upload/
// download progress to stderr, and returns a func to stop it.
func printProgress(opts GlobalOptions, signal *progress.Signal, total int64) func() {
	if opts.JSON {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		var lastFingerprint uint64
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fp := signal.Fingerprint()
				if fp == lastFingerprint {
					continue
				}
				lastFingerprint = fp

				signal.Retrim()
				completed := signal.Total()
				pct := 0.0
				if total > 0 {
					pct = 100 * float64(completed) / float64(total)
				}
				fmt.Fprintf(opts.stderr, "\r%6.2f%% (%d/%d bytes)", pct, completed, total)
			}
		}
	}()

	return func() { close(done) }
}
