// Package progress implements the upload/download progress range-set: a
// mutex-protected record of which plaintext byte ranges have durably
// completed, plus the process-wide cancellation flag workers poll between
// chunks.
package progress

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/cascadefs/waterfall/internal/chunked"
	"github.com/cespare/xxhash/v2"
)

// Signal is a sorted set of half-open, pairwise-disjoint-after-Retrim byte
// ranges, plus a running flag.
type Signal struct {
	mu      sync.Mutex
	ranges  []chunked.ByteRange
	running bool
}

// New returns a running Signal with no ranges reported yet.
func New() *Signal {
	return &Signal{running: true}
}

// Report appends a completed range in sorted position. Overlap with an
// existing range is not resolved here; call Retrim to coalesce.
func (s *Signal) Report(r chunked.ByteRange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].Lo >= r.Lo })
	s.ranges = append(s.ranges, chunked.ByteRange{})
	copy(s.ranges[idx+1:], s.ranges[idx:])
	s.ranges[idx] = r
}

// Retrim coalesces adjacent or overlapping ranges into disjoint ones and
// drops empty ranges, maintaining sort order by start offset.
func (s *Signal) Retrim() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ranges = retrim(s.ranges)
}

func retrim(in []chunked.ByteRange) []chunked.ByteRange {
	sort.Slice(in, func(i, j int) bool { return in[i].Lo < in[j].Lo })

	out := make([]chunked.ByteRange, 0, len(in))
	for _, r := range in {
		if r.Empty() {
			continue
		}
		if n := len(out); n > 0 && r.Lo <= out[n-1].Hi {
			if r.Hi > out[n-1].Hi {
				out[n-1].Hi = r.Hi
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// Total returns the sum of range lengths. Callers should Retrim first if
// overlapping reports might otherwise double-count.
func (s *Signal) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, r := range s.ranges {
		total += r.Len()
	}
	return total
}

// Snapshot returns a copy of the current range-set.
func (s *Signal) Snapshot() []chunked.ByteRange {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]chunked.ByteRange, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Fingerprint hashes the current range-set so a polling renderer can skip
// redrawing when nothing has changed since its last call.
func (s *Signal) Fingerprint() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := xxhash.New()
	var buf [16]byte
	for _, r := range s.ranges {
		binary.LittleEndian.PutUint64(buf[:8], uint64(r.Lo))
		binary.LittleEndian.PutUint64(buf[8:], uint64(r.Hi))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// Stop clears the running flag; IsRunning callers observe cancellation.
func (s *Signal) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// IsRunning reports whether Stop has been called.
func (s *Signal) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// OffsetView forwards Report([a,b)) as Report([a+offset, b+offset)) on the
// underlying Signal, letting a component working in local coordinates
// (e.g. one file within a directory tree) report into a shared signal
// without knowing its own base offset.
type OffsetView struct {
	underlying *Signal
	offset     int64
}

// OffsetView returns a façade over s shifting every reported range by k.
func (s *Signal) OffsetView(k int64) *OffsetView {
	return &OffsetView{underlying: s, offset: k}
}

// Report shifts r by the view's offset and reports it on the underlying
// Signal.
func (v *OffsetView) Report(r chunked.ByteRange) {
	v.underlying.Report(chunked.ByteRange{Lo: r.Lo + v.offset, Hi: r.Hi + v.offset})
}

// IsRunning delegates to the underlying Signal.
func (v *OffsetView) IsRunning() bool {
	return v.underlying.IsRunning()
}
