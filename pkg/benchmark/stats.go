package benchmark

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Stats collects per-operation latencies. It is safe for concurrent use.
type Stats struct {
	ops     atomic.Uint64
	errs    atomic.Uint64
	misses  atomic.Uint64
	written atomic.Uint64
	read    atomic.Uint64

	mu        sync.Mutex
	latencies []time.Duration

	start time.Time
	end   time.Time
}

func NewStats() *Stats {
	return &Stats{latencies: make([]time.Duration, 0, 1<<16)}
}

func (s *Stats) Start() { s.start = time.Now() }
func (s *Stats) Stop()  { s.end = time.Now() }

// Ops returns the number of successful operations so far.
func (s *Stats) Ops() uint64 { return s.ops.Load() }

// Record records one operation. Failed operations count as errors and
// carry no latency.
func (s *Stats) Record(latency time.Duration, read, written int, err error) {
	if err != nil {
		s.errs.Add(1)
		return
	}
	s.ops.Add(1)
	s.read.Add(uint64(read))
	s.written.Add(uint64(written))

	s.mu.Lock()
	s.latencies = append(s.latencies, latency)
	s.mu.Unlock()
}

// RecordMiss counts a read that found no value.
func (s *Stats) RecordMiss() { s.misses.Add(1) }

// Result is the summary of a finished run.
type Result struct {
	Workload     Workload
	Ops          uint64
	Errors       uint64
	Misses       uint64
	Duration     time.Duration
	OpsPerSec    float64
	BytesRead    uint64
	BytesWritten uint64

	Min, Avg, Max       time.Duration
	P50, P90, P99, P999 time.Duration
}

// Compute summarizes the recorded operations.
func (s *Stats) Compute() Result {
	r := Result{
		Ops:          s.ops.Load(),
		Errors:       s.errs.Load(),
		Misses:       s.misses.Load(),
		Duration:     s.end.Sub(s.start),
		BytesRead:    s.read.Load(),
		BytesWritten: s.written.Load(),
	}
	if r.Duration > 0 {
		r.OpsPerSec = float64(r.Ops) / r.Duration.Seconds()
	}

	s.mu.Lock()
	sorted := append([]time.Duration(nil), s.latencies...)
	s.mu.Unlock()
	if len(sorted) == 0 {
		return r
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	r.Min = sorted[0]
	r.Max = sorted[len(sorted)-1]
	r.Avg = sum / time.Duration(len(sorted))
	r.P50 = percentile(sorted, 50)
	r.P90 = percentile(sorted, 90)
	r.P99 = percentile(sorted, 99)
	r.P999 = percentile(sorted, 99.9)
	return r
}

// percentile uses the nearest-rank method on sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted))*p/100+0.999999) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Print writes a human readable report.
func (r Result) Print(w io.Writer) {
	fmt.Fprintf(w, "%-12s %12d ops  %10.0f ops/sec  %8.2fs\n", r.Workload, r.Ops, r.OpsPerSec, r.Duration.Seconds())
	if r.Errors > 0 || r.Misses > 0 {
		fmt.Fprintf(w, "%-12s %12d errors  %d misses\n", "", r.Errors, r.Misses)
	}
	fmt.Fprintf(w, "%-12s avg %v  p50 %v  p90 %v  p99 %v  p99.9 %v  max %v\n",
		"latency", r.Avg, r.P50, r.P90, r.P99, r.P999, r.Max)
	if r.BytesWritten > 0 {
		fmt.Fprintf(w, "%-12s %s\n", "written", formatBytes(r.BytesWritten))
	}
	if r.BytesRead > 0 {
		fmt.Fprintf(w, "%-12s %s\n", "read", formatBytes(r.BytesRead))
	}
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
