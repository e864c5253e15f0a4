package logkv

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordCommit is called after each commit attempt.
	// entries is the number of buffered operations, bytes the appended log
	// bytes, err is nil if successful.
	RecordCommit(entries int, bytes int64, duration time.Duration, err error)

	// RecordGet is called after each read through a transaction.
	RecordGet(duration time.Duration, err error)

	// RecordMerge is called after each merge run.
	// reclaimed is the number of log bytes freed by compaction.
	RecordMerge(reclaimed int64, duration time.Duration, err error)

	// RecordRecovery is called once per store open.
	// entries is the number of committed entries replayed, truncated is true
	// when a corrupt tail was cut off.
	RecordRecovery(entries int, truncated bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordCommit(int, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordGet(time.Duration, error)                {}
func (NoopMetricsCollector) RecordMerge(int64, time.Duration, error)       {}
func (NoopMetricsCollector) RecordRecovery(int, bool)                      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommitEntries    atomic.Int64
	CommitBytes      atomic.Int64
	CommitTotalNanos atomic.Int64
	GetCount         atomic.Int64
	GetErrors        atomic.Int64
	MergeCount       atomic.Int64
	MergeErrors      atomic.Int64
	MergeReclaimed   atomic.Int64
	RecoveryEntries  atomic.Int64
	RecoveryTruncate atomic.Int64
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(entries int, bytes int64, duration time.Duration, err error) {
	b.CommitCount.Add(1)
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
		return
	}
	b.CommitEntries.Add(int64(entries))
	b.CommitBytes.Add(bytes)
}

// RecordGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGet(_ time.Duration, err error) {
	b.GetCount.Add(1)
	if err != nil {
		b.GetErrors.Add(1)
	}
}

// RecordMerge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMerge(reclaimed int64, _ time.Duration, err error) {
	b.MergeCount.Add(1)
	if err != nil {
		b.MergeErrors.Add(1)
		return
	}
	b.MergeReclaimed.Add(reclaimed)
}

// RecordRecovery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRecovery(entries int, truncated bool) {
	b.RecoveryEntries.Add(int64(entries))
	if truncated {
		b.RecoveryTruncate.Add(1)
	}
}
