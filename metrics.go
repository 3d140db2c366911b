package annex

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordUpsert is called after each upsert batch. count is the number of
	// records submitted, failed the number rejected.
	RecordUpsert(count, failed int, duration time.Duration, err error)

	// RecordQuery is called after each query.
	RecordQuery(k, results int, duration time.Duration, err error)

	// RecordDelete is called after each delete call.
	RecordDelete(count int, duration time.Duration, err error)

	// RecordIndexed is called after each round of the background indexer.
	RecordIndexed(count int, duration time.Duration)

	// RecordCompaction is called after compacting one namespace graph.
	RecordCompaction(reclaimed, relinked int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordUpsert(int, int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordQuery(int, int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordDelete(int, time.Duration, error)          {}
func (NoopMetricsCollector) RecordIndexed(int, time.Duration)                {}
func (NoopMetricsCollector) RecordCompaction(int, int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	UpsertCount      atomic.Int64
	UpsertRecords    atomic.Int64
	UpsertRejected   atomic.Int64
	UpsertErrors     atomic.Int64
	QueryCount       atomic.Int64
	QueryErrors      atomic.Int64
	QueryTotalNanos  atomic.Int64
	DeleteCount      atomic.Int64
	DeleteRecords    atomic.Int64
	DeleteErrors     atomic.Int64
	IndexedRecords   atomic.Int64
	IndexTotalNanos  atomic.Int64
	CompactionCount  atomic.Int64
	CompactionErrors atomic.Int64
	Reclaimed        atomic.Int64
}

// RecordUpsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpsert(count, failed int, _ time.Duration, err error) {
	b.UpsertCount.Add(1)
	b.UpsertRecords.Add(int64(count))
	b.UpsertRejected.Add(int64(failed))
	if err != nil {
		b.UpsertErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(_, _ int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(count int, _ time.Duration, err error) {
	b.DeleteCount.Add(1)
	b.DeleteRecords.Add(int64(count))
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordIndexed implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIndexed(count int, duration time.Duration) {
	b.IndexedRecords.Add(int64(count))
	b.IndexTotalNanos.Add(duration.Nanoseconds())
}

// RecordCompaction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompaction(reclaimed, _ int, _ time.Duration, err error) {
	b.CompactionCount.Add(1)
	b.Reclaimed.Add(int64(reclaimed))
	if err != nil {
		b.CompactionErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		UpsertCount:      b.UpsertCount.Load(),
		UpsertRecords:    b.UpsertRecords.Load(),
		UpsertRejected:   b.UpsertRejected.Load(),
		UpsertErrors:     b.UpsertErrors.Load(),
		QueryCount:       b.QueryCount.Load(),
		QueryErrors:      b.QueryErrors.Load(),
		QueryAvgNanos:    b.getAvgQueryNanos(),
		DeleteCount:      b.DeleteCount.Load(),
		DeleteRecords:    b.DeleteRecords.Load(),
		DeleteErrors:     b.DeleteErrors.Load(),
		IndexedRecords:   b.IndexedRecords.Load(),
		CompactionCount:  b.CompactionCount.Load(),
		CompactionErrors: b.CompactionErrors.Load(),
		Reclaimed:        b.Reclaimed.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgQueryNanos() int64 {
	count := b.QueryCount.Load()
	if count == 0 {
		return 0
	}
	return b.QueryTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	UpsertCount      int64
	UpsertRecords    int64
	UpsertRejected   int64
	UpsertErrors     int64
	QueryCount       int64
	QueryErrors      int64
	QueryAvgNanos    int64
	DeleteCount      int64
	DeleteRecords    int64
	DeleteErrors     int64
	IndexedRecords   int64
	CompactionCount  int64
	CompactionErrors int64
	Reclaimed        int64
}
