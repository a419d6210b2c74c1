package worktable

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// prommetrics package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordInsert is called after each insert operation.
	// duration is the total time taken, err is nil if successful.
	RecordInsert(duration time.Duration, err error)

	// RecordSelect is called after each point or index lookup.
	// rows is the number of rows returned.
	RecordSelect(rows int, duration time.Duration, err error)

	// RecordUpdate is called after each update. rows is the number of rows written.
	RecordUpdate(rows int, duration time.Duration, err error)

	// RecordDelete is called after each delete. rows is the number of rows removed.
	RecordDelete(rows int, duration time.Duration, err error)

	// RecordUpsert is called after each upsert.
	RecordUpsert(inserted bool, duration time.Duration, err error)

	// RecordScan is called after each full scan with the number of rows visited.
	RecordScan(rows int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

// RecordInsert implements MetricsCollector.
func (NoopMetricsCollector) RecordInsert(time.Duration, error) {}

// RecordSelect implements MetricsCollector.
func (NoopMetricsCollector) RecordSelect(int, time.Duration, error) {}

// RecordUpdate implements MetricsCollector.
func (NoopMetricsCollector) RecordUpdate(int, time.Duration, error) {}

// RecordDelete implements MetricsCollector.
func (NoopMetricsCollector) RecordDelete(int, time.Duration, error) {}

// RecordUpsert implements MetricsCollector.
func (NoopMetricsCollector) RecordUpsert(bool, time.Duration, error) {}

// RecordScan implements MetricsCollector.
func (NoopMetricsCollector) RecordScan(int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	SelectCount      atomic.Int64
	SelectRows       atomic.Int64
	SelectErrors     atomic.Int64
	UpdateCount      atomic.Int64
	UpdateRows       atomic.Int64
	UpdateErrors     atomic.Int64
	DeleteCount      atomic.Int64
	DeleteRows       atomic.Int64
	DeleteErrors     atomic.Int64
	UpsertCount      atomic.Int64
	UpsertInserts    atomic.Int64
	UpsertErrors     atomic.Int64
	ScanCount        atomic.Int64
	ScanRows         atomic.Int64
	ScanErrors       atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordSelect implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSelect(rows int, _ time.Duration, err error) {
	b.SelectCount.Add(1)
	b.SelectRows.Add(int64(rows))
	if err != nil {
		b.SelectErrors.Add(1)
	}
}

// RecordUpdate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpdate(rows int, _ time.Duration, err error) {
	b.UpdateCount.Add(1)
	b.UpdateRows.Add(int64(rows))
	if err != nil {
		b.UpdateErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(rows int, _ time.Duration, err error) {
	b.DeleteCount.Add(1)
	b.DeleteRows.Add(int64(rows))
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordUpsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpsert(inserted bool, _ time.Duration, err error) {
	b.UpsertCount.Add(1)
	if inserted && err == nil {
		b.UpsertInserts.Add(1)
	}
	if err != nil {
		b.UpsertErrors.Add(1)
	}
}

// RecordScan implements MetricsCollector.
func (b *BasicMetricsCollector) RecordScan(rows int, _ time.Duration, err error) {
	b.ScanCount.Add(1)
	b.ScanRows.Add(int64(rows))
	if err != nil {
		b.ScanErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:    b.InsertCount.Load(),
		InsertErrors:   b.InsertErrors.Load(),
		InsertAvgNanos: b.getAvgInsertNanos(),
		SelectCount:    b.SelectCount.Load(),
		SelectRows:     b.SelectRows.Load(),
		SelectErrors:   b.SelectErrors.Load(),
		UpdateCount:    b.UpdateCount.Load(),
		UpdateRows:     b.UpdateRows.Load(),
		UpdateErrors:   b.UpdateErrors.Load(),
		DeleteCount:    b.DeleteCount.Load(),
		DeleteRows:     b.DeleteRows.Load(),
		DeleteErrors:   b.DeleteErrors.Load(),
		UpsertCount:    b.UpsertCount.Load(),
		UpsertInserts:  b.UpsertInserts.Load(),
		UpsertErrors:   b.UpsertErrors.Load(),
		ScanCount:      b.ScanCount.Load(),
		ScanRows:       b.ScanRows.Load(),
		ScanErrors:     b.ScanErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgInsertNanos() int64 {
	count := b.InsertCount.Load()
	if count == 0 {
		return 0
	}
	return b.InsertTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InsertCount    int64
	InsertErrors   int64
	InsertAvgNanos int64
	SelectCount    int64
	SelectRows     int64
	SelectErrors   int64
	UpdateCount    int64
	UpdateRows     int64
	UpdateErrors   int64
	DeleteCount    int64
	DeleteRows     int64
	DeleteErrors   int64
	UpsertCount    int64
	UpsertInserts  int64
	UpsertErrors   int64
	ScanCount      int64
	ScanRows       int64
	ScanErrors     int64
}
