// Package prommetrics exports table metrics to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	mc, _ := prommetrics.New("app", reg)
//	t, _ := worktable.New(schema, worktable.WithMetricsCollector(mc))
package prommetrics

import (
	"time"

	"github.com/hupe1980/worktable"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

var _ worktable.MetricsCollector = (*Collector)(nil)

// Collector implements worktable.MetricsCollector with Prometheus vectors
// labeled by operation.
type Collector struct {
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
	rows    *prometheus.CounterVec
}

// New creates a Collector and registers it with reg. namespace prefixes every
// metric name and may be empty.
func New(namespace string, reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worktable_operations_total",
			Help:      "Table operations by type and outcome",
		}, []string{"op", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worktable_operation_latency_seconds",
			Help:      "Latency of table operations",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"op"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worktable_rows_total",
			Help:      "Rows returned, written or removed by table operations",
		}, []string{"op"}),
	}

	for _, col := range []prometheus.Collector{c.ops, c.latency, c.rows} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics if registration fails.
func MustNew(namespace string, reg prometheus.Registerer) *Collector {
	c, err := New(namespace, reg)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Collector) observe(op string, rows int, d time.Duration, err error) {
	status := statusSuccess
	if err != nil {
		status = statusError
	}
	c.ops.WithLabelValues(op, status).Inc()
	c.latency.WithLabelValues(op).Observe(d.Seconds())
	if rows > 0 {
		c.rows.WithLabelValues(op).Add(float64(rows))
	}
}

// RecordInsert counts an insert and observes its latency.
func (c *Collector) RecordInsert(d time.Duration, err error) {
	rows := 1
	if err != nil {
		rows = 0
	}
	c.observe("insert", rows, d, err)
}

// RecordSelect counts a select and the rows it returned.
func (c *Collector) RecordSelect(rows int, d time.Duration, err error) {
	c.observe("select", rows, d, err)
}

// RecordUpdate counts an update and the rows it wrote.
func (c *Collector) RecordUpdate(rows int, d time.Duration, err error) {
	c.observe("update", rows, d, err)
}

// RecordDelete counts a delete and the rows it removed.
func (c *Collector) RecordDelete(rows int, d time.Duration, err error) {
	c.observe("delete", rows, d, err)
}

// RecordUpsert counts an upsert under the path it took.
func (c *Collector) RecordUpsert(inserted bool, d time.Duration, err error) {
	op := "upsert_update"
	if inserted {
		op = "upsert_insert"
	}
	c.observe(op, 0, d, err)
}

// RecordScan counts a scan and the rows it visited.
func (c *Collector) RecordScan(rows int, d time.Duration, err error) {
	c.observe("scan", rows, d, err)
}
