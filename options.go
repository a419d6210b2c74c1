package worktable

import (
	"log/slog"

	"github.com/hupe1980/worktable/resource"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	rowSizeHint      int
	pageSize         int
	maxPages         int
	maxRows          int64
	memoryLimit      int64
	resources        *resource.Controller
}

// Option configures a Table.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &worktable.BasicMetricsCollector{}
//	t, _ := worktable.New(schema, worktable.WithMetricsCollector(metrics))
//	// ... use t ...
//	stats := metrics.GetStats()
//	fmt.Printf("Inserts: %d, Avg latency: %dns\n", stats.InsertCount, stats.InsertAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := worktable.NewJSONLogger(slog.LevelDebug)
//	t, _ := worktable.New(schema, worktable.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithRowSizeHint sets the expected size of one row in bytes. Together with
// the page size it decides how many rows share a storage page.
func WithRowSizeHint(bytes int) Option {
	return func(o *options) {
		o.rowSizeHint = bytes
	}
}

// WithPageSize sets the number of bytes budgeted per storage page.
func WithPageSize(bytes int) Option {
	return func(o *options) {
		o.pageSize = bytes
	}
}

// WithMaxPages bounds the number of storage pages. Inserts beyond the last
// page fail with a StorageError.
func WithMaxPages(n int) Option {
	return func(o *options) {
		o.maxPages = n
	}
}

// WithMaxRows bounds the number of live rows.
func WithMaxRows(n int64) Option {
	return func(o *options) {
		o.maxRows = n
	}
}

// WithMemoryLimit bounds the bytes reserved by storage pages.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithResourceController shares one resource budget between several tables.
// It takes precedence over WithMaxRows and WithMemoryLimit.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
