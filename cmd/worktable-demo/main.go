// Command worktable-demo walks through the table API and optionally runs a
// concurrent load against it while exporting Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hupe1980/worktable"
	"github.com/hupe1980/worktable/pkgen"
	"github.com/hupe1980/worktable/prommetrics"
	"github.com/hupe1980/worktable/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// MyRow is the demo row: an autoincrement key, a value and an indexed
// attribute.
type MyRow struct {
	ID        uint64
	Val       int64
	Attribute string
}

// ValByAttr is the argument of the val_by_attr update query.
type ValByAttr struct {
	Val int64
}

type myTable struct {
	*worktable.Table[MyRow, uint64]

	byAttribute  *worktable.NonUniqueIndex[MyRow, string]
	valByAttr    *worktable.UpdateQuery[MyRow, uint64, ValByAttr, string]
	relabel      *worktable.UpdateQuery[MyRow, uint64, string, uint64]
	deleteByAttr *worktable.DeleteQuery[MyRow, uint64, string]
	deleteByID   *worktable.DeleteQuery[MyRow, uint64, uint64]
}

func newMyTable(opts ...worktable.Option) (*myTable, error) {
	byAttribute := worktable.NewNonUniqueIndex("attribute_idx", func(r MyRow) string { return r.Attribute })

	t, err := worktable.New(worktable.Schema[MyRow, uint64]{
		Name:          "my",
		PrimaryKey:    func(r MyRow) uint64 { return r.ID },
		SetPrimaryKey: func(r *MyRow, id uint64) { r.ID = id },
		Generator:     pkgen.Autoincrement[uint64](),
		Indexes:       []worktable.IndexDescriptor[MyRow]{byAttribute},
	}, opts...)
	if err != nil {
		return nil, err
	}

	return &myTable{
		Table:       t,
		byAttribute: byAttribute,
		valByAttr: worktable.NewUpdateQuery(t, "val_by_attr", byAttribute.Filter(), func(r *MyRow, q ValByAttr) {
			r.Val = q.Val
		}),
		relabel: worktable.NewUpdateQuery(t, "relabel", t.PrimaryKeyFilter(), func(r *MyRow, attr string) {
			r.Attribute = attr
		}),
		deleteByAttr: worktable.NewDeleteQuery(t, "by_attr", byAttribute.Filter()),
		deleteByID:   worktable.NewDeleteQuery(t, "by_id", t.PrimaryKeyFilter()),
	}, nil
}

var (
	workers     = flag.Int("workers", 0, "Concurrent writers for the load phase (0 skips it)")
	rows        = flag.Int("rows", 10000, "Rows inserted per writer in the load phase")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :2112")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		log.Fatalf("invalid log level %q: %v", *logLevel, err)
	}

	reg := prometheus.NewRegistry()
	mc := prommetrics.MustNew("demo", reg)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			fmt.Printf("Prometheus metrics available at http://%s/metrics\n", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := newMyTable(
		worktable.WithLogLevel(level),
		worktable.WithMetricsCollector(mc),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer t.Close()

	if err := walkthrough(ctx, t); err != nil {
		log.Fatal(err)
	}

	if *workers > 0 {
		if err := load(ctx, t, *workers, *rows); err != nil {
			log.Fatal(err)
		}
	}
}

func walkthrough(ctx context.Context, t *myTable) error {
	for _, r := range []MyRow{
		{Val: 1, Attribute: "TEST"},
		{Val: 2, Attribute: "TEST2"},
		{Val: 1337, Attribute: "TEST2"},
		{Val: 555, Attribute: "TEST3"},
	} {
		if _, err := t.Insert(ctx, r); err != nil {
			return err
		}
	}

	all, err := t.SelectAll().Execute(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Select All %v\n", all)

	byAttr, err := t.byAttribute.Select(ctx, t, "TEST2")
	if err != nil {
		return err
	}
	fmt.Printf("Select by Attribute TEST2: %v\n", byAttr)

	if _, err := t.valByAttr.Exec(ctx, ValByAttr{Val: 777}, "TEST2"); err != nil {
		return err
	}
	updated, err := t.byAttribute.Select(ctx, t, "TEST2")
	if err != nil {
		return err
	}
	fmt.Printf("Select updated by Attribute TEST2: %v\n", updated)

	if _, err := t.valByAttr.Exec(ctx, ValByAttr{Val: 7777}, "TEST2"); err != nil {
		return err
	}
	all, err = t.SelectAll().Execute(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Select After Val Update by Attribute: %v\n", all)

	if _, err := t.deleteByAttr.Exec(ctx, "TEST3"); err != nil {
		return err
	}
	all, err = t.SelectAll().Execute(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Select after deleted TEST3 %v\n", all)

	if _, err := t.deleteByID.Exec(ctx, 0); err != nil {
		return err
	}
	fmt.Printf("Rows after deleting id 0: %d\n", t.Len())
	return nil
}

// load runs concurrent writers that insert, re-label and delete rows while a
// reader scans the table.
func load(ctx context.Context, t *myTable, writers, perWriter int) error {
	start := time.Now()
	rng := testutil.NewRNG(42)
	labels := rng.SkewedLabels(writers*perWriter, 32, 1.2)

	eg, ctx := errgroup.WithContext(ctx)
	for w := range writers {
		eg.Go(func() error {
			for i := range perWriter {
				attr := labels[w*perWriter+i]
				id, err := t.Insert(ctx, MyRow{Val: int64(i), Attribute: attr})
				if err != nil {
					return err
				}
				switch i % 4 {
				case 1:
					next := labels[(w*perWriter+i+1)%len(labels)]
					if _, err := t.relabel.Exec(ctx, next, id); err != nil {
						return err
					}
				case 3:
					if _, err := t.deleteByID.Exec(ctx, id); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}

	eg.Go(func() error {
		for ctx.Err() == nil && time.Since(start) < 2*time.Second {
			err := t.IterWithContext(ctx, func(context.Context, MyRow) error { return nil })
			if err != nil && !errors.Is(err, worktable.ErrNotFound) {
				return err
			}
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return err
	}

	s := t.Stats()
	fmt.Printf("Load: %d rows in %v, %d pages, %d distinct attributes, %d reclaimed objects\n",
		s.Rows, time.Since(start).Round(time.Millisecond), s.Pages, s.Indexes["attribute_idx"], s.ReclaimedObjects)
	return nil
}
