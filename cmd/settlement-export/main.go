// Command settlement-export writes the settlements of one cycle and their
// items as gzip-compressed CSV files for accounting.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace-settlement/internal/domain/settlement"
	"github.com/xenking/marketplace-settlement/internal/storage/postgres"
)

type options struct {
	databaseURL string
	outDir      string
	year        int
	month       int
	timezone    string
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.outDir, "out-dir", ".", "directory the CSV files are written to")
	flag.IntVar(&opts.year, "year", 0, "cycle year (default: previous month)")
	flag.IntVar(&opts.month, "month", 0, "cycle month 1-12 (default: previous month)")
	flag.StringVar(&opts.timezone, "timezone", "Asia/Seoul", "time zone of cycle boundaries")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("settlement export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("settlement export completed successfully")
}

func run(ctx context.Context, opts options) error {
	start, err := cycleStart(opts, time.Now())
	if err != nil {
		return err
	}
	slog.Info("exporting cycle", slog.String("start", start.Format(time.DateOnly)))

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewSettlementRepository(pool)

	settlements, err := repo.ListByPeriod(ctx, start)
	if err != nil {
		return errors.Wrap(err, "list settlements")
	}
	slog.Info("settlements found", slog.Int("count", len(settlements)))

	suffix := start.Format("2006-01")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		path := filepath.Join(opts.outDir, fmt.Sprintf("settlements-%s.csv.gz", suffix))
		return writeGzFile(path, func(w *pgzip.Writer) error {
			return writeSettlements(w, settlements)
		})
	})
	g.Go(func() error {
		items := make(map[int64][]settlement.Item, len(settlements))
		for _, s := range settlements {
			list, err := repo.ListItems(ctx, s.ID)
			if err != nil {
				return errors.Wrapf(err, "list items of settlement %d", s.ID)
			}
			items[s.ID] = list
		}

		path := filepath.Join(opts.outDir, fmt.Sprintf("settlement-items-%s.csv.gz", suffix))
		return writeGzFile(path, func(w *pgzip.Writer) error {
			return writeItems(w, settlements, items)
		})
	})
	return g.Wait()
}

// cycleStart resolves the first day of the exported cycle. Without a year
// and month the previous calendar month of now is exported.
func cycleStart(opts options, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(opts.timezone)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "load timezone %q", opts.timezone)
	}

	switch {
	case opts.year == 0 && opts.month == 0:
		cur := now.In(loc)
		return time.Date(cur.Year(), cur.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, -1, 0), nil
	case opts.month < 1 || opts.month > 12 || opts.year < 2000:
		return time.Time{}, errors.Errorf("invalid cycle %d-%02d", opts.year, opts.month)
	default:
		return time.Date(opts.year, time.Month(opts.month), 1, 0, 0, 0, 0, loc), nil
	}
}

// writeGzFile creates path and streams fn's output through a parallel gzip
// writer.
func writeGzFile(path string, fn func(w *pgzip.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() { _ = f.Close() }()

	gz := pgzip.NewWriter(f)
	if err := fn(gz); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	if err := gz.Close(); err != nil {
		return errors.Wrapf(err, "flush gzip writer for %s", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}

	slog.Info("file written", slog.String("path", path))
	return nil
}
