package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace-settlement/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
)

func main() {
	var (
		databaseURL string
		templateID  int64
		expiresAt   string
		capacity    uint
		batchSize   int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Int64Var(&templateID, "template-id", 0, "coupon template the codes are issued from")
	flag.StringVar(&expiresAt, "expires-at", "", "RFC 3339 expiry of the issued coupons; never expires when empty")
	flag.UintVar(&capacity, "expected-codes", 10_000_000, "expected number of issued codes, sizes the bloom filter")
	flag.IntVar(&batchSize, "batch-size", 5_000, "coupons inserted per statement")
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: coupon-issue [flags] FILE.gz...\n\nEach line of a file is CODE,USER_ID.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if templateID <= 0 || flag.NArg() == 0 || batchSize <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	var expires *time.Time
	if expiresAt != "" {
		t, err := time.Parse(time.RFC3339, expiresAt)
		if err != nil {
			slog.Error("invalid --expires-at", slog.String("error", err.Error()))
			os.Exit(2)
		}
		expires = &t
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	opts := issueOptions{
		templateID: templateID,
		expiresAt:  expires,
		capacity:   capacity,
		batchSize:  batchSize,
	}
	if err := run(ctx, databaseURL, flag.Args(), opts); err != nil {
		slog.Error("coupon issue failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type issueOptions struct {
	templateID int64
	expiresAt  *time.Time
	capacity   uint
	batchSize  int
}

func run(ctx context.Context, databaseURL string, files []string, opts issueOptions) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewCouponRepository(pool)

	// Pass 1: load the codes issued so far into the filter.
	slog.Info("loading issued codes", slog.Uint64("capacity", uint64(opts.capacity)))
	filter := bloom.NewWithEstimates(opts.capacity, bloomFPR)
	var loaded uint64
	if err := repo.ForEachCode(ctx, func(code string) {
		filter.AddString(code)
		loaded++
	}); err != nil {
		return errors.Wrap(err, "load issued codes")
	}
	slog.Info("issued codes loaded", slog.Uint64("codes", loaded))

	// Pass 2: stream the files concurrently into a single issuer.
	is := newIssuer(repo, filter, opts.templateID, opts.expiresAt, opts.batchSize)
	lines := make(chan string, 4096)

	g, gctx := errgroup.WithContext(ctx)
	readers, rctx := errgroup.WithContext(gctx)
	for _, f := range files {
		readers.Go(func() error {
			return streamGzFile(rctx, f, func(line string) error {
				select {
				case lines <- line:
					return nil
				case <-rctx.Done():
					return rctx.Err()
				}
			})
		})
	}
	g.Go(func() error {
		defer close(lines)
		return readers.Wait()
	})
	g.Go(func() error {
		var n uint64
		for line := range lines {
			if err := is.Add(gctx, line); err != nil {
				return err
			}
			if n++; n%progressEvery == 0 {
				slog.Info("issue progress", slog.Uint64("lines", n), slog.Uint64("issued", is.stats.Issued))
			}
		}
		return is.Flush(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("coupon issue completed",
		slog.Uint64("lines", is.stats.Read),
		slog.Uint64("issued", is.stats.Issued),
		slog.Uint64("duplicates", is.stats.Duplicates),
		slog.Uint64("invalid", is.stats.Invalid),
	)
	return nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Text()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
