// Command seed-db loads customers and the product catalog into PostgreSQL.
//
// Customers come from a single CSV. Products come from ERP catalog export
// chunks (products*.csv, optionally gzip-compressed); the chunks overlap, so
// a shared bloom filter skips codes already ingested in this run. Prices in
// the exports use mixed locale formats ("1.234,56" and "1,234.56") and are
// normalized on the way in.
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/orderlink/internal/domain/pricing"
	"github.com/xenking/orderlink/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.000001
	ingestWorkers = 4
	batchSize     = 500
)

const upsertCustomerSQL = `
INSERT INTO customers (name, tax_id, email, city, state)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (tax_id) DO UPDATE SET
	name = EXCLUDED.name,
	email = EXCLUDED.email,
	city = EXCLUDED.city,
	state = EXCLUDED.state
`

const upsertProductSQL = `
INSERT INTO products (code, description, base_price, promo_price, promo_starts_at, promo_ends_at, active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (code) DO UPDATE SET
	description = EXCLUDED.description,
	base_price = EXCLUDED.base_price,
	promo_price = EXCLUDED.promo_price,
	promo_starts_at = EXCLUDED.promo_starts_at,
	promo_ends_at = EXCLUDED.promo_ends_at,
	active = EXCLUDED.active
`

func main() {
	var (
		databaseURL   string
		customersFile string
		productsDir   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&customersFile, "customers-file", "db/seed/customers.csv", "path to customers CSV")
	flag.StringVar(&productsDir, "products-dir", "db/seed", "directory containing products*.csv[.gz] export chunks")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, customersFile, productsDir); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, customersFile, productsDir string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCustomers(ctx, pool, customersFile); err != nil {
		return errors.Wrap(err, "seed customers")
	}

	if err := seedProducts(ctx, pool, productsDir); err != nil {
		return errors.Wrap(err, "seed products")
	}

	return nil
}

// seedCustomers upserts customers keyed by tax ID.
// CSV columns: name, tax_id, email, city, state.
func seedCustomers(ctx context.Context, pool *pgxpool.Pool, path string) error {
	slog.Info("reading customers file", slog.String("path", path))

	var count int
	err := streamCSV(ctx, path, func(rec []string) error {
		if len(rec) < 5 {
			return errors.Errorf("customer row has %d columns, want 5", len(rec))
		}
		if _, err := pool.Exec(ctx, upsertCustomerSQL,
			rec[0], rec[1], rec[2], rec[3], rec[4],
		); err != nil {
			return errors.Wrapf(err, "upsert customer %s", rec[1])
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("customers upserted", slog.Int("count", count))
	return nil
}

// seedProducts ingests all product export chunks concurrently. A shared
// bloom filter drops codes already seen in this run; a false positive skips
// a row roughly once per million, which a rerun of the seed repairs.
func seedProducts(ctx context.Context, pool *pgxpool.Pool, dir string) error {
	plain, err := filepath.Glob(filepath.Join(dir, "products*.csv"))
	if err != nil {
		return errors.Wrap(err, "list product chunks")
	}
	gzipped, err := filepath.Glob(filepath.Join(dir, "products*.csv.gz"))
	if err != nil {
		return errors.Wrap(err, "list compressed product chunks")
	}
	files := append(plain, gzipped...)
	if len(files) == 0 {
		slog.Info("no product chunks found, skipping", slog.String("dir", dir))
		return nil
	}

	slog.Info("ingesting product chunks", slog.Int("files", len(files)))

	var (
		mu   sync.Mutex
		seen = bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestWorkers)
	for _, f := range files {
		g.Go(func() error {
			n, dup, err := ingestProductChunk(ctx, pool, f, &mu, seen)
			if err != nil {
				return errors.Wrapf(err, "ingest %s", f)
			}
			slog.Info("chunk ingested",
				slog.String("file", filepath.Base(f)),
				slog.Int("upserted", n),
				slog.Int("duplicates", dup),
			)
			return nil
		})
	}
	return g.Wait()
}

// ingestProductChunk streams one export chunk and upserts its rows in
// batches. CSV columns: code, description, base_price, promo_price,
// promo_starts_at, promo_ends_at, active.
func ingestProductChunk(
	ctx context.Context,
	pool *pgxpool.Pool,
	path string,
	mu *sync.Mutex,
	seen *bloom.BloomFilter,
) (upserted, duplicates int, err error) {
	batch := &pgx.Batch{}

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "send batch")
		}
		batch = &pgx.Batch{}
		return nil
	}

	err = streamCSV(ctx, path, func(rec []string) error {
		if len(rec) < 7 {
			return errors.Errorf("product row has %d columns, want 7", len(rec))
		}
		code := strings.TrimSpace(rec[0])
		if code == "" {
			return nil
		}

		mu.Lock()
		dup := seen.TestString(code)
		if !dup {
			seen.AddString(code)
		}
		mu.Unlock()
		if dup {
			duplicates++
			return nil
		}

		base := pricing.ParsePrice(rec[2])
		promo := pricing.ParsePrice(rec[3])
		startsAt, err := parseDate(rec[4])
		if err != nil {
			return errors.Wrapf(err, "product %s promo start", code)
		}
		endsAt, err := parseDate(rec[5])
		if err != nil {
			return errors.Wrapf(err, "product %s promo end", code)
		}
		active := strings.EqualFold(strings.TrimSpace(rec[6]), "true")

		batch.Queue(upsertProductSQL, code, rec[1], base, promo, startsAt, endsAt, active)
		upserted++
		if batch.Len() >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if err := flush(); err != nil {
		return 0, 0, err
	}
	return upserted, duplicates, nil
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, errors.Errorf("unrecognized date %q", s)
}

// streamCSV calls fn for every record of a CSV file, transparently
// decompressing .gz files. The first row is treated as a header and skipped.
func streamCSV(ctx context.Context, path string, fn func(rec []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var rd io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(rd)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		rd = gz
	}

	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1

	for first := true; ; first = false {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		if first {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
