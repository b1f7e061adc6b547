// Command session-link provisions a one-time approval link for a customer.
//
// It verifies the customer exists, reserves an order number, creates the
// session row, and prints the resulting URL. The link is valid for --ttl and
// becomes permanently read-only after one successful submission.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/orderlink/internal/domain/customer"
	"github.com/xenking/orderlink/internal/domain/session"
	"github.com/xenking/orderlink/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		baseURL     string
		customerID  int64
		taxID       string
		catalogView string
		ttl         time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&baseURL, "base-url", "http://localhost:8080", "public base URL for the generated link")
	flag.Int64Var(&customerID, "customer-id", 0, "customer ID to provision the link for")
	flag.StringVar(&taxID, "tax-id", "", "customer tax ID, used when --customer-id is not set")
	flag.StringVar(&catalogView, "catalog-view", "default", "catalog view presented to this customer")
	flag.DurationVar(&ttl, "ttl", 24*time.Hour, "link lifetime")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if customerID == 0 && taxID == "" {
		slog.Error("customer is required: set --customer-id or --tax-id")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, baseURL, customerID, taxID, catalogView, ttl); err != nil {
		slog.Error("session provisioning failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL, baseURL string, customerID int64, taxID, catalogView string, ttl time.Duration) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	customers := postgres.NewCustomerRepository(pool)
	sessions := postgres.NewSessionRepository(pool)

	c, err := lookupCustomer(ctx, customers, customerID, taxID)
	if err != nil {
		return err
	}

	now := time.Now()
	s := &session.Session{
		Token:       uuid.New(),
		CustomerID:  c.ID,
		CatalogView: catalogView,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := sessions.Create(ctx, s); err != nil {
		return errors.Wrap(err, "create session")
	}

	slog.Info("session provisioned",
		slog.String("token", s.Token.String()),
		slog.Int64("customer_id", c.ID),
		slog.String("customer", c.Name),
		slog.Int64("order_number", s.OrderNumber),
		slog.Time("expires_at", s.ExpiresAt),
	)

	fmt.Printf("%s/api/session/%s\n", baseURL, s.Token)
	return nil
}

func lookupCustomer(ctx context.Context, repo *postgres.CustomerRepository, id int64, taxID string) (*customer.Customer, error) {
	if id != 0 {
		c, err := repo.GetByID(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "customer %d", id)
		}
		return c, nil
	}
	c, err := repo.GetByTaxID(ctx, taxID)
	if err != nil {
		return nil, errors.Wrapf(err, "customer with tax id %q", taxID)
	}
	return c, nil
}
