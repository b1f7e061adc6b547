package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderlink/internal/domain/customer"
)

const (
	getCustomerByIDSQL = `SELECT id, name, tax_id, email, city, state
		FROM customers WHERE id = $1`

	getCustomerByTaxIDSQL = `SELECT id, name, tax_id, email, city, state
		FROM customers WHERE tax_id = $1`
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// GetByID returns a single customer by its identifier.
func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (*customer.Customer, error) {
	return r.get(ctx, getCustomerByIDSQL, id)
}

// GetByTaxID returns a single customer by its tax id.
func (r *CustomerRepository) GetByTaxID(ctx context.Context, taxID string) (*customer.Customer, error) {
	return r.get(ctx, getCustomerByTaxIDSQL, taxID)
}

func (r *CustomerRepository) get(ctx context.Context, query string, arg any) (*customer.Customer, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting customer: %w", err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCustomer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("getting customer: %w", err)
	}
	return &c, nil
}

func scanCustomer(row pgx.CollectableRow) (customer.Customer, error) {
	var c customer.Customer
	err := row.Scan(&c.ID, &c.Name, &c.TaxID, &c.Email, &c.City, &c.State)
	return c, err
}
