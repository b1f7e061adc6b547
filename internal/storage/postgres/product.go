package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderlink/internal/domain/product"
)

const (
	getProductByCodeSQL = `SELECT code, description, base_price, promo_price, promo_starts_at, promo_ends_at, active
		FROM products WHERE code = $1`

	getProductsByCodesSQL = `SELECT code, description, base_price, promo_price, promo_starts_at, promo_ends_at, active
		FROM products WHERE code = ANY($1)`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByCode returns a single product by its catalog code.
func (r *ProductRepository) GetByCode(ctx context.Context, code string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", code, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", code, err)
	}
	return &p, nil
}

// GetByCodes returns products matching any of the given codes.
func (r *ProductRepository) GetByCodes(ctx context.Context, codes []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByCodesSQL, codes)
	if err != nil {
		return nil, fmt.Errorf("getting products by codes: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.Code, &p.Description, &p.BasePrice, &p.PromoPrice,
		&p.PromoStartsAt, &p.PromoEndsAt, &p.Active,
	)
	return p, err
}
