package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderlink/internal/domain/cart"
)

const (
	listCartItemsSQL = `SELECT id, product_code, qty, unit_price, original_price, promo_price
		FROM cart_items WHERE session_token = $1 ORDER BY id`

	// Merge-on-add in a single statement: a second add of the same product
	// increments the stored quantity, capped at the per-line bound, and keeps
	// the original price snapshot.
	addOrIncrementSQL = `INSERT INTO cart_items (session_token, product_code, qty, unit_price, original_price, promo_price)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_token, product_code)
		DO UPDATE SET qty = LEAST(cart_items.qty + EXCLUDED.qty, $7)
		RETURNING id, product_code, qty, unit_price, original_price, promo_price`

	updateCartQtySQL = `UPDATE cart_items SET qty = $3
		WHERE session_token = $1 AND id = $2`

	deleteCartItemSQL = `DELETE FROM cart_items
		WHERE session_token = $1 AND id = $2`

	clearCartSQL = `DELETE FROM cart_items WHERE session_token = $1`

	insertCartItemSQL = `INSERT INTO cart_items (session_token, product_code, qty, unit_price, original_price, promo_price)
		VALUES ($1, $2, $3, $4, $5, $6)`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// ListBySession returns the session's stored lines ordered by insertion.
func (r *CartRepository) ListBySession(ctx context.Context, token uuid.UUID) ([]cart.Line, error) {
	rows, err := r.pool.Query(ctx, listCartItemsSQL, token)
	if err != nil {
		return nil, fmt.Errorf("listing cart items: %w", err)
	}
	return pgx.CollectRows(rows, scanCartLine)
}

// AddOrIncrement inserts the line or increments the quantity of an existing
// line for the same product, returning the stored row.
func (r *CartRepository) AddOrIncrement(ctx context.Context, token uuid.UUID, l cart.Line) (cart.Line, error) {
	rows, err := r.pool.Query(ctx, addOrIncrementSQL,
		token, l.ProductCode, l.Qty, l.UnitPrice, l.OriginalPrice, l.PromoPrice,
		cart.MaxQuantity,
	)
	if err != nil {
		return cart.Line{}, fmt.Errorf("adding cart item: %w", err)
	}

	stored, err := pgx.CollectExactlyOneRow(rows, scanCartLine)
	if err != nil {
		return cart.Line{}, fmt.Errorf("adding cart item: %w", err)
	}
	return stored, nil
}

// UpdateQty sets the quantity of one line. cart.ErrItemNotFound when the
// line does not belong to the session.
func (r *CartRepository) UpdateQty(ctx context.Context, token uuid.UUID, itemID int64, qty decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, updateCartQtySQL, token, itemID, qty)
	if err != nil {
		return fmt.Errorf("updating cart item %d: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// Delete removes one line from the session.
func (r *CartRepository) Delete(ctx context.Context, token uuid.UUID, itemID int64) error {
	tag, err := r.pool.Exec(ctx, deleteCartItemSQL, token, itemID)
	if err != nil {
		return fmt.Errorf("deleting cart item %d: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// ReplaceAll overwrites the session's entire line set in one transaction, so
// a failed save never leaves a half-replaced cart behind.
func (r *CartRepository) ReplaceAll(ctx context.Context, token uuid.UUID, lines []cart.Line) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replacing cart: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, clearCartSQL, token); err != nil {
		return fmt.Errorf("replacing cart: clear: %w", err)
	}

	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(insertCartItemSQL,
			token, l.ProductCode, l.Qty, l.UnitPrice, l.OriginalPrice, l.PromoPrice,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("replacing cart: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("replacing cart: commit: %w", err)
	}
	return nil
}

func scanCartLine(row pgx.CollectableRow) (cart.Line, error) {
	var l cart.Line
	err := row.Scan(&l.ID, &l.ProductCode, &l.Qty, &l.UnitPrice, &l.OriginalPrice, &l.PromoPrice)
	return l, err
}
