package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderlink/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO submitted_orders
		(session_token, order_number, payload, approver_name, approver_phone, approver_email, client_meta, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	// The compare-and-set closing the session: the write succeeds only while
	// used is still false, which serializes concurrent submissions.
	casCloseSessionSQL = `UPDATE order_sessions SET used = TRUE
		WHERE token = $1 AND used = FALSE`

	getOrderBySessionSQL = `SELECT id, session_token, order_number, payload,
		approver_name, approver_phone, approver_email, client_meta, submitted_at
		FROM submitted_orders WHERE session_token = $1`

	uniqueViolationCode = "23505"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateAndClose inserts the submitted order, conditionally flips the
// session's used flag, and clears the cart, all in one transaction. When
// the conditional update affects no row (or the unique constraint on
// session_token fires first), a concurrent submission already won: the
// transaction is rolled back and order.ErrSessionUsed returned.
func (r *OrderRepository) CreateAndClose(ctx context.Context, o *order.SubmittedOrder) error {
	payloadJSON, err := json.Marshal(o.Payload)
	if err != nil {
		return fmt.Errorf("marshaling order payload: %w", err)
	}
	metaJSON, err := json.Marshal(o.ClientMeta)
	if err != nil {
		return fmt.Errorf("marshaling client metadata: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("creating order: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if o.OrderNumber == 0 {
		if err := tx.QueryRow(ctx, `SELECT nextval('order_numbers')`).Scan(&o.OrderNumber); err != nil {
			return fmt.Errorf("assigning order number: %w", err)
		}
	}

	err = tx.QueryRow(ctx, insertOrderSQL,
		o.SessionToken, o.OrderNumber, payloadJSON,
		o.Approver.Name, o.Approver.Phone, o.Approver.Email,
		metaJSON, o.SubmittedAt,
	).Scan(&o.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return order.ErrSessionUsed
		}
		return fmt.Errorf("creating order for session %q: %w", o.SessionToken, err)
	}

	tag, err := tx.Exec(ctx, casCloseSessionSQL, o.SessionToken)
	if err != nil {
		return fmt.Errorf("closing session %q: %w", o.SessionToken, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrSessionUsed
	}

	if _, err := tx.Exec(ctx, clearCartSQL, o.SessionToken); err != nil {
		return fmt.Errorf("clearing cart for session %q: %w", o.SessionToken, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("creating order: commit: %w", err)
	}
	return nil
}

// GetBySession returns the submitted order for a closed session.
func (r *OrderRepository) GetBySession(ctx context.Context, token uuid.UUID) (*order.SubmittedOrder, error) {
	rows, err := r.pool.Query(ctx, getOrderBySessionSQL, token)
	if err != nil {
		return nil, fmt.Errorf("getting order for session %q: %w", token, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanSubmittedOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order for session %q: %w", token, err)
	}
	return &o, nil
}

func scanSubmittedOrder(row pgx.CollectableRow) (order.SubmittedOrder, error) {
	var (
		o           order.SubmittedOrder
		payloadJSON []byte
		metaJSON    []byte
	)
	err := row.Scan(
		&o.ID, &o.SessionToken, &o.OrderNumber, &payloadJSON,
		&o.Approver.Name, &o.Approver.Phone, &o.Approver.Email,
		&metaJSON, &o.SubmittedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(payloadJSON, &o.Payload); err != nil {
		return o, fmt.Errorf("unmarshaling order payload: %w", err)
	}
	if err := json.Unmarshal(metaJSON, &o.ClientMeta); err != nil {
		return o, fmt.Errorf("unmarshaling client metadata: %w", err)
	}
	return o, nil
}
