package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderlink/internal/domain/session"
)

const (
	getSessionSQL = `SELECT token, customer_id, order_number, catalog_view, used, created_at, expires_at
		FROM order_sessions WHERE token = $1`

	insertSessionSQL = `INSERT INTO order_sessions (token, customer_id, order_number, catalog_view, used, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

var _ session.Repository = (*SessionRepository)(nil)

// SessionRepository implements session.Repository backed by PostgreSQL.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a SessionRepository that uses the given pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// GetByToken returns the session row for the token.
func (r *SessionRepository) GetByToken(ctx context.Context, token uuid.UUID) (*session.Session, error) {
	rows, err := r.pool.Query(ctx, getSessionSQL, token)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}

	s, err := pgx.CollectExactlyOneRow(rows, scanSession)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &s, nil
}

// Create inserts a provisioned session. A zero OrderNumber is pre-reserved
// from the order number sequence.
func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	if s.OrderNumber == 0 {
		if err := r.pool.QueryRow(ctx, `SELECT nextval('order_numbers')`).Scan(&s.OrderNumber); err != nil {
			return fmt.Errorf("reserving order number: %w", err)
		}
	}

	_, err := r.pool.Exec(ctx, insertSessionSQL,
		s.Token, s.CustomerID, s.OrderNumber, s.CatalogView, s.Used, s.CreatedAt, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("creating session %q: %w", s.Token, err)
	}
	return nil
}

func scanSession(row pgx.CollectableRow) (session.Session, error) {
	var s session.Session
	err := row.Scan(
		&s.Token, &s.CustomerID, &s.OrderNumber, &s.CatalogView,
		&s.Used, &s.CreatedAt, &s.ExpiresAt,
	)
	return s, err
}
