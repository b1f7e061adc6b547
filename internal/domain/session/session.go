// Package session implements the token-to-session gate: the possession-based
// access token is resolved to an order session and classified into one of
// four states. Only ACTIVE sessions permit cart edits and submission.
package session

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrNotFound is returned by Repository.GetByToken when no session row
// exists for the token.
var ErrNotFound = errors.New("session not found")

// State classifies a resolved session.
type State string

const (
	// StateInvalid covers both a missing row and a failed lookup. The two
	// are deliberately indistinguishable to the caller so that responses do
	// not disclose whether a probed token exists.
	StateInvalid State = "invalid"
	// StateActive is the only state that permits editing and submission.
	StateActive State = "active"
	// StateExpired is terminal: the expiry instant has passed.
	StateExpired State = "expired"
	// StateClosed is the terminal state after a successful submission. It is
	// not an error: the submitted order remains readable.
	StateClosed State = "closed"
)

// Session is a time- and use-bounded context binding a customer to an
// editable cart. The token doubles as primary key and bearer capability.
type Session struct {
	Token       uuid.UUID
	CustomerID  int64
	OrderNumber int64
	CatalogView string
	Used        bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Repository defines persistence operations for order sessions.
//
// Note the deliberate absence of a generic update: the used flag is flipped
// exclusively by the submit transaction's compare-and-set, and sessions are
// never deleted here.
type Repository interface {
	GetByToken(ctx context.Context, token uuid.UUID) (*Session, error)
	Create(ctx context.Context, s *Session) error
}

// Resolution is the outcome of resolving a token. Session is non-nil for
// every state except StateInvalid.
type Resolution struct {
	State   State
	Session *Session
}

// Gate resolves tokens to sessions and enforces expiry and single-use
// semantics. The clock is injectable for boundary tests.
type Gate struct {
	sessions Repository
	now      func() time.Time
}

// NewGate creates a Gate over the given session repository.
func NewGate(sessions Repository) *Gate {
	return &Gate{sessions: sessions, now: time.Now}
}

// WithClock overrides the gate's time source.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Resolve maps a raw token string to a session state.
//
// A malformed token, a missing row, and a backend lookup failure all resolve
// to StateInvalid; the returned error is non-nil only for backend failures so
// callers can log the cause without changing the externally visible outcome.
//
// A session whose expiry equals the current instant is already expired.
func (g *Gate) Resolve(ctx context.Context, rawToken string) (Resolution, error) {
	token, err := uuid.Parse(rawToken)
	if err != nil {
		return Resolution{State: StateInvalid}, nil
	}

	s, err := g.sessions.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Resolution{State: StateInvalid}, nil
		}
		return Resolution{State: StateInvalid}, errors.Wrap(err, "lookup session")
	}

	switch {
	case s.Used:
		return Resolution{State: StateClosed, Session: s}, nil
	case !g.now().Before(s.ExpiresAt):
		return Resolution{State: StateExpired, Session: s}, nil
	default:
		return Resolution{State: StateActive, Session: s}, nil
	}
}
