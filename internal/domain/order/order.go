// Package order implements the submission coordinator: the single
// irreversible transition from an editable cart to an immutable submitted
// order, guarded by a compare-and-set on the session's used flag.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sentinel errors mapping to the submission error taxonomy.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")
	ErrSessionUsed      = errors.New("session already used")
	ErrNoItems          = errors.New("no items in cart")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrOrderNotFound    = errors.New("submitted order not found")
)

// ValidationError indicates missing or malformed approver fields.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Msg)
}

// Approver is the human identity declared at submission time, distinct from
// the customer record.
type Approver struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// ClientMeta is the audit metadata captured from the submitting client.
type ClientMeta struct {
	UserAgent    string `json:"user_agent,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	ScreenWidth  int    `json:"screen_width,omitempty"`
	ScreenHeight int    `json:"screen_height,omitempty"`
	Referrer     string `json:"referrer,omitempty"`
	RemoteAddr   string `json:"remote_addr,omitempty"`
}

// PayloadCustomer is the customer snapshot embedded in the order payload.
type PayloadCustomer struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	TaxID string `json:"tax_id,omitempty"`
}

// PayloadLine is one resolved line of the immutable order payload.
type PayloadLine struct {
	Code        string              `json:"code"`
	Description string              `json:"description"`
	Qty         decimal.Decimal     `json:"qty"`
	UnitPrice   decimal.NullDecimal `json:"unit_price"`
	Subtotal    decimal.NullDecimal `json:"subtotal"`
	Unresolved  bool                `json:"unresolved,omitempty"`
}

// Totals aggregates the payload lines. TotalValue is summed from the line
// subtotals, never copied from a cached cart figure, so the persisted total
// cannot drift from the persisted lines.
type Totals struct {
	TotalItems    int             `json:"total_items"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	TotalValue    decimal.Decimal `json:"total_value"`
	UnpricedItems int             `json:"unpriced_items,omitempty"`
}

// Payload is the immutable JSON document stored with a submitted order.
type Payload struct {
	Customer    PayloadCustomer `json:"customer"`
	Items       []PayloadLine   `json:"items"`
	Totals      Totals          `json:"totals"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// SubmittedOrder is created exactly once per session and never mutated.
type SubmittedOrder struct {
	ID           int64
	SessionToken uuid.UUID
	OrderNumber  int64
	Payload      Payload
	Approver     Approver
	ClientMeta   ClientMeta
	SubmittedAt  time.Time
}

// Repository defines persistence for submitted orders.
type Repository interface {
	// CreateAndClose atomically inserts the order, flips the session's used
	// flag via a conditional update (used=false precondition), and deletes
	// the session's cart lines. When the conditional update affects no row a
	// concurrent submission already won: everything is rolled back and
	// ErrSessionUsed is returned. A zero OrderNumber is assigned from the
	// order number sequence inside the same transaction.
	CreateAndClose(ctx context.Context, o *SubmittedOrder) error
	// GetBySession returns the submitted order for a closed session, or
	// ErrOrderNotFound.
	GetBySession(ctx context.Context, token uuid.UUID) (*SubmittedOrder, error)
}

// Notifier delivers a best-effort submission notification. Implementations
// live in internal/notify; failures are logged by the coordinator and never
// reach the submitting caller.
type Notifier interface {
	OrderSubmitted(ctx context.Context, o *SubmittedOrder) error
}
