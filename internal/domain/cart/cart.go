// Package cart maintains the editable line items of an order session, kept
// consistent with the persistent store and priced through the pricing
// resolver.
package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Validation sentinels.
var (
	// ErrInvalidQuantity rejects non-positive or oversized add quantities.
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	// ErrNotConfirmed rejects a removal that was not explicitly confirmed.
	// The confirmation is a precondition of the public API so a stray event
	// cannot silently destroy a line.
	ErrNotConfirmed = errors.New("removal requires confirmation")
	// ErrItemNotFound is returned when the referenced cart line does not
	// exist for the session.
	ErrItemNotFound = errors.New("cart item not found")
)

// ProductNotFoundError indicates the requested product is absent from the
// catalog (or inactive).
type ProductNotFoundError struct {
	Code string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.Code)
}

// CatalogError wraps a catalog lookup failure.
type CatalogError struct {
	Err error
}

func (e *CatalogError) Error() string { return "catalog unavailable: " + e.Err.Error() }
func (e *CatalogError) Unwrap() error { return e.Err }

// StoreError wraps a persistence failure for a single logical operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// Line is one product/quantity/price entry within a session. The three price
// fields are a snapshot frozen when the line was created; UnitPrice may be
// invalid when the product had no resolvable price, which is distinct from a
// free line.
type Line struct {
	ID            int64
	ProductCode   string
	Description   string
	Qty           decimal.Decimal
	UnitPrice     decimal.NullDecimal
	OriginalPrice decimal.NullDecimal
	PromoPrice    decimal.NullDecimal
	// Unresolved marks a line whose product no longer exists in the catalog.
	// Such lines are kept visible so the user can remove them.
	Unresolved bool
}

// Subtotal returns qty * unit price, or an invalid decimal when the line has
// no resolved price.
func (l Line) Subtotal() decimal.NullDecimal {
	if !l.UnitPrice.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{
		Decimal: l.UnitPrice.Decimal.Mul(l.Qty).Round(2),
		Valid:   true,
	}
}

// Cart is the hydrated line set of one session.
type Cart struct {
	Lines []Line
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool { return len(c.Lines) == 0 }

// Total sums qty * unit price over lines with a resolved price. Lines
// without one contribute nothing; count them via UnpricedCount and surface
// them separately, never as "free".
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		if sub := l.Subtotal(); sub.Valid {
			total = total.Add(sub.Decimal)
		}
	}
	return total.Round(2)
}

// UnpricedCount returns the number of lines without a resolved unit price.
func (c *Cart) UnpricedCount() int {
	n := 0
	for _, l := range c.Lines {
		if !l.UnitPrice.Valid {
			n++
		}
	}
	return n
}

// Repository defines persistence operations for cart lines. Implementations
// must keep each operation atomic: a failure leaves the stored line set
// untouched.
type Repository interface {
	ListBySession(ctx context.Context, token uuid.UUID) ([]Line, error)
	// AddOrIncrement inserts the line or, when one already exists for the
	// same product, increments its quantity. Returns the stored row.
	AddOrIncrement(ctx context.Context, token uuid.UUID, line Line) (Line, error)
	UpdateQty(ctx context.Context, token uuid.UUID, itemID int64, qty decimal.Decimal) error
	Delete(ctx context.Context, token uuid.UUID, itemID int64) error
	// ReplaceAll overwrites the session's entire line set in one transaction.
	ReplaceAll(ctx context.Context, token uuid.UUID, lines []Line) error
}
