package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a read-only catalog record. Prices are nullable on purpose:
// feeds deliver incomplete rows and an absent price is distinct from zero.
type Product struct {
	Code          string
	Description   string
	BasePrice     decimal.NullDecimal
	PromoPrice    decimal.NullDecimal
	PromoStartsAt *time.Time
	PromoEndsAt   *time.Time
	Active        bool
}

// Repository defines read operations against the product catalog.
type Repository interface {
	GetByCode(ctx context.Context, code string) (*Product, error)
	// GetByCodes returns products matching any of the given codes. Codes
	// without a matching row are simply absent from the result.
	GetByCodes(ctx context.Context, codes []string) ([]Product, error)
}
