package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested customer does not exist.
var ErrNotFound = errors.New("customer not found")

// Customer is a read-only directory record for the session owner.
type Customer struct {
	ID    int64
	Name  string
	TaxID string
	Email string
	City  string
	State string
}

// Repository defines read operations against the customer directory.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Customer, error)
	GetByTaxID(ctx context.Context, taxID string) (*Customer, error)
}
