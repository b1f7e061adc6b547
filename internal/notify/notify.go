// Package notify delivers best-effort outbound notifications for submitted
// orders. Delivery failures never block or fail the submission itself.
package notify

import (
	"context"

	"github.com/xenking/orderlink/internal/domain/order"
)

// Noop discards notifications. Used when no SMTP host is configured.
type Noop struct{}

var _ order.Notifier = Noop{}

// OrderSubmitted does nothing.
func (Noop) OrderSubmitted(context.Context, *order.SubmittedOrder) error {
	return nil
}
