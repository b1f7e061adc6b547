package order

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/orderlink/internal/domain/cart"
	"github.com/xenking/orderlink/internal/domain/customer"
	"github.com/xenking/orderlink/internal/domain/session"
)

// defaultNotifyTimeout bounds the background notification call so it can
// never extend, or leak past, the submission response.
const defaultNotifyTimeout = 15 * time.Second

// SubmitRequest holds the input for submitting a session's cart.
type SubmitRequest struct {
	Token    string
	Approver Approver
	Meta     ClientMeta
	// Items, when non-empty, are saved (overwrite semantics) before the
	// submission snapshot is built, so unsaved client-side edits are not
	// lost on direct submit.
	Items []cart.SaveItem
}

// Coordinator orchestrates the one-time submission: save cart, snapshot,
// atomically close the session, persist the immutable order, notify.
type Coordinator struct {
	gate      *session.Gate
	carts     *cart.Service
	customers customer.Repository
	orders    Repository
	notifier  Notifier

	now           func() time.Time
	notifyTimeout time.Duration
	notifyWG      sync.WaitGroup
}

// NewCoordinator creates a submission Coordinator.
func NewCoordinator(
	gate *session.Gate,
	carts *cart.Service,
	customers customer.Repository,
	orders Repository,
	notifier Notifier,
) *Coordinator {
	return &Coordinator{
		gate:          gate,
		carts:         carts,
		customers:     customers,
		orders:        orders,
		notifier:      notifier,
		now:           time.Now,
		notifyTimeout: defaultNotifyTimeout,
	}
}

// WithClock overrides the coordinator's time source.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Submit performs the irreversible submission transition.
//
// The session state is re-checked here regardless of what the client saw at
// load time; the at-most-once guarantee itself does not rely on that check
// but on the repository's conditional update, so two concurrent submits
// yield exactly one submitted order and one ErrSessionUsed.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*SubmittedOrder, error) {
	if err := validateApprover(req.Approver); err != nil {
		return nil, err
	}

	res, err := c.gate.Resolve(ctx, req.Token)
	if err != nil {
		// Backend lookup failure resolves to the same outcome as a missing
		// token; the cause is only logged.
		zctx.From(ctx).Error("session lookup failed", zap.Error(err))
	}
	switch res.State {
	case session.StateActive:
	case session.StateExpired:
		return nil, ErrSessionExpired
	case session.StateClosed:
		return nil, ErrSessionUsed
	default:
		return nil, ErrSessionNotFound
	}
	sess := res.Session

	// Reject an empty submission before any write happens.
	if len(req.Items) > 0 && !hasPositiveQty(req.Items) {
		return nil, ErrNoItems
	}

	var current *cart.Cart
	if len(req.Items) > 0 {
		current, err = c.carts.Save(ctx, sess.Token, req.Items)
	} else {
		current, err = c.carts.Load(ctx, sess.Token)
	}
	if err != nil {
		return nil, err
	}
	if current.IsEmpty() {
		return nil, ErrNoItems
	}

	cust, err := c.customers.GetByID(ctx, sess.CustomerID)
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, errors.Wrap(err, "get customer")
	}

	now := c.now()
	o := &SubmittedOrder{
		SessionToken: sess.Token,
		OrderNumber:  sess.OrderNumber,
		Payload:      buildPayload(cust, current, now),
		Approver:     req.Approver,
		ClientMeta:   req.Meta,
		SubmittedAt:  now,
	}

	// Insert + compare-and-set + cart cleanup, all or nothing. A concurrent
	// duplicate surfaces as ErrSessionUsed with the losing insert rolled
	// back.
	if err := c.orders.CreateAndClose(ctx, o); err != nil {
		if errors.Is(err, ErrSessionUsed) {
			// Losing the race after the save above means those lines were
			// re-created behind the winner's cleanup; drop them again so the
			// closed session carries no cart rows.
			if len(req.Items) > 0 {
				if cerr := c.carts.Clear(ctx, sess.Token); cerr != nil {
					zctx.From(ctx).Error("clearing cart of closed session failed", zap.Error(cerr))
				}
			}
			return nil, ErrSessionUsed
		}
		return nil, errors.Wrap(err, "persist submitted order")
	}

	c.notifyAsync(ctx, o)
	return o, nil
}

// Replay returns the submitted order for a closed session's read-only view.
func (c *Coordinator) Replay(ctx context.Context, sess *session.Session) (*SubmittedOrder, error) {
	o, err := c.orders.GetBySession(ctx, sess.Token)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "get submitted order")
	}
	return o, nil
}

// notifyAsync fires the notification without blocking the caller. The order
// is already durable; a delivery failure is logged and swallowed.
func (c *Coordinator) notifyAsync(ctx context.Context, o *SubmittedOrder) {
	lg := zctx.From(ctx)
	c.notifyWG.Add(1)
	go func() {
		defer c.notifyWG.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.notifyTimeout)
		defer cancel()

		if err := c.notifier.OrderSubmitted(nctx, o); err != nil {
			lg.Warn("order notification failed",
				zap.Int64("order_number", o.OrderNumber),
				zap.Error(err),
			)
		}
	}()
}

// WaitNotifications blocks until in-flight notifications finish. Used on
// shutdown and in tests.
func (c *Coordinator) WaitNotifications() {
	c.notifyWG.Wait()
}

func buildPayload(cust *customer.Customer, current *cart.Cart, now time.Time) Payload {
	items := make([]PayloadLine, len(current.Lines))
	totalQty := decimal.Zero
	totalValue := decimal.Zero
	unpriced := 0

	for i, l := range current.Lines {
		sub := l.Subtotal()
		items[i] = PayloadLine{
			Code:        l.ProductCode,
			Description: l.Description,
			Qty:         l.Qty,
			UnitPrice:   l.UnitPrice,
			Subtotal:    sub,
			Unresolved:  l.Unresolved,
		}
		totalQty = totalQty.Add(l.Qty)
		if sub.Valid {
			totalValue = totalValue.Add(sub.Decimal)
		} else {
			unpriced++
		}
	}

	return Payload{
		Customer: PayloadCustomer{ID: cust.ID, Name: cust.Name, TaxID: cust.TaxID},
		Items:    items,
		Totals: Totals{
			TotalItems:    len(items),
			TotalQuantity: totalQty,
			TotalValue:    totalValue.Round(2),
			UnpricedItems: unpriced,
		},
		SubmittedAt: now,
	}
}

func validateApprover(a Approver) error {
	if strings.TrimSpace(a.Name) == "" {
		return &ValidationError{Msg: "approver name is required"}
	}
	if strings.TrimSpace(a.Phone) == "" {
		return &ValidationError{Msg: "approver phone is required"}
	}
	email := strings.TrimSpace(a.Email)
	if email == "" {
		return &ValidationError{Msg: "approver email is required"}
	}
	if !strings.Contains(email, "@") {
		return &ValidationError{Msg: "approver email is malformed"}
	}
	return nil
}

func hasPositiveQty(items []cart.SaveItem) bool {
	for _, it := range items {
		if it.Qty.IsPositive() {
			return true
		}
	}
	return false
}
