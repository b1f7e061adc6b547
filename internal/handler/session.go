package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/orderlink/internal/domain/cart"
	"github.com/xenking/orderlink/internal/domain/customer"
	"github.com/xenking/orderlink/internal/domain/order"
	"github.com/xenking/orderlink/internal/domain/session"
)

type sessionDTO struct {
	Token       string    `json:"token"`
	CustomerID  int64     `json:"customer_id"`
	OrderNumber int64     `json:"order_number"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type customerDTO struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	TaxID string `json:"tax_id,omitempty"`
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
}

type lineDTO struct {
	ID            int64               `json:"id"`
	ProductCode   string              `json:"product_code"`
	Description   string              `json:"description,omitempty"`
	Qty           decimal.Decimal     `json:"qty"`
	UnitPrice     decimal.NullDecimal `json:"unit_price"`
	OriginalPrice decimal.NullDecimal `json:"original_price"`
	PromoPrice    decimal.NullDecimal `json:"promo_price"`
	Subtotal      decimal.NullDecimal `json:"subtotal"`
	Unresolved    bool                `json:"unresolved,omitempty"`
}

type cartDTO struct {
	Items         []lineDTO       `json:"items"`
	Total         decimal.Decimal `json:"total"`
	UnpricedItems int             `json:"unpriced_items,omitempty"`
}

type submittedOrderDTO struct {
	OrderNumber int64         `json:"order_number"`
	SubmittedAt time.Time     `json:"submitted_at"`
	Payload     order.Payload `json:"payload"`
}

type loadResponse struct {
	State    session.State      `json:"state"`
	Session  *sessionDTO        `json:"session,omitempty"`
	Customer *customerDTO       `json:"customer,omitempty"`
	Cart     *cartDTO           `json:"cart,omitempty"`
	Order    *submittedOrderDTO `json:"order,omitempty"`
}

// loadSession resolves the token and returns everything the approval page
// needs in one call: session, customer, hydrated cart, and total. A CLOSED
// session replays its submitted order instead, as a valid read-only view
// rather than an error.
func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res, err := h.gate.Resolve(ctx, r.PathValue("token"))
	if err != nil {
		zctx.From(ctx).Error("session lookup failed", zap.Error(err))
	}

	switch res.State {
	case session.StateActive:
	case session.StateClosed:
		h.loadClosed(w, r, res.Session)
		return
	case session.StateExpired:
		respondError(w, codeSessionExpired, "this link has expired")
		return
	default:
		respondError(w, codeSessionNotFound, "this link is not valid")
		return
	}
	sess := res.Session

	cust, err := h.customers.GetByID(ctx, sess.CustomerID)
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			respondError(w, codeCustomerNotFound, "customer not found")
			return
		}
		zctx.From(ctx).Error("customer lookup failed", zap.Error(err))
		respondError(w, codePersistence, "temporary backend failure, try again")
		return
	}

	current, err := h.carts.Load(ctx, sess.Token)
	if err != nil {
		h.writeCartError(w, r, err)
		return
	}

	respondData(w, loadResponse{
		State:    session.StateActive,
		Session:  toSessionDTO(sess),
		Customer: toCustomerDTO(cust),
		Cart:     toCartDTO(current),
	})
}

// loadClosed renders the read-only replay of an already submitted session.
func (h *Handler) loadClosed(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	o, err := h.coordinator.Replay(r.Context(), sess)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			// Closed session without an order row should not happen; the
			// safest visible outcome is the already-used view without data.
			respondData(w, loadResponse{State: session.StateClosed, Session: toSessionDTO(sess)})
			return
		}
		zctx.From(r.Context()).Error("order replay failed", zap.Error(err))
		respondError(w, codePersistence, "temporary backend failure, try again")
		return
	}

	respondData(w, loadResponse{
		State:   session.StateClosed,
		Session: toSessionDTO(sess),
		Order: &submittedOrderDTO{
			OrderNumber: o.OrderNumber,
			SubmittedAt: o.SubmittedAt,
			Payload:     o.Payload,
		},
	})
}

func toSessionDTO(s *session.Session) *sessionDTO {
	return &sessionDTO{
		Token:       s.Token.String(),
		CustomerID:  s.CustomerID,
		OrderNumber: s.OrderNumber,
		ExpiresAt:   s.ExpiresAt,
	}
}

func toCustomerDTO(c *customer.Customer) *customerDTO {
	return &customerDTO{ID: c.ID, Name: c.Name, TaxID: c.TaxID, City: c.City, State: c.State}
}

func toLineDTO(l cart.Line) lineDTO {
	return lineDTO{
		ID:            l.ID,
		ProductCode:   l.ProductCode,
		Description:   l.Description,
		Qty:           l.Qty,
		UnitPrice:     l.UnitPrice,
		OriginalPrice: l.OriginalPrice,
		PromoPrice:    l.PromoPrice,
		Subtotal:      l.Subtotal(),
		Unresolved:    l.Unresolved,
	}
}

func toCartDTO(c *cart.Cart) *cartDTO {
	items := make([]lineDTO, len(c.Lines))
	for i, l := range c.Lines {
		items[i] = toLineDTO(l)
	}
	return &cartDTO{
		Items:         items,
		Total:         c.Total(),
		UnpricedItems: c.UnpricedCount(),
	}
}
