package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/orderlink/internal/domain/cart"
	"github.com/xenking/orderlink/internal/domain/order"
)

type submitRequest struct {
	Approver struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
		Email string `json:"email"`
	} `json:"approver"`
	ConnectionData struct {
		UserAgent string `json:"user_agent"`
		Timezone  string `json:"timezone"`
		Screen    struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"screen"`
		Referrer string `json:"referrer"`
	} `json:"connection_data"`
	// Items, when present, are saved before the submission snapshot is
	// built so a direct submit cannot lose unsaved edits.
	Items []saveCartItem `json:"items,omitempty"`
}

type submitResponse struct {
	OrderID     int64           `json:"order_id"`
	OrderNumber int64           `json:"order_number"`
	TotalItems  int             `json:"total_items"`
	TotalValue  decimal.Decimal `json:"total_value"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// submit performs the one-time submission. A SESSION_ALREADY_USED outcome
// here means a concurrent request won the race and the order exists: the
// client must treat it as success-adjacent and show the submitted view.
func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, codeInvalidBody, "malformed request body")
		return
	}

	meta := order.ClientMeta{
		UserAgent:    req.ConnectionData.UserAgent,
		Timezone:     req.ConnectionData.Timezone,
		ScreenWidth:  req.ConnectionData.Screen.Width,
		ScreenHeight: req.ConnectionData.Screen.Height,
		Referrer:     req.ConnectionData.Referrer,
		RemoteAddr:   r.RemoteAddr,
	}
	if meta.UserAgent == "" {
		meta.UserAgent = r.UserAgent()
	}

	items := make([]cart.SaveItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = cart.SaveItem{ProductCode: it.ProductCode, Qty: it.Qty}
	}

	o, err := h.coordinator.Submit(r.Context(), order.SubmitRequest{
		Token: r.PathValue("token"),
		Approver: order.Approver{
			Name:  req.Approver.Name,
			Phone: req.Approver.Phone,
			Email: req.Approver.Email,
		},
		Meta:  meta,
		Items: items,
	})
	if err != nil {
		h.writeSubmitError(w, r, err)
		return
	}

	respondData(w, submitResponse{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		TotalItems:  o.Payload.Totals.TotalItems,
		TotalValue:  o.Payload.Totals.TotalValue,
		SubmittedAt: o.SubmittedAt,
	})
}

func (h *Handler) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *order.ValidationError
	switch {
	case errors.Is(err, order.ErrSessionNotFound):
		respondError(w, codeSessionNotFound, "this link is not valid")
	case errors.Is(err, order.ErrSessionExpired):
		respondError(w, codeSessionExpired, "this link has expired")
	case errors.Is(err, order.ErrSessionUsed):
		respondError(w, codeSessionUsed, "this order has already been submitted")
	case errors.Is(err, order.ErrNoItems):
		respondError(w, codeNoItems, "the cart has no items to submit")
	case errors.Is(err, order.ErrCustomerNotFound):
		respondError(w, codeCustomerNotFound, "customer not found")
	case errors.As(err, &validation):
		respondError(w, codeValidation, validation.Msg)
	default:
		// Cart-layer errors carry their own codes; anything else is a
		// persistence failure.
		var (
			catalog  *cart.CatalogError
			storeErr *cart.StoreError
		)
		if errors.As(err, &catalog) || errors.As(err, &storeErr) {
			h.writeCartError(w, r, err)
			return
		}
		zctx.From(r.Context()).Error("submission failed", zap.Error(err))
		respondError(w, codePersistence, "temporary backend failure, try again")
	}
}
