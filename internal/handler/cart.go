package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/orderlink/internal/domain/cart"
)

type addItemRequest struct {
	ProductCode string `json:"product_code"`
	Qty         int    `json:"qty"`
}

type updateItemRequest struct {
	Qty decimal.Decimal `json:"qty"`
}

type saveCartRequest struct {
	Items []saveCartItem `json:"items"`
}

type saveCartItem struct {
	ProductCode string          `json:"product_code"`
	Qty         decimal.Decimal `json:"qty"`
}

// addItem merges the product into the cart, creating a new line or
// incrementing an existing one.
func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveActive(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, codeInvalidBody, "malformed request body")
		return
	}

	line, err := h.carts.Add(r.Context(), sess.Token, req.ProductCode, req.Qty)
	if err != nil {
		h.writeCartError(w, r, err)
		return
	}
	respondData(w, map[string]any{"item": toLineDTO(*line)})
}

// updateItem applies a clamped quantity edit to one line.
func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveActive(w, r)
	if !ok {
		return
	}

	itemID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, codeItemNotFound, "cart item not found")
		return
	}

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, codeInvalidBody, "malformed request body")
		return
	}

	applied, err := h.carts.SetQuantity(r.Context(), sess.Token, itemID, req.Qty)
	if err != nil {
		h.writeCartError(w, r, err)
		return
	}
	respondData(w, map[string]any{"id": itemID, "qty": applied})
}

// removeItem deletes one line. The confirmed query parameter is the
// client's assertion that the user explicitly confirmed the removal.
func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveActive(w, r)
	if !ok {
		return
	}

	itemID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, codeItemNotFound, "cart item not found")
		return
	}

	confirmed := r.URL.Query().Get("confirmed") == "true"
	if err := h.carts.Remove(r.Context(), sess.Token, itemID, confirmed); err != nil {
		h.writeCartError(w, r, err)
		return
	}
	respondData(w, map[string]any{"removed": itemID})
}

// saveCart overwrites the persisted line set with the submitted items.
// Saving the same set twice yields an identical persisted state.
func (h *Handler) saveCart(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveActive(w, r)
	if !ok {
		return
	}

	var req saveCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, codeInvalidBody, "malformed request body")
		return
	}

	items := make([]cart.SaveItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = cart.SaveItem{ProductCode: it.ProductCode, Qty: it.Qty}
	}

	saved, err := h.carts.Save(r.Context(), sess.Token, items)
	if err != nil {
		h.writeCartError(w, r, err)
		return
	}
	respondData(w, toCartDTO(saved))
}

// writeCartError maps cart service errors onto envelope codes. Transient
// backend failures are logged with their cause but surfaced uniformly.
func (h *Handler) writeCartError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		pnf      *cart.ProductNotFoundError
		catalog  *cart.CatalogError
		storeErr *cart.StoreError
	)
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		respondError(w, codeValidation, "quantity must be a positive integer")
	case errors.Is(err, cart.ErrNotConfirmed):
		respondError(w, codeValidation, "removal must be confirmed")
	case errors.Is(err, cart.ErrItemNotFound):
		respondError(w, codeItemNotFound, "cart item not found")
	case errors.As(err, &pnf):
		respondError(w, codeProductNotFound, pnf.Error())
	case errors.As(err, &catalog):
		zctx.From(r.Context()).Error("catalog unavailable", zap.Error(err))
		respondError(w, codeCatalogUnavailable, "catalog temporarily unavailable, try again")
	case errors.As(err, &storeErr):
		zctx.From(r.Context()).Error("cart persistence failed", zap.Error(err))
		respondError(w, codePersistence, "temporary backend failure, try again")
	default:
		zctx.From(r.Context()).Error("cart operation failed", zap.Error(err))
		respondError(w, codePersistence, "temporary backend failure, try again")
	}
}
