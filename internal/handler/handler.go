// Package handler exposes the order approval workflow over HTTP.
//
// Every response is an envelope: {"success":true,"data":...} or
// {"success":false,"error":CODE,"message":...}. Domain outcomes are always
// delivered with HTTP 200; clients branch on the envelope, not on the
// transport status.
package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/orderlink/internal/domain/cart"
	"github.com/xenking/orderlink/internal/domain/customer"
	"github.com/xenking/orderlink/internal/domain/order"
	"github.com/xenking/orderlink/internal/domain/session"
)

// Handler implements the HTTP surface over the session gate, cart service,
// and submission coordinator.
type Handler struct {
	gate        *session.Gate
	carts       *cart.Service
	customers   customer.Repository
	coordinator *order.Coordinator
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	gate *session.Gate,
	carts *cart.Service,
	customers customer.Repository,
	coordinator *order.Coordinator,
) *Handler {
	return &Handler{
		gate:        gate,
		carts:       carts,
		customers:   customers,
		coordinator: coordinator,
	}
}

// Routes returns the route table for the API.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/session/{token}", h.loadSession)
	mux.HandleFunc("POST /api/session/{token}/items", h.addItem)
	mux.HandleFunc("PATCH /api/session/{token}/items/{id}", h.updateItem)
	mux.HandleFunc("DELETE /api/session/{token}/items/{id}", h.removeItem)
	mux.HandleFunc("PUT /api/session/{token}/cart", h.saveCart)
	mux.HandleFunc("POST /api/session/{token}/submit", h.submit)
	return mux
}

// resolveActive re-checks the session state immediately before a mutating
// action. A session that went EXPIRED or CLOSED between page load and the
// user action rejects the action here rather than applying it.
func (h *Handler) resolveActive(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	res, err := h.gate.Resolve(r.Context(), r.PathValue("token"))
	if err != nil {
		// Backend failure maps to the same INVALID outcome; only the log
		// knows the difference.
		zctx.From(r.Context()).Error("session lookup failed", zap.Error(err))
	}

	switch res.State {
	case session.StateActive:
		return res.Session, true
	case session.StateExpired:
		respondError(w, codeSessionExpired, "this link has expired")
	case session.StateClosed:
		respondError(w, codeSessionUsed, "this order has already been submitted")
	default:
		respondError(w, codeSessionNotFound, "this link is not valid")
	}
	return nil, false
}
