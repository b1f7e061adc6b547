package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/jx"
)

// Machine-readable error codes of the response envelope.
const (
	codeSessionNotFound    = "SESSION_NOT_FOUND"
	codeSessionExpired     = "SESSION_EXPIRED"
	codeSessionUsed        = "SESSION_ALREADY_USED"
	codeNoItems            = "NO_ITEMS"
	codeValidation         = "VALIDATION_ERROR"
	codePersistence        = "PERSISTENCE_ERROR"
	codeCatalogUnavailable = "CATALOG_UNAVAILABLE"
	codeProductNotFound    = "PRODUCT_NOT_FOUND"
	codeItemNotFound       = "ITEM_NOT_FOUND"
	codeCustomerNotFound   = "CUSTOMER_NOT_FOUND"
	codeInvalidBody        = "INVALID_REQUEST_BODY"
)

// respondData writes {"success":true,"data":<v>}.
func respondData(w http.ResponseWriter, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		respondError(w, codePersistence, "failed to encode response")
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	e.FieldStart("data")
	e.Raw(raw)
	e.ObjEnd()
	writeEnvelope(w, &e)
}

// respondError writes {"success":false,"error":code,"message":msg}.
func respondError(w http.ResponseWriter, code, msg string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(false)
	e.FieldStart("error")
	e.Str(code)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()
	writeEnvelope(w, &e)
}

// writeEnvelope delivers every envelope with HTTP 200; the transport status
// is deliberately not load-bearing.
func writeEnvelope(w http.ResponseWriter, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(e.Bytes())
}
