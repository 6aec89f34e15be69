package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/garvit124/AutoPO/internal/domain"
)

const (
	codeMethodNotAllowed    = "method_not_allowed"
	codeNotFound            = "not_found"
	codeInvalidRequestBody  = "invalid_request_body"
	codePONumberRequired    = "po_number_required"
	codeNoLineItems         = "no_line_items"
	codeProductIDRequired   = "product_id_required"
	codeProductNameRequired = "product_name_required"
	codeInvalidQuantity     = "invalid_quantity"
	codeInvalidPrice        = "invalid_unit_price"
	codeDuplicateLineItem   = "duplicate_line_item"
	codeInvalidStatus       = "invalid_status"
	codeInvalidDecision     = "invalid_decision"
	codeIdempotencyConflict = "idempotency_conflict"
	codeOrderNotFound       = "order_not_found"
	codeProductNotFound     = "product_not_found"
	codeInvalidTransition   = "invalid_transition"
	codeConcurrentUpdate    = "concurrent_update"
	codeForbidden           = "forbidden"
	codeServiceUnavailable  = "service_unavailable"
	codeInternalError       = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

var serviceErrors = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrPONumberRequired, http.StatusBadRequest, codePONumberRequired},
	{domain.ErrNoLineItems, http.StatusBadRequest, codeNoLineItems},
	{domain.ErrProductIDRequired, http.StatusBadRequest, codeProductIDRequired},
	{domain.ErrProductNameRequired, http.StatusBadRequest, codeProductNameRequired},
	{domain.ErrInvalidQuantity, http.StatusBadRequest, codeInvalidQuantity},
	{domain.ErrInvalidPrice, http.StatusBadRequest, codeInvalidPrice},
	{domain.ErrDuplicateLineItem, http.StatusBadRequest, codeDuplicateLineItem},
	{domain.ErrInvalidReplyDecision, http.StatusBadRequest, codeInvalidDecision},
	{domain.ErrIdempotencyConflict, http.StatusConflict, codeIdempotencyConflict},
	{domain.ErrOrderNotFound, http.StatusNotFound, codeOrderNotFound},
	{domain.ErrInvalidID, http.StatusNotFound, codeOrderNotFound},
	{domain.ErrProductNotFound, http.StatusNotFound, codeProductNotFound},
	{domain.ErrInvalidTransition, http.StatusConflict, codeInvalidTransition},
	{domain.ErrConcurrentUpdate, http.StatusConflict, codeConcurrentUpdate},
}

// writeServiceError maps domain errors onto status codes. Anything unknown is
// a 500 with a generic message.
func writeServiceError(w http.ResponseWriter, err error) {
	for _, e := range serviceErrors {
		if errors.Is(err, e.err) {
			writeError(w, e.status, e.code, e.err.Error())
			return
		}
	}
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
