package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/go_cart/cart-engine/internal/engine"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleEngineError converts engine errors to HTTP status codes
func handleEngineError(w http.ResponseWriter, err error) {
	var (
		httpStatus int
		code       string
	)
	switch {
	case errors.Is(err, engine.ErrInvalidQuantity):
		httpStatus, code = http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, engine.ErrProductUnavailable):
		httpStatus, code = http.StatusUnprocessableEntity, "product_unavailable"
	case errors.Is(err, engine.ErrInsufficientStock):
		httpStatus, code = http.StatusConflict, "insufficient_stock"
	case errors.Is(err, engine.ErrUniqueItemLimit):
		httpStatus, code = http.StatusConflict, "unique_item_limit"
	case errors.Is(err, engine.ErrLineNotFound):
		httpStatus, code = http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrLookupUnavailable):
		httpStatus, code = http.StatusServiceUnavailable, "catalog_unavailable"
	case errors.Is(err, engine.ErrStoreUnavailable):
		httpStatus, code = http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, engine.ErrClosed):
		httpStatus, code = http.StatusServiceUnavailable, "session_closed"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus, code = http.StatusGatewayTimeout, "timeout"
	default:
		slog.Error("unexpected cart error", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, httpStatus, code, err.Error())
}
