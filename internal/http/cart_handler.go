package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/fjod/go_cart/cart-engine/internal/engine"
	"github.com/go-chi/chi/v5"
)

const maxQuantity = 99

// Sessions hands out the engine of a browsing session
type Sessions interface {
	Get(sessionID string, id domain.Identity) *engine.Engine
}

type CartHandler struct {
	sessions Sessions
	timeout  time.Duration
	log      *slog.Logger
}

func NewCartHandler(sessions Sessions, timeout time.Duration, log *slog.Logger) *CartHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CartHandler{
		sessions: sessions,
		timeout:  timeout,
		log:      log,
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type CartItemDTO struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	AddedAt   time.Time       `json:"added_at"`
	Snapshot  domain.Snapshot `json:"snapshot"`
}

type CartResponse struct {
	Identity        string        `json:"identity"`
	IsOpen          bool          `json:"is_open"`
	MutationCounter int           `json:"mutation_counter"`
	Hydrating       bool          `json:"hydrating"`
	Items           []CartItemDTO `json:"items"`
	TotalItems      int           `json:"total_items"`
	Subtotal        string        `json:"subtotal"`
	Currency        string        `json:"currency"`
	Warning         string        `json:"warning,omitempty"`
}

type ToggleResponse struct {
	IsOpen bool `json:"is_open"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	e, ok := h.engine(w, r)
	if !ok {
		return
	}

	// a cart still loading when the deadline passes is returned as is
	if err := e.WaitHydrated(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		handleEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, newCartResponse(e, nil))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}
	if req.Quantity <= 0 || req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	pending, err := e.Add(ctx, req.ProductID, req.Quantity)
	if err != nil {
		handleEngineError(w, err)
		return
	}

	h.respondPersisted(ctx, w, r, http.StatusCreated, e, pending)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	// zero removes the line
	if req.Quantity < 0 || req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 0 and 99")
		return
	}

	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	pending, err := e.UpdateQuantity(ctx, productID, req.Quantity)
	if err != nil {
		handleEngineError(w, err)
		return
	}

	h.respondPersisted(ctx, w, r, http.StatusOK, e, pending)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	pending, err := e.Remove(ctx, productID)
	if err != nil {
		handleEngineError(w, err)
		return
	}

	h.respondPersisted(ctx, w, r, http.StatusOK, e, pending)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	pending, err := e.Clear(ctx)
	if err != nil {
		handleEngineError(w, err)
		return
	}

	h.respondPersisted(ctx, w, r, http.StatusOK, e, pending)
}

func (h *CartHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, ToggleResponse{IsOpen: e.Toggle()})
}

// Refresh reloads the cart from its backing store
func (h *CartHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	e.Refresh()
	if err := e.WaitHydrated(ctx); err != nil {
		handleEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, newCartResponse(e, nil))
}

func (h *CartHandler) engine(w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	sessionID := getSessionID(r.Context())
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session", "missing cart session")
		return nil, false
	}
	e := h.sessions.Get(sessionID, getIdentity(r.Context()))
	if e == nil {
		respondError(w, http.StatusServiceUnavailable, "shutting_down", "service is shutting down")
		return nil, false
	}
	return e, true
}

// respondPersisted waits for the store write of a command. The change is
// already applied, so a failed or slow write still answers with the cart and
// a warning.
func (h *CartHandler) respondPersisted(ctx context.Context, w http.ResponseWriter, r *http.Request, status int, e *engine.Engine, pending *engine.Pending) {
	err := pending.Wait(ctx)
	if err != nil {
		h.log.Warn("cart change not persisted",
			"session_id", getSessionID(r.Context()),
			"request_id", getRequestID(r.Context()),
			"error", err)
	}
	respondJSON(w, status, newCartResponse(e, err))
}

func newCartResponse(e *engine.Engine, persistErr error) CartResponse {
	state := e.State()
	totals := engine.ComputeTotals(state.Items, e.Currency())

	items := make([]CartItemDTO, 0, len(state.Items))
	for _, l := range state.Items {
		items = append(items, CartItemDTO{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			AddedAt:   l.AddedAt,
			Snapshot:  l.Snapshot,
		})
	}

	resp := CartResponse{
		Identity:        state.Identity.String(),
		IsOpen:          state.IsOpen,
		MutationCounter: state.MutationCounter,
		Hydrating:       state.Hydrating,
		Items:           items,
		TotalItems:      totals.TotalItems,
		Subtotal:        totals.Subtotal.StringFixed(2),
		Currency:        totals.Currency,
	}
	switch {
	case persistErr != nil:
		resp.Warning = persistErr.Error()
	case state.Warning != nil:
		resp.Warning = state.Warning.Error()
	}
	return resp
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return 0, false
	}
	return productID, true
}
