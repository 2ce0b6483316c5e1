package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/storefront/apiserver/internal/services"
	"github.com/storefront/apiserver/types"
)

// CartService is the shopping cart API used by CartHandler.
type CartService interface {
	GetCart(ctx context.Context, userID int64) (types.Cart, error)
	AddItem(ctx context.Context, userID int64, in services.AddCartItemInput) (types.CartItem, error)
	RemoveItem(ctx context.Context, userID, itemID int64) error
}

type CartHandler struct {
	cart CartService
	responder
}

func NewCartHandler(cart CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{cart: cart, responder: newResponder(logger)}
}

// CartRouter registers /cart routes. Every route requires authentication.
func CartRouter(r chi.Router, cart CartService, mw *AuthMiddleware, logger *slog.Logger) {
	handler := NewCartHandler(cart, logger)

	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAuth)
		r.Get("/", handler.GetCart)
		r.Post("/", handler.AddItem)
		r.Delete("/{itemID}", handler.RemoveItem)
	})
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	cart, err := h.cart.GetCart(r.Context(), principal.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, cart)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req services.AddCartItemInput
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	item, err := h.cart.AddItem(r.Context(), principal.UserID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, item)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	itemID, err := parseIDParam(r, "itemID")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.cart.RemoveItem(r.Context(), principal.UserID, itemID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil)
}
