package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/storefront/apiserver/internal/services"
	"github.com/storefront/apiserver/types"
)

// OrderService is the order API used by OrderHandler.
type OrderService interface {
	CreateOrder(ctx context.Context, userID int64) (types.Order, error)
	ListOrders(ctx context.Context, userID int64, req services.PageRequest) (services.Page[types.Order], error)
	GetOrder(ctx context.Context, userID, id int64) (types.Order, error)
	CancelOrder(ctx context.Context, userID, id int64) (types.Order, error)
	UpdateStatus(ctx context.Context, actor services.Principal, id int64, status types.OrderStatus) (types.Order, error)
}

type OrderHandler struct {
	orders OrderService
	responder
}

func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, responder: newResponder(logger)}
}

// OrderRouter registers /orders routes. Every route requires authentication.
func OrderRouter(r chi.Router, orders OrderService, mw *AuthMiddleware, logger *slog.Logger) {
	handler := NewOrderHandler(orders, logger)

	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAuth)
		r.Post("/", handler.CreateOrder)
		r.Get("/", handler.ListOrders)
		r.Get("/{orderID}", handler.GetOrder)
		r.Post("/{orderID}/cancel", handler.CancelOrder)
	})
}

// AdminRouter registers /admin routes, restricted to admins.
func AdminRouter(r chi.Router, orders OrderService, mw *AuthMiddleware, logger *slog.Logger) {
	handler := NewOrderHandler(orders, logger)

	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAuth, mw.RequireRole(types.RoleAdmin))
		r.Put("/orders/{orderID}/status", handler.UpdateStatus)
	})
}

// CreateOrder checks out the caller's cart.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), principal.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, order)
}

func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	pageReq, err := parsePagination(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	page, err := h.orders.ListOrders(r.Context(), principal.UserID, pageReq)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r, "orderID")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	order, err := h.orders.GetOrder(r.Context(), principal.UserID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, order)
}

func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r, "orderID")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	order, err := h.orders.CancelOrder(r.Context(), principal.UserID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, order)
}

func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r, "orderID")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req UpdateOrderStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), principal, id, req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, order)
}

type UpdateOrderStatusRequest struct {
	Status types.OrderStatus `json:"status"`
}
