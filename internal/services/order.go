package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/storefront/apiserver/internal/store"
	"github.com/storefront/apiserver/types"
)

const publishTimeout = 5 * time.Second

// OrderRepository defines persistence operations for orders.
type OrderRepository interface {
	CreateFromCart(ctx context.Context, userID int64) (types.Order, error)
	Get(ctx context.Context, id int64) (types.Order, error)
	ListByUser(ctx context.Context, userID int64, offset, limit int) ([]types.Order, int, error)
	UpdateStatus(ctx context.Context, id int64, from, to types.OrderStatus) (types.Order, error)
	Cancel(ctx context.Context, id int64) (types.Order, error)
}

// EventPublisher sends JSON events to a message queue channel.
type EventPublisher interface {
	PublishJSON(ctx context.Context, channel string, v any, attrs map[string]string) (string, error)
}

// OrderService handles checkout and the order lifecycle.
type OrderService struct {
	orders  OrderRepository
	events  EventPublisher
	channel string
	paging  Paging
	logger  *slog.Logger
	now     func() time.Time
}

// NewOrderService creates an OrderService. events may be nil to disable
// order event publishing.
func NewOrderService(orders OrderRepository, events EventPublisher, channel string, paging Paging, logger *slog.Logger) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{
		orders:  orders,
		events:  events,
		channel: channel,
		paging:  paging,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateOrder checks out the user's cart. Either every line is converted
// into the order with its stock decremented, or nothing changes.
func (s *OrderService) CreateOrder(ctx context.Context, userID int64) (types.Order, error) {
	order, err := s.orders.CreateFromCart(ctx, userID)
	if err != nil {
		var stockErr *store.InsufficientStockError
		switch {
		case errors.Is(err, store.ErrEmptyCart):
			return types.Order{}, validationError("cart is empty", map[string]any{"cart": "required"})
		case errors.As(err, &stockErr):
			return types.Order{}, conflict("insufficient stock", map[string]any{"product_id": stockErr.ProductID})
		case errors.Is(err, store.ErrInsufficientStock):
			return types.Order{}, conflict("insufficient stock", nil)
		}
		return types.Order{}, internalError("create order", err)
	}

	s.logger.InfoContext(ctx, "order created",
		slog.Int64("order_id", order.ID),
		slog.Int64("user_id", userID),
		slog.String("total", order.Total.StringFixed(2)),
	)
	s.publish(ctx, types.OrderEventCreated, order)
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, userID int64, req PageRequest) (Page[types.Order], error) {
	page, limit, offset := s.paging.normalize(req)
	orders, total, err := s.orders.ListByUser(ctx, userID, offset, limit)
	if err != nil {
		return Page[types.Order]{}, internalError("list orders", err)
	}
	return Page[types.Order]{Items: orders, Page: page, Limit: limit, Total: total}, nil
}

// GetOrder returns an order owned by userID. Orders of other users are
// reported as missing.
func (s *OrderService) GetOrder(ctx context.Context, userID, id int64) (types.Order, error) {
	order, err := s.load(ctx, id)
	if err != nil {
		return types.Order{}, err
	}
	if order.UserID != userID {
		return types.Order{}, notFound("order not found")
	}
	return order, nil
}

// CancelOrder cancels a pending order of userID and returns its units to stock.
func (s *OrderService) CancelOrder(ctx context.Context, userID, id int64) (types.Order, error) {
	order, err := s.GetOrder(ctx, userID, id)
	if err != nil {
		return types.Order{}, err
	}
	return s.transition(ctx, order, types.OrderCancelled)
}

// UpdateStatus moves an order along the status state machine. Admin only.
func (s *OrderService) UpdateStatus(ctx context.Context, actor Principal, id int64, status types.OrderStatus) (types.Order, error) {
	if !actor.HasRole(types.RoleAdmin) {
		return types.Order{}, forbidden("admin role required")
	}
	if !status.Valid() {
		return types.Order{}, validationError("invalid request", map[string]any{"status": "oneof=pending paid shipped cancelled"})
	}

	order, err := s.load(ctx, id)
	if err != nil {
		return types.Order{}, err
	}
	updated, err := s.transition(ctx, order, status)
	if err != nil {
		return types.Order{}, err
	}
	s.logger.InfoContext(ctx, "order status updated",
		slog.Int64("order_id", id),
		slog.Int64("admin_id", actor.UserID),
		slog.String("from", string(order.Status)),
		slog.String("to", string(status)),
	)
	return updated, nil
}

func (s *OrderService) load(ctx context.Context, id int64) (types.Order, error) {
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Order{}, notFound("order not found")
		}
		return types.Order{}, internalError("get order", err)
	}
	return order, nil
}

func (s *OrderService) transition(ctx context.Context, order types.Order, to types.OrderStatus) (types.Order, error) {
	if !order.Status.CanTransitionTo(to) {
		return types.Order{}, illegalTransition(order.Status, to)
	}

	var (
		updated types.Order
		err     error
	)
	if to == types.OrderCancelled {
		updated, err = s.orders.Cancel(ctx, order.ID)
	} else {
		updated, err = s.orders.UpdateStatus(ctx, order.ID, order.Status, to)
	}
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return types.Order{}, notFound("order not found")
		case errors.Is(err, store.ErrInvalidTransition):
			// Another request changed the status between load and update.
			return types.Order{}, illegalTransition(order.Status, to)
		}
		return types.Order{}, internalError("update order status", err)
	}

	s.publish(ctx, types.OrderEventStatusChanged, updated)
	return updated, nil
}

func illegalTransition(from, to types.OrderStatus) *Error {
	return conflict("illegal status transition", map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}

// publish is best effort: the order is already committed, so failures are
// only logged.
func (s *OrderService) publish(ctx context.Context, eventType string, order types.Order) {
	if s.events == nil || s.channel == "" {
		return
	}

	event := types.OrderEvent{
		Type:       eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     order.Status,
		Total:      order.Total.StringFixed(2),
		OccurredAt: s.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	id, err := s.events.PublishJSON(ctx, s.channel, event, map[string]string{"type": eventType})
	if err != nil {
		s.logger.WarnContext(ctx, "publish order event failed",
			slog.String("type", eventType),
			slog.Int64("order_id", order.ID),
			slog.Any("error", err),
		)
		return
	}
	s.logger.DebugContext(ctx, "order event published", slog.String("type", eventType), slog.String("message_id", id))
}
