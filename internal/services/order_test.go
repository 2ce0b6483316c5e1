package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/storefront/apiserver/internal/store"
	"github.com/storefront/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrders() (*OrderService, *fakeOrders, *fakePublisher) {
	orders := newFakeOrders()
	events := &fakePublisher{}
	return NewOrderService(orders, events, "order-events", Paging{}, discardLogger()), orders, events
}

func pendingOrder(id, userID int64) types.Order {
	return types.Order{
		ID:     id,
		UserID: userID,
		Status: types.OrderPending,
		Total:  decimal.RequireFromString("19.98"),
		Items: []types.OrderItem{
			{ID: 1, OrderID: id, ProductID: 3, Title: "Mug", Quantity: 2, UnitPrice: decimal.RequireFromString("9.99")},
		},
	}
}

func TestCreateOrder(t *testing.T) {
	svc, orders, events := newOrders()
	orders.create = func(userID int64) (types.Order, error) {
		return pendingOrder(1, userID), nil
	}

	order, err := svc.CreateOrder(context.Background(), buyer.UserID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderPending, order.Status)
	assert.Equal(t, buyer.UserID, order.UserID)

	published := events.published()
	require.Len(t, published, 1)
	assert.Equal(t, "order-events", published[0].channel)
	assert.Equal(t, types.OrderEventCreated, published[0].event.Type)
	assert.Equal(t, "19.98", published[0].event.Total)
	assert.Equal(t, types.OrderEventCreated, published[0].attrs["type"])
}

func TestCreateOrderFailures(t *testing.T) {
	svc, orders, events := newOrders()

	orders.create = func(int64) (types.Order, error) { return types.Order{}, store.ErrEmptyCart }
	_, err := svc.CreateOrder(context.Background(), buyer.UserID)
	assert.Equal(t, CodeValidation, CodeOf(err))

	orders.create = func(int64) (types.Order, error) {
		return types.Order{}, &store.InsufficientStockError{ProductID: 3}
	}
	_, err = svc.CreateOrder(context.Background(), buyer.UserID)
	require.Error(t, err)
	svcErr := AsError(err)
	assert.Equal(t, CodeConflict, svcErr.Code)
	assert.Equal(t, int64(3), svcErr.Details["product_id"])

	orders.create = func(int64) (types.Order, error) { return types.Order{}, errors.New("connection reset") }
	_, err = svc.CreateOrder(context.Background(), buyer.UserID)
	svcErr = AsError(err)
	assert.Equal(t, CodeInternal, svcErr.Code)
	assert.Equal(t, "internal server error", svcErr.Message)

	assert.Empty(t, events.published())
}

func TestCreateOrderSurvivesPublishFailure(t *testing.T) {
	svc, orders, events := newOrders()
	events.err = errors.New("broker down")
	orders.create = func(userID int64) (types.Order, error) { return pendingOrder(1, userID), nil }

	_, err := svc.CreateOrder(context.Background(), buyer.UserID)
	assert.NoError(t, err)
}

func TestCreateOrderWithoutPublisher(t *testing.T) {
	orders := newFakeOrders()
	orders.create = func(userID int64) (types.Order, error) { return pendingOrder(1, userID), nil }
	svc := NewOrderService(orders, nil, "", Paging{}, discardLogger())

	_, err := svc.CreateOrder(context.Background(), buyer.UserID)
	assert.NoError(t, err)
}

func TestGetOrderOwnerOnly(t *testing.T) {
	svc, orders, _ := newOrders()
	orders.put(pendingOrder(1, buyer.UserID))

	order, err := svc.GetOrder(context.Background(), buyer.UserID, 1)
	require.NoError(t, err)
	assert.Len(t, order.Items, 1)

	_, err = svc.GetOrder(context.Background(), seller.UserID, 1)
	assert.Equal(t, CodeNotFound, CodeOf(err))

	_, err = svc.GetOrder(context.Background(), buyer.UserID, 2)
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestListOrders(t *testing.T) {
	svc, orders, _ := newOrders()
	orders.put(pendingOrder(1, buyer.UserID))
	orders.put(pendingOrder(2, buyer.UserID))
	orders.put(pendingOrder(3, seller.UserID))

	page, err := svc.ListOrders(context.Background(), buyer.UserID, PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 20, page.Limit)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(2), page.Items[0].ID)
}

func TestCancelOrder(t *testing.T) {
	svc, orders, events := newOrders()
	orders.put(pendingOrder(1, buyer.UserID))
	paid := pendingOrder(2, buyer.UserID)
	paid.Status = types.OrderPaid
	orders.put(paid)

	_, err := svc.CancelOrder(context.Background(), seller.UserID, 1)
	assert.Equal(t, CodeNotFound, CodeOf(err))

	cancelled, err := svc.CancelOrder(context.Background(), buyer.UserID, 1)
	require.NoError(t, err)
	assert.Equal(t, types.OrderCancelled, cancelled.Status)
	assert.Equal(t, []int64{1}, orders.cancelled)

	_, err = svc.CancelOrder(context.Background(), buyer.UserID, 1)
	assert.Equal(t, CodeConflict, CodeOf(err))

	_, err = svc.CancelOrder(context.Background(), buyer.UserID, 2)
	assert.Equal(t, CodeConflict, CodeOf(err))

	published := events.published()
	require.Len(t, published, 1)
	assert.Equal(t, types.OrderEventStatusChanged, published[0].event.Type)
	assert.Equal(t, types.OrderCancelled, published[0].event.Status)
}

func TestUpdateStatusStateMachine(t *testing.T) {
	svc, orders, _ := newOrders()
	orders.put(pendingOrder(1, buyer.UserID))

	_, err := svc.UpdateStatus(context.Background(), seller, 1, types.OrderPaid)
	assert.Equal(t, CodeForbidden, CodeOf(err))

	_, err = svc.UpdateStatus(context.Background(), admin, 1, types.OrderStatus("lost"))
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, err = svc.UpdateStatus(context.Background(), admin, 1, types.OrderShipped)
	assert.Equal(t, CodeConflict, CodeOf(err))

	order, err := svc.UpdateStatus(context.Background(), admin, 1, types.OrderPaid)
	require.NoError(t, err)
	assert.Equal(t, types.OrderPaid, order.Status)

	_, err = svc.UpdateStatus(context.Background(), admin, 1, types.OrderCancelled)
	assert.Equal(t, CodeConflict, CodeOf(err))

	order, err = svc.UpdateStatus(context.Background(), admin, 1, types.OrderShipped)
	require.NoError(t, err)
	assert.Equal(t, types.OrderShipped, order.Status)

	for _, next := range []types.OrderStatus{types.OrderPending, types.OrderPaid, types.OrderCancelled} {
		_, err = svc.UpdateStatus(context.Background(), admin, 1, next)
		assert.Equal(t, CodeConflict, CodeOf(err), next)
	}

	_, err = svc.UpdateStatus(context.Background(), admin, 404, types.OrderPaid)
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestUpdateStatusConcurrentChange(t *testing.T) {
	svc, orders, _ := newOrders()
	orders.put(pendingOrder(1, buyer.UserID))
	orders.updateErr = store.ErrInvalidTransition

	_, err := svc.UpdateStatus(context.Background(), admin, 1, types.OrderPaid)
	assert.Equal(t, CodeConflict, CodeOf(err))
}

func TestUpdateStatusCancelRestocks(t *testing.T) {
	svc, orders, _ := newOrders()
	orders.put(pendingOrder(1, buyer.UserID))

	order, err := svc.UpdateStatus(context.Background(), admin, 1, types.OrderCancelled)
	require.NoError(t, err)
	assert.Equal(t, types.OrderCancelled, order.Status)
	assert.Equal(t, []int64{1}, orders.cancelled)
}
