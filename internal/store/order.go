package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/storefront/apiserver/types"
)

// OrderRepository handles persistence for orders and checkout.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

type cartRow struct {
	id        int64
	productID int64
	quantity  int
}

// CreateFromCart turns the user's cart into a pending order in a single
// transaction: stock is decremented conditionally per product, prices are
// snapshotted from the locked product rows, the order is inserted and the
// checked-out cart rows are removed. Any stock shortfall rolls everything back.
func (r *OrderRepository) CreateFromCart(ctx context.Context, userID int64) (types.Order, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return types.Order{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Rows come back in product id order so concurrent checkouts lock
	// product rows in the same order.
	const cartQuery = `
		SELECT id, product_id, quantity
		FROM cart_items
		WHERE user_id = $1
		ORDER BY product_id
		FOR UPDATE`
	rows, err := tx.QueryContext(ctx, cartQuery, userID)
	if err != nil {
		return types.Order{}, fmt.Errorf("load cart: %w", err)
	}
	var cart []cartRow
	for rows.Next() {
		var row cartRow
		if err := rows.Scan(&row.id, &row.productID, &row.quantity); err != nil {
			_ = rows.Close()
			return types.Order{}, err
		}
		cart = append(cart, row)
	}
	if err := rows.Close(); err != nil {
		return types.Order{}, err
	}
	if err := rows.Err(); err != nil {
		return types.Order{}, err
	}
	if len(cart) == 0 {
		return types.Order{}, ErrEmptyCart
	}

	now := time.Now()
	order := types.Order{
		UserID:    userID,
		Status:    types.OrderPending,
		Total:     decimal.Zero,
		Items:     make([]types.OrderItem, 0, len(cart)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	cartIDs := make([]int64, 0, len(cart))

	const decrementQuery = `
		UPDATE products
		SET stock = stock - $1,
			updated_at = $2
		WHERE id = $3 AND status = 'active' AND stock >= $1
		RETURNING title, price`
	for _, row := range cart {
		item := types.OrderItem{
			ProductID: row.productID,
			Quantity:  row.quantity,
		}
		err := tx.QueryRowContext(ctx, decrementQuery, row.quantity, now, row.productID).Scan(&item.Title, &item.UnitPrice)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return types.Order{}, &InsufficientStockError{ProductID: row.productID}
			}
			return types.Order{}, fmt.Errorf("decrement stock: %w", err)
		}
		order.Items = append(order.Items, item)
		order.Total = order.Total.Add(item.Subtotal())
		cartIDs = append(cartIDs, row.id)
	}

	const orderQuery = `
		INSERT INTO orders (user_id, status, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := tx.QueryRowContext(ctx, orderQuery, order.UserID, order.Status, order.Total, order.CreatedAt, order.UpdatedAt).Scan(&order.ID); err != nil {
		return types.Order{}, fmt.Errorf("insert order: %w", err)
	}

	const itemQuery = `
		INSERT INTO order_items (order_id, product_id, position, title, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		if err := tx.QueryRowContext(ctx, itemQuery, item.OrderID, item.ProductID, i, item.Title, item.Quantity, item.UnitPrice).Scan(&item.ID); err != nil {
			return types.Order{}, fmt.Errorf("insert order item: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = ANY($1)`, pq.Array(cartIDs)); err != nil {
		return types.Order{}, fmt.Errorf("clear cart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return types.Order{}, err
	}
	return order, nil
}

func (r *OrderRepository) Get(ctx context.Context, id int64) (types.Order, error) {
	const query = `
		SELECT id, user_id, status, total, created_at, updated_at
		FROM orders
		WHERE id = $1`
	var order types.Order
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.UserID,
		&order.Status,
		&order.Total,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Order{}, ErrNotFound
		}
		return types.Order{}, err
	}

	items, err := r.loadItems(ctx, []int64{order.ID})
	if err != nil {
		return types.Order{}, err
	}
	order.Items = items[order.ID]
	if order.Items == nil {
		order.Items = []types.OrderItem{}
	}
	return order, nil
}

// ListByUser returns the user's orders, newest first, with their items.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64, offset, limit int) ([]types.Order, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM orders WHERE user_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT id, user_id, status, total, created_at, updated_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`
	rows, err := r.db.QueryContext(ctx, listQuery, userID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders := make([]types.Order, 0, limit)
	ids := make([]int64, 0, limit)
	for rows.Next() {
		var order types.Order
		if err := rows.Scan(
			&order.ID,
			&order.UserID,
			&order.Status,
			&order.Total,
			&order.CreatedAt,
			&order.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(orders) == 0 {
		return orders, total, nil
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = []types.OrderItem{}
		}
	}
	return orders, total, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderIDs []int64) (map[int64][]types.OrderItem, error) {
	const query = `
		SELECT id, order_id, product_id, title, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[int64][]types.OrderItem, len(orderIDs))
	for rows.Next() {
		var item types.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Title,
			&item.Quantity,
			&item.UnitPrice,
		); err != nil {
			return nil, err
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateStatus moves the order from one status to another. It returns
// ErrInvalidTransition when the order is no longer in status from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, from, to types.OrderStatus) (types.Order, error) {
	const query = `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, to, time.Now(), id, from)
	if err != nil {
		return types.Order{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Order{}, err
	}
	if affected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return types.Order{}, err
		}
		return types.Order{}, ErrInvalidTransition
	}
	return r.Get(ctx, id)
}

// Cancel moves a pending order to cancelled and returns its units to stock.
func (r *OrderRepository) Cancel(ctx context.Context, id int64) (types.Order, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return types.Order{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	const cancelQuery = `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`
	result, err := tx.ExecContext(ctx, cancelQuery, types.OrderCancelled, now, id, types.OrderPending)
	if err != nil {
		return types.Order{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Order{}, err
	}
	if affected == 0 {
		_ = tx.Rollback()
		if _, err := r.Get(ctx, id); err != nil {
			return types.Order{}, err
		}
		return types.Order{}, ErrInvalidTransition
	}

	const restockQuery = `
		UPDATE products p
		SET stock = p.stock + oi.quantity,
			updated_at = $2
		FROM order_items oi
		WHERE oi.order_id = $1 AND p.id = oi.product_id`
	if _, err := tx.ExecContext(ctx, restockQuery, id, now); err != nil {
		return types.Order{}, fmt.Errorf("restock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return types.Order{}, err
	}
	return r.Get(ctx, id)
}
