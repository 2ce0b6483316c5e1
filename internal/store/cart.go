package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/storefront/apiserver/types"
)

// CartRepository handles persistence for cart items.
type CartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

// ListByUser returns the user's cart items joined with the current product
// title, price, stock and status. Subtotal and Available are left for the
// caller to compute.
func (r *CartRepository) ListByUser(ctx context.Context, userID int64) ([]types.CartLine, error) {
	const query = `
		SELECT ci.id, ci.product_id, ci.quantity, p.title, p.price, p.stock, p.status
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.user_id = $1
		ORDER BY ci.id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]types.CartLine, 0)
	for rows.Next() {
		var line types.CartLine
		if err := rows.Scan(
			&line.ID,
			&line.ProductID,
			&line.Quantity,
			&line.Title,
			&line.UnitPrice,
			&line.Stock,
			&line.ProductStatus,
		); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *CartRepository) GetByProduct(ctx context.Context, userID, productID int64) (types.CartItem, error) {
	const query = `
		SELECT id, user_id, product_id, quantity, created_at, updated_at
		FROM cart_items
		WHERE user_id = $1 AND product_id = $2`
	var item types.CartItem
	err := r.db.QueryRowContext(ctx, query, userID, productID).Scan(
		&item.ID,
		&item.UserID,
		&item.ProductID,
		&item.Quantity,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.CartItem{}, ErrNotFound
		}
		return types.CartItem{}, err
	}
	return item, nil
}

// AddItem inserts the (user, product) row or adds quantity to the existing one.
func (r *CartRepository) AddItem(ctx context.Context, userID, productID int64, quantity int) (types.CartItem, error) {
	now := time.Now()

	const query = `
		INSERT INTO cart_items (user_id, product_id, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity,
			updated_at = EXCLUDED.updated_at
		RETURNING id, user_id, product_id, quantity, created_at, updated_at`
	var item types.CartItem
	if err := r.db.QueryRowContext(ctx, query, userID, productID, quantity, now).Scan(
		&item.ID,
		&item.UserID,
		&item.ProductID,
		&item.Quantity,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return types.CartItem{}, err
	}
	return item, nil
}

// RemoveItem deletes a cart row owned by userID.
func (r *CartRepository) RemoveItem(ctx context.Context, userID, itemID int64) error {
	const query = `DELETE FROM cart_items WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, itemID, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
