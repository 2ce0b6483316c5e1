package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem is one (user, product) row of a shopping cart.
type CartItem struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	ProductID int64     `json:"product_id" db:"product_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CartLine is a cart item joined with the live product state.
type CartLine struct {
	ID            int64           `json:"id"`
	ProductID     int64           `json:"product_id"`
	Title         string          `json:"title"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Quantity      int             `json:"quantity"`
	Stock         int             `json:"stock"`
	ProductStatus ProductStatus   `json:"product_status"`
	Subtotal      decimal.Decimal `json:"subtotal"`

	// Available is true when the product is active and has enough stock
	// to cover Quantity right now.
	Available bool `json:"available"`
}

// Cart is the priced view of a user's cart.
type Cart struct {
	Items []CartLine      `json:"items"`
	Total decimal.Decimal `json:"total"`
}
