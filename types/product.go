package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus controls catalog visibility.
type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductInactive ProductStatus = "inactive"
)

// Valid reports whether s is a known product status.
func (s ProductStatus) Valid() bool {
	return s == ProductActive || s == ProductInactive
}

// Product is a sellable catalog entry owned by a seller.
type Product struct {
	// ID is the unique identifier of the product.
	ID int64 `json:"id" db:"id"`

	// SellerID references the owning seller account.
	SellerID int64 `json:"seller_id" db:"seller_id"`

	// Title is the human-readable product name.
	Title string `json:"title" db:"title"`

	// Description is free-form product copy.
	Description string `json:"description" db:"description"`

	// Price is the current unit price in the store currency, two decimal places.
	Price decimal.Decimal `json:"price" db:"price"`

	// Stock is the number of units available for checkout. Never negative.
	Stock int `json:"stock" db:"stock"`

	// Status is either active (listed) or inactive (hidden from buyers).
	Status ProductStatus `json:"status" db:"status"`

	// ImageKey is the object storage key of the product image, if any.
	ImageKey string `json:"image_key,omitempty" db:"image_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ProductFilter narrows catalog listings. Zero values mean "no filter".
type ProductFilter struct {
	Query           string
	SellerID        int64
	MinPrice        *decimal.Decimal
	MaxPrice        *decimal.Decimal
	InStock         bool
	IncludeInactive bool
}
