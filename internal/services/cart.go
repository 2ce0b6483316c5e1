package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/storefront/apiserver/internal/store"
	"github.com/storefront/apiserver/types"
)

// CartRepository defines persistence operations for cart items.
type CartRepository interface {
	ListByUser(ctx context.Context, userID int64) ([]types.CartLine, error)
	GetByProduct(ctx context.Context, userID, productID int64) (types.CartItem, error)
	AddItem(ctx context.Context, userID, productID int64, quantity int) (types.CartItem, error)
	RemoveItem(ctx context.Context, userID, itemID int64) error
}

// ProductReader loads a single product.
type ProductReader interface {
	Get(ctx context.Context, id int64) (types.Product, error)
}

// AddCartItemInput is the add-to-cart payload.
type AddCartItemInput struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Quantity  int   `json:"quantity" validate:"gt=0,lte=2147483647"`
}

// CartService manages a user's shopping cart.
type CartService struct {
	items    CartRepository
	products ProductReader
	logger   *slog.Logger
}

func NewCartService(items CartRepository, products ProductReader, logger *slog.Logger) *CartService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CartService{items: items, products: products, logger: logger}
}

// GetCart prices the cart against live product data. Lines whose product is
// inactive or short on stock are returned with Available=false and are left
// out of the total.
func (s *CartService) GetCart(ctx context.Context, userID int64) (types.Cart, error) {
	lines, err := s.items.ListByUser(ctx, userID)
	if err != nil {
		return types.Cart{}, internalError("list cart", err)
	}

	cart := types.Cart{Items: make([]types.CartLine, 0, len(lines)), Total: decimal.Zero}
	for _, line := range lines {
		line.Subtotal = line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		line.Available = line.ProductStatus == types.ProductActive && line.Stock >= line.Quantity
		if line.Available {
			cart.Total = cart.Total.Add(line.Subtotal)
		}
		cart.Items = append(cart.Items, line)
	}
	return cart, nil
}

// AddItem adds quantity units of a product. Adding a product that is already
// in the cart increases its quantity; the combined quantity may not exceed
// current stock.
func (s *CartService) AddItem(ctx context.Context, userID int64, in AddCartItemInput) (types.CartItem, error) {
	if err := validateStruct(in); err != nil {
		return types.CartItem{}, err
	}

	product, err := s.products.Get(ctx, in.ProductID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.CartItem{}, notFound("product not found")
		}
		return types.CartItem{}, internalError("get product", err)
	}
	if product.Status != types.ProductActive {
		return types.CartItem{}, notFound("product not found")
	}

	inCart := 0
	existing, err := s.items.GetByProduct(ctx, userID, in.ProductID)
	switch {
	case err == nil:
		inCart = existing.Quantity
	case !errors.Is(err, store.ErrNotFound):
		return types.CartItem{}, internalError("get cart item", err)
	}

	if in.Quantity > product.Stock-inCart {
		return types.CartItem{}, validationError("quantity exceeds available stock", map[string]any{
			"quantity":  "lte=stock",
			"available": product.Stock,
			"requested": int64(inCart) + int64(in.Quantity),
		})
	}

	item, err := s.items.AddItem(ctx, userID, in.ProductID, in.Quantity)
	if err != nil {
		return types.CartItem{}, internalError("add cart item", err)
	}
	return item, nil
}

// RemoveItem deletes a cart line. Lines of other users are reported as
// missing.
func (s *CartService) RemoveItem(ctx context.Context, userID, itemID int64) error {
	if err := s.items.RemoveItem(ctx, userID, itemID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("cart item not found")
		}
		return internalError("remove cart item", err)
	}
	return nil
}
