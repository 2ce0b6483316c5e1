package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/apiserver/internal/storage"
	"github.com/storefront/apiserver/internal/store"
	"github.com/storefront/apiserver/types"
)

// MaxImageBytes bounds the size of an uploaded product image.
const MaxImageBytes = 5 << 20

const sniffLen = 512

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// priceCeiling is the first value that no longer fits NUMERIC(12,2).
var priceCeiling = decimal.New(1, 10)

// ProductRepository defines persistence operations for products.
type ProductRepository interface {
	List(ctx context.Context, filter types.ProductFilter, offset, limit int) ([]types.Product, int, error)
	Get(ctx context.Context, id int64) (types.Product, error)
	Create(ctx context.Context, product types.Product) (types.Product, error)
	Update(ctx context.Context, product types.Product) (types.Product, error)
	SetImage(ctx context.Context, id int64, key string) error
}

// ImageStore is the object storage used for product images.
type ImageStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// ProductQuery holds the public catalog filters.
type ProductQuery struct {
	Query    string
	SellerID int64
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	InStock  bool
}

// ProductInput is the writable part of a product.
type ProductInput struct {
	Title       string              `json:"title" validate:"required,max=200"`
	Description string              `json:"description" validate:"max=5000"`
	Price       decimal.Decimal     `json:"price"`
	Stock       int                 `json:"stock" validate:"gte=0,lte=2147483647"`
	Status      types.ProductStatus `json:"status" validate:"omitempty,oneof=active inactive"`
}

// CatalogService handles product listing and seller product management.
type CatalogService struct {
	products ProductRepository
	images   ImageStore
	paging   Paging
	logger   *slog.Logger
}

// NewCatalogService creates a CatalogService. images may be nil, in which
// case image operations fail with NOT_FOUND.
func NewCatalogService(products ProductRepository, images ImageStore, paging Paging, logger *slog.Logger) *CatalogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogService{
		products: products,
		images:   images,
		paging:   paging,
		logger:   logger,
	}
}

// ListProducts returns active products matching q.
func (s *CatalogService) ListProducts(ctx context.Context, q ProductQuery, req PageRequest) (Page[types.Product], error) {
	if err := validatePriceRange(q.MinPrice, q.MaxPrice); err != nil {
		return Page[types.Product]{}, err
	}
	return s.list(ctx, types.ProductFilter{
		Query:    q.Query,
		SellerID: q.SellerID,
		MinPrice: q.MinPrice,
		MaxPrice: q.MaxPrice,
		InStock:  q.InStock,
	}, req)
}

// ListSellerProducts returns every product of the calling seller, including
// inactive ones.
func (s *CatalogService) ListSellerProducts(ctx context.Context, seller Principal, req PageRequest) (Page[types.Product], error) {
	if !seller.HasRole(types.RoleSeller) {
		return Page[types.Product]{}, forbidden("seller role required")
	}
	return s.list(ctx, types.ProductFilter{
		SellerID:        seller.UserID,
		IncludeInactive: true,
	}, req)
}

func (s *CatalogService) list(ctx context.Context, filter types.ProductFilter, req PageRequest) (Page[types.Product], error) {
	page, limit, offset := s.paging.normalize(req)
	products, total, err := s.products.List(ctx, filter, offset, limit)
	if err != nil {
		return Page[types.Product]{}, internalError("list products", err)
	}
	return Page[types.Product]{Items: products, Page: page, Limit: limit, Total: total}, nil
}

// GetProduct returns a product. Inactive products are only visible to their
// seller; requesterID is zero for anonymous callers.
func (s *CatalogService) GetProduct(ctx context.Context, requesterID, id int64) (types.Product, error) {
	product, err := s.products.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Product{}, notFound("product not found")
		}
		return types.Product{}, internalError("get product", err)
	}
	if product.Status != types.ProductActive && (requesterID == 0 || product.SellerID != requesterID) {
		return types.Product{}, notFound("product not found")
	}
	return product, nil
}

func (s *CatalogService) CreateProduct(ctx context.Context, seller Principal, in ProductInput) (types.Product, error) {
	if !seller.HasRole(types.RoleSeller) {
		return types.Product{}, forbidden("seller role required")
	}
	if err := validateProductInput(&in); err != nil {
		return types.Product{}, err
	}
	if in.Status == "" {
		in.Status = types.ProductActive
	}

	product, err := s.products.Create(ctx, types.Product{
		SellerID:    seller.UserID,
		Title:       in.Title,
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		Status:      in.Status,
	})
	if err != nil {
		return types.Product{}, internalError("create product", err)
	}

	s.logger.InfoContext(ctx, "product created", slog.Int64("product_id", product.ID), slog.Int64("seller_id", seller.UserID))
	return product, nil
}

// UpdateProduct replaces the writable fields of a product owned by seller.
// An empty status keeps the current one.
func (s *CatalogService) UpdateProduct(ctx context.Context, seller Principal, id int64, in ProductInput) (types.Product, error) {
	current, err := s.ownedProduct(ctx, seller, id)
	if err != nil {
		return types.Product{}, err
	}
	if err := validateProductInput(&in); err != nil {
		return types.Product{}, err
	}
	if in.Status == "" {
		in.Status = current.Status
	}

	current.Title = in.Title
	current.Description = in.Description
	current.Price = in.Price
	current.Stock = in.Stock
	current.Status = in.Status

	updated, err := s.products.Update(ctx, current)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Product{}, notFound("product not found")
		}
		return types.Product{}, internalError("update product", err)
	}
	return updated, nil
}

// UploadImage stores a new product image and replaces the previous one.
// size must be the exact number of bytes r yields.
func (s *CatalogService) UploadImage(ctx context.Context, seller Principal, id int64, r io.Reader, size int64) (types.Product, error) {
	if s.images == nil {
		return types.Product{}, notFound("image storage is not configured")
	}
	product, err := s.ownedProduct(ctx, seller, id)
	if err != nil {
		return types.Product{}, err
	}
	if size <= 0 {
		return types.Product{}, validationError("image is empty", map[string]any{"image": "required"})
	}
	if size > MaxImageBytes {
		return types.Product{}, validationError("image is too large", map[string]any{"image": fmt.Sprintf("max=%d", MaxImageBytes)})
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return types.Product{}, validationError("image could not be read", nil)
	}
	head = head[:n]
	contentType := http.DetectContentType(head)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return types.Product{}, validationError("unsupported image type", map[string]any{"image": contentType})
	}

	key := fmt.Sprintf("products/%d/%s%s", product.ID, uuid.NewString(), ext)
	body := io.MultiReader(bytes.NewReader(head), r)
	if err := s.images.Put(ctx, key, body, size, contentType); err != nil {
		return types.Product{}, internalError("store image", err)
	}

	if err := s.products.SetImage(ctx, product.ID, key); err != nil {
		if delErr := s.images.Delete(ctx, key); delErr != nil {
			s.logger.WarnContext(ctx, "orphaned product image", slog.String("key", key), slog.Any("error", delErr))
		}
		if errors.Is(err, store.ErrNotFound) {
			return types.Product{}, notFound("product not found")
		}
		return types.Product{}, internalError("set product image", err)
	}

	if previous := product.ImageKey; previous != "" {
		if err := s.images.Delete(ctx, previous); err != nil {
			s.logger.WarnContext(ctx, "delete previous product image failed", slog.String("key", previous), slog.Any("error", err))
		}
	}

	product.ImageKey = key
	return product, nil
}

// OpenImage opens the image of an active product. The caller must close the
// returned reader.
func (s *CatalogService) OpenImage(ctx context.Context, id int64) (io.ReadCloser, storage.ObjectInfo, error) {
	if s.images == nil {
		return nil, storage.ObjectInfo{}, notFound("image storage is not configured")
	}
	product, err := s.GetProduct(ctx, 0, id)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	if product.ImageKey == "" {
		return nil, storage.ObjectInfo{}, notFound("product has no image")
	}

	reader, info, err := s.images.Get(ctx, product.ImageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, storage.ObjectInfo{}, notFound("product has no image")
		}
		return nil, storage.ObjectInfo{}, internalError("open image", err)
	}
	if info.ContentType == "" {
		info.ContentType = mime.TypeByExtension(path.Ext(product.ImageKey))
	}
	return reader, info, nil
}

func (s *CatalogService) ownedProduct(ctx context.Context, seller Principal, id int64) (types.Product, error) {
	if !seller.HasRole(types.RoleSeller) {
		return types.Product{}, forbidden("seller role required")
	}
	product, err := s.products.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Product{}, notFound("product not found")
		}
		return types.Product{}, internalError("get product", err)
	}
	if product.SellerID != seller.UserID {
		return types.Product{}, forbidden("product belongs to another seller")
	}
	return product, nil
}

func validateProductInput(in *ProductInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := validateStruct(in); err != nil {
		return err
	}
	switch {
	case !in.Price.IsPositive():
		return validationError("invalid request", map[string]any{"price": "gt=0"})
	case !in.Price.Equal(in.Price.Round(2)):
		return validationError("invalid request", map[string]any{"price": "max 2 decimal places"})
	case in.Price.GreaterThanOrEqual(priceCeiling):
		return validationError("invalid request", map[string]any{"price": "lt=" + priceCeiling.String()})
	}
	return nil
}

func validatePriceRange(minPrice, maxPrice *decimal.Decimal) error {
	details := map[string]any{}
	if minPrice != nil && minPrice.IsNegative() {
		details["min_price"] = "gte=0"
	}
	if maxPrice != nil && maxPrice.IsNegative() {
		details["max_price"] = "gte=0"
	}
	if minPrice != nil && maxPrice != nil && minPrice.GreaterThan(*maxPrice) {
		details["max_price"] = "gtefield=min_price"
	}
	if len(details) > 0 {
		return validationError("invalid request", details)
	}
	return nil
}
