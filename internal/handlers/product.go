package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/storefront/apiserver/internal/services"
	"github.com/storefront/apiserver/internal/storage"
	"github.com/storefront/apiserver/types"
)

const (
	maxMultipartMemory = 8 << 20
	maxImageBodyBytes  = services.MaxImageBytes + 1<<20
	formFieldImage     = "image"
)

// CatalogService is the product API used by ProductHandler.
type CatalogService interface {
	ListProducts(ctx context.Context, q services.ProductQuery, req services.PageRequest) (services.Page[types.Product], error)
	ListSellerProducts(ctx context.Context, seller services.Principal, req services.PageRequest) (services.Page[types.Product], error)
	GetProduct(ctx context.Context, requesterID, id int64) (types.Product, error)
	CreateProduct(ctx context.Context, seller services.Principal, in services.ProductInput) (types.Product, error)
	UpdateProduct(ctx context.Context, seller services.Principal, id int64, in services.ProductInput) (types.Product, error)
	UploadImage(ctx context.Context, seller services.Principal, id int64, r io.Reader, size int64) (types.Product, error)
	OpenImage(ctx context.Context, id int64) (io.ReadCloser, storage.ObjectInfo, error)
}

// ProductHandler provides HTTP handlers for the catalog.
type ProductHandler struct {
	catalog CatalogService
	responder
}

// NewProductHandler constructs a handler with the provided service.
func NewProductHandler(catalog CatalogService, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{catalog: catalog, responder: newResponder(logger)}
}

// ProductRouter registers the public /products routes. Image routes are only
// mounted when object storage is configured.
func ProductRouter(r chi.Router, catalog CatalogService, mw *AuthMiddleware, images bool, logger *slog.Logger) {
	handler := NewProductHandler(catalog, logger)

	r.Get("/", handler.ListProducts)
	r.Route("/{productID}", func(r chi.Router) {
		r.With(mw.OptionalAuth).Get("/", handler.GetProduct)
		if images {
			r.Get("/image", handler.GetImage)
		}
	})
}

// SellerRouter registers /seller routes for managing the caller's products.
func SellerRouter(r chi.Router, catalog CatalogService, mw *AuthMiddleware, images bool, logger *slog.Logger) {
	handler := NewProductHandler(catalog, logger)

	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAuth, mw.RequireRole(types.RoleSeller))
		r.Get("/products", handler.ListSellerProducts)
		r.Post("/products", handler.CreateProduct)
		r.Put("/products/{productID}", handler.UpdateProduct)
		if images {
			r.Post("/products/{productID}/image", handler.UploadImage)
		}
	})
}

func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	pageReq, err := parsePagination(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	query, err := parseProductQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	page, err := h.catalog.ListProducts(r.Context(), query, pageReq)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "productID")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var requesterID int64
	if principal, ok := PrincipalFromContext(r.Context()); ok {
		requesterID = principal.UserID
	}

	product, err := h.catalog.GetProduct(r.Context(), requesterID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, product)
}

// GetImage streams the product image.
func (h *ProductHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "productID")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	reader, info, err := h.catalog.OpenImage(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer reader.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		h.logger.WarnContext(r.Context(), "stream product image failed", slog.Int64("product_id", id), slog.Any("error", err))
	}
}

func (h *ProductHandler) ListSellerProducts(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	pageReq, err := parsePagination(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	page, err := h.catalog.ListSellerProducts(r.Context(), principal, pageReq)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req services.ProductInput
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	product, err := h.catalog.CreateProduct(r.Context(), principal, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, product)
}

func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r, "productID")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req services.ProductInput
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	product, err := h.catalog.UpdateProduct(r.Context(), principal, id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, product)
}

// UploadImage accepts a multipart form with the image in the "image" field.
func (h *ProductHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r, "productID")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageBodyBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.fail(w, r, badRequest("image is too large", map[string]any{"image": "max=" + strconv.Itoa(services.MaxImageBytes)}))
			return
		}
		h.fail(w, r, badRequest("invalid multipart form", nil))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile(formFieldImage)
	if err != nil {
		h.fail(w, r, badRequest("image is required", map[string]any{formFieldImage: "required"}))
		return
	}
	defer file.Close()

	product, err := h.catalog.UploadImage(r.Context(), principal, id, file, header.Size)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, product)
}

func parseProductQuery(r *http.Request) (services.ProductQuery, error) {
	values := r.URL.Query()
	query := services.ProductQuery{Query: strings.TrimSpace(values.Get("q"))}

	if raw := strings.TrimSpace(values.Get("seller_id")); raw != "" {
		sellerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || sellerID < 1 {
			return services.ProductQuery{}, badRequest("invalid seller_id", map[string]any{"seller_id": "gte=1"})
		}
		query.SellerID = sellerID
	}

	var err error
	if query.MinPrice, err = parseOptionalDecimal(values.Get("min_price")); err != nil {
		return services.ProductQuery{}, badRequest("invalid min_price", map[string]any{"min_price": "decimal"})
	}
	if query.MaxPrice, err = parseOptionalDecimal(values.Get("max_price")); err != nil {
		return services.ProductQuery{}, badRequest("invalid max_price", map[string]any{"max_price": "decimal"})
	}

	if raw := strings.TrimSpace(values.Get("in_stock")); raw != "" {
		inStock, err := strconv.ParseBool(raw)
		if err != nil {
			return services.ProductQuery{}, badRequest("invalid in_stock", map[string]any{"in_stock": "boolean"})
		}
		query.InStock = inStock
	}
	return query, nil
}

func parseOptionalDecimal(value string) (*decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
