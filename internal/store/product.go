package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storefront/apiserver/types"
)

// ProductRepository handles persistence for products.
type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

const productColumns = `id, seller_id, title, description, price, stock, status, image_key, created_at, updated_at`

func scanProduct(row interface{ Scan(dest ...any) error }) (types.Product, error) {
	var product types.Product
	err := row.Scan(
		&product.ID,
		&product.SellerID,
		&product.Title,
		&product.Description,
		&product.Price,
		&product.Stock,
		&product.Status,
		&product.ImageKey,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Product{}, ErrNotFound
		}
		return types.Product{}, err
	}
	return product, nil
}

func (r *ProductRepository) List(ctx context.Context, filter types.ProductFilter, offset, limit int) ([]types.Product, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	where, args := productWhere(filter)

	countQuery := `SELECT COUNT(1) FROM products` + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := fmt.Sprintf(`
		SELECT %s
		FROM products%s
		ORDER BY id
		OFFSET $%d LIMIT $%d`, productColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, listQuery, append(args, offset, limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	products := make([]types.Product, 0, limit)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return products, total, nil
}

func productWhere(filter types.ProductFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if !filter.IncludeInactive {
		conds = append(conds, `status = 'active'`)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		add(`title ILIKE $%d`, "%"+escapeLike(q)+"%")
	}
	if filter.SellerID > 0 {
		add(`seller_id = $%d`, filter.SellerID)
	}
	if filter.MinPrice != nil {
		add(`price >= $%d`, *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		add(`price <= $%d`, *filter.MaxPrice)
	}
	if filter.InStock {
		conds = append(conds, `stock > 0`)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func (r *ProductRepository) Get(ctx context.Context, id int64) (types.Product, error) {
	const query = `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	return scanProduct(r.db.QueryRowContext(ctx, query, id))
}

func (r *ProductRepository) Create(ctx context.Context, product types.Product) (types.Product, error) {
	now := time.Now()
	product.CreatedAt = now
	product.UpdatedAt = now

	const query = `
		INSERT INTO products (seller_id, title, description, price, stock, status, image_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		product.SellerID,
		product.Title,
		product.Description,
		product.Price,
		product.Stock,
		product.Status,
		product.ImageKey,
		product.CreatedAt,
		product.UpdatedAt,
	).Scan(&product.ID); err != nil {
		return types.Product{}, err
	}

	return product, nil
}

func (r *ProductRepository) Update(ctx context.Context, product types.Product) (types.Product, error) {
	const query = `
		UPDATE products
		SET title = $1,
			description = $2,
			price = $3,
			stock = $4,
			status = $5,
			updated_at = $6
		WHERE id = $7
		RETURNING ` + productColumns
	return scanProduct(r.db.QueryRowContext(
		ctx,
		query,
		product.Title,
		product.Description,
		product.Price,
		product.Stock,
		product.Status,
		time.Now(),
		product.ID,
	))
}

// SetImage replaces the image key of a product.
func (r *ProductRepository) SetImage(ctx context.Context, id int64, key string) error {
	const query = `UPDATE products SET image_key = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, key, time.Now(), id)
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
