package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/demande-api/internal/models"
)

const productColumns = `p.id, p.code, p.name, p.brand, p.category_id, c.name AS category_name, p.quantity, p.unit, p.price, p.created_at, p.updated_at`

// CatalogRepository persists categories and products.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListCategories returns every category with its product count, by name.
func (r *CatalogRepository) ListCategories(ctx context.Context) ([]models.Category, error) {
	const query = `SELECT c.id, c.name, c.description, COUNT(p.id) AS product_count, c.created_at, c.updated_at
	FROM categories c LEFT JOIN products p ON p.category_id = c.id
	GROUP BY c.id ORDER BY c.name`
	var categories []models.Category
	if err := r.db.SelectContext(ctx, &categories, query); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

// GetCategory fetches a category by identifier.
func (r *CatalogRepository) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	const query = `SELECT c.id, c.name, c.description, COUNT(p.id) AS product_count, c.created_at, c.updated_at
	FROM categories c LEFT JOIN products p ON p.category_id = c.id
	WHERE c.id = $1 GROUP BY c.id`
	var category models.Category
	if err := r.db.GetContext(ctx, &category, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &category, nil
}

// CreateCategory inserts a category. A taken name yields ErrDuplicate.
func (r *CatalogRepository) CreateCategory(ctx context.Context, category *models.Category) error {
	if category.ID == "" {
		category.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	category.CreatedAt = now
	category.UpdatedAt = now
	const query = `INSERT INTO categories (id, name, description, created_at, updated_at) VALUES (:id, :name, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, category); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

// UpdateCategory renames or re-describes a category.
func (r *CatalogRepository) UpdateCategory(ctx context.Context, category *models.Category) error {
	category.UpdatedAt = time.Now().UTC()
	const query = `UPDATE categories SET name = :name, description = :description, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, category)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update category: %w", err)
	}
	return expectRow(result, "update category")
}

// DeleteCategory removes a category; its products become uncategorised.
func (r *CatalogRepository) DeleteCategory(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return expectRow(result, "delete category")
}

// ListProducts returns one page of products ordered by name, plus the total.
func (r *CatalogRepository) ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, int, error) {
	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 3)
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		conditions = append(conditions, fmt.Sprintf("p.category_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+likeEscaper.Replace(strings.ToLower(filter.Search))+"%")
		conditions = append(conditions, fmt.Sprintf(`(LOWER(p.name) LIKE $%[1]d ESCAPE '\' OR LOWER(p.code) LIKE $%[1]d ESCAPE '\' OR LOWER(p.brand) LIKE $%[1]d ESCAPE '\')`, len(args)))
	}
	if filter.LowStockMax != nil {
		args = append(args, *filter.LowStockMax)
		conditions = append(conditions, fmt.Sprintf("p.quantity <= $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	listQuery := fmt.Sprintf("SELECT %s FROM products p LEFT JOIN categories c ON c.id = p.category_id%s ORDER BY p.name, p.id LIMIT %d OFFSET %d",
		productColumns, where, pageSize, (page-1)*pageSize)
	var products []models.Product
	if err := r.db.SelectContext(ctx, &products, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM products p"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}
	return products, total, nil
}

// GetProduct fetches a product by identifier.
func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products p LEFT JOIN categories c ON c.id = p.category_id WHERE p.id = $1`
	var product models.Product
	if err := r.db.GetContext(ctx, &product, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &product, nil
}

// CreateProduct inserts a product. A taken code yields ErrDuplicate.
func (r *CatalogRepository) CreateProduct(ctx context.Context, product *models.Product) error {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	const query = `INSERT INTO products (id, code, name, brand, category_id, quantity, unit, price, created_at, updated_at)
	VALUES (:id, :code, :name, :brand, :category_id, :quantity, :unit, :price, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, product); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

// UpdateProduct edits descriptive fields. Quantity only changes through stock movements.
func (r *CatalogRepository) UpdateProduct(ctx context.Context, product *models.Product) error {
	product.UpdatedAt = time.Now().UTC()
	const query = `UPDATE products SET code = :code, name = :name, brand = :brand, category_id = :category_id,
	unit = :unit, price = :price, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, product)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update product: %w", err)
	}
	return expectRow(result, "update product")
}

// DeleteProduct removes a product and its movements.
func (r *CatalogRepository) DeleteProduct(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return expectRow(result, "delete product")
}

// Stats summarises the catalog; products at or under lowStock count as low.
func (r *CatalogRepository) Stats(ctx context.Context, lowStock int) (*models.CatalogStats, error) {
	const query = `SELECT
	(SELECT COUNT(*) FROM products) AS products,
	(SELECT COUNT(*) FROM categories) AS categories,
	(SELECT COUNT(*) FROM products WHERE quantity <= $1) AS low_stock,
	(SELECT COALESCE(SUM(quantity * price), 0) FROM products) AS stock_value`
	var stats models.CatalogStats
	if err := r.db.GetContext(ctx, &stats, query, lowStock); err != nil {
		return nil, fmt.Errorf("catalog stats: %w", err)
	}
	return &stats, nil
}

func expectRow(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
