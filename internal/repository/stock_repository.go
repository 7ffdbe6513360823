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

// StockRepository records stock movements against product quantities.
type StockRepository struct {
	db *sqlx.DB
}

// NewStockRepository constructs the repository.
func NewStockRepository(db *sqlx.DB) *StockRepository {
	return &StockRepository{db: db}
}

// Apply locks the product row, adjusts its quantity and stores the movement
// in one transaction. An exit larger than the running quantity yields
// ErrInsufficientStock; an unknown product yields sql.ErrNoRows.
func (r *StockRepository) Apply(ctx context.Context, movement *models.StockMovement) (err error) {
	if movement.ID == "" {
		movement.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if movement.MovementDate.IsZero() {
		movement.MovementDate = now
	}
	movement.CreatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stock movement: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current struct {
		Name     string `db:"name"`
		Quantity int    `db:"quantity"`
	}
	if err = tx.GetContext(ctx, &current, `SELECT name, quantity FROM products WHERE id = $1 FOR UPDATE`, movement.ProductID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lock product: %w", err)
	}

	after := current.Quantity + movement.Quantity
	if movement.Type == models.StockMovementExit {
		after = current.Quantity - movement.Quantity
	}
	if after < 0 {
		return ErrInsufficientStock
	}
	movement.ProductName = current.Name
	movement.QuantityBefore = current.Quantity
	movement.QuantityAfter = after

	if _, err = tx.ExecContext(ctx, `UPDATE products SET quantity = $2, updated_at = $3 WHERE id = $1`, movement.ProductID, after, now); err != nil {
		return fmt.Errorf("update product quantity: %w", err)
	}

	const insert = `INSERT INTO stock_movements
	(id, product_id, type, quantity, quantity_before, quantity_after, movement_date, reason, created_by, created_at)
	VALUES (:id, :product_id, :type, :quantity, :quantity_before, :quantity_after, :movement_date, :reason, :created_by, :created_at)`
	if _, err = tx.NamedExecContext(ctx, insert, movement); err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit stock movement: %w", err)
	}
	return nil
}

// List returns movements, most recent first, with the total count.
func (r *StockRepository) List(ctx context.Context, filter models.StockMovementFilter) ([]models.StockMovement, int, error) {
	conditions := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		conditions = append(conditions, fmt.Sprintf("m.product_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("m.type = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("m.movement_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("m.movement_date <= $%d", len(args)))
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

	query := fmt.Sprintf(`SELECT m.id, m.product_id, p.name AS product_name, m.type, m.quantity, m.quantity_before, m.quantity_after,
       m.movement_date, m.reason, m.created_by, m.created_at
	FROM stock_movements m JOIN products p ON p.id = m.product_id%s
	ORDER BY m.movement_date DESC, m.created_at DESC LIMIT %d OFFSET %d`, where, pageSize, (page-1)*pageSize)
	var movements []models.StockMovement
	if err := r.db.SelectContext(ctx, &movements, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list stock movements: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM stock_movements m"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count stock movements: %w", err)
	}
	return movements, total, nil
}
