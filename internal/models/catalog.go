package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category groups products in the catalog.
type Category struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Description  string    `db:"description" json:"description"`
	ProductCount int       `db:"product_count" json:"product_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Product is a stocked catalog item.
type Product struct {
	ID           string          `db:"id" json:"id"`
	Code         string          `db:"code" json:"code"`
	Name         string          `db:"name" json:"name"`
	Brand        string          `db:"brand" json:"brand"`
	CategoryID   *string         `db:"category_id" json:"category_id,omitempty"`
	CategoryName *string         `db:"category_name" json:"category_name,omitempty"`
	Quantity     int             `db:"quantity" json:"quantity"`
	Unit         string          `db:"unit" json:"unit"`
	Price        decimal.Decimal `db:"price" json:"price"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// StockValue is quantity times unit price.
func (p Product) StockValue() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(int64(p.Quantity)))
}

// ProductFilter constrains product listings.
type ProductFilter struct {
	CategoryID  string
	Search      string
	LowStockMax *int
	Page        int
	PageSize    int
}

// StockMovementType distinguishes stock entries from exits.
type StockMovementType string

const (
	StockMovementEntry StockMovementType = "entry"
	StockMovementExit  StockMovementType = "exit"
)

// IsValid reports whether the movement type is known.
func (t StockMovementType) IsValid() bool {
	return t == StockMovementEntry || t == StockMovementExit
}

// StockMovement adjusts a product's running quantity.
type StockMovement struct {
	ID             string            `db:"id" json:"id"`
	ProductID      string            `db:"product_id" json:"product_id"`
	ProductName    string            `db:"product_name" json:"product_name"`
	Type           StockMovementType `db:"type" json:"type"`
	Quantity       int               `db:"quantity" json:"quantity"`
	QuantityBefore int               `db:"quantity_before" json:"quantity_before"`
	QuantityAfter  int               `db:"quantity_after" json:"quantity_after"`
	MovementDate   time.Time         `db:"movement_date" json:"movement_date"`
	Reason         string            `db:"reason" json:"reason"`
	CreatedBy      *string           `db:"created_by" json:"created_by,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
}

// StockMovementFilter constrains movement listings.
type StockMovementFilter struct {
	ProductID string
	Type      StockMovementType
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// CatalogStats summarises inventory for dashboards.
type CatalogStats struct {
	Products   int             `db:"products" json:"products"`
	Categories int             `db:"categories" json:"categories"`
	LowStock   int             `db:"low_stock" json:"low_stock"`
	StockValue decimal.Decimal `db:"stock_value" json:"stock_value"`
}
