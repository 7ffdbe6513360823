package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategoryRequest payload for creating or renaming a category.
type CategoryRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=2000"`
}

// ProductRequest payload for creating or updating a product. Quantity is only
// honoured at creation; afterwards stock changes go through movements.
type ProductRequest struct {
	Code       string          `json:"code" validate:"required,max=60"`
	Name       string          `json:"name" validate:"required,max=255"`
	Brand      string          `json:"brand" validate:"max=120"`
	CategoryID *string         `json:"category_id" validate:"omitempty,uuid"`
	Quantity   int             `json:"quantity" validate:"min=0"`
	Unit       string          `json:"unit" validate:"max=30"`
	Price      decimal.Decimal `json:"price"`
}

// ProductQuery mirrors product listing filters.
type ProductQuery struct {
	CategoryID string
	Search     string
	LowStock   bool
	Page       int
	PageSize   int
}

// StockMovementRequest payload for recording an entry or exit.
type StockMovementRequest struct {
	Type     string     `json:"type" validate:"required,oneof=entry exit"`
	Quantity int        `json:"quantity" validate:"required,min=1"`
	Date     *time.Time `json:"date"`
	Reason   string     `json:"reason" validate:"max=2000"`
}
