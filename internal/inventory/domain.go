package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/replenish/internal/shared"
)

// Supplier holds the lead-time data the reorder engine depends on.
type Supplier struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	LeadTimeNormalDays *int   `json:"lead_time_normal_days,omitempty"`
	LeadTimeMaxDays    *int   `json:"lead_time_max_days,omitempty"`
	IsActive           bool   `json:"is_active"`
}

// Product is a stocked item keyed by code. Products are never deleted.
type Product struct {
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Stock          int64     `json:"stock"`
	ReorderPoint   *int64    `json:"reorder_point,omitempty"`
	IsDiscontinued bool      `json:"is_discontinued"`
	SupplierID     *int64    `json:"supplier_id,omitempty"`
	Supplier       *Supplier `json:"supplier,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasActiveSupplier reports whether automatic purchase orders can be raised.
func (p Product) HasActiveSupplier() bool {
	return p.SupplierID != nil && p.Supplier != nil && p.Supplier.IsActive
}

// AdjustmentInput describes a manual stock correction.
type AdjustmentInput struct {
	ProductCode string `json:"product_code" validate:"required"`
	Delta       int64  `json:"delta" validate:"required"`
	Reference   string `json:"reference" validate:"required,max=64"`
	Note        string `json:"note" validate:"max=255"`
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	OnlyActive       bool
	AtOrBelowReorder bool
	// DiscontinuedBackordered keeps discontinued products that open sales
	// lines still wait for.
	DiscontinuedBackordered bool
	Limit                   int
}

var (
	// ErrNegativeStock triggered when movement would result negative qty.
	ErrNegativeStock = fmt.Errorf("inventory: negative stock not allowed: %w", shared.ErrConsistency)
	// ErrInvalidQuantity indicates invalid qty.
	ErrInvalidQuantity = fmt.Errorf("inventory: quantity must be non zero: %w", shared.ErrValidation)
	// ErrProductNotFound indicates an unknown product code.
	ErrProductNotFound = fmt.Errorf("inventory: product %w", shared.ErrNotFound)
)

// ShortageError is returned when a decrement finds less stock than requested.
// The stock row is left untouched.
type ShortageError struct {
	ProductCode string
	Available   int64
	Requested   int64
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for %s: %d available, %d requested", e.ProductCode, e.Available, e.Requested)
}

// Unwrap lets errors.Is match ErrNegativeStock.
func (e *ShortageError) Unwrap() error {
	return ErrNegativeStock
}

// AsShortage extracts a ShortageError from err.
func AsShortage(err error) (*ShortageError, bool) {
	var se *ShortageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
