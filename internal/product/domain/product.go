package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type ProductStatus string

const (
	StatusActive     ProductStatus = "ACTIVE"
	StatusOutOfStock ProductStatus = "OUT_OF_STOCK"
	StatusInactive   ProductStatus = "INACTIVE"
)

type Product struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Price       decimal.Decimal  `json:"price"`
	SalePrice   *decimal.Decimal `json:"sale_price,omitempty"`
	Stock       int              `json:"stock"`
	Status      ProductStatus    `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// EffectivePrice is the sale price when one is set, otherwise the list price.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.SalePrice != nil && p.SalePrice.IsPositive() {
		return *p.SalePrice
	}
	return p.Price
}

type StockItem struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

type StockValidation struct {
	Valid             bool               `json:"valid"`
	Errors            []string           `json:"errors"`
	ValidatedProducts map[string]Product `json:"validatedProducts"`
}

// MergeStockItems sums quantities per product and orders the result by product id, so row locks
// are always taken in the same order.
func MergeStockItems(items []StockItem) []StockItem {
	totals := make(map[string]int, len(items))
	for _, it := range items {
		totals[it.ProductID] += it.Quantity
	}
	merged := make([]StockItem, 0, len(totals))
	for id, q := range totals {
		merged = append(merged, StockItem{ProductID: id, Quantity: q})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged
}
