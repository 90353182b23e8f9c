package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Weight struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Product is a catalog entry keyed by its SKU.
type Product struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Brand           string          `json:"brand"`
	Weight          Weight          `json:"weight"`
	ImageURL        string          `json:"imageUrl,omitempty"`
	Cost            decimal.Decimal `json:"cost"`
	PackageQuantity int             `json:"packageQuantity"`
	StockQuantity   int             `json:"stockQuantity"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// UnitsPerPackage returns PackageQuantity, treating unset values as 1.
func (p Product) UnitsPerPackage() int {
	if p.PackageQuantity <= 0 {
		return 1
	}
	return p.PackageQuantity
}

// EffectiveStock is the stock expressed in the unit the cart line is ordered in.
func (p Product) EffectiveStock(packageMode bool) int {
	if !packageMode {
		return p.StockQuantity
	}
	if p.StockQuantity <= 0 {
		return 0
	}
	return p.StockQuantity / p.UnitsPerPackage()
}
