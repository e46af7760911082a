package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product and Customer carry only the columns the pricing resolver and the
// stock pipeline read. Their CRUD surfaces belong to the excluded
// presentation layer.
type Product struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"size:64;not null;index" json:"business_id"`
	Name       string          `gorm:"size:255;not null" json:"name"`
	Sku        string          `gorm:"size:100;index" json:"sku"`
	SalesPrice decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"sales_price"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type Customer struct {
	ID                     int             `gorm:"primary_key" json:"id"`
	BusinessId             string          `gorm:"size:64;not null;index" json:"business_id"`
	Name                   string          `gorm:"size:255;not null" json:"name"`
	DefaultDiscountPercent decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"default_discount_percent"`
	CreatedAt              time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Location is a physical stock location (warehouse, shop floor).
type Location struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"size:64;not null;index" json:"business_id"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
