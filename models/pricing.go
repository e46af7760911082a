package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/thitsarsoft/commerce_backend/utils"
	"gorm.io/gorm"
)

// The pricing resolver is consumed read-only by the reservation workflow:
// it decides the unit price a reservation commits to. Priority is strict
// and non-cumulative:
//
//	promotion > volume tier > price list entry > customer discount on base > base price
//
// DiscountPercent is only ever non-zero when the customer default discount
// wins, so negotiated/promotional prices are never discounted twice.

type ProductPromotion struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"size:64;not null;index" json:"business_id"`
	ProductId  int             `gorm:"not null;index" json:"product_id"`
	PromoPrice decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"promo_price"`
	StartsAt   time.Time       `gorm:"not null" json:"starts_at"`
	EndsAt     time.Time       `gorm:"not null" json:"ends_at"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type VolumePriceTier struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"size:64;not null;index" json:"business_id"`
	ProductId  int             `gorm:"not null;index" json:"product_id"`
	MinQty     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"min_qty"`
	TierPrice  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"tier_price"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type PriceListEntry struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"size:64;not null;index" json:"business_id"`
	CustomerId int             `gorm:"not null;index" json:"customer_id"`
	ProductId  int             `gorm:"not null;index" json:"product_id"`
	ListPrice  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"list_price"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type PriceResult struct {
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Source          PriceSource     `json:"source"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// PriceCandidates carries every rule that matched for one
// (product, customer, qty) lookup. Nil pointers mean "no rule matched".
type PriceCandidates struct {
	BasePrice               decimal.Decimal
	PromoPrice              *decimal.Decimal
	TierPrice               *decimal.Decimal
	PriceListPrice          *decimal.Decimal
	CustomerDiscountPercent decimal.Decimal
}

// PickPrice applies the priority chain. Pure so the contract is testable
// without a database.
func PickPrice(c PriceCandidates) PriceResult {
	if c.PromoPrice != nil {
		return PriceResult{UnitPrice: *c.PromoPrice, Source: PriceSourcePromotion, DiscountPercent: decimal.Zero}
	}
	if c.TierPrice != nil {
		return PriceResult{UnitPrice: *c.TierPrice, Source: PriceSourceVolumeTier, DiscountPercent: decimal.Zero}
	}
	if c.PriceListPrice != nil {
		return PriceResult{UnitPrice: *c.PriceListPrice, Source: PriceSourcePriceList, DiscountPercent: decimal.Zero}
	}
	if c.CustomerDiscountPercent.IsPositive() {
		hundred := decimal.NewFromInt(100)
		discounted := c.BasePrice.Mul(hundred.Sub(c.CustomerDiscountPercent)).DivRound(hundred, 4)
		return PriceResult{UnitPrice: discounted, Source: PriceSourceCustomerDiscount, DiscountPercent: c.CustomerDiscountPercent}
	}
	return PriceResult{UnitPrice: c.BasePrice, Source: PriceSourceBasePrice, DiscountPercent: decimal.Zero}
}

// ResolvePrice loads the matching rules and applies PickPrice.
func ResolvePrice(ctx context.Context, db *gorm.DB, productId, customerId int, qty decimal.Decimal) (*PriceResult, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var product Product
	if err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, productId).
		First(&product).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	candidates := PriceCandidates{BasePrice: product.SalesPrice}

	now := time.Now().UTC()
	var promo ProductPromotion
	err := db.WithContext(ctx).
		Where("business_id = ? AND product_id = ? AND starts_at <= ? AND ends_at >= ?", businessId, productId, now, now).
		Order("starts_at DESC").
		First(&promo).Error
	if err == nil {
		candidates.PromoPrice = &promo.PromoPrice
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	var tier VolumePriceTier
	err = db.WithContext(ctx).
		Where("business_id = ? AND product_id = ? AND min_qty <= ?", businessId, productId, qty).
		Order("min_qty DESC").
		First(&tier).Error
	if err == nil {
		candidates.TierPrice = &tier.TierPrice
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	if customerId > 0 {
		var entry PriceListEntry
		err = db.WithContext(ctx).
			Where("business_id = ? AND customer_id = ? AND product_id = ?", businessId, customerId, productId).
			First(&entry).Error
		if err == nil {
			candidates.PriceListPrice = &entry.ListPrice
		} else if err != gorm.ErrRecordNotFound {
			return nil, err
		}

		var customer Customer
		err = db.WithContext(ctx).
			Where("business_id = ? AND id = ?", businessId, customerId).
			First(&customer).Error
		if err == nil {
			candidates.CustomerDiscountPercent = customer.DefaultDiscountPercent
		} else if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}

	result := PickPrice(candidates)
	return &result, nil
}
