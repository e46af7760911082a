package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/thitsarsoft/commerce_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductStockSummary is the read-side cache of per-(product, location)
// quantities and stock value. It is maintained by the dispatcher's
// integration handler in the same transaction as the outbox insert, and can
// always be rebuilt from the movement journal (cmd/stock-rebuild).
type ProductStockSummary struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"size:64;not null;uniqueIndex:idx_summary_key,priority:1" json:"business_id"`
	ProductId   int             `gorm:"not null;uniqueIndex:idx_summary_key,priority:2" json:"product_id"`
	LocationId  int             `gorm:"not null;uniqueIndex:idx_summary_key,priority:3" json:"location_id"`
	OnHandQty   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"on_hand_qty"`
	ReservedQty decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"reserved_qty"`
	StockValue  decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"stock_value"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func stockSummaryCacheKey(businessId string, productId, locationId int) string {
	return fmt.Sprintf("stock_summary:%s:%d:%d", businessId, productId, locationId)
}

// UpsertProductStockSummary recomputes the summary row from the current
// stock_items state inside the caller's transaction and invalidates the
// redis copy after.
func UpsertProductStockSummary(tx *gorm.DB, businessId string, productId, locationId int) error {
	type totals struct {
		OnHandQty   decimal.Decimal
		ReservedQty decimal.Decimal
		StockValue  decimal.Decimal
	}
	var t totals
	err := tx.Model(&StockItem{}).
		Select("COALESCE(SUM(physical_qty),0) AS on_hand_qty, COALESCE(SUM(reserved_qty),0) AS reserved_qty, COALESCE(SUM(physical_qty*average_cost),0) AS stock_value").
		Where("business_id = ? AND product_id = ? AND location_id = ?", businessId, productId, locationId).
		Scan(&t).Error
	if err != nil {
		return err
	}

	row := ProductStockSummary{
		BusinessId:  businessId,
		ProductId:   productId,
		LocationId:  locationId,
		OnHandQty:   t.OnHandQty,
		ReservedQty: t.ReservedQty,
		StockValue:  t.StockValue,
	}
	err = tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "business_id"}, {Name: "product_id"}, {Name: "location_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"on_hand_qty", "reserved_qty", "stock_value", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return err
	}

	// Cache invalidation is best-effort; the DB row is the truth.
	_ = config.DeleteRedisKeys(stockSummaryCacheKey(businessId, productId, locationId))
	return nil
}

// GetProductStockSummary serves reads through the redis cache.
func GetProductStockSummary(db *gorm.DB, businessId string, productId, locationId int) (*ProductStockSummary, error) {
	key := stockSummaryCacheKey(businessId, productId, locationId)

	var cached ProductStockSummary
	if ok, err := config.GetRedisObject(key, &cached); err == nil && ok {
		return &cached, nil
	}

	var row ProductStockSummary
	err := db.
		Where("business_id = ? AND product_id = ? AND location_id = ?", businessId, productId, locationId).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	_ = config.SetRedisObject(key, row, 5*time.Minute)
	return &row, nil
}
