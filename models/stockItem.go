package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockItem is the materialized quantity record for one
// (business, product, location, variant). It is mutated only through the
// ledger operations in the workflow package, always under a row lock, so
// reserved_qty <= physical_qty holds at all times.
//
// Rows are created lazily on first movement and archived (never deleted)
// once both quantities reach zero.
type StockItem struct {
	ID          int     `gorm:"primary_key" json:"id"`
	BusinessId  string  `gorm:"size:64;not null;uniqueIndex:idx_stock_item_key,priority:1" json:"business_id"`
	ProductId   int     `gorm:"not null;uniqueIndex:idx_stock_item_key,priority:2" json:"product_id"`
	LocationId  int     `gorm:"not null;uniqueIndex:idx_stock_item_key,priority:3" json:"location_id"`
	VariantId   int     `gorm:"not null;default:0;uniqueIndex:idx_stock_item_key,priority:4" json:"variant_id"`
	PhysicalQty decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"physical_qty"`
	ReservedQty decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"reserved_qty"`
	AverageCost decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"average_cost"`
	LastMovementAt *time.Time   `gorm:"index" json:"last_movement_at"`
	Archived    bool      `gorm:"not null;default:false;index" json:"archived"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AvailableQty is what a new reservation can still claim.
func (s *StockItem) AvailableQty() decimal.Decimal {
	return s.PhysicalQty.Sub(s.ReservedQty)
}

// WeightedAverageCost recomputes AVCO after a receipt. When the combined
// quantity is zero the prior cost is retained (division-by-zero guard).
func WeightedAverageCost(oldQty, oldCost, receivedQty, unitCost decimal.Decimal) decimal.Decimal {
	totalQty := oldQty.Add(receivedQty)
	if totalQty.IsZero() {
		return oldCost
	}
	totalValue := oldCost.Mul(oldQty).Add(unitCost.Mul(receivedQty))
	return totalValue.DivRound(totalQty, 4)
}

// LockStockItemForUpdate loads the StockItem row under FOR UPDATE, creating
// it lazily when absent. All ledger mutation is serialized on this lock.
// Engine lock-wait timeouts surface as ErrLockWaitTimeout.
func LockStockItemForUpdate(tx *gorm.DB, businessId string, productId, locationId, variantId int) (*StockItem, error) {
	var item StockItem
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND product_id = ? AND location_id = ? AND variant_id = ?",
			businessId, productId, locationId, variantId).
		First(&item).Error
	if err == nil {
		return &item, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, MapLockError(err)
	}

	item = StockItem{
		BusinessId: businessId,
		ProductId:  productId,
		LocationId: locationId,
		VariantId:  variantId,
	}
	if createErr := tx.Create(&item).Error; createErr != nil {
		// A concurrent caller may have created the row between our read
		// and insert; fall back to locking the winner's row.
		if !IsDuplicateKeyErr(createErr) {
			return nil, createErr
		}
		err = tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ? AND product_id = ? AND location_id = ? AND variant_id = ?",
				businessId, productId, locationId, variantId).
			First(&item).Error
		if err != nil {
			return nil, MapLockError(err)
		}
	}
	return &item, nil
}

// SaveQuantities persists the quantity/cost fields of an already-locked
// item and stamps the movement time.
func (s *StockItem) SaveQuantities(tx *gorm.DB, movedAt time.Time) error {
	if s.ReservedQty.IsNegative() || s.PhysicalQty.IsNegative() {
		return fmt.Errorf("stock item %d would go negative (physical=%s reserved=%s)",
			s.ID, s.PhysicalQty.String(), s.ReservedQty.String())
	}
	if s.ReservedQty.GreaterThan(s.PhysicalQty) {
		return fmt.Errorf("stock item %d reserved %s exceeds physical %s",
			s.ID, s.ReservedQty.String(), s.PhysicalQty.String())
	}
	s.LastMovementAt = &movedAt
	return tx.Model(&StockItem{}).Where("id = ?", s.ID).Updates(map[string]interface{}{
		"physical_qty":     s.PhysicalQty,
		"reserved_qty":     s.ReservedQty,
		"average_cost":     s.AverageCost,
		"last_movement_at": s.LastMovementAt,
	}).Error
}

// ArchiveStockItem soft-deletes an item. Only items at zero quantities can
// be archived; history in stock_movements is kept either way.
func ArchiveStockItem(tx *gorm.DB, businessId string, itemId int) error {
	item, err := lockStockItemById(tx, businessId, itemId)
	if err != nil {
		return err
	}
	if !item.PhysicalQty.IsZero() || !item.ReservedQty.IsZero() {
		return fmt.Errorf("stock item %d has non-zero quantities; cannot archive", itemId)
	}
	return tx.Model(&StockItem{}).Where("id = ?", itemId).Update("archived", true).Error
}

func lockStockItemById(tx *gorm.DB, businessId string, itemId int) (*StockItem, error) {
	var item StockItem
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessId, itemId).
		First(&item).Error
	if err != nil {
		return nil, MapLockError(err)
	}
	return &item, nil
}
