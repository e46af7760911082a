package workflow

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/thitsarsoft/commerce_backend/models"
	"gorm.io/gorm"
)

// RebuildStockFromJournal recomputes every StockItem physical quantity and
// the stock summaries of one business from the movement journal. The
// journal is the truth; the materialized rows are derived. Reserved
// quantities come from active reservations, not movements, so they are
// re-summed from stock_reservations.
//
// Used by cmd/stock-rebuild after manual data surgery or suspected drift.
func RebuildStockFromJournal(ctx context.Context, db *gorm.DB, logger *logrus.Logger, businessId string) error {
	if businessId == "" {
		return fmt.Errorf("business id is required")
	}

	if err := AcquireStockRebuildLock(db, businessId); err != nil {
		return err
	}
	defer ReleaseStockRebuildLock(db, businessId)

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var items []models.StockItem
		if err := tx.Where("business_id = ?", businessId).Find(&items).Error; err != nil {
			return err
		}

		for i := range items {
			item := &items[i]

			physical, err := journalPhysicalQty(tx, item)
			if err != nil {
				return err
			}
			reserved, err := activeReservedQty(tx, item)
			if err != nil {
				return err
			}

			if !item.PhysicalQty.Equal(physical) || !item.ReservedQty.Equal(reserved) {
				if logger != nil {
					logger.WithFields(logrus.Fields{
						"field":            "StockRebuild",
						"business_id":      businessId,
						"product_id":       item.ProductId,
						"location_id":      item.LocationId,
						"variant_id":       item.VariantId,
						"cached_physical":  item.PhysicalQty.String(),
						"journal_physical": physical.String(),
						"cached_reserved":  item.ReservedQty.String(),
						"actual_reserved":  reserved.String(),
					}).Warn("stock item drifted from journal; rewriting")
				}
				if err := tx.Model(&models.StockItem{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
					"physical_qty": physical,
					"reserved_qty": reserved,
				}).Error; err != nil {
					return err
				}
			}

			if err := models.UpsertProductStockSummary(tx, businessId, item.ProductId, item.LocationId); err != nil {
				return err
			}
		}
		return nil
	})
}

// journalPhysicalQty folds the movement journal for one item: entries and
// inbound transfers add, exits and outbound transfers subtract,
// adjustments apply their sign.
func journalPhysicalQty(tx *gorm.DB, item *models.StockItem) (decimal.Decimal, error) {
	type sums struct {
		Total decimal.Decimal
	}
	var inOut sums
	err := tx.Model(&models.StockMovement{}).
		Select("COALESCE(SUM(qty),0) AS total").
		Where("business_id = ? AND product_id = ? AND variant_id = ? AND movement_type <> ?",
			item.BusinessId, item.ProductId, item.VariantId, models.StockMovementTypeTransfer).
		Where("location_to_id = ? OR location_from_id = ?", item.LocationId, item.LocationId).
		Scan(&inOut).Error
	if err != nil {
		return decimal.Zero, err
	}

	var transferIn, transferOut sums
	err = tx.Model(&models.StockMovement{}).
		Select("COALESCE(SUM(qty),0) AS total").
		Where("business_id = ? AND product_id = ? AND variant_id = ? AND movement_type = ? AND location_to_id = ?",
			item.BusinessId, item.ProductId, item.VariantId, models.StockMovementTypeTransfer, item.LocationId).
		Scan(&transferIn).Error
	if err != nil {
		return decimal.Zero, err
	}
	err = tx.Model(&models.StockMovement{}).
		Select("COALESCE(SUM(qty),0) AS total").
		Where("business_id = ? AND product_id = ? AND variant_id = ? AND movement_type = ? AND location_from_id = ?",
			item.BusinessId, item.ProductId, item.VariantId, models.StockMovementTypeTransfer, item.LocationId).
		Scan(&transferOut).Error
	if err != nil {
		return decimal.Zero, err
	}

	return inOut.Total.Add(transferIn.Total).Sub(transferOut.Total), nil
}

func activeReservedQty(tx *gorm.DB, item *models.StockItem) (decimal.Decimal, error) {
	type sums struct {
		Total decimal.Decimal
	}
	var s sums
	err := tx.Model(&models.StockReservation{}).
		Select("COALESCE(SUM(qty),0) AS total").
		Where("business_id = ? AND product_id = ? AND variant_id = ? AND location_id = ? AND status = ?",
			item.BusinessId, item.ProductId, item.VariantId, item.LocationId, models.StockReservationStatusActive).
		Scan(&s).Error
	if err != nil {
		return decimal.Zero, err
	}
	return s.Total, nil
}
