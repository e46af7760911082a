package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockMovement is the append-only journal of physical stock changes.
// Rows are never updated or deleted; corrections are new ADJUSTMENT rows.
type StockMovement struct {
	ID             int               `gorm:"primary_key" json:"id"`
	BusinessId     string            `gorm:"size:64;not null;index;index:idx_movement_item,priority:1" json:"business_id"`
	MovementType   StockMovementType `gorm:"type:enum('ENTRY','EXIT','TRANSFER','ADJUSTMENT');not null" json:"movement_type"`
	ProductId      int               `gorm:"not null;index:idx_movement_item,priority:2" json:"product_id"`
	VariantId      int               `gorm:"not null;default:0;index:idx_movement_item,priority:3" json:"variant_id"`
	Qty            decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitCost       decimal.Decimal   `gorm:"type:decimal(20,4);not null;default:0" json:"unit_cost"`
	LocationFromId *int              `gorm:"index" json:"location_from_id"`
	LocationToId   *int              `gorm:"index" json:"location_to_id"`
	ReferenceType  StockReferenceType `gorm:"type:enum('SO','PO','TO','ADJ')" json:"reference_type"`
	ReferenceId    int               `gorm:"index" json:"reference_id"`
	CreatedBy      int               `gorm:"not null;default:0" json:"created_by"`
	CreatedAt      time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
}

var (
	errTransferNeedsBothLocations = errors.New("transfer movement requires both source and destination locations")
	errMovementNeedsOneLocation   = errors.New("entry/exit movement requires exactly one location")
)

// BeforeCreate enforces the location-arity invariant per movement type.
// tx may be nil in tests.
func (m *StockMovement) BeforeCreate(tx *gorm.DB) error {
	_ = tx
	switch m.MovementType {
	case StockMovementTypeTransfer:
		if m.LocationFromId == nil || m.LocationToId == nil {
			return errTransferNeedsBothLocations
		}
	case StockMovementTypeEntry:
		if m.LocationToId == nil || m.LocationFromId != nil {
			return errMovementNeedsOneLocation
		}
	case StockMovementTypeExit:
		if m.LocationFromId == nil || m.LocationToId != nil {
			return errMovementNeedsOneLocation
		}
	case StockMovementTypeAdjustment:
		if m.LocationFromId == nil && m.LocationToId == nil {
			return errMovementNeedsOneLocation
		}
	}
	return nil
}

// BeforeUpdate blocks mutation of journal rows outright.
func (m *StockMovement) BeforeUpdate(tx *gorm.DB) error {
	_ = tx
	return errors.New("stock movements are append-only")
}

func (m *StockMovement) BeforeDelete(tx *gorm.DB) error {
	_ = tx
	return errors.New("stock movements are append-only")
}
