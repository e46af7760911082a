package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockReservation is a soft hold on quantity: it raises reserved_qty on
// the StockItem without moving physical stock. Lifetime follows the owning
// order: created on confirmation, released on cancellation, committed
// (converted to an EXIT movement) on shipment.
type StockReservation struct {
	EventRecorder `gorm:"-"`

	ID         int                    `gorm:"primary_key" json:"id"`
	BusinessId string                 `gorm:"size:64;not null;index" json:"business_id"`
	OrderId    int                    `gorm:"not null;index;uniqueIndex:idx_reservation_line,priority:1" json:"order_id"`
	LineId     int                    `gorm:"not null;uniqueIndex:idx_reservation_line,priority:2" json:"line_id"`
	ProductId  int                    `gorm:"not null;index" json:"product_id"`
	VariantId  int                    `gorm:"not null;default:0" json:"variant_id"`
	LocationId int                    `gorm:"not null;index" json:"location_id"`
	Qty        decimal.Decimal        `gorm:"type:decimal(20,4);not null" json:"qty"`
	Status     StockReservationStatus `gorm:"type:enum('ACTIVE','RELEASED','COMMITTED');not null;default:'ACTIVE';index" json:"status"`

	// Price snapshot resolved at reserve time; immutable afterwards.
	UnitPrice       decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"unit_price"`
	PriceSource     PriceSource     `gorm:"size:20" json:"price_source"`
	DiscountPercent decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"discount_percent"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// LockReservationForUpdate loads a reservation under FOR UPDATE so release
// and commit cannot race each other or a second release.
func LockReservationForUpdate(tx *gorm.DB, businessId string, reservationId int) (*StockReservation, error) {
	var res StockReservation
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessId, reservationId).
		First(&res).Error
	if err != nil {
		return nil, MapLockError(err)
	}
	return &res, nil
}

func (r *StockReservation) UpdateStatus(tx *gorm.DB, status StockReservationStatus) error {
	r.Status = status
	return tx.Model(&StockReservation{}).Where("id = ?", r.ID).Update("status", status).Error
}
