package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/thitsarsoft/commerce_backend/utils"
	"gorm.io/gorm"
)

// Order is a slim aggregate root. Full order CRUD lives in the excluded
// presentation layer; this model exists so the reservation lifecycle has an
// owner and a place to raise domain events from.
type Order struct {
	EventRecorder `gorm:"-"`

	ID         int         `gorm:"primary_key" json:"id"`
	BusinessId string      `gorm:"size:64;not null;index" json:"business_id"`
	CustomerId int         `gorm:"not null;index" json:"customer_id"`
	Status     OrderStatus `gorm:"type:enum('DRAFT','CONFIRMED','SHIPPED','CANCELLED');not null;default:'DRAFT'" json:"status"`
	Lines      []OrderLine `gorm:"foreignKey:OrderId" json:"lines"`
	CreatedAt  time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

type OrderLine struct {
	ID        int             `gorm:"primary_key" json:"id"`
	OrderId   int             `gorm:"not null;index" json:"order_id"`
	ProductId int             `gorm:"not null" json:"product_id"`
	VariantId int             `gorm:"not null;default:0" json:"variant_id"`
	Qty       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"unit_price"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

var ErrOrderNotConfirmed = errors.New("order is not in a confirmable state for reservations")

func GetOrder(ctx context.Context, db *gorm.DB, orderId int) (*Order, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	var order Order
	err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, orderId).
		First(&order).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &order, nil
}

// PurchaseOrder is the slim aggregate owning inbound receipts.
type PurchaseOrder struct {
	EventRecorder `gorm:"-"`

	ID         int                 `gorm:"primary_key" json:"id"`
	BusinessId string              `gorm:"size:64;not null;index" json:"business_id"`
	SupplierId int                 `gorm:"not null;index" json:"supplier_id"`
	Status     PurchaseOrderStatus `gorm:"type:enum('DRAFT','CONFIRMED','RECEIVED','CLOSED');not null;default:'DRAFT'" json:"status"`
	CreatedAt  time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetPurchaseOrder(ctx context.Context, db *gorm.DB, purchaseOrderId int) (*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	var po PurchaseOrder
	err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, purchaseOrderId).
		First(&po).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &po, nil
}
