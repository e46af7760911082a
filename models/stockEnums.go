package models

// StockMovementType classifies rows in the movement journal.
type StockMovementType string

const (
	StockMovementTypeEntry      StockMovementType = "ENTRY"
	StockMovementTypeExit       StockMovementType = "EXIT"
	StockMovementTypeTransfer   StockMovementType = "TRANSFER"
	StockMovementTypeAdjustment StockMovementType = "ADJUSTMENT"
)

type StockReservationStatus string

const (
	StockReservationStatusActive    StockReservationStatus = "ACTIVE"
	StockReservationStatusReleased  StockReservationStatus = "RELEASED"
	StockReservationStatusCommitted StockReservationStatus = "COMMITTED"
)

// StockReferenceType ties a movement back to the business document that
// produced it.
type StockReferenceType string

const (
	StockReferenceTypeOrder         StockReferenceType = "SO"
	StockReferenceTypePurchaseOrder StockReferenceType = "PO"
	StockReferenceTypeTransferOrder StockReferenceType = "TO"
	StockReferenceTypeAdjustment    StockReferenceType = "ADJ"
)

// Domain event types raised by the stock aggregates. Routing keys on the
// bus are the dotted form (e.g. "stock.reserved").
const (
	EventTypeStockReserved       = "StockReserved"
	EventTypeReservationReleased = "ReservationReleased"
	EventTypeShipmentCommitted   = "ShipmentCommitted"
	EventTypeStockReceived       = "StockReceived"
	EventTypeStockTransferred    = "StockTransferred"
	EventTypeStockAdjusted       = "StockAdjusted"
)

type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "DRAFT"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

type PurchaseOrderStatus string

const (
	PurchaseOrderStatusDraft     PurchaseOrderStatus = "DRAFT"
	PurchaseOrderStatusConfirmed PurchaseOrderStatus = "CONFIRMED"
	PurchaseOrderStatusReceived  PurchaseOrderStatus = "RECEIVED"
	PurchaseOrderStatusClosed    PurchaseOrderStatus = "CLOSED"
)

// PriceSource identifies which pricing rule won the resolution.
type PriceSource string

const (
	PriceSourcePromotion        PriceSource = "PROMOTION"
	PriceSourceVolumeTier       PriceSource = "VOLUME_TIER"
	PriceSourcePriceList        PriceSource = "PRICE_LIST"
	PriceSourceCustomerDiscount PriceSource = "CUSTOMER_DISCOUNT"
	PriceSourceBasePrice        PriceSource = "BASE_PRICE"
)
