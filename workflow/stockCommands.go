package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/thitsarsoft/commerce_backend/models"
	"github.com/thitsarsoft/commerce_backend/utils"
	"gorm.io/gorm"
)

var validate = validator.New()

// StockCommands is the boundary the order/purchase workflow layer calls
// into. Each command is one unit of work: a failure anywhere before commit
// leaves no movement, no reservation and no outbox row behind.
type StockCommands struct {
	DB         *gorm.DB
	Logger     *logrus.Logger
	Dispatcher *Dispatcher
}

func NewStockCommands(db *gorm.DB, logger *logrus.Logger, dispatcher *Dispatcher) *StockCommands {
	return &StockCommands{DB: db, Logger: logger, Dispatcher: dispatcher}
}

type ReserveStockCommand struct {
	ProductId  int             `json:"product_id" validate:"required,gt=0"`
	VariantId  int             `json:"variant_id" validate:"gte=0"`
	LocationId int             `json:"location_id" validate:"required,gt=0"`
	Qty        decimal.Decimal `json:"qty" validate:"required"`
	OrderId    int             `json:"order_id" validate:"required,gt=0"`
	LineId     int             `json:"line_id" validate:"required,gt=0"`
}

type ReleaseReservationCommand struct {
	ReservationId int `json:"reservation_id" validate:"required,gt=0"`
}

type CommitShipmentCommand struct {
	ReservationId int `json:"reservation_id" validate:"required,gt=0"`
}

type ReceivePurchaseLineCommand struct {
	ProductId       int             `json:"product_id" validate:"required,gt=0"`
	VariantId       int             `json:"variant_id" validate:"gte=0"`
	LocationId      int             `json:"location_id" validate:"required,gt=0"`
	Qty             decimal.Decimal `json:"qty" validate:"required"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	PurchaseOrderId int             `json:"purchase_order_id" validate:"required,gt=0"`
}

type TransferStockCommand struct {
	ProductId      int             `json:"product_id" validate:"required,gt=0"`
	VariantId      int             `json:"variant_id" validate:"gte=0"`
	LocationFromId int             `json:"location_from_id" validate:"required,gt=0"`
	LocationToId   int             `json:"location_to_id" validate:"required,gt=0,nefield=LocationFromId"`
	Qty            decimal.Decimal `json:"qty" validate:"required"`
	ReferenceId    int             `json:"reference_id"`
}

type AdjustStockCommand struct {
	ProductId   int             `json:"product_id" validate:"required,gt=0"`
	VariantId   int             `json:"variant_id" validate:"gte=0"`
	LocationId  int             `json:"location_id" validate:"required,gt=0"`
	Qty         decimal.Decimal `json:"qty" validate:"required"`
	ReferenceId int             `json:"reference_id"`
}

func businessIdFromContext(ctx context.Context) (string, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return "", errors.New("business id is required")
	}
	return businessId, nil
}

// ReserveStock confirms a soft hold for one order line, snapshotting the
// resolved unit price onto the reservation.
func (s *StockCommands) ReserveStock(ctx context.Context, cmd ReserveStockCommand) (*models.StockReservation, error) {
	if err := validate.Struct(cmd); err != nil {
		return nil, err
	}
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	order, err := models.GetOrder(ctx, s.DB, cmd.OrderId)
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", cmd.OrderId, err)
	}
	if order.Status != models.OrderStatusConfirmed {
		return nil, models.ErrOrderNotConfirmed
	}

	price, err := models.ResolvePrice(ctx, s.DB, cmd.ProductId, order.CustomerId, cmd.Qty)
	if err != nil {
		return nil, fmt.Errorf("resolve price: %w", err)
	}

	var reservation *models.StockReservation
	uow := NewUnitOfWork(s.DB, s.Dispatcher)
	err = uow.Execute(ctx, func(tx *gorm.DB) error {
		var err error
		reservation, err = ReserveStock(ctx, tx, businessId, cmd.ProductId, cmd.VariantId, cmd.LocationId,
			cmd.Qty, cmd.OrderId, cmd.LineId, price)
		if err != nil {
			return err
		}
		reservation.Raise(models.DomainEvent{
			EventType:     models.EventTypeStockReserved,
			AggregateType: "Order",
			AggregateId:   strconv.Itoa(cmd.OrderId),
			BusinessId:    businessId,
			Payload: stockEventPayload{
				ReservationId: reservation.ID,
				OrderId:       cmd.OrderId,
				LineId:        cmd.LineId,
				ProductId:     cmd.ProductId,
				VariantId:     cmd.VariantId,
				LocationId:    cmd.LocationId,
				Qty:           cmd.Qty,
				UnitPrice:     reservation.UnitPrice,
				PriceSource:   string(reservation.PriceSource),
			},
		})
		uow.Track(reservation)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// ReleaseReservation cancels a hold. Safe to call twice: the second call
// is a no-op and raises no event.
func (s *StockCommands) ReleaseReservation(ctx context.Context, cmd ReleaseReservationCommand) error {
	if err := validate.Struct(cmd); err != nil {
		return err
	}
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return err
	}

	uow := NewUnitOfWork(s.DB, s.Dispatcher)
	return uow.Execute(ctx, func(tx *gorm.DB) error {
		reservation, err := models.LockReservationForUpdate(tx, businessId, cmd.ReservationId)
		if err != nil {
			return err
		}
		released, err := ReleaseReservation(ctx, tx, reservation)
		if err != nil {
			return err
		}
		if !released {
			return nil
		}
		reservation.Raise(models.DomainEvent{
			EventType:     models.EventTypeReservationReleased,
			AggregateType: "Order",
			AggregateId:   strconv.Itoa(reservation.OrderId),
			BusinessId:    businessId,
			Payload: stockEventPayload{
				ReservationId: reservation.ID,
				OrderId:       reservation.OrderId,
				LineId:        reservation.LineId,
				ProductId:     reservation.ProductId,
				VariantId:     reservation.VariantId,
				LocationId:    reservation.LocationId,
				Qty:           reservation.Qty,
			},
		})
		uow.Track(reservation)
		return nil
	})
}

// CommitShipment converts an active hold into an EXIT movement.
func (s *StockCommands) CommitShipment(ctx context.Context, cmd CommitShipmentCommand) (*models.StockMovement, error) {
	if err := validate.Struct(cmd); err != nil {
		return nil, err
	}
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var movement *models.StockMovement
	uow := NewUnitOfWork(s.DB, s.Dispatcher)
	err = uow.Execute(ctx, func(tx *gorm.DB) error {
		reservation, err := models.LockReservationForUpdate(tx, businessId, cmd.ReservationId)
		if err != nil {
			return err
		}
		movement, err = CommitShipment(ctx, tx, reservation)
		if err != nil {
			return err
		}
		reservation.Raise(models.DomainEvent{
			EventType:     models.EventTypeShipmentCommitted,
			AggregateType: "Order",
			AggregateId:   strconv.Itoa(reservation.OrderId),
			BusinessId:    businessId,
			Payload: stockEventPayload{
				ReservationId: reservation.ID,
				MovementId:    movement.ID,
				OrderId:       reservation.OrderId,
				LineId:        reservation.LineId,
				ProductId:     reservation.ProductId,
				VariantId:     reservation.VariantId,
				LocationId:    reservation.LocationId,
				Qty:           reservation.Qty,
			},
		})
		uow.Track(reservation)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// ReceivePurchaseLine books an inbound purchase line and recomputes AVCO.
func (s *StockCommands) ReceivePurchaseLine(ctx context.Context, cmd ReceivePurchaseLineCommand) (*models.StockMovement, error) {
	if err := validate.Struct(cmd); err != nil {
		return nil, err
	}
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var movement *models.StockMovement
	uow := NewUnitOfWork(s.DB, s.Dispatcher)
	err = uow.Execute(ctx, func(tx *gorm.DB) error {
		po, err := models.GetPurchaseOrder(ctx, tx, cmd.PurchaseOrderId)
		if err != nil {
			return fmt.Errorf("load purchase order %d: %w", cmd.PurchaseOrderId, err)
		}
		movement, err = ReceiveStock(ctx, tx, businessId, cmd.ProductId, cmd.VariantId, cmd.LocationId,
			cmd.Qty, cmd.UnitCost, models.StockReferenceTypePurchaseOrder, cmd.PurchaseOrderId)
		if err != nil {
			return err
		}
		po.Raise(models.DomainEvent{
			EventType:     models.EventTypeStockReceived,
			AggregateType: "PurchaseOrder",
			AggregateId:   strconv.Itoa(cmd.PurchaseOrderId),
			BusinessId:    businessId,
			Payload: stockEventPayload{
				MovementId:      movement.ID,
				PurchaseOrderId: cmd.PurchaseOrderId,
				ProductId:       cmd.ProductId,
				VariantId:       cmd.VariantId,
				LocationId:      cmd.LocationId,
				Qty:             cmd.Qty,
				UnitCost:        cmd.UnitCost,
			},
		})
		uow.Track(po)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// TransferStock moves quantity between locations.
func (s *StockCommands) TransferStock(ctx context.Context, cmd TransferStockCommand) (*models.StockMovement, error) {
	if err := validate.Struct(cmd); err != nil {
		return nil, err
	}
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var movement *models.StockMovement
	recorder := &models.EventRecorder{}
	uow := NewUnitOfWork(s.DB, s.Dispatcher)
	err = uow.Execute(ctx, func(tx *gorm.DB) error {
		var err error
		movement, err = TransferStock(ctx, tx, businessId, cmd.ProductId, cmd.VariantId,
			cmd.LocationFromId, cmd.LocationToId, cmd.Qty, cmd.ReferenceId)
		if err != nil {
			return err
		}
		recorder.Raise(models.DomainEvent{
			EventType:     models.EventTypeStockTransferred,
			AggregateType: "StockItem",
			AggregateId:   stockAggregateId(cmd.ProductId, cmd.VariantId),
			BusinessId:    businessId,
			Payload: stockEventPayload{
				MovementId:     movement.ID,
				ProductId:      cmd.ProductId,
				VariantId:      cmd.VariantId,
				LocationId:     cmd.LocationToId,
				LocationFromId: cmd.LocationFromId,
				Qty:            cmd.Qty,
			},
		})
		uow.Track(recorder)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// AdjustStock books a signed correction movement.
func (s *StockCommands) AdjustStock(ctx context.Context, cmd AdjustStockCommand) (*models.StockMovement, error) {
	if err := validate.Struct(cmd); err != nil {
		return nil, err
	}
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var movement *models.StockMovement
	recorder := &models.EventRecorder{}
	uow := NewUnitOfWork(s.DB, s.Dispatcher)
	err = uow.Execute(ctx, func(tx *gorm.DB) error {
		var err error
		movement, err = AdjustStock(ctx, tx, businessId, cmd.ProductId, cmd.VariantId, cmd.LocationId,
			cmd.Qty, cmd.ReferenceId)
		if err != nil {
			return err
		}
		recorder.Raise(models.DomainEvent{
			EventType:     models.EventTypeStockAdjusted,
			AggregateType: "StockItem",
			AggregateId:   stockAggregateId(cmd.ProductId, cmd.VariantId),
			BusinessId:    businessId,
			Payload: stockEventPayload{
				MovementId: movement.ID,
				ProductId:  cmd.ProductId,
				VariantId:  cmd.VariantId,
				LocationId: cmd.LocationId,
				Qty:        cmd.Qty,
			},
		})
		uow.Track(recorder)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

func stockAggregateId(productId, variantId int) string {
	if variantId > 0 {
		return fmt.Sprintf("%d-%d", productId, variantId)
	}
	return strconv.Itoa(productId)
}

// stockEventPayload is the snapshot carried by every stock domain event.
// Zero-valued fields are omitted from the serialized payload.
type stockEventPayload struct {
	ReservationId   int             `json:"reservation_id,omitempty"`
	MovementId      int             `json:"movement_id,omitempty"`
	OrderId         int             `json:"order_id,omitempty"`
	LineId          int             `json:"line_id,omitempty"`
	PurchaseOrderId int             `json:"purchase_order_id,omitempty"`
	ProductId       int             `json:"product_id"`
	VariantId       int             `json:"variant_id,omitempty"`
	LocationId      int             `json:"location_id"`
	LocationFromId  int             `json:"location_from_id,omitempty"`
	Qty             decimal.Decimal `json:"qty"`
	UnitCost        decimal.Decimal `json:"unit_cost,omitempty"`
	UnitPrice       decimal.Decimal `json:"unit_price,omitempty"`
	PriceSource     string          `json:"price_source,omitempty"`
}
