package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/thitsarsoft/commerce_backend/models"
	"github.com/thitsarsoft/commerce_backend/utils"
	"gorm.io/gorm"
)

// Ledger operations. Every mutation of a StockItem happens here, inside
// the caller's transaction, under a FOR UPDATE lock on the item row. That
// row lock is the single point of mutual exclusion: no two operations on
// the same (product, location, variant) overlap, which is what keeps
// reserved_qty <= physical_qty under concurrent order confirmations.

func createdByFromContext(ctx context.Context) int {
	userId, _ := utils.GetUserIdFromContext(ctx)
	return userId
}

// ReserveStock places a soft hold for one order line. Fails with
// ErrInsufficientStock when available (physical - reserved) is short.
func ReserveStock(ctx context.Context, tx *gorm.DB, businessId string, productId, variantId, locationId int,
	qty decimal.Decimal, orderId, lineId int, price *models.PriceResult) (*models.StockReservation, error) {

	if !qty.IsPositive() {
		return nil, fmt.Errorf("reserve qty must be positive, got %s", qty.String())
	}

	item, err := models.LockStockItemForUpdate(tx, businessId, productId, locationId, variantId)
	if err != nil {
		return nil, err
	}
	if item.Archived {
		return nil, models.ErrStockItemArchived
	}
	if item.AvailableQty().LessThan(qty) {
		return nil, models.ErrInsufficientStock
	}

	item.ReservedQty = item.ReservedQty.Add(qty)
	if err := item.SaveQuantities(tx, time.Now().UTC()); err != nil {
		return nil, err
	}

	reservation := models.StockReservation{
		BusinessId: businessId,
		OrderId:    orderId,
		LineId:     lineId,
		ProductId:  productId,
		VariantId:  variantId,
		LocationId: locationId,
		Qty:        qty,
		Status:     models.StockReservationStatusActive,
	}
	if price != nil {
		reservation.UnitPrice = price.UnitPrice
		reservation.PriceSource = price.Source
		reservation.DiscountPercent = price.DiscountPercent
	}
	if err := tx.Create(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

// ReleaseReservation undoes an active hold. Idempotent: releasing an
// already-released reservation is a no-op, so a double cancel never
// under-adjusts reserved_qty.
func ReleaseReservation(ctx context.Context, tx *gorm.DB, reservation *models.StockReservation) (released bool, err error) {
	switch reservation.Status {
	case models.StockReservationStatusReleased:
		return false, nil
	case models.StockReservationStatusCommitted:
		return false, models.ErrReservationNotActive
	}

	item, err := models.LockStockItemForUpdate(tx, reservation.BusinessId, reservation.ProductId, reservation.LocationId, reservation.VariantId)
	if err != nil {
		return false, err
	}
	item.ReservedQty = item.ReservedQty.Sub(reservation.Qty)
	if err := item.SaveQuantities(tx, time.Now().UTC()); err != nil {
		return false, err
	}
	if err := reservation.UpdateStatus(tx, models.StockReservationStatusReleased); err != nil {
		return false, err
	}
	return true, nil
}

// CommitShipment converts an active reservation into an EXIT movement,
// removing the quantity from both physical and reserved.
func CommitShipment(ctx context.Context, tx *gorm.DB, reservation *models.StockReservation) (*models.StockMovement, error) {
	if reservation.Status != models.StockReservationStatusActive {
		return nil, models.ErrReservationNotActive
	}

	item, err := models.LockStockItemForUpdate(tx, reservation.BusinessId, reservation.ProductId, reservation.LocationId, reservation.VariantId)
	if err != nil {
		return nil, err
	}

	item.PhysicalQty = item.PhysicalQty.Sub(reservation.Qty)
	item.ReservedQty = item.ReservedQty.Sub(reservation.Qty)
	if err := item.SaveQuantities(tx, time.Now().UTC()); err != nil {
		return nil, err
	}

	locationFrom := reservation.LocationId
	movement := models.StockMovement{
		BusinessId:     reservation.BusinessId,
		MovementType:   models.StockMovementTypeExit,
		ProductId:      reservation.ProductId,
		VariantId:      reservation.VariantId,
		Qty:            reservation.Qty.Neg(),
		UnitCost:       item.AverageCost,
		LocationFromId: &locationFrom,
		ReferenceType:  models.StockReferenceTypeOrder,
		ReferenceId:    reservation.OrderId,
		CreatedBy:      createdByFromContext(ctx),
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}
	if err := reservation.UpdateStatus(tx, models.StockReservationStatusCommitted); err != nil {
		return nil, err
	}
	return &movement, nil
}

// ReceiveStock books an inbound quantity: one ENTRY movement, physical_qty
// bump, and the weighted-average cost recomputation.
func ReceiveStock(ctx context.Context, tx *gorm.DB, businessId string, productId, variantId, locationId int,
	qty, unitCost decimal.Decimal, referenceType models.StockReferenceType, referenceId int) (*models.StockMovement, error) {

	if !qty.IsPositive() {
		return nil, fmt.Errorf("receive qty must be positive, got %s", qty.String())
	}
	if unitCost.IsNegative() {
		return nil, fmt.Errorf("unit cost cannot be negative, got %s", unitCost.String())
	}

	item, err := models.LockStockItemForUpdate(tx, businessId, productId, locationId, variantId)
	if err != nil {
		return nil, err
	}

	item.AverageCost = models.WeightedAverageCost(item.PhysicalQty, item.AverageCost, qty, unitCost)
	item.PhysicalQty = item.PhysicalQty.Add(qty)
	if err := item.SaveQuantities(tx, time.Now().UTC()); err != nil {
		return nil, err
	}

	locationTo := locationId
	movement := models.StockMovement{
		BusinessId:    businessId,
		MovementType:  models.StockMovementTypeEntry,
		ProductId:     productId,
		VariantId:     variantId,
		Qty:           qty,
		UnitCost:      unitCost,
		LocationToId:  &locationTo,
		ReferenceType: referenceType,
		ReferenceId:   referenceId,
		CreatedBy:     createdByFromContext(ctx),
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}
	return &movement, nil
}

// TransferStock moves quantity between two locations as a single TRANSFER
// movement. Item rows are locked in a deterministic order so two opposing
// transfers cannot deadlock. The destination inherits cost via AVCO at the
// source's average cost.
func TransferStock(ctx context.Context, tx *gorm.DB, businessId string, productId, variantId, locationFromId, locationToId int,
	qty decimal.Decimal, referenceId int) (*models.StockMovement, error) {

	if !qty.IsPositive() {
		return nil, fmt.Errorf("transfer qty must be positive, got %s", qty.String())
	}
	if locationFromId == locationToId {
		return nil, fmt.Errorf("transfer requires two distinct locations")
	}

	firstLoc, secondLoc := locationFromId, locationToId
	if secondLoc < firstLoc {
		firstLoc, secondLoc = secondLoc, firstLoc
	}
	first, err := models.LockStockItemForUpdate(tx, businessId, productId, firstLoc, variantId)
	if err != nil {
		return nil, err
	}
	second, err := models.LockStockItemForUpdate(tx, businessId, productId, secondLoc, variantId)
	if err != nil {
		return nil, err
	}

	source, dest := first, second
	if source.LocationId != locationFromId {
		source, dest = second, first
	}

	if source.AvailableQty().LessThan(qty) {
		return nil, models.ErrInsufficientStock
	}

	now := time.Now().UTC()
	dest.AverageCost = models.WeightedAverageCost(dest.PhysicalQty, dest.AverageCost, qty, source.AverageCost)
	source.PhysicalQty = source.PhysicalQty.Sub(qty)
	dest.PhysicalQty = dest.PhysicalQty.Add(qty)
	if err := source.SaveQuantities(tx, now); err != nil {
		return nil, err
	}
	if err := dest.SaveQuantities(tx, now); err != nil {
		return nil, err
	}

	from, to := locationFromId, locationToId
	movement := models.StockMovement{
		BusinessId:     businessId,
		MovementType:   models.StockMovementTypeTransfer,
		ProductId:      productId,
		VariantId:      variantId,
		Qty:            qty,
		UnitCost:       source.AverageCost,
		LocationFromId: &from,
		LocationToId:   &to,
		ReferenceType:  models.StockReferenceTypeTransferOrder,
		ReferenceId:    referenceId,
		CreatedBy:      createdByFromContext(ctx),
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}
	return &movement, nil
}

// AdjustStock corrects physical quantity with a signed ADJUSTMENT movement.
// A negative adjustment cannot take physical below what reservations hold.
func AdjustStock(ctx context.Context, tx *gorm.DB, businessId string, productId, variantId, locationId int,
	qty decimal.Decimal, referenceId int) (*models.StockMovement, error) {

	if qty.IsZero() {
		return nil, fmt.Errorf("adjustment qty cannot be zero")
	}

	item, err := models.LockStockItemForUpdate(tx, businessId, productId, locationId, variantId)
	if err != nil {
		return nil, err
	}

	newPhysical := item.PhysicalQty.Add(qty)
	if newPhysical.LessThan(item.ReservedQty) {
		return nil, models.ErrInsufficientStock
	}
	item.PhysicalQty = newPhysical
	if err := item.SaveQuantities(tx, time.Now().UTC()); err != nil {
		return nil, err
	}

	loc := locationId
	movement := models.StockMovement{
		BusinessId:    businessId,
		MovementType:  models.StockMovementTypeAdjustment,
		ProductId:     productId,
		VariantId:     variantId,
		Qty:           qty,
		UnitCost:      item.AverageCost,
		ReferenceType: models.StockReferenceTypeAdjustment,
		ReferenceId:   referenceId,
		CreatedBy:     createdByFromContext(ctx),
	}
	if qty.IsNegative() {
		movement.LocationFromId = &loc
	} else {
		movement.LocationToId = &loc
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}
	return &movement, nil
}
