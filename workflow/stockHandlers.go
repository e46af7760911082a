package workflow

import (
	"context"
	"fmt"

	"github.com/thitsarsoft/commerce_backend/models"
	"gorm.io/gorm"
)

// Integration handler: for every stock domain event it refreshes the
// read-side stock summary and appends the outbox row in one transaction.
// Either both are durable or neither is; a failure here is the documented
// reconciliation case, never a rollback of the originating commit.
func stockIntegrationHandler(ctx context.Context, db *gorm.DB, event models.DomainEvent) error {
	payload, ok := event.Payload.(stockEventPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for %s", event.Payload, event.EventType)
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.UpsertProductStockSummary(tx, event.BusinessId, payload.ProductId, payload.LocationId); err != nil {
			return err
		}
		// Transfers touch a second location.
		if payload.LocationFromId > 0 && payload.LocationFromId != payload.LocationId {
			if err := models.UpsertProductStockSummary(tx, event.BusinessId, payload.ProductId, payload.LocationFromId); err != nil {
				return err
			}
		}
		return models.AppendOutboxEvent(ctx, tx, event)
	})
}

// BuildHandlerRegistry wires every stock event to its handlers. Constructed
// once at startup and handed to the dispatcher by reference.
func BuildHandlerRegistry() *HandlerRegistry {
	registry := NewHandlerRegistry()
	for _, eventType := range []string{
		models.EventTypeStockReserved,
		models.EventTypeReservationReleased,
		models.EventTypeShipmentCommitted,
		models.EventTypeStockReceived,
		models.EventTypeStockTransferred,
		models.EventTypeStockAdjusted,
	} {
		registry.Register(eventType, "stock_integration", stockIntegrationHandler)
	}
	return registry
}
