package workflow

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/thitsarsoft/commerce_backend/models"
	"gorm.io/gorm"
)

// EventHandler reacts to one domain event after the originating transaction
// has committed. A handler that needs durability opens its own transaction
// on db and writes its side effect and outbox row together there.
type EventHandler func(ctx context.Context, db *gorm.DB, event models.DomainEvent) error

type registeredHandler struct {
	name    string
	handler EventHandler
}

// HandlerRegistry maps event types to handlers. It is built explicitly at
// startup and passed to the dispatcher; there is no ambient global
// registry.
type HandlerRegistry struct {
	handlers map[string][]registeredHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string][]registeredHandler)}
}

func (r *HandlerRegistry) Register(eventType, name string, handler EventHandler) {
	r.handlers[eventType] = append(r.handlers[eventType], registeredHandler{name: name, handler: handler})
}

func (r *HandlerRegistry) handlersFor(eventType string) []registeredHandler {
	return r.handlers[eventType]
}

// Dispatcher delivers domain events synchronously, in registration order,
// on the calling goroutine. It runs only after the owning commit succeeded.
type Dispatcher struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Registry *HandlerRegistry
}

func NewDispatcher(db *gorm.DB, logger *logrus.Logger, registry *HandlerRegistry) *Dispatcher {
	return &Dispatcher{DB: db, Logger: logger, Registry: registry}
}

// Dispatch invokes every registered handler for each event. A handler
// failure is isolated: its own transaction has rolled back, the remaining
// handlers still run, and the already-committed aggregate change stands.
// The failure is logged for reconciliation and never returned to the
// command's caller.
func (d *Dispatcher) Dispatch(ctx context.Context, events []models.DomainEvent) {
	if d.Registry == nil {
		return
	}
	for _, event := range events {
		for _, h := range d.Registry.handlersFor(event.EventType) {
			if err := h.handler(ctx, d.DB, event); err == nil {
				continue
			} else if d.Logger != nil {
				d.Logger.WithFields(logrus.Fields{
					"field":                   "Dispatcher",
					"handler":                 h.name,
					"event_type":              event.EventType,
					"aggregate_id":            event.AggregateId,
					"business_id":             event.BusinessId,
					"reconciliation_required": true,
				}).Error("event handler failed after aggregate commit: " + err.Error())
			}
		}
	}
}
