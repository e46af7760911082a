package workflow

import (
	"context"

	"github.com/thitsarsoft/commerce_backend/models"
	"gorm.io/gorm"
)

// UnitOfWork wraps a single logical business operation: one database
// transaction plus the aggregates touched inside it. Events raised by
// tracked aggregates are handed to the dispatcher only after the commit
// durably succeeded; a failed commit discards them unseen.
type UnitOfWork struct {
	db         *gorm.DB
	dispatcher *Dispatcher
	tracked    []models.AggregateRoot
}

func NewUnitOfWork(db *gorm.DB, dispatcher *Dispatcher) *UnitOfWork {
	return &UnitOfWork{db: db, dispatcher: dispatcher}
}

// Track registers an aggregate for post-commit event collection. Tracking
// the same aggregate twice is harmless: PullEvents drains, so the second
// pull yields nothing.
func (u *UnitOfWork) Track(aggregate models.AggregateRoot) {
	if aggregate == nil {
		return
	}
	u.tracked = append(u.tracked, aggregate)
}

// Execute runs fn inside one transaction. On commit success the tracked
// aggregates are drained and their events dispatched synchronously on this
// goroutine. On any error the transaction rolls back, nothing is
// dispatched, and the error is returned to the caller.
func (u *UnitOfWork) Execute(ctx context.Context, fn func(tx *gorm.DB) error) error {
	u.tracked = u.tracked[:0]

	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	})
	if err != nil {
		u.tracked = nil
		return models.MapLockError(err)
	}

	events := u.pullEvents()
	if len(events) > 0 && u.dispatcher != nil {
		u.dispatcher.Dispatch(ctx, events)
	}
	return nil
}

func (u *UnitOfWork) pullEvents() []models.DomainEvent {
	var events []models.DomainEvent
	for _, aggregate := range u.tracked {
		events = append(events, aggregate.PullEvents()...)
	}
	u.tracked = nil
	return events
}
