package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/thitsarsoft/commerce_backend/config"
	"github.com/thitsarsoft/commerce_backend/utils"
	"gorm.io/gorm"
)

// OutboxEvent is the durable, externally-publishable representation of a
// domain event. A row with processed_at = NULL is a pending delivery
// obligation. Rows are never deleted: they end up SENT (audit trail) or
// DEAD after max publish attempts. Only the relay mutates rows after
// insert.
type OutboxEvent struct {
	ID            int       `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	BusinessId    string    `gorm:"size:64;not null;index" json:"business_id"`
	EventType     string    `gorm:"size:100;not null;index" json:"event_type"`
	AggregateType string    `gorm:"size:100;not null" json:"aggregate_type"`
	AggregateId   string    `gorm:"size:64;not null;index:idx_outbox_aggregate,priority:1" json:"aggregate_id"`
	Payload       []byte    `gorm:"type:blob" json:"payload"`
	OccurredAt    time.Time `gorm:"not null;index:idx_outbox_aggregate,priority:2" json:"occurred_at"`

	PublishStatus   string     `gorm:"size:20;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	ProcessedAt     *time.Time `gorm:"index" json:"processed_at"`
	BrokerMessageId *string    `gorm:"size:255" json:"broker_message_id"`
	AttemptCount    int        `gorm:"not null;default:0" json:"attempt_count"`
	NextAttemptAt   *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt        *time.Time `gorm:"index" json:"locked_at"`
	LockedBy        *string    `gorm:"size:100" json:"locked_by"`
	LastError       *string    `gorm:"type:text" json:"last_error"`
	CorrelationId   string     `gorm:"size:64;index" json:"correlation_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AppendOutboxEvent records a must-publish obligation inside the caller's
// transaction. It never publishes; the relay does that after commit.
func AppendOutboxEvent(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	payload, err := event.MarshalPayload()
	if err != nil {
		return err
	}
	row := OutboxEvent{
		BusinessId:    event.BusinessId,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateId:   event.AggregateId,
		Payload:       payload,
		OccurredAt:    event.OccurredAt,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&row).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// ToEnvelope builds the broker wire payload for an outbox row.
func (o *OutboxEvent) ToEnvelope() config.EventEnvelope {
	return config.EventEnvelope{
		EventType:     o.EventType,
		AggregateType: o.AggregateType,
		AggregateId:   o.AggregateId,
		BusinessId:    o.BusinessId,
		OccurredAt:    o.OccurredAt,
		Payload:       o.Payload,
		CorrelationId: o.CorrelationId,
	}
}

// OutboxStatusView is the ops-facing view of the latest outbox row for an
// aggregate.
type OutboxStatusView struct {
	RecordId      int        `json:"record_id"`
	EventType     string     `json:"event_type"`
	AggregateId   string     `json:"aggregate_id"`
	PublishStatus string     `json:"publish_status"`
	AttemptCount  int        `json:"attempt_count"`
	NextAttemptAt *time.Time `json:"next_attempt_at"`
	LastError     *string    `json:"last_error"`
	OccurredAt    time.Time  `json:"occurred_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
}

// GetOutboxStatus returns the newest outbox rows for one aggregate id,
// newest first.
func GetOutboxStatus(ctx context.Context, db *gorm.DB, aggregateId string, limit int) ([]OutboxStatusView, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorRecordNotFound
	}
	if limit <= 0 {
		limit = 20
	}
	var rows []OutboxEvent
	err := db.WithContext(ctx).
		Where("business_id = ? AND aggregate_id = ?", businessId, aggregateId).
		Order("occurred_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	views := make([]OutboxStatusView, 0, len(rows))
	for _, r := range rows {
		views = append(views, OutboxStatusView{
			RecordId:      r.ID,
			EventType:     r.EventType,
			AggregateId:   r.AggregateId,
			PublishStatus: r.PublishStatus,
			AttemptCount:  r.AttemptCount,
			NextAttemptAt: r.NextAttemptAt,
			LastError:     r.LastError,
			OccurredAt:    r.OccurredAt,
			ProcessedAt:   r.ProcessedAt,
		})
	}
	return views, nil
}

// RequeueDeadOutboxEvents flips DEAD rows back to PENDING so the relay
// retries them. Used by the ops endpoint and the outbox-requeue tool.
func RequeueDeadOutboxEvents(ctx context.Context, db *gorm.DB, businessId string, ids []int) (int64, error) {
	q := db.WithContext(ctx).Model(&OutboxEvent{}).
		Where("business_id = ? AND publish_status = ?", businessId, OutboxPublishStatusDead)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	res := q.Updates(map[string]interface{}{
		"publish_status":  OutboxPublishStatusPending,
		"attempt_count":   0,
		"next_attempt_at": nil,
		"locked_at":       nil,
		"locked_by":       nil,
		"last_error":      nil,
	})
	return res.RowsAffected, res.Error
}
