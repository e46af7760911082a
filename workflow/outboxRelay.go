package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thitsarsoft/commerce_backend/config"
	"github.com/thitsarsoft/commerce_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxRelay is the background loop that drains pending outbox rows to
// the message bus. Rows are claimed with FOR UPDATE SKIP LOCKED, so
// multiple replicas never grab the same row twice; an optional redis
// leader lease additionally keeps a single instance active. Within one
// aggregate_id rows go out in occurred_at order; there is no global order.
type OutboxRelay struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	Publisher config.BrokerPublisher
	RelayID   string

	BatchSize      int
	PollInterval   time.Duration
	PublishTimeout time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// LeaderLease, when non-nil, gates each poll on a redis lease so only
	// one relay publishes at a time.
	LeaderLease *redislock.Client
}

func NewOutboxRelay(db *gorm.DB, logger *logrus.Logger, publisher config.BrokerPublisher) *OutboxRelay {
	return &OutboxRelay{
		DB:             db,
		Logger:         logger,
		Publisher:      publisher,
		RelayID:        uuid.NewString(),
		BatchSize:      50,
		PollInterval:   5 * time.Second,
		PublishTimeout: 30 * time.Second,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    10,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

func (r *OutboxRelay) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.relayOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.PollInterval):
		}
	}
}

func (r *OutboxRelay) relayOnce(ctx context.Context) {
	if r.DB == nil || r.Publisher == nil {
		return
	}

	if r.LeaderLease != nil {
		lease, err := r.LeaderLease.Obtain(ctx, "outbox_relay_leader", r.PollInterval+r.PublishTimeout, nil)
		if err == redislock.ErrNotObtained {
			return
		}
		if err != nil {
			if r.Logger != nil {
				r.Logger.WithFields(logrus.Fields{
					"field":    "OutboxRelay",
					"relay_id": r.RelayID,
				}).Warn("leader lease unavailable; proceeding on row claims only: " + err.Error())
			}
		} else {
			defer func() { _ = lease.Release(context.Background()) }()
		}
	}

	// claimBatch only ever hands out the head row of each aggregate's
	// line, so publishing the batch in order keeps per-aggregate order.
	claimed := r.claimBatch(ctx)
	for _, rec := range claimed {
		// Rows marked DEAD inside the claim transaction stay terminal.
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			continue
		}
		publishCtx, cancel := context.WithTimeout(ctx, r.PublishTimeout)
		messageId, err := r.Publisher.Publish(publishCtx, rec.ToEnvelope())
		cancel()
		if err != nil {
			r.markFailed(ctx, rec, err)
			continue
		}
		r.markSent(ctx, rec.ID, messageId)
	}
}

// claimBatch flips eligible rows to PROCESSING under SKIP LOCKED. Eligible:
// PENDING/FAILED whose next_attempt_at has passed, plus PROCESSING rows
// whose claim went stale (relay crashed mid-batch). An aggregate is only
// claimed from the head of its line: a row with an earlier unsent, non-DEAD
// sibling (backing off, or held by another relay) blocks the later ones so
// occurred_at order holds per aggregate across polls.
func (r *OutboxRelay) claimBatch(ctx context.Context) []models.OutboxEvent {
	now := time.Now().UTC()
	staleBefore := now.Add(-r.LockTimeout)

	var claimed []models.OutboxEvent
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		type candidateRow struct {
			ID          int
			AggregateId string
		}
		var candidates []candidateRow
		err := tx.Model(&models.OutboxEvent{}).
			Select("id, aggregate_id").
			Where("processed_at IS NULL").
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now,
				models.OutboxPublishStatusProcessing, staleBefore).
			Where(`NOT EXISTS (
				SELECT 1 FROM outbox_events prior
				WHERE prior.business_id = outbox_events.business_id
					AND prior.aggregate_id = outbox_events.aggregate_id
					AND prior.processed_at IS NULL
					AND prior.publish_status <> ?
					AND (prior.occurred_at < outbox_events.occurred_at
						OR (prior.occurred_at = outbox_events.occurred_at AND prior.id < outbox_events.id))
			)`, models.OutboxPublishStatusDead).
			Order("occurred_at ASC, id ASC").
			Limit(r.BatchSize).
			Scan(&candidates).Error
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		ids := make([]int, 0, len(candidates))
		for _, c := range candidates {
			ids = append(ids, c.ID)
		}
		var locked []models.OutboxEvent
		q := tx.
			Where("id IN ?", ids).
			Order("occurred_at ASC, id ASC").
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&locked).Error; err != nil {
			return err
		}

		// A candidate lost to another relay between the snapshot and the
		// lock blocks its aggregate's later candidates in this batch.
		lockedByID := make(map[int]models.OutboxEvent, len(locked))
		for _, row := range locked {
			lockedByID[row.ID] = row
		}
		blocked := map[string]bool{}
		for _, c := range candidates {
			if blocked[c.AggregateId] {
				continue
			}
			row, ok := lockedByID[c.ID]
			if !ok {
				blocked[c.AggregateId] = true
				continue
			}
			claimed = append(claimed, row)
		}
		for i := range claimed {
			// Poison rows go terminal instead of retrying forever.
			if r.MaxAttempts > 0 && claimed[i].AttemptCount >= r.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", r.MaxAttempts)
				claimed[i].PublishStatus = models.OutboxPublishStatusDead
				if err := tx.Model(&models.OutboxEvent{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"publish_status":  models.OutboxPublishStatusDead,
					"last_error":      &msg,
					"next_attempt_at": nil,
					"locked_at":       nil,
					"locked_by":       nil,
				}).Error; err != nil {
					return err
				}
				r.alertDead(claimed[i], msg)
				continue
			}

			claimed[i].PublishStatus = models.OutboxPublishStatusProcessing
			claimed[i].AttemptCount = claimed[i].AttemptCount + 1
			if err := tx.Model(&models.OutboxEvent{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":  models.OutboxPublishStatusProcessing,
				"locked_at":       &now,
				"locked_by":       &r.RelayID,
				"attempt_count":   gorm.Expr("attempt_count + 1"),
				"last_error":      nil,
				"next_attempt_at": nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if r.Logger != nil {
			r.Logger.WithFields(logrus.Fields{
				"field":    "OutboxRelay",
				"relay_id": r.RelayID,
			}).Error("outbox claim failed: " + err.Error())
		}
		return nil
	}
	return claimed
}

func (r *OutboxRelay) markSent(ctx context.Context, recordId int, messageId string) {
	now := time.Now().UTC()
	err := r.DB.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", recordId).
		Updates(map[string]interface{}{
			"publish_status":    models.OutboxPublishStatusSent,
			"processed_at":      &now,
			"broker_message_id": &messageId,
			"locked_at":         nil,
			"locked_by":         nil,
			"next_attempt_at":   nil,
		}).Error
	if err != nil && r.Logger != nil {
		r.Logger.WithFields(logrus.Fields{
			"field":     "OutboxRelay",
			"record_id": recordId,
		}).Error("failed to mark outbox row sent: " + err.Error())
	}
}

func (r *OutboxRelay) markFailed(ctx context.Context, rec models.OutboxEvent, pubErr error) {
	now := time.Now().UTC()
	msg := pubErr.Error()

	// Terminal after MaxAttempts.
	if r.MaxAttempts > 0 && rec.AttemptCount >= r.MaxAttempts {
		_ = r.DB.WithContext(ctx).Model(&models.OutboxEvent{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"publish_status":  models.OutboxPublishStatusDead,
				"last_error":      &msg,
				"next_attempt_at": nil,
				"locked_at":       nil,
				"locked_by":       nil,
			}).Error
		r.alertDead(rec, msg)
		return
	}

	next := now.Add(r.backoffFor(rec.AttemptCount))
	_ = r.DB.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"publish_status":  models.OutboxPublishStatusFailed,
			"last_error":      &msg,
			"next_attempt_at": &next,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error

	if r.Logger != nil {
		r.Logger.WithFields(logrus.Fields{
			"field":           "OutboxRelay",
			"business_id":     rec.BusinessId,
			"record_id":       rec.ID,
			"event_type":      rec.EventType,
			"attempt":         rec.AttemptCount,
			"next_attempt_at": next.Format(time.RFC3339Nano),
		}).Error("outbox publish failed: " + msg)
	}
}

// backoffFor doubles from InitialBackoff per prior attempt, capped at
// MaxBackoff.
func (r *OutboxRelay) backoffFor(attempt int) time.Duration {
	backoff := r.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= r.MaxBackoff {
			return r.MaxBackoff
		}
	}
	if backoff > r.MaxBackoff {
		return r.MaxBackoff
	}
	return backoff
}

func (r *OutboxRelay) alertDead(rec models.OutboxEvent, msg string) {
	if r.Logger == nil {
		return
	}
	r.Logger.WithFields(logrus.Fields{
		"field":        "OutboxRelay",
		"business_id":  rec.BusinessId,
		"record_id":    rec.ID,
		"event_type":   rec.EventType,
		"aggregate_id": rec.AggregateId,
		"attempt":      rec.AttemptCount,
		"alert":        "outbox_dead_letter",
	}).Error("outbox row moved to DEAD after max attempts: " + msg)
}
