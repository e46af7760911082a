package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"github.com/thitsarsoft/commerce_backend/config"
	"github.com/thitsarsoft/commerce_backend/models"
	"github.com/thitsarsoft/commerce_backend/utils"
	"gorm.io/gorm"
)

const consumerHandlerName = "integration_consumer"

// EnvelopeApplier is the consumer-side effect for one delivered envelope.
// It runs inside the dedupe transaction, so applying and marking the
// message consumed commit together.
type EnvelopeApplier func(ctx context.Context, tx *gorm.DB, env config.EventEnvelope) error

// IntegrationConsumer applies bus envelopes exactly once per
// (event_type, aggregate_id, occurred_at), regardless of how many times
// the broker redelivers them.
type IntegrationConsumer struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Apply  EnvelopeApplier
}

func NewIntegrationConsumer(db *gorm.DB, logger *logrus.Logger, apply EnvelopeApplier) *IntegrationConsumer {
	return &IntegrationConsumer{DB: db, Logger: logger, Apply: apply}
}

// ConsumerMessageId is the dedupe key for an envelope.
func ConsumerMessageId(env config.EventEnvelope) string {
	return fmt.Sprintf("%s:%s:%d", env.EventType, env.AggregateId, env.OccurredAt.UnixNano())
}

// ProcessEnvelope returns nil when the message was applied or skipped as a
// duplicate. ErrIdempotencyInProgress means "redeliver later".
func (c *IntegrationConsumer) ProcessEnvelope(ctx context.Context, env config.EventEnvelope) error {
	if env.BusinessId == "" {
		return errors.New("envelope has no business id")
	}
	messageId := ConsumerMessageId(env)
	ctx = utils.SetBusinessIdInContext(ctx, env.BusinessId)
	if env.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, env.CorrelationId)
	}

	var skipped bool
	var applyErr error
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skip, err := BeginIdempotency(tx, env.BusinessId, consumerHandlerName, messageId)
		if err != nil {
			return err
		}
		if skip {
			skipped = true
			return nil
		}
		if c.Apply != nil {
			if applyErr = c.Apply(ctx, tx, env); applyErr != nil {
				return applyErr
			}
		}
		return MarkIdempotencySucceeded(tx, env.BusinessId, consumerHandlerName, messageId)
	})
	if err != nil {
		if applyErr != nil {
			// The rollback discarded the STARTED row, so the failure is
			// written in its own transaction for operators to see; the
			// broker redelivers and the next attempt resets the key.
			c.recordApplyFailure(ctx, env.BusinessId, messageId, applyErr)
		}
		return err
	}
	if skipped && c.Logger != nil {
		c.Logger.WithFields(logrus.Fields{
			"field":        "IntegrationConsumer",
			"business_id":  env.BusinessId,
			"event_type":   env.EventType,
			"aggregate_id": env.AggregateId,
			"message_id":   messageId,
		}).Info("duplicate envelope skipped")
	}
	return nil
}

// recordApplyFailure upserts a FAILED dedupe row after the processing
// transaction rolled back. BeginIdempotency resets FAILED rows, so the next
// delivery still retries.
func (c *IntegrationConsumer) recordApplyFailure(ctx context.Context, businessId, messageId string, applyErr error) {
	msg := applyErr.Error()
	key := models.IdempotencyKey{
		BusinessId:  businessId,
		HandlerName: consumerHandlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusFailed,
		LastError:   &msg,
	}
	err := c.DB.WithContext(ctx).Create(&key).Error
	if err != nil && models.IsDuplicateKeyErr(err) {
		err = MarkIdempotencyFailed(c.DB.WithContext(ctx), businessId, consumerHandlerName, messageId, applyErr)
	}
	if err != nil && c.Logger != nil {
		c.Logger.WithFields(logrus.Fields{
			"field":       "IntegrationConsumer",
			"business_id": businessId,
			"message_id":  messageId,
		}).Error("could not record apply failure: " + err.Error())
	}
}

// RunPubSubConsumer receives envelopes from the configured subscription and
// feeds them through the dedupe pipeline. Nacks on failure so Pub/Sub
// redelivers.
func (c *IntegrationConsumer) RunPubSubConsumer(ctx context.Context, topicName, subscriptionName string) error {
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, topicName)
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, subscriptionName, topic)
	if err != nil {
		return err
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	return sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		var env config.EventEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			if c.Logger != nil {
				config.LogError(c.Logger, "integrationConsumer.go", "RunPubSubConsumer", "unmarshal envelope", string(msg.Data), err)
			}
			// Malformed payloads will never become valid; drop them.
			msg.Ack()
			return
		}
		if err := c.ProcessEnvelope(msgCtx, env); err != nil {
			if c.Logger != nil && !errors.Is(err, ErrIdempotencyInProgress) {
				c.Logger.WithFields(logrus.Fields{
					"field":        "IntegrationConsumer",
					"business_id":  env.BusinessId,
					"event_type":   env.EventType,
					"aggregate_id": env.AggregateId,
					"message_id":   msg.ID,
				}).Error("envelope processing failed: " + err.Error())
			}
			msg.Nack()
			return
		}
		msg.Ack()
	})
}
