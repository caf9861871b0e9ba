package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/buildgrid/platform/shared/events"
	"github.com/buildgrid/platform/shared/models"
)

// EventConsumer reads the domain event stream and forwards each event to
// the third-party webhook. Failed deliveries land in the failed_deliveries
// table for the retry sweep.
type EventConsumer struct {
	reader  *kafka.Reader
	db      *gorm.DB
	webhook *WebhookClient
}

// NewEventConsumer creates a consumer in the relay group.
func NewEventConsumer(broker string, db *gorm.DB, webhook *WebhookClient) *EventConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        []string{broker},
		Topic:          events.DomainEventsTopic,
		GroupID:        "event-relay",
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	})

	return &EventConsumer{reader: reader, db: db, webhook: webhook}
}

// Run consumes until the context is cancelled. Read timeouts are expected
// when the stream is idle and are not logged.
func (ec *EventConsumer) Run(ctx context.Context) {
	logrus.Info("event relay consumer started")

	for {
		if ctx.Err() != nil {
			return
		}

		readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		msg, err := ec.reader.ReadMessage(readCtx)
		cancel()

		if err != nil {
			if err == context.DeadlineExceeded || ctx.Err() != nil {
				continue
			}
			logrus.Errorf("error reading domain event: %v", err)
			time.Sleep(1 * time.Second)
			continue
		}

		var event events.DomainEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logrus.Errorf("malformed domain event dropped: %v", err)
			continue
		}

		if err := ec.webhook.Deliver(event.TenantID.String(), string(event.Type), msg.Value); err != nil {
			logrus.Errorf("delivery failed for event %s (%s): %v", event.ID, event.Type, err)
			if dlqErr := ec.storeFailedDelivery(event, msg.Value, err); dlqErr != nil {
				logrus.Errorf("failed to record failed delivery for %s: %v", event.ID, dlqErr)
			}
		} else {
			logrus.Debugf("delivered event %s (%s) for tenant %s", event.ID, event.Type, event.TenantID)
		}
	}
}

// storeFailedDelivery parks a failed event for the retry sweep, first
// retry in one minute.
func (ec *EventConsumer) storeFailedDelivery(event events.DomainEvent, payload []byte, deliveryErr error) error {
	nextRetryAt := time.Now().Add(1 * time.Minute)

	failed := models.FailedDelivery{
		ID:           uuid.New(),
		EventID:      event.ID.String(),
		TenantID:     event.TenantID,
		EventType:    string(event.Type),
		Payload:      string(payload),
		ErrorMessage: deliveryErr.Error(),
		Status:       "pending",
		NextRetryAt:  &nextRetryAt,
	}
	if err := ec.db.Create(&failed).Error; err != nil {
		return fmt.Errorf("failed to store failed delivery: %w", err)
	}
	return nil
}

// Close closes the Kafka reader.
func (ec *EventConsumer) Close() error {
	if err := ec.reader.Close(); err != nil {
		return fmt.Errorf("failed to close event reader: %w", err)
	}
	return nil
}
