package main

import (
	"context"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/pkg/db/models"
)

// bury copies the row into outbox_dlq and stops the publisher from
// claiming it again.
func (s *Service) bury(tx *gorm.DB, d *delivery) error {
	e := d.event
	msg := d.err.Error()
	entry := models.OutboxDLQ{
		EventID:       e.ID,
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		Payload:       e.Payload,
		ErrorReason:   d.reason,
		ErrorMessage:  &msg,
		AttemptCount:  e.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", e.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, e.ID, d.err, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", e.ID, err)
	}
	return nil
}

// mirrorToDLQ copies a committed dead letter onto the DLQ topic for
// operators. The outbox_dlq row stays authoritative, so failures are only
// logged.
func (s *Service) mirrorToDLQ(ctx context.Context, d *delivery) {
	if s.dlqTopic == "" {
		return
	}
	logCtx := s.logg.WithFields(ctx, s.eventFields(d))
	pub := s.publisherFactory(s.dlqTopic)
	if pub == nil {
		s.logg.Warn(logCtx, "dlq publisher not configured")
		return
	}

	attrs := messageAttributes(d.event, "")
	attrs["error_reason"] = d.reason.String()
	if d.reason.Replayable() {
		attrs["replayable"] = "true"
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, &gcppubsub.Message{Data: d.event.Payload, Attributes: attrs})
	if result == nil {
		s.logg.Warn(logCtx, "dlq publish returned no result")
		return
	}
	if _, err := result.Get(publishCtx); err != nil {
		s.logg.Error(logCtx, "dlq mirror publish failed", err)
	}
}
