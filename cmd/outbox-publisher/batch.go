package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	"github.com/towline/towline-backend/pkg/metrics"
	"github.com/towline/towline-backend/pkg/outbox/registry"
)

// delivery tracks one outbox row through a batch. A non-empty reason means
// the row is dead; err without a reason means it will be retried.
type delivery struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	pending  publishResult
	err      error
	reason   enums.OutboxDLQErrorReason
}

func (d *delivery) kill(reason enums.OutboxDLQErrorReason, err error) {
	d.reason = reason
	d.err = err
	d.pending = nil
}

func (d *delivery) outcome() string {
	switch {
	case d.reason != "":
		return metrics.OutboxDeadLetter
	case d.err != nil:
		return metrics.OutboxRetry
	}
	return metrics.OutboxPublished
}

func (d *delivery) topic() string {
	if d.resolved == nil {
		return ""
	}
	return d.resolved.Descriptor.Topic
}

// processBatch publishes every claimed row before waiting on any result so
// the client can batch them, then settles each row in the claiming
// transaction. Dead letters are mirrored only once that transaction commits.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	started := time.Now()
	var (
		claimed int
		dead    []*delivery
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		dead = dead[:0]
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		claimed = len(events)
		if claimed == 0 {
			return nil
		}

		publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()

		deliveries := make([]*delivery, 0, len(events))
		for _, event := range events {
			deliveries = append(deliveries, s.send(publishCtx, event))
		}
		for _, d := range deliveries {
			s.await(publishCtx, d)
			if err := s.settle(ctx, tx, d); err != nil {
				return err
			}
			if d.reason != "" {
				dead = append(dead, d)
			}
		}
		return nil
	})
	if claimed > 0 {
		s.metrics.ObserveBatch(started)
	}
	if err != nil {
		return claimed > 0, err
	}
	for _, d := range dead {
		s.mirrorToDLQ(ctx, d)
	}
	return claimed > 0, nil
}

func (s *Service) send(ctx context.Context, event models.OutboxEvent) *delivery {
	d := &delivery{event: event}
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		d.kill(enums.OutboxDLQReasonUnresolvable, err)
		return d
	}
	d.resolved = resolved

	pub := s.publisherFactory(d.topic())
	if pub == nil {
		d.kill(enums.OutboxDLQReasonNonRetryable, fmt.Errorf("no publisher for topic %s", d.topic()))
		return d
	}
	d.pending = pub.Publish(ctx, &gcppubsub.Message{
		Data:       event.Payload,
		Attributes: messageAttributes(event, resolved.Envelope.EventID),
	})
	if d.pending == nil {
		d.kill(enums.OutboxDLQReasonNonRetryable, fmt.Errorf("topic %s: %w", d.topic(), errNoPublishResult))
	}
	return d
}

func (s *Service) await(ctx context.Context, d *delivery) {
	if d.pending == nil {
		return
	}
	_, err := d.pending.Get(ctx)
	if err == nil {
		return
	}
	var nonRetry registry.NonRetryableError
	switch {
	case errors.As(err, &nonRetry):
		d.kill(enums.OutboxDLQReasonNonRetryable, err)
	case d.event.AttemptCount+1 >= s.maxAttempts:
		d.kill(enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", err))
	default:
		d.err = err
	}
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, d *delivery) error {
	id := d.event.ID
	logCtx := s.logg.WithFields(ctx, s.eventFields(d))
	result := d.outcome()

	switch result {
	case metrics.OutboxPublished:
		if err := s.repo.MarkPublishedTx(tx, id); err != nil {
			return fmt.Errorf("mark published %s: %w", id, err)
		}
		s.logg.Info(logCtx, "outbox event published")
	case metrics.OutboxRetry:
		if err := s.repo.MarkFailedTx(tx, id, d.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", id, err)
		}
		s.logg.Warn(s.logg.WithField(logCtx, "error", d.err.Error()), "outbox publish failed; will retry")
	default:
		if err := s.bury(tx, d); err != nil {
			return err
		}
		s.logg.Warn(s.logg.WithField(logCtx, "error", d.err.Error()), "outbox event dead-lettered")
	}
	s.metrics.IncEvent(string(d.event.EventType), result)
	return nil
}

// messageAttributes carries the routing fields consumers filter on without
// decoding the body.
func messageAttributes(event models.OutboxEvent, eventID string) map[string]string {
	if eventID == "" {
		eventID = event.ID.String()
	}
	return map[string]string{
		"event_id":       eventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Service) eventFields(d *delivery) map[string]any {
	e := d.event
	attempt := e.AttemptCount
	if d.err != nil {
		attempt++
	}
	fields := map[string]any{
		"outbox_id":      e.ID.String(),
		"event_type":     e.EventType,
		"aggregate_type": e.AggregateType,
		"aggregate_id":   e.AggregateID.String(),
		"attempt_count":  attempt,
	}
	if d.resolved != nil {
		fields["event_id"] = d.resolved.Envelope.EventID
		fields["topic"] = d.topic()
	}
	if d.reason != "" {
		fields["error_reason"] = d.reason.String()
	}
	if e.LastError != nil {
		fields["last_error"] = *e.LastError
	}
	return fields
}
