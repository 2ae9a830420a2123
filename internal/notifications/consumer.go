package notifications

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	"github.com/towline/towline-backend/pkg/fcm"
	"github.com/towline/towline-backend/pkg/logger"
	"github.com/towline/towline-backend/pkg/outbox"
	"github.com/towline/towline-backend/pkg/outbox/idempotency"
	"github.com/towline/towline-backend/pkg/outbox/payloads"
	"github.com/towline/towline-backend/pkg/outbox/registry"
)

const requestNotificationConsumer = "request-notifications"

type repository interface {
	Create(ctx context.Context, notification *models.Notification) (bool, error)
}

// Pusher delivers a device push.
type Pusher interface {
	Send(ctx context.Context, m fcm.Message) (string, error)
}

type deviceDirectory interface {
	Token(ctx context.Context, role enums.ActorRole, id uuid.UUID) (string, error)
	Clear(ctx context.Context, role enums.ActorRole, id uuid.UUID) error
}

// Consumer turns request status changes into stored notifications and pushes.
type Consumer struct {
	repo     repository
	sub      *pubsub.Subscriber
	claims   *idempotency.Manager
	pusher   Pusher
	devices  deviceDirectory
	decoders *registry.Decoders
	logg     *logger.Logger
}

// NewConsumer builds the request notification consumer. pusher and devices
// may be nil, in which case only in-app rows are written.
func NewConsumer(repo repository, sub *pubsub.Subscriber, claims *idempotency.Manager, pusher Pusher, devices deviceDirectory, logg *logger.Logger) (*Consumer, error) {
	switch {
	case repo == nil:
		return nil, errors.New("notification consumer: repository required")
	case claims == nil:
		return nil, errors.New("notification consumer: idempotency manager required")
	case logg == nil:
		return nil, errors.New("notification consumer: logger required")
	}
	return &Consumer{
		repo:     repo,
		sub:      sub,
		claims:   claims,
		pusher:   pusher,
		devices:  devices,
		decoders: registry.NewDecoders(),
		logg:     logg,
	}, nil
}

// Run receives from the notification subscription until ctx ends.
func (c *Consumer) Run(ctx context.Context) error {
	if c.sub == nil {
		return errors.New("notification consumer: subscription required")
	}
	return c.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// verdict is what process decided for one message.
type verdict struct {
	ack     bool
	nack    bool
	created int
}

var (
	acked  = verdict{ack: true}
	nacked = verdict{nack: true}
)

// statusChange pulls the event id and payload out of msg. ok is false for
// messages this consumer does not handle; err is set for ones that can
// never be handled.
func (c *Consumer) statusChange(msg *pubsub.Message) (uuid.UUID, *payloads.RequestStatusChanged, bool, error) {
	if msg.Attributes["event_type"] != string(enums.EventRequestStatusChanged) {
		return uuid.Nil, nil, false, nil
	}
	env, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		return uuid.Nil, nil, true, fmt.Errorf("envelope: %w", err)
	}
	eventID, err := env.ParsedEventID()
	if err != nil {
		return uuid.Nil, nil, true, fmt.Errorf("event id: %w", err)
	}
	payload, err := registry.DecodeAs[payloads.RequestStatusChanged](c.decoders, enums.EventRequestStatusChanged, env)
	return eventID, payload, true, err
}

// process never nacks a message that cannot succeed on redelivery.
func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) verdict {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": msg.Attributes["event_type"],
	})

	eventID, payload, handled, err := c.statusChange(msg)
	if !handled {
		return acked
	}
	if err != nil {
		c.logg.Error(logCtx, "dropping undecodable status event", err)
		return acked
	}
	logCtx = c.logg.WithServiceRequestID(logCtx, payload.RequestID.String())
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id": eventID.String(),
		"from":     payload.PreviousStatus,
		"to":       payload.NewStatus,
		"actor":    payload.Actor,
	})

	claim, err := c.claims.Claim(ctx, requestNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "claim status event", err)
		return nacked
	}
	switch claim {
	case idempotency.Done:
		c.logg.Debug(logCtx, "status event already handled")
		return acked
	case idempotency.InFlight:
		c.logg.Debug(logCtx, "status event held by another worker")
		return nacked
	}

	created, err := c.handlePayload(ctx, eventID, *payload, logCtx)
	if err != nil {
		c.logg.Error(logCtx, "store notifications", err)
		if relErr := c.claims.Release(ctx, requestNotificationConsumer, eventID); relErr != nil {
			c.logg.Error(logCtx, "release status event claim", relErr)
		}
		return nacked
	}
	// The event/recipient unique index covers a lost completion marker.
	if err := c.claims.Complete(ctx, requestNotificationConsumer, eventID); err != nil {
		c.logg.Error(logCtx, "complete status event claim", err)
	}
	return verdict{ack: true, created: created}
}

func (c *Consumer) handlePayload(ctx context.Context, eventID uuid.UUID, payload payloads.RequestStatusChanged, logCtx context.Context) (int, error) {
	notes := ResolveAll(payload.PreviousStatus, payload.NewStatus, payload.Actor)
	if len(notes) == 0 {
		c.logg.Debug(logCtx, "transition has no notification")
		return 0, nil
	}

	created := 0
	for _, note := range notes {
		recipientID, ok := recipientFor(note.Recipient, payload)
		if !ok {
			c.logg.Info(logCtx, "no "+note.Recipient.String()+" to notify")
			continue
		}
		requestID := payload.RequestID
		row := &models.Notification{
			EventID:          &eventID,
			RecipientID:      recipientID,
			RecipientRole:    note.Recipient,
			ServiceRequestID: &requestID,
			Type:             note.Type,
			Title:            note.Title,
			Body:             note.Body(payload.TrackingCode),
		}
		stored, err := c.repo.Create(ctx, row)
		if err != nil {
			return created, err
		}
		if !stored {
			continue
		}
		created++
		c.push(ctx, row, payload, logCtx)
	}
	return created, nil
}

// push is best effort; the stored row is the source of truth.
func (c *Consumer) push(ctx context.Context, row *models.Notification, payload payloads.RequestStatusChanged, logCtx context.Context) {
	if c.pusher == nil || c.devices == nil {
		return
	}
	token, err := c.devices.Token(ctx, row.RecipientRole, row.RecipientID)
	if err != nil {
		c.logg.Error(logCtx, "device token lookup failed", err)
		return
	}
	if token == "" {
		return
	}
	_, err = c.pusher.Send(ctx, fcm.Message{
		Token: token,
		Title: row.Title,
		Body:  row.Body,
		Data: map[string]string{
			"notificationId":   row.ID.String(),
			"serviceRequestId": payload.RequestID.String(),
			"trackingCode":     payload.TrackingCode,
			"status":           payload.NewStatus.String(),
		},
	})
	if err == nil {
		return
	}
	if fcm.IsUnregistered(err) {
		if clearErr := c.devices.Clear(ctx, row.RecipientRole, row.RecipientID); clearErr != nil {
			c.logg.Error(logCtx, "failed to clear stale device token", clearErr)
		}
		return
	}
	c.logg.Warn(logCtx, "push delivery failed: "+err.Error())
}

func recipientFor(role enums.ActorRole, payload payloads.RequestStatusChanged) (uuid.UUID, bool) {
	switch role {
	case enums.ActorCustomer:
		return payload.CustomerID, payload.CustomerID != uuid.Nil
	case enums.ActorProvider:
		if payload.ProviderID == nil || *payload.ProviderID == uuid.Nil {
			return uuid.Nil, false
		}
		return *payload.ProviderID, true
	}
	return uuid.Nil, false
}
