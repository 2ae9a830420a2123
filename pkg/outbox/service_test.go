package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/towline/towline-backend/pkg/db/dbtest"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
)

func TestEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return at }
	providerID := uuid.New()
	actorID := uuid.New()

	require.NoError(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventPayoutConfigured,
		AggregateType: enums.AggregateProvider,
		AggregateID:   providerID,
		Actor:         &ActorRef{ActorID: &actorID, Role: enums.ActorProvider},
		Data:          map[string]string{"bankCode": "GCB"},
	}))

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, providerID, rows[0].AggregateID)
	require.Nil(t, rows[0].PublishedAt)

	env, err := DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	require.Equal(t, currentEnvelopeVersion, env.Version)
	require.Equal(t, string(enums.EventPayoutConfigured), env.EventType)
	require.True(t, env.OccurredAt.Equal(at))
	require.Equal(t, enums.ActorProvider, env.Actor.Role)
	require.JSONEq(t, `{"bankCode":"GCB"}`, string(env.Data))
	_, err = env.ParsedEventID()
	require.NoError(t, err)
}

func TestEmitRejectsInvalidEvents(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	valid := DomainEvent{
		EventType:     enums.EventRequestStatusChanged,
		AggregateType: enums.AggregateServiceRequest,
		AggregateID:   uuid.New(),
	}

	require.ErrorIs(t, svc.Emit(context.Background(), nil, valid), errNoTx)

	badType := valid
	badType.EventType = "order_created"
	require.Error(t, svc.Emit(context.Background(), conn, badType))

	noAggregate := valid
	noAggregate.AggregateID = uuid.Nil
	require.Error(t, svc.Emit(context.Background(), conn, noAggregate))

	unencodable := valid
	unencodable.Data = make(chan int)
	require.Error(t, svc.Emit(context.Background(), conn, unencodable))

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestEmitIfNotExistsQueuesOnce(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	event := DomainEvent{
		EventType:     enums.EventPayoutConfigured,
		AggregateType: enums.AggregateProvider,
		AggregateID:   uuid.New(),
		Data:          struct{}{},
	}

	require.NoError(t, svc.EmitIfNotExists(context.Background(), conn, event))
	require.NoError(t, svc.EmitIfNotExists(context.Background(), conn, event))

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", event.AggregateID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}
