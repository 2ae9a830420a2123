package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/towline/towline-backend/pkg/enums"
	"github.com/towline/towline-backend/pkg/geo"
	"github.com/towline/towline-backend/pkg/logger"
)

type requestLocationWriter interface {
	UpdateCustomerLocation(ctx context.Context, id uuid.UUID, lat, lng float64, at time.Time) (bool, error)
	UpdateProviderLocation(ctx context.Context, id uuid.UUID, lat, lng float64, at time.Time) (bool, error)
}

type providerLocationWriter interface {
	UpdateLocation(ctx context.Context, id uuid.UUID, point geo.Point, at time.Time) (bool, error)
}

// StoreSink writes samples to the request row and, for providers, to the
// provider's location snapshot. Older samples lose to newer stored ones.
type StoreSink struct {
	requests  requestLocationWriter
	providers providerLocationWriter
	logg      *logger.Logger
}

func NewStoreSink(requests requestLocationWriter, providers providerLocationWriter, logg *logger.Logger) (*StoreSink, error) {
	if requests == nil {
		return nil, errors.New("request repository required")
	}
	if providers == nil {
		return nil, errors.New("provider repository required")
	}
	return &StoreSink{requests: requests, providers: providers, logg: logg}, nil
}

func (s *StoreSink) Persist(ctx context.Context, target Target, sample Sample) error {
	at := sample.RecordedAt.UTC()
	var (
		applied bool
		err     error
	)
	switch target.Role {
	case enums.ActorProvider:
		if _, err = s.providers.UpdateLocation(ctx, target.ActorID, sample.Point(), at); err != nil {
			return err
		}
		applied, err = s.requests.UpdateProviderLocation(ctx, target.RequestID, sample.Lat, sample.Lng, at)
	case enums.ActorCustomer:
		applied, err = s.requests.UpdateCustomerLocation(ctx, target.RequestID, sample.Lat, sample.Lng, at)
	default:
		return errors.New("unsupported tracking role " + string(target.Role))
	}
	if err != nil {
		return err
	}
	if !applied && s.logg != nil {
		logCtx := s.logg.WithServiceRequestID(ctx, target.RequestID.String())
		s.logg.Debug(s.logg.WithActorRole(logCtx, string(target.Role)), "stale location sample skipped")
	}
	return nil
}
