// Package tracking runs the per-actor location sessions used while a
// service request is live, and estimates provider arrival times.
package tracking

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/geo"
)

// Sample is one reported device location.
type Sample struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Point returns the sample coordinates.
func (s Sample) Point() geo.Point {
	return geo.Point{Lat: s.Lat, Lng: s.Lng}
}

func (s Sample) validate() error {
	if err := s.Point().Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid sample location")
	}
	return nil
}

// Key identifies a session.
type Key struct {
	RequestID uuid.UUID
	Role      enums.ActorRole
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.RequestID, k.Role)
}

// Target is where a session's samples are persisted.
type Target struct {
	Key
	ActorID uuid.UUID
}
