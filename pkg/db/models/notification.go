package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/pkg/enums"
)

// Notification stores an in-app message for a customer or provider.
type Notification struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID          *uuid.UUID             `gorm:"column:event_id;type:uuid"`
	RecipientID      uuid.UUID              `gorm:"column:recipient_id;type:uuid;not null"`
	RecipientRole    enums.ActorRole        `gorm:"column:recipient_role;not null"`
	ServiceRequestID *uuid.UUID             `gorm:"column:service_request_id;type:uuid"`
	Type             enums.NotificationType `gorm:"column:type;not null"`
	Title            string                 `gorm:"column:title;not null"`
	Body             string                 `gorm:"column:body;not null"`
	ReadAt           *time.Time             `gorm:"column:read_at"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (Notification) TableName() string { return "notifications" }

func (n *Notification) BeforeCreate(*gorm.DB) error {
	ensureID(&n.ID)
	return nil
}
