package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Customer is the requesting side of the marketplace.
type Customer struct {
	ID                uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID            uuid.UUID  `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	FullName          string     `gorm:"column:full_name;not null"`
	Email             string     `gorm:"column:email;not null"`
	Phone             *string    `gorm:"column:phone"`
	LastLat           *float64   `gorm:"column:last_lat"`
	LastLng           *float64   `gorm:"column:last_lng"`
	LocationUpdatedAt *time.Time `gorm:"column:location_updated_at"`
	FCMToken          *string    `gorm:"column:fcm_token"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Customer) TableName() string { return "customers" }

func (c *Customer) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
