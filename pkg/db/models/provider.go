package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/pkg/enums"
)

// Provider is a roadside-assistance operator with a single location snapshot.
type Provider struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID       `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	FullName    string          `gorm:"column:full_name;not null"`
	Email       string          `gorm:"column:email;not null"`
	Phone       *string         `gorm:"column:phone"`
	IsAvailable bool            `gorm:"column:is_available;not null;default:false"`
	AvgRating   decimal.Decimal `gorm:"column:avg_rating;type:numeric(3,2);not null;default:0"`

	CurrentLat        *float64   `gorm:"column:current_lat"`
	CurrentLng        *float64   `gorm:"column:current_lng"`
	LocationUpdatedAt *time.Time `gorm:"column:location_updated_at"`

	PayoutAccountType   *enums.PayoutAccountType `gorm:"column:payout_account_type"`
	PayoutBankCode      *string                  `gorm:"column:payout_bank_code"`
	PayoutAccountNumber *string                  `gorm:"column:payout_account_number"`
	PayoutAccountName   *string                  `gorm:"column:payout_account_name"`
	SubaccountCode      *string                  `gorm:"column:subaccount_code"`
	RecipientCode       *string                  `gorm:"column:recipient_code"`

	FCMToken *string `gorm:"column:fcm_token"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Provider) TableName() string { return "providers" }

func (p *Provider) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// HasPayoutAccount reports whether payout details were configured.
func (p *Provider) HasPayoutAccount() bool {
	return p != nil && p.PayoutAccountType != nil && p.PayoutBankCode != nil && p.PayoutAccountNumber != nil
}
