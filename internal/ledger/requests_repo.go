package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/towline/towline-backend/pkg/db"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
)

// TrackingCodeConstraint keeps public tracking codes unique.
const TrackingCodeConstraint = "ux_service_requests_tracking_code"

// RequestRepository manages persistence for service requests.
type RequestRepository interface {
	WithTx(tx *gorm.DB) RequestRepository
	Create(ctx context.Context, req *models.ServiceRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.ServiceRequest, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.ServiceRequest, error)
	FindByTrackingCode(ctx context.Context, code string) (*models.ServiceRequest, error)
	FindByPaymentReference(ctx context.Context, reference string) (*models.ServiceRequest, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	UpdateCustomerLocation(ctx context.Context, id uuid.UUID, lat, lng float64, at time.Time) (bool, error)
	UpdateProviderLocation(ctx context.Context, id uuid.UUID, lat, lng float64, at time.Time) (bool, error)
	ListAwaitingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ServiceRequest, error)
}

type requestRepository struct {
	db *gorm.DB
}

// NewRequestRepository returns a service request repository bound to db.
func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) WithTx(tx *gorm.DB) RequestRepository {
	if tx == nil {
		return r
	}
	return &requestRepository{db: tx}
}

func (r *requestRepository) Create(ctx context.Context, req *models.ServiceRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *requestRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.ServiceRequest, error) {
	var req models.ServiceRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.ServiceRequest, error) {
	var req models.ServiceRequest
	if err := dbpkg.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) FindByTrackingCode(ctx context.Context, code string) (*models.ServiceRequest, error) {
	var req models.ServiceRequest
	if err := r.db.WithContext(ctx).Where("tracking_code = ?", code).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) FindByPaymentReference(ctx context.Context, reference string) (*models.ServiceRequest, error) {
	var req models.ServiceRequest
	if err := dbpkg.ForUpdate(r.db.WithContext(ctx)).Where("payment_reference = ?", reference).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.ServiceRequest{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateCustomerLocation writes the customer coordinates unless a newer
// sample is already stored. It reports whether the row changed.
func (r *requestRepository) UpdateCustomerLocation(ctx context.Context, id uuid.UUID, lat, lng float64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ServiceRequest{}).
		Where("id = ?", id).
		Where("customer_location_updated_at IS NULL OR customer_location_updated_at <= ?", at).
		Updates(map[string]any{
			"customer_lat":                 lat,
			"customer_lng":                 lng,
			"customer_location_updated_at": at,
		})
	return res.RowsAffected > 0, res.Error
}

// UpdateProviderLocation mirrors UpdateCustomerLocation for the provider leg.
func (r *requestRepository) UpdateProviderLocation(ctx context.Context, id uuid.UUID, lat, lng float64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ServiceRequest{}).
		Where("id = ?", id).
		Where("provider_location_updated_at IS NULL OR provider_location_updated_at <= ?", at).
		Updates(map[string]any{
			"provider_lat":                 lat,
			"provider_lng":                 lng,
			"provider_location_updated_at": at,
		})
	return res.RowsAffected > 0, res.Error
}

// ListAwaitingPaymentBefore returns requests stuck in awaiting_payment whose
// last update predates cutoff, oldest first.
func (r *requestRepository) ListAwaitingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ServiceRequest, error) {
	if limit <= 0 {
		limit = 25
	}
	var rows []models.ServiceRequest
	err := r.db.WithContext(ctx).
		Where("payment_status = ?", enums.PaymentStatusAwaitingPayment).
		Where("payment_reference IS NOT NULL").
		Where("updated_at < ?", cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
