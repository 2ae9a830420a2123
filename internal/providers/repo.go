package providers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/towline/towline-backend/pkg/db"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/geo"
)

// Repository exposes provider persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a providers repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, provider *models.Provider) error {
	return r.db.WithContext(ctx).Create(provider).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	var provider models.Provider
	if err := r.db.WithContext(ctx).First(&provider, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &provider, nil
}

func (r *Repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	var provider models.Provider
	if err := dbpkg.ForUpdate(r.db.WithContext(ctx)).First(&provider, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &provider, nil
}

// ListAvailableNear returns available providers with a location snapshot
// inside the bounding box of the radius. Distance filtering happens in the
// matcher.
func (r *Repository) ListAvailableNear(ctx context.Context, center geo.Point, radiusKm float64) ([]models.Provider, error) {
	minLat, maxLat, minLng, maxLng := geo.BoundingBox(center, radiusKm)
	var rows []models.Provider
	err := r.db.WithContext(ctx).
		Where("is_available = ?", true).
		Where("current_lat IS NOT NULL AND current_lng IS NOT NULL").
		Where("current_lat BETWEEN ? AND ?", minLat, maxLat).
		Where("current_lng BETWEEN ? AND ?", minLng, maxLng).
		Find(&rows).Error
	return rows, err
}

// ListAvailable returns every available provider carrying a location
// snapshot updated at or after freshSince.
func (r *Repository) ListAvailable(ctx context.Context, freshSince time.Time) ([]models.Provider, error) {
	var rows []models.Provider
	err := r.db.WithContext(ctx).
		Where("is_available = ?", true).
		Where("current_lat IS NOT NULL AND current_lng IS NOT NULL").
		Where("location_updated_at >= ?", freshSince).
		Find(&rows).Error
	return rows, err
}

// UpdateLocation overwrites the snapshot unless a newer one is stored.
func (r *Repository) UpdateLocation(ctx context.Context, id uuid.UUID, point geo.Point, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Provider{}).
		Where("id = ?", id).
		Where("location_updated_at IS NULL OR location_updated_at <= ?", at).
		Updates(map[string]any{
			"current_lat":         point.Lat,
			"current_lng":         point.Lng,
			"location_updated_at": at,
			"updated_at":          time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *Repository) SetAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	res := r.db.WithContext(ctx).
		Model(&models.Provider{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_available": available, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repository) UpdateFCMToken(ctx context.Context, id uuid.UUID, token *string) error {
	return r.db.WithContext(ctx).
		Model(&models.Provider{}).
		Where("id = ?", id).
		UpdateColumn("fcm_token", token).Error
}

// SetRecipientCodeIfEmpty caches the transfer recipient once. It reports
// whether this call stored the code.
func (r *Repository) SetRecipientCodeIfEmpty(ctx context.Context, id uuid.UUID, code string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Provider{}).
		Where("id = ? AND recipient_code IS NULL", id).
		Updates(map[string]any{"recipient_code": code, "updated_at": time.Now().UTC()})
	return res.RowsAffected > 0, res.Error
}

// UpdatePayout stores the settlement account details.
func (r *Repository) UpdatePayout(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.Provider{}).
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

// MarkStaleOffline flips providers whose snapshot is older than cutoff to
// unavailable.
func (r *Repository) MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Provider{}).
		Where("is_available = ?", true).
		Where("location_updated_at IS NULL OR location_updated_at < ?", cutoff).
		Updates(map[string]any{"is_available": false, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}
