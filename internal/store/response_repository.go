package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"classlink/internal/models"
)

type ResponseRepository interface {
	Insert(ctx context.Context, response *models.PendingResponse) error
	ListUnsynced(ctx context.Context) ([]models.PendingResponse, error)
	List(ctx context.Context, synced *bool) ([]models.PendingResponse, error)
	CountUnsynced(ctx context.Context) (int64, error)
	MarkSynced(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type responseRepository struct {
	db *gorm.DB
}

func NewResponseRepository(db *gorm.DB) ResponseRepository {
	return &responseRepository{db: db}
}

// Insert assigns an id and capture time when the caller left them empty.
func (r *responseRepository) Insert(ctx context.Context, response *models.PendingResponse) error {
	if response.ID == "" {
		response.ID = uuid.NewString()
	}
	if response.CapturedAt.IsZero() {
		response.CapturedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(response).Error
}

// ListUnsynced returns queued responses oldest first.
func (r *responseRepository) ListUnsynced(ctx context.Context) ([]models.PendingResponse, error) {
	var list []models.PendingResponse
	err := r.db.WithContext(ctx).
		Where("synced = ?", false).
		Order("captured_at ASC").
		Order("id ASC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *responseRepository) List(ctx context.Context, synced *bool) ([]models.PendingResponse, error) {
	var list []models.PendingResponse
	q := r.db.WithContext(ctx).Order("captured_at ASC")
	if synced != nil {
		q = q.Where("synced = ?", *synced)
	}
	if err := q.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *responseRepository) CountUnsynced(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.PendingResponse{}).Where("synced = ?", false).Count(&n).Error
	return n, err
}

func (r *responseRepository) MarkSynced(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&models.PendingResponse{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"synced":    true,
			"synced_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *responseRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.PendingResponse{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
