package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"classlink/internal/models"
)

type MaterialRepository interface {
	Save(ctx context.Context, material *models.Material) error
	List(ctx context.Context) ([]models.Material, error)
}

type FeedbackRepository interface {
	Save(ctx context.Context, feedback *models.Feedback) error
	List(ctx context.Context) ([]models.Feedback, error)
}

type materialRepository struct {
	db *gorm.DB
}

func NewMaterialRepository(db *gorm.DB) MaterialRepository {
	return &materialRepository{db: db}
}

// Save upserts by id; a redistributed material replaces the old copy.
func (r *materialRepository) Save(ctx context.Context, material *models.Material) error {
	if material.ReceivedAt.IsZero() {
		material.ReceivedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(material).Error
}

func (r *materialRepository) List(ctx context.Context) ([]models.Material, error) {
	var list []models.Material
	if err := r.db.WithContext(ctx).Order("received_at DESC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

type feedbackRepository struct {
	db *gorm.DB
}

func NewFeedbackRepository(db *gorm.DB) FeedbackRepository {
	return &feedbackRepository{db: db}
}

func (r *feedbackRepository) Save(ctx context.Context, feedback *models.Feedback) error {
	if feedback.ReceivedAt.IsZero() {
		feedback.ReceivedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(feedback).Error
}

func (r *feedbackRepository) List(ctx context.Context) ([]models.Feedback, error) {
	var list []models.Feedback
	if err := r.db.WithContext(ctx).Order("received_at DESC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
