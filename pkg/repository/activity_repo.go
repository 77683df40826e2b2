package repository

import (
	"context"

	"github.com/C-eorl/P9---LITRevu/pkg/model"

	"gorm.io/gorm"
)

type ActivityRepository interface {
	InsertFailed(ctx context.Context, events []*model.FailedActivity) error
	// ListFailed returns the oldest events tried fewer than maxAttempts times.
	ListFailed(ctx context.Context, maxAttempts, limit int) ([]*model.FailedActivity, error)
	DeleteFailed(ctx context.Context, ids []int64) error
	MarkAttempt(ctx context.Context, ids []int64, reason string) error
}

type activityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) InsertFailed(ctx context.Context, events []*model.FailedActivity) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(events, 100).Error
}

func (r *activityRepository) ListFailed(ctx context.Context, maxAttempts, limit int) ([]*model.FailedActivity, error) {
	events := make([]*model.FailedActivity, 0)
	err := r.db.WithContext(ctx).
		Where("attempts < ?", maxAttempts).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *activityRepository) DeleteFailed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.FailedActivity{}).Error
}

func (r *activityRepository) MarkAttempt(ctx context.Context, ids []int64, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.FailedActivity{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"attempts":     gorm.Expr("attempts + 1"),
			"error_reason": model.TruncateReason(reason),
		}).Error
}
