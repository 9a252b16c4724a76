package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gptstore-api/internal/models"
)

// ActivityLogFilter narrows activity log queries. Zero values leave a
// dimension unfiltered; Since is inclusive and Until exclusive.
type ActivityLogFilter struct {
	Page       int
	PageSize   int
	ActorID    *uint
	Action     string
	EntityType string
	EntityID   string
	Since      *time.Time
	Until      *time.Time
}

// ActivityLogRepository persists the submission audit trail.
type ActivityLogRepository interface {
	Create(ctx context.Context, entry *models.ActivityLog) error
	List(ctx context.Context, filter ActivityLogFilter) ([]models.ActivityLog, int64, error)
}

type activityLogRepository struct {
	db *gorm.DB
}

// NewActivityLogRepository constructs the activity log repository.
func NewActivityLogRepository(db *gorm.DB) ActivityLogRepository {
	return &activityLogRepository{db: db}
}

func (r *activityLogRepository) Create(ctx context.Context, entry *models.ActivityLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *activityLogRepository) List(ctx context.Context, filter ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ActivityLog{}).Scopes(activityFilterScope(filter))

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.PageSize > 0 {
		page := filter.Page
		if page <= 0 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var entries []models.ActivityLog
	if err := query.Order("created_at DESC").Order("id DESC").Find(&entries).Error; err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

func activityFilterScope(filter ActivityLogFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if filter.ActorID != nil {
			db = db.Where("actor_id = ?", *filter.ActorID)
		}
		if filter.Action != "" {
			db = db.Where("action = ?", filter.Action)
		}
		if filter.EntityType != "" {
			db = db.Where("entity_type = ?", filter.EntityType)
		}
		if filter.EntityID != "" {
			db = db.Where("entity_id = ?", filter.EntityID)
		}
		if filter.Since != nil {
			db = db.Where("created_at >= ?", *filter.Since)
		}
		if filter.Until != nil {
			db = db.Where("created_at < ?", *filter.Until)
		}
		return db
	}
}
