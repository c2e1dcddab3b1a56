package repository

import (
	"context"

	"github.com/wfunc/vhs-coffeeman/internal/errors"
	"github.com/wfunc/vhs-coffeeman/internal/models"
	"gorm.io/gorm"
)

// EventRepository 机器事件日志仓储
type EventRepository struct {
	db *gorm.DB
}

// NewEventRepository 创建事件仓储
func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create 写入一条事件
func (r *EventRepository) Create(ctx context.Context, event *models.MachineEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return errors.Wrap(err, errors.ErrDatabaseInsert, "写入事件失败")
	}
	return nil
}

// List 按时间倒序分页查询，category为空时查询全部
func (r *EventRepository) List(ctx context.Context, category models.EventCategory, limit, offset int) ([]*models.MachineEvent, int64, error) {
	var events []*models.MachineEvent
	var total int64

	query := r.db.WithContext(ctx).Model(&models.MachineEvent{})
	if category != "" {
		query = query.Where("category = ?", category)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrDatabaseQuery, "统计事件失败")
	}

	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&events).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrDatabaseQuery, "查询事件失败")
	}

	return events, total, nil
}

// ListByJob 查询某任务的全部事件
func (r *EventRepository) ListByJob(ctx context.Context, jobID string) ([]*models.MachineEvent, error) {
	var events []*models.MachineEvent
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery, "查询事件失败")
	}
	return events, nil
}
