package repository

import (
	"context"
	"time"

	"github.com/wfunc/vhs-coffeeman/internal/errors"
	"github.com/wfunc/vhs-coffeeman/internal/logger"
	"github.com/wfunc/vhs-coffeeman/internal/models"
	"gorm.io/gorm"
)

// PourRepository 出酒历史仓储
type PourRepository struct {
	db *gorm.DB
}

// NewPourRepository 创建出酒历史仓储
func NewPourRepository(db *gorm.DB) *PourRepository {
	return &PourRepository{db: db}
}

// Create 写入一条出酒记录
func (r *PourRepository) Create(ctx context.Context, record *models.PourRecord) error {
	start := time.Now()
	err := r.db.WithContext(ctx).Create(record).Error
	logger.LogDatabaseOperation("create", record.TableName(), time.Since(start), err)
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabaseInsert, "写入出酒记录失败")
	}
	return nil
}

// GetByJobID 按任务ID查询
func (r *PourRepository) GetByJobID(ctx context.Context, jobID string) (*models.PourRecord, error) {
	var record models.PourRecord
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.Newf(errors.ErrNotFound, "任务 %s 不存在", jobID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery, "查询出酒记录失败")
	}
	return &record, nil
}

// List 按时间倒序分页查询
func (r *PourRepository) List(ctx context.Context, limit, offset int) ([]*models.PourRecord, int64, error) {
	var records []*models.PourRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&models.PourRecord{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrDatabaseQuery, "统计出酒记录失败")
	}

	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&records).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrDatabaseQuery, "查询出酒记录失败")
	}

	return records, total, nil
}

// ListByTag 查询某标签的出酒历史
func (r *PourRepository) ListByTag(ctx context.Context, tag string, limit int) ([]*models.PourRecord, error) {
	var records []*models.PourRecord
	err := r.db.WithContext(ctx).
		Where("tag = ?", tag).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery, "查询出酒记录失败")
	}
	return records, nil
}

// CountByStatus 按最终结果统计数量
func (r *PourRepository) CountByStatus(ctx context.Context) (map[models.PourStatus]int64, error) {
	type row struct {
		Status models.PourStatus
		Count  int64
	}
	var rows []row

	err := r.db.WithContext(ctx).
		Model(&models.PourRecord{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery, "统计出酒结果失败")
	}

	counts := make(map[models.PourStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
