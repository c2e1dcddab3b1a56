package repository

import (
	"context"
	"time"

	"github.com/wfunc/vhs-coffeeman/internal/logger"
	"github.com/wfunc/vhs-coffeeman/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Recorder 出酒控制器的持久化实现
// 写入失败只记录日志，永不影响出酒流程。
type Recorder struct {
	pours  *PourRepository
	events *EventRepository
	log    *zap.Logger
}

// NewRecorder 创建持久化记录器
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{
		pours:  NewPourRepository(db),
		events: NewEventRepository(db),
		log:    logger.WithModule("database"),
	}
}

// RecordPour 写出酒历史（尽力而为）
func (r *Recorder) RecordPour(record *models.PourRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.pours.Create(ctx, record); err != nil {
		r.log.Error("出酒记录写入失败",
			zap.String("job_id", record.JobID),
			zap.Error(err),
		)
	}
}

// RecordEvent 写事件日志（尽力而为）
func (r *Recorder) RecordEvent(event *models.MachineEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.events.Create(ctx, event); err != nil {
		r.log.Error("事件写入失败",
			zap.String("type", event.Type),
			zap.Error(err),
		)
	}
}
