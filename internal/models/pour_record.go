package models

import (
	"time"

	"gorm.io/gorm"
)

// PourStatus 出酒任务结果
type PourStatus string

const (
	PourStatusCompleted     PourStatus = "COMPLETED"      // 正常完成
	PourStatusSafetyAbort   PourStatus = "SAFETY_ABORT"   // 出酒中杯子被移走
	PourStatusHardwareError PourStatus = "HARDWARE_ERROR" // 硬件故障
	PourStatusCupTimeout    PourStatus = "CUP_TIMEOUT"    // 等待放杯超时
)

// PourRecord 一次出酒任务的历史记录
type PourRecord struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time      `gorm:"index;not null" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// 任务标识
	JobID string `gorm:"type:varchar(36);uniqueIndex;not null" json:"job_id"` // 任务UUID
	Tag   string `gorm:"type:varchar(64);index;not null" json:"tag"`          // RFID标签
	Drink string `gorm:"type:varchar(128);index" json:"drink"`                // 饮品名称

	// 执行情况
	Status         PourStatus `gorm:"type:varchar(20);index;not null" json:"status"` // 最终结果
	StepsTotal     int        `gorm:"default:0" json:"steps_total"`                  // 配方总步数
	StepsCompleted int        `gorm:"default:0" json:"steps_completed"`              // 完成步数
	TotalAmountOz  float64    `gorm:"type:decimal(10,2)" json:"total_amount_oz"`     // 总用量（盎司）
	ErrorMsg       string     `gorm:"type:text" json:"error_msg,omitempty"`          // 失败原因

	// 时间
	StartedAt  time.Time  `gorm:"index" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs int64      `gorm:"default:0" json:"duration_ms"` // 任务耗时（毫秒）
}

// TableName 指定表名
func (PourRecord) TableName() string {
	return "pour_records"
}

// BeforeCreate 创建前的钩子
func (p *PourRecord) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return nil
}
