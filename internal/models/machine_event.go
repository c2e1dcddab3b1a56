package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// EventCategory 事件类别
// 安全中断与硬件故障分开统计，便于分析。
type EventCategory string

const (
	EventCategoryState    EventCategory = "STATE"    // 状态转换
	EventCategorySafety   EventCategory = "SAFETY"   // 安全中断
	EventCategoryHardware EventCategory = "HARDWARE" // 硬件故障
	EventCategoryOperator EventCategory = "OPERATOR" // 操作员动作
	EventCategoryRecipe   EventCategory = "RECIPE"   // 配方相关
)

// EventDetails 事件附加信息
type EventDetails map[string]interface{}

// Value 实现 driver.Valuer 接口
func (d EventDetails) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// Scan 实现 sql.Scanner 接口
func (d *EventDetails) Scan(value interface{}) error {
	if value == nil {
		*d = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		strVal, ok := value.(string)
		if !ok {
			return nil
		}
		bytes = []byte(strVal)
	}
	return json.Unmarshal(bytes, d)
}

// MachineEvent 机器事件日志
type MachineEvent struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time      `gorm:"index;not null" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Category EventCategory `gorm:"type:varchar(20);index;not null" json:"category"` // 事件类别
	Type     string        `gorm:"type:varchar(50);index;not null" json:"type"`     // 事件类型（UNKNOWN_TAG、SAFETY_ABORT等）
	JobID    string        `gorm:"type:varchar(36);index" json:"job_id,omitempty"`  // 关联任务
	Tag      string        `gorm:"type:varchar(64);index" json:"tag,omitempty"`     // 关联标签
	Message  string        `gorm:"type:text" json:"message,omitempty"`              // 事件描述
	Details  EventDetails  `gorm:"type:json" json:"details,omitempty"`              // 附加信息
}

// TableName 指定表名
func (MachineEvent) TableName() string {
	return "machine_events"
}

// BeforeCreate 创建前的钩子
func (e *MachineEvent) BeforeCreate(tx *gorm.DB) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return nil
}
