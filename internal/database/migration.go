package database

import (
	"fmt"

	"github.com/wfunc/vhs-coffeeman/internal/logger"
	"github.com/wfunc/vhs-coffeeman/internal/models"
	"gorm.io/gorm"
)

// AutoMigrate 执行数据库迁移
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.PourRecord{},
		&models.MachineEvent{},
	); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	logger.Info("数据库迁移完成")
	return nil
}
