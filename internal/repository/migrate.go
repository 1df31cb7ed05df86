// Package repository 提供了数据访问层的实现。
package repository

import (
	"docchat-go/internal/model"

	"gorm.io/gorm"
)

// AutoMigrate 创建或更新本服务使用的表。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Document{},
		&model.Chat{},
		&model.Message{},
		&model.ChunkRecord{},
	)
}
