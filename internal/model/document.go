// Package model 定义了与数据库表对应的 Go 结构体以及入库流程中的值类型。
package model

import "time"

// 文档入库状态
const (
	DocumentPending = "pending"
	DocumentReady   = "ready"
	DocumentFailed  = "failed"
)

// Document 对应 documents 表，一个上传的 PDF 对应一行。
// FileKey 是对象存储中的键，同时也是向量索引命名空间的来源。
type Document struct {
	FileKey   string    `gorm:"primaryKey;type:varchar(255);column:file_key" json:"fileKey"`
	FileName  string    `gorm:"type:varchar(255);not null" json:"fileName"`
	OwnerID   uint      `gorm:"not null;index" json:"ownerId"`
	Status    string    `gorm:"type:varchar(16);not null;default:pending" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Document) TableName() string {
	return "documents"
}

// Page 是从 PDF 中提取出的一页文本，Number 从 1 开始。
type Page struct {
	Number int
	Text   string
}
