package model

import "time"

// Chunk 是文档文本的一个片段，也是向量化和检索的基本单位。
// ID 为 Text 的内容哈希，相同内容重复入库得到相同 ID。
type Chunk struct {
	ID       string
	Text     string
	Metadata string // 按字节截断后的文本，查询时作为上下文返回
	Page     int
	Ordinal  int // 在整篇文档中的序号
}

// ChunkRecord 对应 chunk_records 表，记录已成功写入向量索引的分块，
// 用于观察部分入库的进度。
type ChunkRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	FileKey   string    `gorm:"type:varchar(255);not null;index"`
	VectorID  string    `gorm:"type:char(64);not null"`
	Page      int       `gorm:"not null"`
	Ordinal   int       `gorm:"not null"`
	Batch     int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (ChunkRecord) TableName() string {
	return "chunk_records"
}
