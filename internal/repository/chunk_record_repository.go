package repository

import (
	"context"

	"docchat-go/internal/model"

	"gorm.io/gorm"
)

// ChunkRecordRepository 维护已写入向量索引的分块台账。
type ChunkRecordRepository interface {
	BatchCreate(ctx context.Context, records []*model.ChunkRecord) error
	FindByFileKey(ctx context.Context, fileKey string) ([]*model.ChunkRecord, error)
	DeleteByFileKey(ctx context.Context, fileKey string) error
}

type chunkRecordRepository struct {
	db *gorm.DB
}

// NewChunkRecordRepository 创建一个新的 ChunkRecordRepository 实例。
func NewChunkRecordRepository(db *gorm.DB) ChunkRecordRepository {
	return &chunkRecordRepository{db: db}
}

func (r *chunkRecordRepository) BatchCreate(ctx context.Context, records []*model.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(records, 100).Error
}

// FindByFileKey 按分块序号返回台账。
func (r *chunkRecordRepository) FindByFileKey(ctx context.Context, fileKey string) ([]*model.ChunkRecord, error) {
	var records []*model.ChunkRecord
	err := r.db.WithContext(ctx).Where("file_key = ?", fileKey).Order("ordinal ASC").Find(&records).Error
	return records, err
}

func (r *chunkRecordRepository) DeleteByFileKey(ctx context.Context, fileKey string) error {
	return r.db.WithContext(ctx).Where("file_key = ?", fileKey).Delete(&model.ChunkRecord{}).Error
}
