package repository

import (
	"context"
	"errors"
	"fmt"

	"docchat-go/internal/model"

	"gorm.io/gorm"
)

// ErrDocumentNotFound 表示 documents 表中没有对应的 file_key。
var ErrDocumentNotFound = errors.New("document not found")

// DocumentRepository 定义了对 documents 表的数据操作接口。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	FindByFileKey(ctx context.Context, fileKey string) (*model.Document, error)
	UpdateStatus(ctx context.Context, fileKey, status string) error
	Delete(ctx context.Context, fileKey string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *documentRepository) FindByFileKey(ctx context.Context, fileKey string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("file_key = ?", fileKey).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, fileKey)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateStatus 更新入库状态。文档不存在时不报错（命令行入库时可能没有对应记录）。
func (r *documentRepository) UpdateStatus(ctx context.Context, fileKey, status string) error {
	return r.db.WithContext(ctx).Model(&model.Document{}).Where("file_key = ?", fileKey).Update("status", status).Error
}

func (r *documentRepository) Delete(ctx context.Context, fileKey string) error {
	return r.db.WithContext(ctx).Where("file_key = ?", fileKey).Delete(&model.Document{}).Error
}
