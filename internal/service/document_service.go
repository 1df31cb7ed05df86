package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"docchat-go/internal/repository"
	"docchat-go/pkg/apperr"
)

const downloadURLExpiry = time.Hour

// ObjectStore 是文档服务使用的对象存储操作，storage.Store 实现了该接口。
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// UploadResult 是上传接口的返回结构。
type UploadResult struct {
	FileKey  string `json:"fileKey"`
	FileName string `json:"fileName"`
}

// DownloadInfoDTO 封装了文件下载链接所需的信息。
type DownloadInfoDTO struct {
	FileName    string `json:"fileName"`
	DownloadURL string `json:"downloadUrl"`
}

// DocumentService 接口定义了文档上传和下载相关的业务操作。
type DocumentService interface {
	Upload(ctx context.Context, fileName string, r io.Reader, size int64) (*UploadResult, error)
	// DownloadURL 返回会话所关联文档的限时下载链接。
	DownloadURL(ctx context.Context, ownerID uint, chatID string) (*DownloadInfoDTO, error)
}

type documentService struct {
	store    ObjectStore
	chatRepo repository.ChatRepository
	maxBytes int64
	now      func() time.Time
}

// NewDocumentService 创建一个新的 DocumentService 实例。maxUploadMB 为 0 时使用 10MB。
func NewDocumentService(store ObjectStore, chatRepo repository.ChatRepository, maxUploadMB int) DocumentService {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &documentService{
		store:    store,
		chatRepo: chatRepo,
		maxBytes: int64(maxUploadMB) << 20,
		now:      time.Now,
	}
}

func (s *documentService) Upload(ctx context.Context, fileName string, r io.Reader, size int64) (*UploadResult, error) {
	if !strings.EqualFold(filepath.Ext(fileName), ".pdf") {
		return nil, apperr.Wrap(apperr.ErrInvalidInput, "upload", errors.New("only PDF files are accepted"))
	}
	if size <= 0 || size > s.maxBytes {
		return nil, apperr.Wrap(apperr.ErrInvalidInput, "upload", fmt.Errorf("file size %d out of range", size))
	}

	key := ObjectKey(fileName, s.now())
	if err := s.store.Put(ctx, key, r, size, "application/pdf"); err != nil {
		return nil, err
	}
	return &UploadResult{FileKey: key, FileName: fileName}, nil
}

func (s *documentService) DownloadURL(ctx context.Context, ownerID uint, chatID string) (*DownloadInfoDTO, error) {
	chat, err := s.chatRepo.FindByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.OwnerID != ownerID {
		return nil, apperr.Wrap(apperr.ErrChatNotFound, "find chat", nil)
	}
	u, err := s.store.PresignedURL(ctx, chat.FileKey, downloadURLExpiry)
	if err != nil {
		return nil, err
	}
	return &DownloadInfoDTO{FileName: chat.FileName, DownloadURL: u}, nil
}

// ObjectKey 生成上传对象的键：uploads/<毫秒时间戳>-<文件名，空格替换为 '-'>。
func ObjectKey(fileName string, now time.Time) string {
	name := strings.ReplaceAll(filepath.Base(fileName), " ", "-")
	return fmt.Sprintf("uploads/%d-%s", now.UnixMilli(), name)
}

// FileNameFromKey 从对象键还原展示用的文件名，去掉 ObjectKey 添加的时间戳前缀。
func FileNameFromKey(key string) string {
	name := path.Base(key)
	prefix, rest, ok := strings.Cut(name, "-")
	if !ok || rest == "" || prefix == "" || strings.Trim(prefix, "0123456789") != "" {
		return name
	}
	return rest
}

