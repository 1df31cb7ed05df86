package repository

import (
	"context"
	"errors"

	"docchat-go/internal/model"
	"docchat-go/pkg/apperr"

	"gorm.io/gorm"
)

// ChatRepository 定义了会话与消息的存取接口。消息只追加，按自增 ID 排序即创建顺序。
type ChatRepository interface {
	Create(ctx context.Context, chat *model.Chat) error
	FindByID(ctx context.Context, id string) (*model.Chat, error)
	ListByOwner(ctx context.Context, ownerID uint) ([]model.Chat, error)
	// Delete 在一个事务中删除会话及其全部消息。
	Delete(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, chatID string) ([]model.Message, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) Create(ctx context.Context, chat *model.Chat) error {
	return r.db.WithContext(ctx).Create(chat).Error
}

// FindByID 会话不存在时返回 apperr.ErrChatNotFound。
func (r *chatRepository) FindByID(ctx context.Context, id string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Wrap(apperr.ErrChatNotFound, "find chat", nil)
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepository) ListByOwner(ctx context.Context, ownerID uint) ([]model.Chat, error) {
	var chats []model.Chat
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC, id DESC").Find(&chats).Error
	return chats, err
}

func (r *chatRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Chat{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.Wrap(apperr.ErrChatNotFound, "delete chat", nil)
		}
		return nil
	})
}

func (r *chatRepository) AppendMessage(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *chatRepository) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("id ASC").Find(&msgs).Error
	return msgs, err
}
