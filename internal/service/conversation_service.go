package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/apperr"
	"docchat-go/pkg/log"
	"docchat-go/pkg/tasks"
	"docchat-go/pkg/vectorindex"

	"github.com/oklog/ulid/v2"
)

// ConversationService 定义了会话的创建、列举和删除。
type ConversationService interface {
	// CreateChat 为已上传的文档创建会话。同步模式下入库失败时不创建会话；
	// 异步模式下立即返回，文档状态为 pending 直到入库完成。
	CreateChat(ctx context.Context, ownerID uint, fileKey, fileName string) (*model.ChatDTO, error)
	ListChats(ctx context.Context, ownerID uint) ([]model.ChatDTO, error)
	ListMessages(ctx context.Context, ownerID uint, chatID string) ([]model.MessageDTO, error)
	// DeleteChat 删除会话、消息、文档记录和分块台账。向量索引中的数据不会被删除。
	DeleteChat(ctx context.Context, ownerID uint, chatID string) error
}

type conversationService struct {
	chatRepo  repository.ChatRepository
	docRepo   repository.DocumentRepository
	ledger    repository.ChunkRecordRepository
	ingester  tasks.Handler
	publisher tasks.Publisher
}

// NewConversationService 创建一个新的 ConversationService。publisher 为 nil 时使用 ingester 同步入库。
func NewConversationService(
	chatRepo repository.ChatRepository,
	docRepo repository.DocumentRepository,
	ledger repository.ChunkRecordRepository,
	ingester tasks.Handler,
	publisher tasks.Publisher,
) ConversationService {
	return &conversationService{
		chatRepo:  chatRepo,
		docRepo:   docRepo,
		ledger:    ledger,
		ingester:  ingester,
		publisher: publisher,
	}
}

func (s *conversationService) CreateChat(ctx context.Context, ownerID uint, fileKey, fileName string) (*model.ChatDTO, error) {
	fileKey = strings.TrimSpace(fileKey)
	if fileKey == "" {
		return nil, apperr.Wrap(apperr.ErrInvalidInput, "create chat", errors.New("fileKey is required"))
	}
	if fileName == "" {
		fileName = FileNameFromKey(fileKey)
	}

	doc := &model.Document{FileKey: fileKey, FileName: fileName, OwnerID: ownerID, Status: model.DocumentPending}
	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}
	chat := &model.Chat{ID: ulid.Make().String(), FileKey: fileKey, FileName: fileName, OwnerID: ownerID}
	task := tasks.IngestTask{FileKey: fileKey, FileName: fileName, ChatID: chat.ID, OwnerID: ownerID}

	if s.publisher == nil {
		if err := s.ingester.Handle(ctx, task); err != nil {
			log.Errorf("[ConversationService] 同步入库失败, fileKey: %s, Error: %v", fileKey, err)
			s.cleanup(ctx, fileKey)
			return nil, err
		}
		doc.Status = model.DocumentReady
		if err := s.chatRepo.Create(ctx, chat); err != nil {
			return nil, err
		}
		return toChatDTO(chat, doc.Status), nil
	}

	if err := s.chatRepo.Create(ctx, chat); err != nil {
		s.cleanup(ctx, fileKey)
		return nil, err
	}
	if err := s.publisher.Publish(ctx, task); err != nil {
		log.Errorf("[ConversationService] 发布入库任务失败, fileKey: %s, Error: %v", fileKey, err)
		if derr := s.chatRepo.Delete(context.WithoutCancel(ctx), chat.ID); derr != nil {
			log.Warnf("[ConversationService] 回滚会话失败 (chat=%s): %v", chat.ID, derr)
		}
		s.cleanup(ctx, fileKey)
		return nil, fmt.Errorf("发布入库任务失败: %w", err)
	}
	log.Infof("[ConversationService] 已发布入库任务, fileKey: %s, chat: %s", fileKey, chat.ID)
	return toChatDTO(chat, doc.Status), nil
}

// cleanup 删除入库失败的文档记录和台账。
func (s *conversationService) cleanup(ctx context.Context, fileKey string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.docRepo.Delete(ctx, fileKey); err != nil {
		log.Warnf("[ConversationService] 删除文档记录失败 (fileKey=%s): %v", fileKey, err)
	}
	if err := s.ledger.DeleteByFileKey(ctx, fileKey); err != nil {
		log.Warnf("[ConversationService] 删除分块台账失败 (fileKey=%s): %v", fileKey, err)
	}
}

func (s *conversationService) ListChats(ctx context.Context, ownerID uint) ([]model.ChatDTO, error) {
	chats, err := s.chatRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	dtos := make([]model.ChatDTO, 0, len(chats))
	for i := range chats {
		status := ""
		if doc, err := s.docRepo.FindByFileKey(ctx, chats[i].FileKey); err == nil {
			status = doc.Status
		}
		dtos = append(dtos, *toChatDTO(&chats[i], status))
	}
	return dtos, nil
}

func (s *conversationService) ListMessages(ctx context.Context, ownerID uint, chatID string) ([]model.MessageDTO, error) {
	if _, err := s.ownedChat(ctx, ownerID, chatID); err != nil {
		return nil, err
	}
	msgs, err := s.chatRepo.ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	dtos := make([]model.MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		dtos = append(dtos, model.MessageDTO{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: model.LocalTime(m.CreatedAt)})
	}
	return dtos, nil
}

func (s *conversationService) DeleteChat(ctx context.Context, ownerID uint, chatID string) error {
	chat, err := s.ownedChat(ctx, ownerID, chatID)
	if err != nil {
		return err
	}
	if err := s.chatRepo.Delete(ctx, chat.ID); err != nil {
		return err
	}
	s.cleanup(ctx, chat.FileKey)
	log.Warnf("[ConversationService] 会话 %s 已删除, 向量命名空间 %s 未清理", chat.ID, vectorindex.Namespace(chat.FileKey))
	return nil
}

func (s *conversationService) ownedChat(ctx context.Context, ownerID uint, chatID string) (*model.Chat, error) {
	chat, err := s.chatRepo.FindByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.OwnerID != ownerID {
		return nil, apperr.Wrap(apperr.ErrChatNotFound, "find chat", nil)
	}
	return chat, nil
}

func toChatDTO(chat *model.Chat, status string) *model.ChatDTO {
	return &model.ChatDTO{
		ID:        chat.ID,
		FileKey:   chat.FileKey,
		FileName:  chat.FileName,
		Status:    status,
		CreatedAt: model.LocalTime(chat.CreatedAt),
	}
}
