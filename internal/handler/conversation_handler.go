package handler

import (
	"net/http"

	"docchat-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理会话的创建、列举和删除。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

type createChatRequest struct {
	FileKey  string `json:"fileKey" binding:"required"`
	FileName string `json:"fileName"`
}

// CreateChat 为已上传的文档创建会话。
func (h *ConversationHandler) CreateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "invalid request", "data": nil})
		return
	}

	chat, err := h.service.CreateChat(c.Request.Context(), userID(c), req.FileKey, req.FileName)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, chat)
}

// ListChats 返回当前用户的会话，最新的在前。
func (h *ConversationHandler) ListChats(c *gin.Context) {
	chats, err := h.service.ListChats(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, chats)
}

// ListMessages 按创建顺序返回会话中的消息。
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	msgs, err := h.service.ListMessages(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, msgs)
}

// DeleteChat 删除会话。
func (h *ConversationHandler) DeleteChat(c *gin.Context) {
	if err := h.service.DeleteChat(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}
