package handler

import (
	"docchat-go/internal/middleware"
	"docchat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// Handlers 汇总所有路由处理器。
type Handlers struct {
	Chat         *ChatHandler
	Conversation *ConversationHandler
	Document     *DocumentHandler
}

// RegisterRoutes 注册全部 HTTP 路由。
func RegisterRoutes(r *gin.Engine, h Handlers, jwtManager *token.JWTManager) {
	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		apiV1.POST("/documents", h.Document.Upload)

		chats := apiV1.Group("/chats")
		{
			chats.POST("", h.Conversation.CreateChat)
			chats.GET("", h.Conversation.ListChats)
			chats.GET("/:id/messages", h.Conversation.ListMessages)
			chats.GET("/:id/document", h.Document.DownloadURL)
			chats.DELETE("/:id", h.Conversation.DeleteChat)
		}

		apiV1.POST("/chat", h.Chat.Stream)
	}

	// WebSocket 在路径中携带令牌
	r.GET("/chat/ws/:token", h.Chat.Handle)
}
