package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"docchat-go/internal/middleware"
	"docchat-go/internal/model"
	"docchat-go/internal/service"
	"docchat-go/pkg/log"
	"docchat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责问答接口：HTTP 分块流和 WebSocket。
type ChatHandler struct {
	chatService service.ChatService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{chatService: chatService, jwtManager: jwtManager}
}

type chatRequest struct {
	ChatID   string       `json:"chatId" binding:"required"`
	Messages []model.Turn `json:"messages" binding:"required"`
}

// httpSink 在第一个分块到达时才提交响应头，此前的错误仍可以以 JSON 返回。
type httpSink struct {
	c       *gin.Context
	started bool
}

func (s *httpSink) WriteToken(tok string) error {
	if !s.started {
		s.c.Header("Content-Type", "text/plain; charset=utf-8")
		s.c.Header("Cache-Control", "no-cache")
		s.c.Header("X-Content-Type-Options", "nosniff")
		s.c.Status(http.StatusOK)
		s.started = true
	}
	if _, err := s.c.Writer.WriteString(tok); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}

// Stream 处理 POST /api/v1/chat，以 text/plain 分块返回回答。
func (h *ChatHandler) Stream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "invalid request", "data": nil})
		return
	}

	sink := &httpSink{c: c}
	err := h.chatService.Stream(c.Request.Context(), service.StreamRequest{
		ChatID:    req.ChatID,
		OwnerID:   userID(c),
		Turns:     req.Messages,
		RequestID: middleware.RequestID(c),
	}, sink)
	if err == nil {
		return
	}
	if !sink.started {
		respondError(c, err)
		return
	}
	// 响应已经开始，只能就此结束
	log.Warnw("[ChatHandler] stream terminated", "requestID", middleware.RequestID(c), "chatId", req.ChatID, "error", err)
}

// wsSink 把分块包装成 {"chunk":"..."} 帧。
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) WriteToken(tok string) error {
	return s.conn.WriteJSON(map[string]string{"chunk": tok})
}

type wsFrame struct {
	Type     string       `json:"type"`
	ChatID   string       `json:"chatId"`
	Messages []model.Turn `json:"messages"`
}

// Handle 处理 GET /chat/ws/:token。令牌在路径中传递，因为浏览器的 WebSocket 无法设置请求头。
// 客户端发送 {"type":"stop"} 可以中断当前回答。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	connCtx, connCancel := context.WithCancel(c.Request.Context())
	defer connCancel()

	var (
		mu         sync.Mutex
		stopStream context.CancelFunc
	)
	frames := make(chan wsFrame, 8)

	// 读协程：连接断开时取消正在进行的回答
	go func() {
		defer close(frames)
		defer connCancel()
		for {
			var frame wsFrame
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Infof("WebSocket 连接关闭: %v", err)
				return
			}
			if err := json.Unmarshal(data, &frame); err != nil {
				frame = wsFrame{Type: "invalid"}
			}
			if frame.Type == "stop" {
				mu.Lock()
				if stopStream != nil {
					stopStream()
				}
				mu.Unlock()
				continue
			}
			select {
			case frames <- frame:
			case <-connCtx.Done():
				return
			}
		}
	}()

	sink := &wsSink{conn: conn}
	for frame := range frames {
		if frame.Type == "invalid" || frame.ChatID == "" {
			_ = conn.WriteJSON(map[string]string{"error": "invalid request"})
			continue
		}

		streamCtx, cancel := context.WithCancel(connCtx)
		mu.Lock()
		stopStream = cancel
		mu.Unlock()

		err := h.chatService.Stream(streamCtx, service.StreamRequest{
			ChatID:    frame.ChatID,
			OwnerID:   claims.UserID,
			Turns:     frame.Messages,
			RequestID: middleware.RequestID(c),
		}, sink)
		stopped := streamCtx.Err() != nil && connCtx.Err() == nil

		mu.Lock()
		stopStream = nil
		mu.Unlock()
		cancel()

		switch {
		case err == nil:
			_ = conn.WriteJSON(map[string]string{"type": "completion"})
		case stopped:
			_ = conn.WriteJSON(map[string]string{"type": "stop"})
		case connCtx.Err() != nil:
			return
		default:
			_, message := statusOf(err)
			log.Errorw("[ChatHandler] websocket stream failed", "chatId", frame.ChatID, "error", err)
			_ = conn.WriteJSON(map[string]string{"error": message})
		}
	}
}

