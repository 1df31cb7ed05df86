// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"strings"

	"docchat-go/internal/config"
	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/apperr"
	"docchat-go/pkg/llm"
	"docchat-go/pkg/log"
)

const (
	defaultRules = "You are a helpful assistant answering questions about the user's document. " +
		"Answer using the reference context between the markers below. " +
		"If the context does not contain enough information, ask the user a clarifying question instead of guessing. " +
		"If the user greets you or makes small talk, reply conversationally."
	defaultRefStart     = "<<REF>>"
	defaultRefEnd       = "<<END>>"
	defaultNoResultText = "(no relevant content was found in the document for this question)"
)

// 一次问答请求经历的状态。
const (
	StateValidating = "validating"
	StateRetrieving = "retrieving"
	StateStreaming  = "streaming"
	StatePersisted  = "persisted"
	StateFailed     = "failed"
)

// TokenSink 接收流式生成的文本分块。第一次调用 WriteToken 意味着响应已经开始输出。
type TokenSink interface {
	WriteToken(token string) error
}

// StreamRequest 是一次问答请求。
type StreamRequest struct {
	ChatID    string
	OwnerID   uint
	Turns     []model.Turn
	RequestID string
}

// ChatService 定义了基于文档的流式问答。
type ChatService interface {
	// Stream 检索上下文并把回答流式写入 sink。
	// 上游返回后立即在后台写入用户消息；生成完整结束后写入助手消息。
	// ctx 被取消（客户端断开）时不写助手消息。
	Stream(ctx context.Context, req StreamRequest, sink TokenSink) error
}

type chatService struct {
	chatRepo  repository.ChatRepository
	docRepo   repository.DocumentRepository
	retriever Retriever
	llmClient llm.Client
	llmCfg    config.LLMConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	chatRepo repository.ChatRepository,
	docRepo repository.DocumentRepository,
	retriever Retriever,
	llmClient llm.Client,
	llmCfg config.LLMConfig,
) ChatService {
	return &chatService{
		chatRepo:  chatRepo,
		docRepo:   docRepo,
		retriever: retriever,
		llmClient: llmClient,
		llmCfg:    llmCfg,
	}
}

// streamRun 记录一次请求的状态迁移。
type streamRun struct {
	requestID string
	chatID    string
	state     string
}

func (r *streamRun) to(state string) {
	log.Infow("[Streamer] transition", "request_id", r.requestID, "chat_id", r.chatID, "from", r.state, "to", state)
	r.state = state
}

func (r *streamRun) fail(err error) error {
	log.Warnw("[Streamer] transition", "request_id", r.requestID, "chat_id", r.chatID, "from", r.state, "to", StateFailed, "error", err)
	r.state = StateFailed
	return err
}

func (s *chatService) Stream(ctx context.Context, req StreamRequest, sink TokenSink) error {
	run := &streamRun{requestID: req.RequestID, chatID: req.ChatID, state: StateValidating}

	// Validating
	chat, err := s.chatRepo.FindByID(ctx, req.ChatID)
	if err != nil {
		return run.fail(err)
	}
	if chat.OwnerID != req.OwnerID {
		return run.fail(apperr.Wrap(apperr.ErrChatNotFound, "find chat", nil))
	}
	if err := s.checkDocumentReady(ctx, chat.FileKey); err != nil {
		return run.fail(err)
	}
	query, userTurns := splitTurns(req.Turns)
	if query == "" {
		return run.fail(apperr.Wrap(apperr.ErrInvalidInput, "validate turns", errors.New("no user message")))
	}

	// Retrieving
	run.to(StateRetrieving)
	contextText, err := s.retriever.Retrieve(ctx, query, chat.FileKey)
	if err != nil {
		return run.fail(err)
	}

	// Streaming
	run.to(StateStreaming)
	messages := make([]llm.Message, 0, len(userTurns)+1)
	messages = append(messages, llm.Message{Role: model.RoleSystem, Content: s.buildSystemMessage(contextText)})
	for _, content := range userTurns {
		messages = append(messages, llm.Message{Role: model.RoleUser, Content: content})
	}

	w := &answerWriter{sink: sink}
	w.onBegin = func() {
		w.userSaved = make(chan error, 1)
		go func() {
			// 不随请求取消：用户的问题在开始输出后必须落库
			w.userSaved <- s.chatRepo.AppendMessage(context.WithoutCancel(ctx), &model.Message{
				ChatID:  chat.ID,
				Role:    model.RoleUser,
				Content: query,
			})
		}()
	}

	streamErr := s.llmClient.StreamChatMessages(ctx, messages, llm.ParamsFromConfig(s.llmCfg.Generation), w)
	if w.userSaved != nil {
		if err := <-w.userSaved; err != nil {
			log.Errorw("[Streamer] failed to save user message", "request_id", req.RequestID, "chat_id", chat.ID, "error", err)
		}
	}
	if streamErr != nil {
		return run.fail(streamErr)
	}
	if err := ctx.Err(); err != nil {
		// 客户端已断开，放弃写入助手消息
		return run.fail(err)
	}

	// Persisted
	if err := s.chatRepo.AppendMessage(ctx, &model.Message{
		ChatID:  chat.ID,
		Role:    model.RoleAssistant,
		Content: w.answer.String(),
	}); err != nil {
		log.Errorw("[Streamer] failed to save assistant message", "request_id", req.RequestID, "chat_id", chat.ID, "error", err)
		return run.fail(err)
	}
	run.to(StatePersisted)
	return nil
}

func (s *chatService) checkDocumentReady(ctx context.Context, fileKey string) error {
	doc, err := s.docRepo.FindByFileKey(ctx, fileKey)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		// 通过命令行入库的文档没有 documents 记录
		return nil
	}
	if err != nil {
		return err
	}
	if doc.Status != model.DocumentReady {
		return apperr.Wrap(apperr.ErrDocumentNotReady, "check document", errors.New(doc.Status))
	}
	return nil
}

// splitTurns 返回最后一条用户消息以及全部用户消息（按原顺序），助手消息被丢弃。
func splitTurns(turns []model.Turn) (string, []string) {
	var userTurns []string
	for _, t := range turns {
		if t.Role == model.RoleUser && strings.TrimSpace(t.Content) != "" {
			userTurns = append(userTurns, t.Content)
		}
	}
	if len(userTurns) == 0 {
		return "", nil
	}
	return userTurns[len(userTurns)-1], userTurns
}

func (s *chatService) buildSystemMessage(contextText string) string {
	p := s.llmCfg.Prompt
	rules := orDefault(p.Rules, defaultRules)
	refStart := orDefault(p.RefStart, defaultRefStart)
	refEnd := orDefault(p.RefEnd, defaultRefEnd)

	var sys strings.Builder
	sys.WriteString(rules)
	sys.WriteString("\n\n")
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if contextText != "" {
		sys.WriteString(contextText)
	} else {
		sys.WriteString(orDefault(p.NoResultText, defaultNoResultText))
	}
	sys.WriteString("\n")
	sys.WriteString(refEnd)
	return sys.String()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// answerWriter 把分块转发给 sink，同时累积完整回答。
type answerWriter struct {
	sink      TokenSink
	answer    strings.Builder
	onBegin   func()
	userSaved chan error
}

// Begin 满足 llm.StreamWriter 接口。
func (w *answerWriter) Begin() {
	if w.onBegin != nil {
		w.onBegin()
	}
}

// WriteChunk 满足 llm.StreamWriter 接口。
func (w *answerWriter) WriteChunk(content string) error {
	w.answer.WriteString(content)
	return w.sink.WriteToken(content)
}
