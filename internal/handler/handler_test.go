package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docchat-go/internal/config"
	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/internal/service"
	"docchat-go/pkg/apperr"
	"docchat-go/pkg/database"
	"docchat-go/pkg/llm"
	"docchat-go/pkg/tasks"
	"docchat-go/pkg/token"
	"docchat-go/pkg/vectorindex"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChatID  = "01J0000000000000000000CHAT"
	testFileKey = "uploads/1-notes.pdf"
	testUser    = uint(11)
)

func init() {
	gin.SetMode(gin.TestMode)
}

type constEmbedder struct{}

func (constEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type scriptedLLM struct {
	chunks    []string
	errBefore error
}

func (s *scriptedLLM) StreamChatMessages(ctx context.Context, _ []llm.Message, _ *llm.GenerationParams, w llm.StreamWriter) error {
	if s.errBefore != nil {
		return s.errBefore
	}
	w.Begin()
	for _, c := range s.chunks {
		if err := ctx.Err(); err != nil {
			return apperr.Wrap(apperr.ErrGeneration, "read stream", err)
		}
		if err := w.WriteChunk(c); err != nil {
			return apperr.Wrap(apperr.ErrGeneration, "write chunk", err)
		}
	}
	return nil
}

type memStore struct{ objects map[string][]byte }

func (m *memStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	m.objects[key] = data
	return err
}

func (m *memStore) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://minio.local/" + key, nil
}

type testServer struct {
	router   *gin.Engine
	llm      *scriptedLLM
	chatRepo repository.ChatRepository
	store    *memStore
	token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "handler.db")},
	})
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))

	chatRepo := repository.NewChatRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	ledger := repository.NewChunkRecordRepository(db)
	require.NoError(t, docRepo.Create(ctx, &model.Document{FileKey: testFileKey, FileName: "notes.pdf", OwnerID: testUser, Status: model.DocumentReady}))
	require.NoError(t, chatRepo.Create(ctx, &model.Chat{ID: testChatID, FileKey: testFileKey, FileName: "notes.pdf", OwnerID: testUser}))

	index := vectorindex.NewMemory()
	require.NoError(t, index.EnsureNamespace(ctx, vectorindex.Namespace(testFileKey)))

	s := &testServer{
		llm:      &scriptedLLM{chunks: []string{"Hello", ", ", "world"}},
		chatRepo: chatRepo,
		store:    &memStore{objects: map[string][]byte{}},
	}
	ingest := ingestFunc(func(ctx context.Context, task tasks.IngestTask) error {
		return docRepo.UpdateStatus(ctx, task.FileKey, model.DocumentReady)
	})
	jwtManager := token.NewJWTManager("handler-secret", 1)
	s.token, err = jwtManager.GenerateToken(testUser, "alice")
	require.NoError(t, err)

	retriever := service.NewRetriever(constEmbedder{}, index, config.DefaultRAG())
	s.router = gin.New()
	RegisterRoutes(s.router, Handlers{
		Chat:         NewChatHandler(service.NewChatService(chatRepo, docRepo, retriever, s.llm, config.LLMConfig{}), jwtManager),
		Conversation: NewConversationHandler(service.NewConversationService(chatRepo, docRepo, ledger, ingest, nil)),
		Document:     NewDocumentHandler(service.NewDocumentService(s.store, chatRepo, 10)),
	}, jwtManager)
	return s
}

type ingestFunc func(ctx context.Context, task tasks.IngestTask) error

func (f ingestFunc) Handle(ctx context.Context, task tasks.IngestTask) error { return f(ctx, task) }

func (s *testServer) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+s.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) postJSON(path string, v interface{}) *httptest.ResponseRecorder {
	b, _ := json.Marshal(v)
	return s.do(http.MethodPost, path, bytes.NewReader(b), "application/json")
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestChatStreamsPlainText(t *testing.T) {
	s := newTestServer(t)

	w := s.postJSON("/api/v1/chat", gin.H{"chatId": testChatID, "messages": []model.Turn{{Role: "user", Content: "hi"}}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello, world", w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))

	w = s.do(http.MethodGet, "/api/v1/chats/"+testChatID+"/messages", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []model.MessageDTO
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "Hello, world", msgs[1].Content)
}

func TestChatErrorsBeforeFirstByte(t *testing.T) {
	tests := []struct {
		name    string
		chatID  string
		llmErr  error
		status  int
		message string
	}{
		{"unknown chat", "nope", nil, http.StatusNotFound, "chat not found"},
		{"generation failure", testChatID, apperr.Wrap(apperr.ErrGeneration, "chat completions", errors.New("upstream 503: overloaded")), http.StatusInternalServerError, "something went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.llm.errBefore = tt.llmErr

			w := s.postJSON("/api/v1/chat", gin.H{"chatId": tt.chatID, "messages": []model.Turn{{Role: "user", Content: "hi"}}})
			assert.Equal(t, tt.status, w.Code)
			env := decode(t, w)
			assert.Equal(t, tt.status, env.Code)
			assert.Equal(t, tt.message, env.Message)
			assert.NotContains(t, w.Body.String(), "overloaded")
		})
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	s := newTestServer(t)

	w := s.postJSON("/api/v1/chat", gin.H{"messages": []model.Turn{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{}`))
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChatCrud(t *testing.T) {
	s := newTestServer(t)

	w := s.postJSON("/api/v1/chats", gin.H{"fileKey": "uploads/2-b.pdf", "fileName": "b.pdf"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created model.ChatDTO
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &created))
	assert.Equal(t, "b.pdf", created.FileName)
	assert.Equal(t, model.DocumentReady, created.Status)

	w = s.do(http.MethodGet, "/api/v1/chats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var chats []model.ChatDTO
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &chats))
	assert.Len(t, chats, 2)

	w = s.do(http.MethodDelete, "/api/v1/chats/"+created.ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodDelete, "/api/v1/chats/"+created.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.postJSON("/api/v1/chats", gin.H{"fileName": "no-key.pdf"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadAndDownloadURL(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "lecture 3.pdf")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("%PDF-1.7 test"))
	require.NoError(t, mw.Close())

	w := s.do(http.MethodPost, "/api/v1/documents", &body, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res service.UploadResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
	assert.Regexp(t, `^uploads/\d+-lecture-3\.pdf$`, res.FileKey)
	assert.Equal(t, "%PDF-1.7 test", string(s.store.objects[res.FileKey]))

	w = s.do(http.MethodGet, "/api/v1/chats/"+testChatID+"/document", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://minio.local/"+testFileKey)
}

func TestUploadRejectsNonPDF(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("text"))
	require.NoError(t, mw.Close())

	w := s.do(http.MethodPost, "/api/v1/documents", &body, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebSocketStream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws/" + s.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(gin.H{"chatId": testChatID, "messages": []model.Turn{{Role: "user", Content: "hi"}}}))

	var answer strings.Builder
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var frame map[string]string
		require.NoError(t, conn.ReadJSON(&frame))
		if frame["type"] == "completion" {
			break
		}
		require.Empty(t, frame["error"])
		answer.WriteString(frame["chunk"])
	}
	assert.Equal(t, "Hello, world", answer.String())

	// 未知会话返回错误帧，连接保持可用
	require.NoError(t, conn.WriteJSON(gin.H{"chatId": "missing", "messages": []model.Turn{{Role: "user", Content: "hi"}}}))
	var frame map[string]string
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "chat not found", frame["error"])
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat/ws/not-a-token", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
