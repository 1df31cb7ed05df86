package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"docchat-go/internal/config"
	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/apperr"
	"docchat-go/pkg/database"
	"docchat-go/pkg/llm"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// mapEmbedder 按文本查表返回向量，未知文本返回 EmbeddingError。
type mapEmbedder map[string][]float32

func (m mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := m[text]
	if !ok {
		return nil, apperr.Wrap(apperr.ErrEmbedding, "embed", errors.New("missing embedding"))
	}
	return v, nil
}

// fakeLLM 依次输出 chunks。errBefore 在开始输出前返回，errAfter 在全部分块之后返回。
type fakeLLM struct {
	mu        sync.Mutex
	chunks    []string
	errBefore error
	errAfter  error
	afterEach func(i int)
	calls     [][]llm.Message
}

func (f *fakeLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, _ *llm.GenerationParams, w llm.StreamWriter) error {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.mu.Unlock()

	if f.errBefore != nil {
		return f.errBefore
	}
	w.Begin()
	for i, c := range f.chunks {
		if err := ctx.Err(); err != nil {
			return apperr.Wrap(apperr.ErrGeneration, "read stream", err)
		}
		if err := w.WriteChunk(c); err != nil {
			return apperr.Wrap(apperr.ErrGeneration, "write chunk", err)
		}
		if f.afterEach != nil {
			f.afterEach(i)
		}
	}
	return f.errAfter
}

func (f *fakeLLM) lastCall() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type recordingSink struct {
	tokens []string
}

func (s *recordingSink) WriteToken(token string) error {
	s.tokens = append(s.tokens, token)
	return nil
}

func (s *recordingSink) String() string {
	return strings.Join(s.tokens, "")
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "service.db")},
	})
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	return db
}

func llmUser(content string) llm.Message {
	return llm.Message{Role: model.RoleUser, Content: content}
}
