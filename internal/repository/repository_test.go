package repository

import (
	"context"
	"path/filepath"
	"testing"

	"docchat-go/internal/config"
	"docchat-go/internal/model"
	"docchat-go/pkg/apperr"
	"docchat-go/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "repo.db")},
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

func TestChatRepositoryPreservesMessageOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewChatRepository(newTestDB(t))

	require.NoError(t, repo.Create(ctx, &model.Chat{ID: "01HZZZZZZZZZZZZZZZZZZZZZZA", FileKey: "uploads/a.pdf", OwnerID: 1}))
	require.NoError(t, repo.Create(ctx, &model.Chat{ID: "01HZZZZZZZZZZZZZZZZZZZZZZB", FileKey: "uploads/b.pdf", OwnerID: 1}))

	// 两个会话交替写入
	for i, content := range []string{"q1", "other", "a1", "q2", "other2", "a2"} {
		chatID := "01HZZZZZZZZZZZZZZZZZZZZZZA"
		role := model.RoleUser
		if i%3 == 1 {
			chatID = "01HZZZZZZZZZZZZZZZZZZZZZZB"
		}
		if content == "a1" || content == "a2" {
			role = model.RoleAssistant
		}
		require.NoError(t, repo.AppendMessage(ctx, &model.Message{ChatID: chatID, Role: role, Content: content}))
	}

	msgs, err := repo.ListMessages(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZA")
	require.NoError(t, err)
	var contents []string
	for _, m := range msgs {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"q1", "a1", "q2", "a2"}, contents)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
}

func TestChatRepositoryNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewChatRepository(newTestDB(t))

	_, err := repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrChatNotFound)

	err = repo.Delete(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrChatNotFound)
}

func TestChatRepositoryDeleteRemovesMessages(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewChatRepository(db)

	require.NoError(t, repo.Create(ctx, &model.Chat{ID: "c1", FileKey: "k", OwnerID: 7}))
	require.NoError(t, repo.AppendMessage(ctx, &model.Message{ChatID: "c1", Role: model.RoleUser, Content: "hi"}))

	require.NoError(t, repo.Delete(ctx, "c1"))

	var count int64
	require.NoError(t, db.Model(&model.Message{}).Where("chat_id = ?", "c1").Count(&count).Error)
	assert.Zero(t, count)
	chats, err := repo.ListByOwner(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestChatRepositoryListByOwner(t *testing.T) {
	ctx := context.Background()
	repo := NewChatRepository(newTestDB(t))

	require.NoError(t, repo.Create(ctx, &model.Chat{ID: "c1", FileKey: "k1", OwnerID: 1}))
	require.NoError(t, repo.Create(ctx, &model.Chat{ID: "c2", FileKey: "k2", OwnerID: 2}))

	chats, err := repo.ListByOwner(ctx, 1)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "c1", chats[0].ID)
}

func TestDocumentRepositoryStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(newTestDB(t))

	_, err := repo.FindByFileKey(ctx, "uploads/none.pdf")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	require.NoError(t, repo.Create(ctx, &model.Document{FileKey: "uploads/1-a.pdf", FileName: "a.pdf", OwnerID: 1, Status: model.DocumentPending}))
	require.NoError(t, repo.UpdateStatus(ctx, "uploads/1-a.pdf", model.DocumentReady))

	doc, err := repo.FindByFileKey(ctx, "uploads/1-a.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentReady, doc.Status)

	require.NoError(t, repo.Delete(ctx, "uploads/1-a.pdf"))
	_, err = repo.FindByFileKey(ctx, "uploads/1-a.pdf")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestChunkRecordRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewChunkRecordRepository(newTestDB(t))

	require.NoError(t, repo.BatchCreate(ctx, nil))
	require.NoError(t, repo.BatchCreate(ctx, []*model.ChunkRecord{
		{FileKey: "k", VectorID: "b", Page: 1, Ordinal: 1, Batch: 1},
		{FileKey: "k", VectorID: "a", Page: 1, Ordinal: 0, Batch: 1},
		{FileKey: "other", VectorID: "c", Page: 1, Ordinal: 0, Batch: 1},
	}))

	records, err := repo.FindByFileKey(ctx, "k")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].VectorID)

	require.NoError(t, repo.DeleteByFileKey(ctx, "k"))
	records, err = repo.FindByFileKey(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, records)
}
