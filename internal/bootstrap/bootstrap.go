// Package bootstrap 按配置组装服务端和命令行共用的依赖。
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"docchat-go/internal/config"
	"docchat-go/internal/pipeline"
	"docchat-go/internal/repository"
	"docchat-go/internal/service"
	"docchat-go/pkg/database"
	"docchat-go/pkg/embedding"
	"docchat-go/pkg/es"
	"docchat-go/pkg/extract"
	"docchat-go/pkg/log"
	"docchat-go/pkg/pgindex"
	"docchat-go/pkg/storage"
	"docchat-go/pkg/vectorindex"

	"gorm.io/gorm"
)

// App 持有进程内共享的客户端和仓库。
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Store     *storage.Store
	Index     vectorindex.Index
	Embedder  embedding.Client
	Processor *pipeline.Processor
	Retriever service.Retriever

	ChatRepo     repository.ChatRepository
	DocumentRepo repository.DocumentRepository
	ChunkRepo    repository.ChunkRecordRepository

	closers []func()
}

// New 按配置连接数据库、对象存储和向量索引，并组装入库流程。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := repository.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}
	app.DB = db
	app.ChatRepo = repository.NewChatRepository(db)
	app.DocumentRepo = repository.NewDocumentRepository(db)
	app.ChunkRepo = repository.NewChunkRecordRepository(db)

	var lease repository.IngestLease
	if cfg.Database.Redis.Addr != "" {
		rdb, err := database.OpenRedis(ctx, cfg.Database.Redis)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = rdb.Close() })
		lease = repository.NewIngestLease(rdb, time.Duration(cfg.RAG.IngestLeaseSeconds)*time.Second)
	} else {
		log.Warnf("未配置 Redis, 入库不做跨进程互斥")
	}

	store, err := storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store = store

	index, closeIndex, err := newIndex(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.closers = append(app.closers, closeIndex)
	app.Index = index

	extractor, err := extract.New(cfg.Extractor)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Embedder = embedding.NewClient(cfg.Embedding)
	chunker := pipeline.NewChunker(
		pipeline.WithChunkSize(cfg.RAG.ChunkSize),
		pipeline.WithOverlap(cfg.RAG.ChunkOverlap),
		pipeline.WithMetadataMaxBytes(cfg.RAG.MetadataMaxBytes),
	)
	writer := pipeline.NewIndexWriter(app.Embedder, index, app.ChunkRepo, cfg.RAG.UpsertBatchSize, cfg.RAG.EmbedConcurrency)
	app.Processor = pipeline.NewProcessor(store, extractor, chunker, writer, app.DocumentRepo, lease)
	app.Retriever = service.NewRetriever(app.Embedder, index, cfg.RAG)
	return app, nil
}

func newIndex(ctx context.Context, cfg *config.Config) (vectorindex.Index, func(), error) {
	dims := cfg.VectorIndex.Dimensions
	if dims == 0 {
		dims = cfg.Embedding.Dimensions
	}

	switch cfg.VectorIndex.Type {
	case "", "es":
		client, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			return nil, nil, err
		}
		return es.New(client, cfg.Elasticsearch.IndexPrefix, dims), func() {}, nil
	case "pgvector":
		pool, err := pgindex.Connect(ctx, cfg.Database.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		idx := pgindex.New(pool, dims)
		if err := idx.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return idx, pool.Close, nil
	case "memory":
		log.Warnf("使用内存向量索引, 进程退出后数据丢失")
		return vectorindex.NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("未知的 vector_index 类型: %s", cfg.VectorIndex.Type)
	}
}

// Close 释放 New 中打开的连接。
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
