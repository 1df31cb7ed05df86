// Package pgindex 提供基于 Postgres + pgvector 的向量索引实现。
// 所有命名空间共用一张表，以 namespace 列隔离。
package pgindex

import (
	"context"
	"fmt"
	"time"

	"docchat-go/pkg/apperr"
	"docchat-go/pkg/vectorindex"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Index 实现 vectorindex.Index。
type Index struct {
	pool *pgxpool.Pool
	dims int
}

var _ vectorindex.Index = (*Index)(nil)

// Connect 创建连接池并确认数据库可用。
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// New 创建向量索引。dims 为 0 时 embedding 列不限定维度。
func New(pool *pgxpool.Pool, dims int) *Index {
	return &Index{pool: pool, dims: dims}
}

// Migrate 创建 pgvector 扩展和所需的表。
func (x *Index) Migrate(ctx context.Context) error {
	column := "vector"
	if x.dims > 0 {
		column = fmt.Sprintf("vector(%d)", x.dims)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS vector_namespaces (
			namespace  TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS vector_entries (
			namespace TEXT NOT NULL REFERENCES vector_namespaces(namespace),
			id        TEXT NOT NULL,
			page      INTEGER NOT NULL,
			text      TEXT NOT NULL,
			embedding %s NOT NULL,
			PRIMARY KEY (namespace, id)
		)`, column),
	}
	for _, stmt := range stmts {
		if _, err := x.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate vector schema: %w", err)
		}
	}
	return nil
}

func (x *Index) EnsureNamespace(ctx context.Context, namespace string) error {
	_, err := x.pool.Exec(ctx,
		`INSERT INTO vector_namespaces (namespace) VALUES ($1) ON CONFLICT (namespace) DO NOTHING`,
		namespace,
	)
	if err != nil {
		return apperr.Wrap(apperr.ErrRetrieval, "ensure namespace", err)
	}
	return nil
}

// Upsert 在一个 pgx.Batch 中写入整批向量，主键冲突时覆盖。
func (x *Index) Upsert(ctx context.Context, namespace string, vectors []vectorindex.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, v := range vectors {
		batch.Queue(
			`INSERT INTO vector_entries (namespace, id, page, text, embedding)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (namespace, id) DO UPDATE
			 SET page = EXCLUDED.page, text = EXCLUDED.text, embedding = EXCLUDED.embedding`,
			namespace, v.ID, v.Metadata.Page, v.Metadata.Text, pgvector.NewVector(v.Values),
		)
	}
	br := x.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range vectors {
		if _, err := br.Exec(); err != nil {
			return apperr.Wrap(apperr.ErrRetrieval, "upsert", fmt.Errorf("vector %s: %w", vectors[i].ID, err))
		}
	}
	return nil
}

// Query 按余弦距离排序，Score = 1 - 距离，即余弦相似度。
func (x *Index) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]vectorindex.Match, error) {
	var exists bool
	if err := x.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM vector_namespaces WHERE namespace = $1)`, namespace,
	).Scan(&exists); err != nil {
		return nil, apperr.Wrap(apperr.ErrRetrieval, "query", err)
	}
	if !exists {
		return nil, apperr.Wrap(apperr.ErrRetrieval, "query", fmt.Errorf("%w: %s", vectorindex.ErrNamespaceNotFound, namespace))
	}

	rows, err := x.pool.Query(ctx,
		`SELECT id, page, text, 1 - (embedding <=> $2) AS score
		 FROM vector_entries
		 WHERE namespace = $1
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		namespace, pgvector.NewVector(vector), topK,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrRetrieval, "query", err)
	}
	defer rows.Close()

	var matches []vectorindex.Match
	for rows.Next() {
		var m vectorindex.Match
		if err := rows.Scan(&m.ID, &m.Metadata.Page, &m.Metadata.Text, &m.Score); err != nil {
			return nil, apperr.Wrap(apperr.ErrRetrieval, "scan match", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.ErrRetrieval, "query", err)
	}
	return matches, nil
}
