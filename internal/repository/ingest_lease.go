package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// IngestLease 保证同一个 file key 同一时间只有一次入库在执行。
type IngestLease interface {
	Acquire(ctx context.Context, fileKey string) (bool, error)
	Release(ctx context.Context, fileKey string) error
}

type redisIngestLease struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewIngestLease 创建基于 Redis SET NX 的租约。ttl 应覆盖最长的一次入库。
func NewIngestLease(rdb *redis.Client, ttl time.Duration) IngestLease {
	return &redisIngestLease{rdb: rdb, ttl: ttl}
}

func leaseKey(fileKey string) string {
	return fmt.Sprintf("ingest:lease:%s", fileKey)
}

func (l *redisIngestLease) Acquire(ctx context.Context, fileKey string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, leaseKey(fileKey), time.Now().Unix(), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire ingest lease: %w", err)
	}
	return ok, nil
}

func (l *redisIngestLease) Release(ctx context.Context, fileKey string) error {
	return l.rdb.Del(ctx, leaseKey(fileKey)).Err()
}
