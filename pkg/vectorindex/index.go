// Package vectorindex 定义了向量索引的窄接口以及文档命名空间的推导规则。
// 具体后端见 pkg/es（Elasticsearch）、pkg/pgindex（Postgres + pgvector）和本包的 Memory。
package vectorindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrNamespaceNotFound 表示查询的命名空间从未创建，即文档尚未入库。
var ErrNamespaceNotFound = errors.New("namespace not found")

// Metadata 随向量一起存储，查询时原样返回。
type Metadata struct {
	Text string `json:"text"`
	Page int    `json:"page"`
}

// Vector 是写入索引的一条记录，ID 为分块内容哈希。
type Vector struct {
	ID       string
	Values   []float32
	Metadata Metadata
}

// Match 是一条查询结果。Score 为余弦相似度，取值 [-1, 1]，越大越相似。
type Match struct {
	ID       string
	Score    float64
	Metadata Metadata
}

// Index 是向量索引的客户端契约。实现需要并发安全。
type Index interface {
	// EnsureNamespace 创建命名空间（已存在时不做任何事）。
	EnsureNamespace(ctx context.Context, namespace string) error
	// Upsert 按 ID 写入或覆盖向量。
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	// Query 返回按相似度降序排列的至多 topK 条结果。
	// 命名空间不存在时返回包装了 ErrNamespaceNotFound 的错误。
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error)
}

const (
	namespacePrefix   = "ns-"
	readablePartLimit = 24
)

// Namespace 由 fileKey 推导出向量索引命名空间：
// "ns-" + 可读前缀（小写，非 [a-z0-9] 字符替换为 '-'，最多 24 个字符）+ "-" + sha256(fileKey) 的十六进制。
// 哈希保证不同 fileKey 得到不同命名空间；结果只含小写字母、数字和 '-'，可直接作为 Elasticsearch 索引名。
func Namespace(fileKey string) string {
	sum := sha256.Sum256([]byte(fileKey))
	hash := hex.EncodeToString(sum[:])

	readable := sanitize(fileKey)
	if readable == "" {
		return namespacePrefix + hash
	}
	return namespacePrefix + readable + "-" + hash
}

func sanitize(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		if b.Len() >= readablePartLimit {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
