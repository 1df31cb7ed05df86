package service

import (
	"context"
	"strings"

	"docchat-go/internal/config"
	"docchat-go/pkg/apperr"
	"docchat-go/pkg/embedding"
	"docchat-go/pkg/log"
	"docchat-go/pkg/vectorindex"
)

// Retriever 为问题组装来自文档的上下文。
type Retriever interface {
	// Retrieve 返回与 query 最相关的分块文本。没有达到阈值的匹配时返回空字符串；
	// 命名空间不存在或索引查询失败时返回 apperr.ErrRetrieval。
	Retrieve(ctx context.Context, query, fileKey string) (string, error)
}

type retriever struct {
	embedder embedding.Client
	index    vectorindex.Index
	cfg      config.RAGConfig
}

// NewRetriever 创建一个新的 Retriever 实例。
func NewRetriever(embedder embedding.Client, index vectorindex.Index, cfg config.RAGConfig) Retriever {
	return &retriever{embedder: embedder, index: index, cfg: cfg}
}

func (r *retriever) Retrieve(ctx context.Context, query, fileKey string) (string, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return "", err
	}

	namespace := vectorindex.Namespace(fileKey)
	matches, err := r.index.Query(ctx, namespace, vector, r.cfg.TopK)
	if err != nil {
		if apperr.Kind(err) == nil {
			err = apperr.Wrap(apperr.ErrRetrieval, "query index", err)
		}
		return "", err
	}

	text := AssembleContext(matches, r.cfg.MinScore, r.cfg.MaxContextChars)
	log.Debugf("[Retriever] namespace: %s, matches: %d, context chars: %d", namespace, len(matches), len([]rune(text)))
	return text, nil
}

// AssembleContext 保留相似度严格大于 minScore 的匹配，按索引返回的顺序以换行连接，
// 并截断到至多 maxChars 个字符。
func AssembleContext(matches []vectorindex.Match, minScore float64, maxChars int) string {
	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Score > minScore {
			texts = append(texts, m.Metadata.Text)
		}
	}
	joined := strings.Join(texts, "\n")

	if maxChars < 0 {
		maxChars = 0
	}
	runes := []rune(joined)
	if len(runes) > maxChars {
		return string(runes[:maxChars])
	}
	return joined
}
