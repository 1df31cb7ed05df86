// Package es 提供基于 Elasticsearch dense_vector 的向量索引实现。
// 每个命名空间对应一个独立索引，索引名为 prefix + namespace。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"docchat-go/internal/config"
	"docchat-go/pkg/apperr"
	"docchat-go/pkg/log"
	"docchat-go/pkg/vectorindex"

	"github.com/elastic/go-elasticsearch/v8"
)

// Index 实现 vectorindex.Index。
type Index struct {
	client *elasticsearch.Client
	prefix string
	dims   int
}

var _ vectorindex.Index = (*Index)(nil)

// NewClient 根据配置创建 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	var addrs []string
	for _, a := range strings.Split(esCfg.Addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	cfg := elasticsearch.Config{
		Addresses: addrs,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
	}
	if esCfg.InsecureTLS {
		cfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return elasticsearch.NewClient(cfg)
}

// New 创建向量索引。dims 为 0 时由第一条写入的文档决定向量维度。
func New(client *elasticsearch.Client, prefix string, dims int) *Index {
	return &Index{client: client, prefix: prefix, dims: dims}
}

func (x *Index) indexName(namespace string) string {
	return x.prefix + namespace
}

type document struct {
	Text   string    `json:"text"`
	Page   int       `json:"page"`
	Vector []float32 `json:"vector"`
}

func (x *Index) mapping() string {
	vector := map[string]interface{}{
		"type":       "dense_vector",
		"index":      true,
		"similarity": "cosine",
	}
	if x.dims > 0 {
		vector["dims"] = x.dims
	}
	m := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"text":   map[string]interface{}{"type": "text", "index": false},
				"page":   map[string]interface{}{"type": "integer"},
				"vector": vector,
			},
		},
	}
	b, _ := json.Marshal(m)
	return string(b)
}

// EnsureNamespace 检查索引是否存在，不存在则按 dense_vector 映射创建。
func (x *Index) EnsureNamespace(ctx context.Context, namespace string) error {
	name := x.indexName(namespace)
	res, err := x.client.Indices.Exists([]string{name}, x.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return apperr.Wrap(apperr.ErrRetrieval, "check index", err)
	}
	if res.Body != nil {
		res.Body.Close()
	}
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return apperr.Wrap(apperr.ErrRetrieval, "check index", fmt.Errorf("unexpected status %d for %s", res.StatusCode, name))
	}

	res, err = x.client.Indices.Create(
		name,
		x.client.Indices.Create.WithContext(ctx),
		x.client.Indices.Create.WithBody(strings.NewReader(x.mapping())),
	)
	if err != nil {
		return apperr.Wrap(apperr.ErrRetrieval, "create index", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		// 并发入库时另一方可能已经创建了索引
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		log.Errorf("[ES] 创建索引 '%s' 时 Elasticsearch 返回错误: %s", name, string(body))
		return apperr.Wrap(apperr.ErrRetrieval, "create index", fmt.Errorf("status %s", res.Status()))
	}
	log.Infof("[ES] 索引 '%s' 创建成功", name)
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Upsert 通过一次 Bulk 请求写入一批向量，文档 ID 即向量 ID，重复写入会覆盖。
func (x *Index) Upsert(ctx context.Context, namespace string, vectors []vectorindex.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	name := x.indexName(namespace)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, v := range vectors {
		action := map[string]interface{}{"index": map[string]string{"_index": name, "_id": v.ID}}
		if err := enc.Encode(action); err != nil {
			return apperr.Wrap(apperr.ErrRetrieval, "encode bulk action", err)
		}
		if err := enc.Encode(document{Text: v.Metadata.Text, Page: v.Metadata.Page, Vector: v.Values}); err != nil {
			return apperr.Wrap(apperr.ErrRetrieval, "encode bulk document", err)
		}
	}

	res, err := x.client.Bulk(
		&buf,
		x.client.Bulk.WithContext(ctx),
		x.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return apperr.Wrap(apperr.ErrRetrieval, "bulk upsert", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("[ES] Bulk 写入 '%s' 失败: %s", name, string(body))
		return apperr.Wrap(apperr.ErrRetrieval, "bulk upsert", fmt.Errorf("status %s", res.Status()))
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return apperr.Wrap(apperr.ErrRetrieval, "decode bulk response", err)
	}
	if br.Errors {
		for _, item := range br.Items {
			for _, r := range item {
				if r.Error != nil {
					return apperr.Wrap(apperr.ErrRetrieval, "bulk upsert", fmt.Errorf("document %s: %s: %s", r.ID, r.Error.Type, r.Error.Reason))
				}
			}
		}
		return apperr.Wrap(apperr.ErrRetrieval, "bulk upsert", fmt.Errorf("bulk response reported errors"))
	}
	return nil
}

// Query 执行 kNN 检索。
// Elasticsearch 对 cosine 相似度返回 (1+cos)/2，这里换算回余弦值，使阈值与其他后端一致。
func (x *Index) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]vectorindex.Match, error) {
	name := x.indexName(namespace)
	numCandidates := topK * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	query := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": numCandidates,
		},
		"size":    topK,
		"_source": []string{"text", "page"},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, apperr.Wrap(apperr.ErrRetrieval, "encode knn query", err)
	}

	res, err := x.client.Search(
		x.client.Search.WithContext(ctx),
		x.client.Search.WithIndex(name),
		x.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrRetrieval, "knn search", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, apperr.Wrap(apperr.ErrRetrieval, "knn search", fmt.Errorf("%w: %s", vectorindex.ErrNamespaceNotFound, namespace))
	}
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("[ES] kNN 检索 '%s' 失败, status: %s, body: %s", name, res.Status(), string(body))
		return nil, apperr.Wrap(apperr.ErrRetrieval, "knn search", fmt.Errorf("status %s", res.Status()))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				ID     string               `json:"_id"`
				Score  float64              `json:"_score"`
				Source vectorindex.Metadata `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, apperr.Wrap(apperr.ErrRetrieval, "decode knn response", err)
	}

	matches := make([]vectorindex.Match, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		matches = append(matches, vectorindex.Match{
			ID:       hit.ID,
			Score:    2*hit.Score - 1,
			Metadata: hit.Source,
		})
	}
	return matches, nil
}
