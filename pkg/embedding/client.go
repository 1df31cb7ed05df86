// Package embedding provides a client for OpenAI-compatible embedding endpoints.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docchat-go/internal/config"
	"docchat-go/pkg/apperr"
	"docchat-go/pkg/log"
)

// Client converts text into a vector. One call issues exactly one upstream request.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// NewClient creates an embedding client for the configured endpoint.
func NewClient(cfg config.EmbeddingConfig) Client {
	return NewClientWithHTTP(cfg, &http.Client{Timeout: 60 * time.Second})
}

// NewClientWithHTTP is NewClient with a caller-supplied http.Client.
func NewClientWithHTTP(cfg config.EmbeddingConfig, hc *http.Client) Client {
	return &openAICompatibleClient{cfg: cfg, client: hc}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

var newlineReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Embed calls POST {base_url}/embeddings. Newlines in text are replaced with spaces
// before the request. Every failure, including a response without a vector, is
// reported as apperr.ErrEmbedding; a zero vector is never returned.
func (c *openAICompatibleClient) Embed(ctx context.Context, text string) ([]float32, error) {
	input := newlineReplacer.Replace(text)
	log.Debugf("[EmbeddingClient] 调用 Embedding API, model: %s, input_len: %d", c.cfg.Model, len(input))

	reqBytes, err := json.Marshal(embeddingRequest{
		Model:      c.cfg.Model,
		Input:      []string{input},
		Dimensions: c.cfg.Dimensions,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrEmbedding, "marshal embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrEmbedding, "create embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, apperr.Wrap(apperr.ErrEmbedding, "call embedding api", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %s, body: %s", resp.Status, string(body))
		return nil, apperr.Wrap(apperr.ErrEmbedding, "call embedding api", fmt.Errorf("status %s", resp.Status))
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		log.Errorf("[EmbeddingClient] 解析 Embedding API 响应失败, error: %v", err)
		return nil, apperr.Wrap(apperr.ErrEmbedding, "decode embedding response", err)
	}

	if len(embeddingResp.Data) == 0 || len(embeddingResp.Data[0].Embedding) == 0 {
		log.Warnf("[EmbeddingClient] Embedding API 返回了空的向量数据")
		return nil, apperr.Wrap(apperr.ErrEmbedding, "decode embedding response", fmt.Errorf("response has no embedding"))
	}

	return embeddingResp.Data[0].Embedding, nil
}
