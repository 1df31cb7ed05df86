// Package pipeline 定义了文档入库的核心流程：分页文本 -> 分块 -> 向量化 -> 写入索引。
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	"docchat-go/internal/model"
)

const (
	defaultChunkSize        = 1000
	defaultChunkOverlap     = 200
	defaultMetadataMaxBytes = 36000
)

// Chunker 把分页文本切分为带重叠的分块。纯计算，不做任何 I/O。
type Chunker struct {
	size             int
	overlap          int
	metadataMaxBytes int
}

// ChunkerOption 配置 Chunker。
type ChunkerOption func(*Chunker)

// WithChunkSize 设置每个分块的最大字符（rune）数。
func WithChunkSize(size int) ChunkerOption {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap 设置相邻分块之间重叠的字符数。
func WithOverlap(overlap int) ChunkerOption {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithMetadataMaxBytes 设置随向量存储的文本的字节上限。
func WithMetadataMaxBytes(n int) ChunkerOption {
	return func(c *Chunker) {
		if n > 0 {
			c.metadataMaxBytes = n
		}
	}
}

// NewChunker 创建 Chunker。overlap 不小于 size 时退化为无重叠切分。
func NewChunker(opts ...ChunkerOption) *Chunker {
	c := &Chunker{
		size:             defaultChunkSize,
		overlap:          defaultChunkOverlap,
		metadataMaxBytes: defaultMetadataMaxBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = 0
	}
	return c
}

// Split 按页顺序切分，返回的分块 Ordinal 在整篇文档内连续递增。
// 空页列表返回空切片。
func (c *Chunker) Split(pages []model.Page) []model.Chunk {
	var chunks []model.Chunk
	for _, page := range pages {
		for _, text := range c.splitText(normalize(page.Text)) {
			chunks = append(chunks, model.Chunk{
				ID:       ContentHash(text),
				Text:     text,
				Metadata: TruncateBytes(text, c.metadataMaxBytes),
				Page:     page.Number,
				Ordinal:  len(chunks),
			})
		}
	}
	return chunks
}

// normalize 把换行折叠为空格并合并连续空白，同时去掉 NUL（Postgres TEXT 不接受）。
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(text, "\x00", "")), " ")
}

func (c *Chunker) splitText(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var out []string
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else if cut := lastSpace(runes, start+c.size/2, end); cut > 0 {
			// 尽量在单词边界处断开
			end = cut
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		// 重叠部分从单词开头开始
		for i := next; i < end && !unicode.IsSpace(runes[next-1]); i++ {
			if unicode.IsSpace(runes[i]) {
				next = i + 1
				break
			}
		}
		start = next
	}
	return out
}

// lastSpace 返回 [from, to) 中最后一个空白字符的位置，没有时返回 -1。
func lastSpace(runes []rune, from, to int) int {
	for i := to - 1; i >= from && i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}

// TruncateBytes 把 s 截断到至多 n 个字节，不会截断在多字节字符中间。
// 输入本身含非法 UTF-8 时，非法字节被剔除，结果始终是合法的 UTF-8。
func TruncateBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) > n {
		cut := n
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return strings.ToValidUTF8(s, "")
}

// ContentHash 返回文本的 sha256 十六进制摘要，用作分块和向量的 ID。
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
