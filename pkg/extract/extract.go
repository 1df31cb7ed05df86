// Package extract 把 PDF 文件转换为按页排列的文本。
package extract

import (
	"context"
	"fmt"

	"docchat-go/internal/config"
	"docchat-go/internal/model"
	"docchat-go/pkg/tika"

	"github.com/gen2brain/go-fitz"
)

// Extractor 从文件内容中提取分页文本。
type Extractor interface {
	ExtractPages(ctx context.Context, data []byte, fileName string) ([]model.Page, error)
}

// New 按配置选择实现：fitz（默认，本地 MuPDF）或 tika。
func New(cfg config.ExtractorConfig) (Extractor, error) {
	switch cfg.Type {
	case "", "fitz":
		return Fitz{}, nil
	case "tika":
		if cfg.Tika.ServerURL == "" {
			return nil, fmt.Errorf("extractor.tika.server_url 未配置")
		}
		return tika.NewClient(cfg.Tika), nil
	default:
		return nil, fmt.Errorf("未知的 extractor 类型: %s", cfg.Type)
	}
}

// Fitz 使用 go-fitz (MuPDF) 在进程内提取每一页的文本。
type Fitz struct{}

func (Fitz) ExtractPages(ctx context.Context, data []byte, _ string) ([]model.Page, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pages := make([]model.Page, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", i+1, err)
		}
		pages = append(pages, model.Page{Number: i + 1, Text: text})
	}
	return pages, nil
}
