package pipeline

import (
	"context"
	"errors"
	"fmt"

	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/apperr"
	"docchat-go/pkg/extract"
	"docchat-go/pkg/log"
	"docchat-go/pkg/tasks"
)

// ErrIngestInProgress 表示同一个 fileKey 的入库正在另一个进程中执行。
var ErrIngestInProgress = errors.New("ingestion already in progress")

// Source 按 fileKey 读取原始文件，storage.Store 实现了该接口。
type Source interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Processor 封装了文档入库的所有依赖和逻辑。
type Processor struct {
	source    Source
	extractor extract.Extractor
	chunker   *Chunker
	writer    *IndexWriter
	docRepo   repository.DocumentRepository
	lease     repository.IngestLease
}

// NewProcessor 创建一个新的 Processor 实例。lease 为 nil 时不做跨进程互斥。
func NewProcessor(
	source Source,
	extractor extract.Extractor,
	chunker *Chunker,
	writer *IndexWriter,
	docRepo repository.DocumentRepository,
	lease repository.IngestLease,
) *Processor {
	return &Processor{
		source:    source,
		extractor: extractor,
		chunker:   chunker,
		writer:    writer,
		docRepo:   docRepo,
		lease:     lease,
	}
}

// Ingest 读取 fileKey 对应的 PDF，分块、向量化并写入以 fileKey 推导出的命名空间。
// 返回错误时调用方应认为文档不可查询。
func (p *Processor) Ingest(ctx context.Context, fileKey string) (*WriteResult, error) {
	log.Infof("[Processor] 开始入库, fileKey: %s", fileKey)

	if p.lease != nil {
		ok, err := p.lease.Acquire(ctx, fileKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Warnf("[Processor] fileKey %s 正在入库中, 跳过", fileKey)
			return nil, fmt.Errorf("%w: %s", ErrIngestInProgress, fileKey)
		}
		defer func() {
			if err := p.lease.Release(context.WithoutCancel(ctx), fileKey); err != nil {
				log.Warnf("[Processor] 释放入库租约失败 (fileKey=%s): %v", fileKey, err)
			}
		}()
	}

	// 1. 读取源文件
	data, err := p.source.Get(ctx, fileKey)
	if err != nil {
		log.Errorf("[Processor] 读取源文件失败, fileKey: %s, Error: %v", fileKey, err)
		return nil, asSourceUnavailable("fetch source", err)
	}
	if len(data) == 0 {
		return nil, apperr.Wrap(apperr.ErrSourceUnavailable, "fetch source", fmt.Errorf("%s is empty", fileKey))
	}
	log.Infof("[Processor] 步骤1: 文件读取成功, 大小: %d 字节", len(data))

	// 2. 按页提取文本
	pages, err := p.extractor.ExtractPages(ctx, data, fileKey)
	if err != nil {
		log.Errorf("[Processor] 提取文本失败, fileKey: %s, Error: %v", fileKey, err)
		return nil, asSourceUnavailable("extract pages", err)
	}
	log.Infof("[Processor] 步骤2: 文本提取成功, 共 %d 页", len(pages))

	// 3. 分块
	chunks := p.chunker.Split(pages)
	log.Infof("[Processor] 步骤3: 分块完成, 共 %d 个分块", len(chunks))
	if len(chunks) == 0 {
		log.Warnf("[Processor] 文档 %s 没有可索引的文本", fileKey)
	}

	// 4. 向量化并写入索引
	result, err := p.writer.Write(ctx, fileKey, chunks)
	if err != nil {
		return result, err
	}
	log.Infof("[Processor] 入库完成, fileKey: %s, namespace: %s", fileKey, result.Namespace)
	return result, nil
}

// Handle 实现 tasks.Handler：执行入库并把结果写回文档状态。
func (p *Processor) Handle(ctx context.Context, task tasks.IngestTask) error {
	_, err := p.Ingest(ctx, task.FileKey)
	if errors.Is(err, ErrIngestInProgress) {
		// 另一个执行者会负责更新状态
		return err
	}

	status := model.DocumentReady
	if err != nil {
		status = model.DocumentFailed
	}
	if uerr := p.docRepo.UpdateStatus(context.WithoutCancel(ctx), task.FileKey, status); uerr != nil {
		log.Errorf("[Processor] 更新文档状态失败, fileKey: %s, status: %s, Error: %v", task.FileKey, status, uerr)
		if err == nil {
			return uerr
		}
	}
	return err
}

func asSourceUnavailable(op string, err error) error {
	if errors.Is(err, apperr.ErrSourceUnavailable) || errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Wrap(apperr.ErrSourceUnavailable, op, err)
}
