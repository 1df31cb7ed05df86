package pipeline

import (
	"context"
	"fmt"

	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/apperr"
	"docchat-go/pkg/embedding"
	"docchat-go/pkg/log"
	"docchat-go/pkg/vectorindex"

	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize   = 10
	defaultConcurrency = 4
)

// WriteResult 汇总一次写入。
type WriteResult struct {
	Namespace string
	Vectors   int
	Batches   int
}

// IndexWriter 将分块向量化后按批写入文档对应的命名空间。
type IndexWriter struct {
	embedder    embedding.Client
	index       vectorindex.Index
	ledger      repository.ChunkRecordRepository
	batchSize   int
	concurrency int
}

// NewIndexWriter 创建 IndexWriter。ledger 可以为 nil，此时不记录分块台账。
func NewIndexWriter(embedder embedding.Client, index vectorindex.Index, ledger repository.ChunkRecordRepository, batchSize, concurrency int) *IndexWriter {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &IndexWriter{
		embedder:    embedder,
		index:       index,
		ledger:      ledger,
		batchSize:   batchSize,
		concurrency: concurrency,
	}
}

// Write 先并发完成全部分块的向量化，任何一个失败都不会写入索引，也不会创建命名空间；
// 然后按原始顺序分批 upsert。某一批失败时返回 *apperr.BatchError，之前的批次已经写入并记录在台账中。
func (w *IndexWriter) Write(ctx context.Context, fileKey string, chunks []model.Chunk) (*WriteResult, error) {
	namespace := vectorindex.Namespace(fileKey)
	chunks = dedupe(chunks)

	vectors, err := w.embedAll(ctx, chunks)
	if err != nil {
		log.Errorf("[IndexWriter] 向量化失败, fileKey: %s, Error: %v", fileKey, err)
		return nil, err
	}

	// 向量化成功后才创建命名空间，失败的入库不会留下可查询的空命名空间
	if err := w.index.EnsureNamespace(ctx, namespace); err != nil {
		return nil, asRetrieval("ensure namespace", err)
	}

	if w.ledger != nil {
		if err := w.ledger.DeleteByFileKey(ctx, fileKey); err != nil {
			log.Warnf("[IndexWriter] 清理分块台账失败 (fileKey=%s): %v", fileKey, err)
		}
	}

	result := &WriteResult{Namespace: namespace}
	for start := 0; start < len(vectors); start += w.batchSize {
		end := min(start+w.batchSize, len(vectors))
		batch := result.Batches + 1

		if err := w.index.Upsert(ctx, namespace, vectors[start:end]); err != nil {
			log.Errorf("[IndexWriter] 第 %d 批写入失败, namespace: %s, chunks: %d-%d, Error: %v", batch, namespace, start, end-1, err)
			return result, &apperr.BatchError{Batch: batch, Start: start, End: end, Err: err}
		}
		result.Batches = batch
		result.Vectors += end - start
		w.record(ctx, fileKey, batch, chunks[start:end])
	}

	log.Infof("[IndexWriter] 写入完成, namespace: %s, vectors: %d, batches: %d", namespace, result.Vectors, result.Batches)
	return result, nil
}

func (w *IndexWriter) embedAll(ctx context.Context, chunks []model.Chunk) ([]vectorindex.Vector, error) {
	vectors := make([]vectorindex.Vector, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i := range chunks {
		chunk := chunks[i]
		g.Go(func() error {
			values, err := w.embedder.Embed(gctx, chunk.Text)
			if err != nil {
				return fmt.Errorf("chunk %d (page %d): %w", chunk.Ordinal, chunk.Page, err)
			}
			vectors[i] = vectorindex.Vector{
				ID:       chunk.ID,
				Values:   values,
				Metadata: vectorindex.Metadata{Text: chunk.Metadata, Page: chunk.Page},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (w *IndexWriter) record(ctx context.Context, fileKey string, batch int, chunks []model.Chunk) {
	if w.ledger == nil {
		return
	}
	records := make([]*model.ChunkRecord, 0, len(chunks))
	for _, c := range chunks {
		records = append(records, &model.ChunkRecord{
			FileKey:  fileKey,
			VectorID: c.ID,
			Page:     c.Page,
			Ordinal:  c.Ordinal,
			Batch:    batch,
		})
	}
	if err := w.ledger.BatchCreate(ctx, records); err != nil {
		log.Warnf("[IndexWriter] 记录第 %d 批分块台账失败 (fileKey=%s): %v", batch, fileKey, err)
	}
}

// dedupe 去掉文本完全相同的重复分块，保留第一次出现的页码。
func dedupe(chunks []model.Chunk) []model.Chunk {
	seen := make(map[string]struct{}, len(chunks))
	out := chunks[:0:0]
	for _, c := range chunks {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func asRetrieval(op string, err error) error {
	if apperr.Kind(err) != nil {
		return err
	}
	return apperr.Wrap(apperr.ErrRetrieval, op, err)
}
