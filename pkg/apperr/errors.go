// Package apperr 定义了 RAG 流程在组件边界上使用的错误分类。
// 上游错误在边界处被包装为下列类别之一，调用方通过 errors.Is 判断类别。
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable 表示源文件无法获取或解析。
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrEmbedding 表示 Embedding 服务返回了错误或残缺的响应。
	ErrEmbedding = errors.New("embedding failed")
	// ErrRetrieval 表示向量索引的查询或写入失败。
	ErrRetrieval = errors.New("retrieval failed")
	// ErrChatNotFound 表示引用的会话不存在（或不属于调用者）。
	ErrChatNotFound = errors.New("chat not found")
	// ErrGeneration 表示补全服务在流式输出之前或期间失败。
	ErrGeneration = errors.New("generation failed")
	// ErrDocumentNotReady 表示会话关联的文档尚未完成入库。
	ErrDocumentNotReady = errors.New("document not ready")
	// ErrInvalidInput 表示请求参数不合法。
	ErrInvalidInput = errors.New("invalid input")
)

// kinds 按优先级排列，Kind 返回第一个匹配项。
var kinds = []error{
	ErrChatNotFound,
	ErrDocumentNotReady,
	ErrInvalidInput,
	ErrSourceUnavailable,
	ErrEmbedding,
	ErrRetrieval,
	ErrGeneration,
}

// Error 把一个上游错误归入某个类别，并记录发生的操作。
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap 同时暴露类别和原始错误。
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap 将 err 归入 kind。err 为 nil 时仍返回一个只带类别的错误。
func Wrap(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Kind 返回 err 所属的类别，未归类时返回 nil。
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// BatchError 标识写入向量索引时失败的具体批次。
type BatchError struct {
	Batch int // 从 1 开始
	Start int // 批次内第一个分块的序号（含）
	End   int // 批次内最后一个分块的序号（不含）
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("upsert batch %d (chunks %d-%d): %v", e.Batch, e.Start, e.End-1, e.Err)
}

func (e *BatchError) Unwrap() []error {
	return []error{ErrRetrieval, e.Err}
}
