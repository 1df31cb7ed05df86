// Package tasks defines the payloads published to the ingestion queue.
package tasks

import "context"

// IngestTask asks a worker to ingest one uploaded document.
type IngestTask struct {
	FileKey  string `json:"file_key"`
	FileName string `json:"file_name"`
	ChatID   string `json:"chat_id"`
	OwnerID  uint   `json:"owner_id"`
}

// Publisher enqueues ingestion tasks.
type Publisher interface {
	Publish(ctx context.Context, task IngestTask) error
}

// Handler processes one ingestion task. Queue consumers never redeliver a task
// whose handler failed; the handler records the failure itself.
type Handler interface {
	Handle(ctx context.Context, task IngestTask) error
}
