// Package kafka 提供基于 Kafka 的入库任务队列。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"docchat-go/internal/config"
	"docchat-go/pkg/log"
	"docchat-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// Producer 实现 tasks.Publisher。
type Producer struct {
	writer *kafka.Writer
}

var _ tasks.Publisher = (*Producer)(nil)

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	log.Infof("Kafka 生产者初始化成功, topic: %s", cfg.Topic)
	return &Producer{writer: w}
}

// Publish 以 FileKey 作为消息 key，同一文档的任务落在同一分区。
func (p *Producer) Publish(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.FileKey),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer 消费入库任务直到 ctx 结束。
// 无论处理成功与否都提交 offset：失败由 handler 记录到文档状态，不做自动重试。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, handler tasks.Handler) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}

		var task tasks.IngestTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		} else if err := handler.Handle(ctx, task); err != nil {
			log.Errorf("入库任务失败: fileKey=%s, error: %v", task.FileKey, err)
		} else {
			log.Infof("入库任务完成: fileKey=%s", task.FileKey)
		}

		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}
