// Package rabbitmq 提供基于 RabbitMQ 的入库任务队列。
// 主队列把被拒绝的消息转入 "<queue>.dlq"，便于人工排查。
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docchat-go/pkg/log"
	"docchat-go/pkg/tasks"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue 同时实现发布和消费。
type Queue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

var _ tasks.Publisher = (*Queue)(nil)

// Dial 连接 RabbitMQ 并声明主队列与死信队列。
func Dial(url, queue string) (*Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := declare(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Queue{conn: conn, ch: ch, queue: queue}, nil
}

func declare(ch *amqp.Channel, queue string) error {
	dlq := queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", dlq, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	return nil
}

func (q *Queue) Close() error {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func (q *Queue) Publish(ctx context.Context, task tasks.IngestTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return q.ch.PublishWithContext(cctx,
		"",      // default exchange
		q.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// Consume 逐条处理任务直到 ctx 结束。成功 Ack；失败 Nack 且不重新入队，消息进入死信队列。
func (q *Queue) Consume(ctx context.Context, handler tasks.Handler) error {
	if err := q.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	log.Infof("RabbitMQ 消费者已启动, queue=%s", q.queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			var task tasks.IngestTask
			if err := json.Unmarshal(d.Body, &task); err != nil || task.FileKey == "" {
				log.Errorf("无法解析 RabbitMQ 消息: %v", err)
				_ = d.Nack(false, false)
				continue
			}
			if err := handler.Handle(ctx, task); err != nil {
				log.Errorf("入库任务失败: fileKey=%s, error: %v", task.FileKey, err)
				_ = d.Nack(false, false)
				continue
			}
			if err := d.Ack(false); err != nil {
				log.Errorf("ack 失败: fileKey=%s, error: %v", task.FileKey, err)
			}
		}
	}
}
