// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docchat-go/internal/bootstrap"
	"docchat-go/internal/config"
	"docchat-go/internal/handler"
	"docchat-go/internal/middleware"
	"docchat-go/internal/service"
	"docchat-go/pkg/kafka"
	"docchat-go/pkg/llm"
	"docchat-go/pkg/log"
	"docchat-go/pkg/rabbitmq"
	"docchat-go/pkg/tasks"
	"docchat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := os.Getenv("DOCCHAT_CONFIG")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	// 1. 初始化配置
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、对象存储、向量索引和入库流程
	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()
	app, err := bootstrap.New(rootCtx, &cfg)
	if err != nil {
		log.Fatal("初始化依赖失败", err)
	}
	defer app.Close()

	// 4. 入库队列：配置了队列时异步入库，否则创建会话时同步入库
	publisher, consumerDone := startQueue(rootCtx, cfg.Queue, app.Processor)

	// 5. 初始化 Service
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)
	llmClient := llm.NewClient(cfg.LLM)
	chatService := service.NewChatService(app.ChatRepo, app.DocumentRepo, app.Retriever, llmClient, cfg.LLM)
	conversationService := service.NewConversationService(app.ChatRepo, app.DocumentRepo, app.ChunkRepo, app.Processor, publisher)
	documentService := service.NewDocumentService(app.Store, app.ChatRepo, cfg.Server.MaxUploadMB)

	// 6. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	r.MaxMultipartMemory = int64(cfg.Server.MaxUploadMB) << 20
	handler.RegisterRoutes(r, handler.Handlers{
		Chat:         handler.NewChatHandler(chatService, jwtManager),
		Conversation: handler.NewConversationHandler(conversationService),
		Document:     handler.NewDocumentHandler(documentService),
	}, jwtManager)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止消费者并等待当前任务结束
	stop()
	<-consumerDone
	if c, ok := publisher.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			log.Errorf("关闭入库队列失败: %v", err)
		}
	}
	log.Info("服务已优雅关闭")
}

// startQueue 按配置启动入库任务的生产者和消费者。返回的 channel 在消费者退出后关闭。
func startQueue(ctx context.Context, cfg config.QueueConfig, handler tasks.Handler) (tasks.Publisher, <-chan struct{}) {
	done := make(chan struct{})
	switch cfg.Type {
	case "kafka":
		producer := kafka.NewProducer(cfg.Kafka)
		go func() {
			defer close(done)
			kafka.StartConsumer(ctx, cfg.Kafka, handler)
		}()
		return producer, done
	case "rabbitmq":
		q, err := rabbitmq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			log.Fatal("连接 RabbitMQ 失败", err)
		}
		go func() {
			defer close(done)
			if err := q.Consume(ctx, handler); err != nil {
				log.Errorf("RabbitMQ 消费者退出: %v", err)
			}
		}()
		return q, done
	default:
		close(done)
		return nil, done
	}
}
