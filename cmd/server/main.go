// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tutor-insight-go/internal/config"
	"tutor-insight-go/internal/handler"
	"tutor-insight-go/internal/middleware"
	"tutor-insight-go/internal/model"
	"tutor-insight-go/internal/pipeline"
	"tutor-insight-go/internal/repository"
	"tutor-insight-go/internal/service"
	"tutor-insight-go/internal/taxonomy"
	"tutor-insight-go/pkg/database"
	"tutor-insight-go/pkg/kafka"
	"tutor-insight-go/pkg/llm"
	"tutor-insight-go/pkg/log"
	"tutor-insight-go/pkg/token"
)

// idempotencyKeyTTL 客户端幂等键的保留时间。
const idempotencyKeyTTL = 24 * time.Hour

func main() {
	// 1. 初始化配置，缺少必需项时直接退出
	config.Init("./configs/config.yaml")
	cfg := config.Conf
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置校验失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	database.AutoMigrate(&model.Conversation{}, &model.AnalyzedAttempt{})

	// 4. 加载课纲概念表
	tax := taxonomy.Default()
	if cfg.Taxonomy.Path != "" {
		loaded, err := taxonomy.Load(cfg.Taxonomy.Path)
		if err != nil {
			log.Fatalf("加载课纲概念表失败: %v", err)
		}
		tax = loaded
	}
	log.Infof("课纲概念表已加载, Version: %s", tax.Version)

	// 5. 初始化 Repository
	conversationRepo := repository.NewConversationRepository(database.DB)
	attemptRepo := repository.NewAnalyzedAttemptRepository(database.DB)
	idemRepo := repository.NewIdempotencyRepository(database.RDB, idempotencyKeyTTL)
	lockRepo := repository.NewRunLockRepository(database.RDB)

	// 6. 组装分析流水线
	opts := []pipeline.Option{pipeline.WithMetrics(pipeline.NewMetrics(prometheus.DefaultRegisterer))}
	if cfg.Analysis.SkipAlreadyAnalyzed {
		opts = append(opts, pipeline.WithLedger(attemptRepo))
	}
	processor := pipeline.NewProcessor(
		pipeline.NewExtractor(conversationRepo, cfg.Analysis.ContextTurns),
		pipeline.NewClassifier(llm.NewClient(cfg.LLM), tax, cfg.Analysis.Prompt.Rules),
		tax,
		pipeline.NewPrefilter(cfg.Analysis.PrefilterEnabled, cfg.Analysis.PrefilterMinRunes, tax),
		pipeline.NewSink(attemptRepo),
		opts...,
	)

	// 7. 启动后台 Kafka 消费者，未配置 broker 时只提供同步分析
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	consumerDone := make(chan struct{})
	var publish service.TaskPublisher
	if cfg.Kafka.Brokers != "" {
		kafka.InitProducer(cfg.Kafka)
		publish = kafka.ProduceAnalysisTask
		go func() {
			defer close(consumerDone)
			kafka.StartConsumer(consumerCtx, cfg.Kafka, processor, database.RDB)
		}()
	} else {
		close(consumerDone)
		log.Warnf("未配置 kafka.brokers，全量分析接口不可用")
	}

	// 8. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	conversationService := service.NewConversationService(conversationRepo, idemRepo)
	analysisService := service.NewAnalysisService(processor, attemptRepo, lockRepo, publish, cfg.Analysis)

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 10. 注册路由
	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		conversationHandler := handler.NewConversationHandler(conversationService)
		conversations := apiV1.Group("/conversations")
		{
			conversations.POST("", conversationHandler.Create)
			conversations.GET("", conversationHandler.List)
			conversations.POST("/:id/turns", conversationHandler.AppendTurn)
		}

		analysisHandler := handler.NewAnalysisHandler(analysisService)
		analysis := apiV1.Group("/analysis")
		{
			analysis.POST("/run", analysisHandler.Run)
			analysis.GET("/attempts", analysisHandler.ListAttempts)
		}

		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin := apiV1.Group("/admin")
		admin.Use(middleware.AdminAuthMiddleware())
		{
			admin.POST("/analysis/sweep", analysisHandler.Sweep)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机。停机时取消进行中请求的上下文，同步分析据此停止并写入已接受的部分
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:     r,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelRequests)

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	stopConsumer()
	select {
	case <-consumerDone:
	case <-ctx.Done():
		log.Warnf("等待 Kafka 消费者退出超时")
	}
	if err := kafka.CloseProducer(); err != nil {
		log.Errorf("关闭 Kafka 生产者失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
