// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"tutor-insight-go/internal/config"
	"tutor-insight-go/pkg/log"
	"tutor-insight-go/pkg/tasks"
)

// maxAttempts 单个任务失败达到该次数后提交 offset，不再重试。
const maxAttempts = 3

// TaskProcessor 定义了可以处理分析任务的组件，使消费者与具体的管道实现解耦。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.AnalysisTask) error
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// CloseProducer 关闭生产者并刷出缓冲中的消息。
func CloseProducer() error {
	if producer == nil {
		return nil
	}
	return producer.Close()
}

// ProduceAnalysisTask 发送一个分析任务到 Kafka，以 TaskID 作为消息 key。
func ProduceAnalysisTask(ctx context.Context, task tasks.AnalysisTask) error {
	if producer == nil {
		return errors.New("kafka producer is not initialized")
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.TaskID),
		Value: taskBytes,
	})
}

// StartConsumer 启动一个 Kafka 消费者来处理分析任务，直到 ctx 被取消。
// rdb 用于记录每个任务的失败次数。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, rdb *redis.Client) {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "tutor-insight-go-consumer"
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  groupID,
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
			if ctx.Err() != nil {
				log.Info("Kafka 消费者收到停止信号，退出")
			} else {
				log.Error("从 Kafka 读取消息失败", err)
			}
			return
		}

		log.Infof("收到 Kafka 消息: offset %d", m.Offset)
		if !handleMessage(ctx, rdb, processor, m.Value) {
			// 不提交 offset，让 Kafka 重新投递
			continue
		}
		// 已处理完的消息在停机时也要提交，避免重复分析
		if err := r.CommitMessages(context.WithoutCancel(ctx), m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// handleMessage 解析并处理一条消息，返回是否应提交 offset。
func handleMessage(ctx context.Context, rdb *redis.Client, processor TaskProcessor, value []byte) bool {
	var task tasks.AnalysisTask
	if err := json.Unmarshal(value, &task); err != nil || task.TaskID == "" {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		return true
	}

	log.Infof("开始处理分析任务: TaskID=%s", task.TaskID)
	attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.TaskID)
	if err := processor.Process(ctx, task); err != nil {
		if ctx.Err() != nil {
			// 停机打断的任务不计入失败次数，重启后重新投递
			log.Warnf("分析任务被中断, 不提交 offset: TaskID=%s, Error: %v", task.TaskID, err)
			return false
		}
		log.Errorf("处理分析任务失败: TaskID=%s, Error: %v", task.TaskID, err)
		bg := context.Background()
		attempts, incErr := rdb.Incr(bg, attemptsKey).Result()
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
			log.Warnf("记录任务失败次数失败: TaskID=%s, Error: %v", task.TaskID, incErr)
			return false
		}
		_ = rdb.Expire(bg, attemptsKey, 24*time.Hour).Err()
		if attempts >= maxAttempts {
			log.Errorf("分析任务多次失败(>=%d)，提交 offset 终止重试: TaskID=%s", maxAttempts, task.TaskID)
			return true
		}
		return false
	}

	log.Infof("分析任务处理成功: TaskID=%s", task.TaskID)
	_ = rdb.Del(context.Background(), attemptsKey).Err()
	return true
}
