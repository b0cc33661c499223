package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"tutor-insight-go/pkg/log"
)

// RDB 保存幂等键、分析运行锁和 Kafka 任务失败计数。
var RDB *redis.Client

const redisPingTimeout = 5 * time.Second

// NewRedisClient 创建客户端并在超时内完成一次 PING，连接失败时关闭客户端并返回错误。
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// InitRedis 初始化全局 Redis 客户端，连接失败时终止启动。
func InitRedis(addr, password string, db int) {
	client, err := NewRedisClient(addr, password, db)
	if err != nil {
		log.Fatal("failed to connect to redis", err)
	}
	RDB = client
	log.Infof("Redis client connected successfully, Addr: %s, DB: %d", addr, db)
}
