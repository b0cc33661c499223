package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// IdempotencyRepository 用 Redis 记录客户端幂等键与会话 ID 的对应关系。
type IdempotencyRepository interface {
	// Reserve 为幂等键占用 conversationID。键已存在时返回先前占用的 ID 与 false。
	Reserve(ctx context.Context, userID uint, key, conversationID string) (string, bool, error)
	// Release 释放占用，用于会话最终没有创建成功的情况。
	Release(ctx context.Context, userID uint, key string) error
}

type redisIdempotencyRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewIdempotencyRepository 创建一个新的 IdempotencyRepository 实例。
func NewIdempotencyRepository(redisClient *redis.Client, ttl time.Duration) IdempotencyRepository {
	return &redisIdempotencyRepository{redisClient: redisClient, ttl: ttl}
}

func (r *redisIdempotencyRepository) idemKey(userID uint, key string) string {
	return fmt.Sprintf("conversation:idem:%d:%s", userID, key)
}

func (r *redisIdempotencyRepository) Reserve(ctx context.Context, userID uint, key, conversationID string) (string, bool, error) {
	k := r.idemKey(userID, key)
	ok, err := r.redisClient.SetNX(ctx, k, conversationID, r.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return conversationID, true, nil
	}
	existing, err := r.redisClient.Get(ctx, k).Result()
	if err == redis.Nil {
		// 占用恰好过期，重新占用一次
		return r.Reserve(ctx, userID, key, conversationID)
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get idempotency key: %w", err)
	}
	return existing, false, nil
}

func (r *redisIdempotencyRepository) Release(ctx context.Context, userID uint, key string) error {
	if err := r.redisClient.Del(ctx, r.idemKey(userID, key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
