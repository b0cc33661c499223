package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RunLockRepository 是分析批次的尽力而为互斥锁。锁只在 TTL 内有效，
// Redis 不可用或批次超过 TTL 时仍可能出现并发批次。
type RunLockRepository interface {
	// Acquire 尝试获取锁，成功时返回用于释放的令牌。
	Acquire(ctx context.Context, scope string, ttl time.Duration) (string, bool, error)
	// Release 只在令牌匹配时删除锁。
	Release(ctx context.Context, scope, token string) error
}

// releaseScript 对比令牌后再删除，避免删掉已过期后被别人重新获取的锁。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisRunLockRepository struct {
	redisClient *redis.Client
}

// NewRunLockRepository 创建一个新的 RunLockRepository 实例。
func NewRunLockRepository(redisClient *redis.Client) RunLockRepository {
	return &redisRunLockRepository{redisClient: redisClient}
}

func lockKey(scope string) string {
	return "analysis:lock:" + scope
}

func (r *redisRunLockRepository) Acquire(ctx context.Context, scope string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.redisClient.SetNX(ctx, lockKey(scope), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (r *redisRunLockRepository) Release(ctx context.Context, scope, token string) error {
	if err := releaseScript.Run(ctx, r.redisClient, []string{lockKey(scope)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}
