package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"tutor-insight-go/internal/model"
)

// AnalyzedAttemptRepository 定义了对 analyzed_attempts 表的数据操作接口。
type AnalyzedAttemptRepository interface {
	BatchCreate(ctx context.Context, attempts []*model.AnalyzedAttempt) error
	ListByUser(ctx context.Context, userID uint, limit int) ([]model.AnalyzedAttempt, error)
	ExistingIndexes(ctx context.Context, conversationID string) (map[int]struct{}, error)
}

type analyzedAttemptRepository struct {
	db *gorm.DB
}

// NewAnalyzedAttemptRepository 创建一个新的 AnalyzedAttemptRepository 实例。
func NewAnalyzedAttemptRepository(db *gorm.DB) AnalyzedAttemptRepository {
	return &analyzedAttemptRepository{db: db}
}

// BatchCreate 在一个事务中批量写入，任意一批失败则整体回滚。
func (r *analyzedAttemptRepository) BatchCreate(ctx context.Context, attempts []*model.AnalyzedAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(attempts, 100).Error // 每100条记录一批
	})
}

// ListByUser 按分析时间倒序返回用户最近的分析记录。
func (r *analyzedAttemptRepository) ListByUser(ctx context.Context, userID uint, limit int) ([]model.AnalyzedAttempt, error) {
	var attempts []model.AnalyzedAttempt
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("analyzed_at DESC").Order("message_index DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to list analyzed attempts: %w", err)
	}
	return attempts, nil
}

// ExistingIndexes 返回会话中已经有分析记录的发言位置。
func (r *analyzedAttemptRepository) ExistingIndexes(ctx context.Context, conversationID string) (map[int]struct{}, error) {
	var indexes []int
	err := r.db.WithContext(ctx).Model(&model.AnalyzedAttempt{}).
		Where("conversation_id = ?", conversationID).
		Distinct().
		Pluck("message_index", &indexes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query analyzed indexes: %w", err)
	}
	out := make(map[int]struct{}, len(indexes))
	for _, i := range indexes {
		out[i] = struct{}{}
	}
	return out, nil
}
