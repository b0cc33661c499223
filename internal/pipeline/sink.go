package pipeline

import (
	"context"
	"fmt"

	"tutor-insight-go/internal/model"
)

// AttemptStore 是分析结果的批量写入能力，要求全部成功或全部失败。
type AttemptStore interface {
	BatchCreate(ctx context.Context, attempts []*model.AnalyzedAttempt) error
}

// AttemptLedger 查询某个会话中已经有分析结果的发言位置。
type AttemptLedger interface {
	ExistingIndexes(ctx context.Context, conversationID string) (map[int]struct{}, error)
}

// Sink 把一次分析累积的结果一次性写入存储。
type Sink struct {
	store AttemptStore
}

func NewSink(store AttemptStore) *Sink {
	return &Sink{store: store}
}

// Save 写入全部记录并返回写入条数。空列表不访问存储。
func (s *Sink) Save(ctx context.Context, attempts []*model.AnalyzedAttempt) (int, error) {
	if len(attempts) == 0 {
		return 0, nil
	}
	if err := s.store.BatchCreate(ctx, attempts); err != nil {
		return 0, fmt.Errorf("failed to save analyzed attempts: %w", err)
	}
	return len(attempts), nil
}
