// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"tutor-insight-go/internal/model"
)

// ConversationRepository 定义了会话记录的操作接口。
type ConversationRepository interface {
	Create(ctx context.Context, conv *model.Conversation) error
	// FindByID 找不到时返回 gorm.ErrRecordNotFound。
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	// ListRefs 按更新时间倒序列出会话引用，userID 为 nil 表示全部用户。
	ListRefs(ctx context.Context, userID *uint) ([]model.ConversationRef, error)
	// ListByUser 按创建时间倒序列出用户最近的会话。
	ListByUser(ctx context.Context, userID uint, limit int) ([]model.Conversation, error)
	// AppendTurn 在会话末尾追加一条发言，已有发言不会被改写。
	AppendTurn(ctx context.Context, id string, turn model.Turn) (*model.Conversation, error)
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(ctx context.Context, conv *model.Conversation) error {
	return r.db.WithContext(ctx).Create(conv).Error
}

func (r *conversationRepository) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepository) ListRefs(ctx context.Context, userID *uint) ([]model.ConversationRef, error) {
	var refs []model.ConversationRef
	q := r.db.WithContext(ctx).Model(&model.Conversation{}).Select("id", "user_id", "updated_at")
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	}
	if err := q.Order("updated_at DESC").Order("id").Scan(&refs).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversation refs: %w", err)
	}
	return refs, nil
}

func (r *conversationRepository) ListByUser(ctx context.Context, userID uint, limit int) ([]model.Conversation, error) {
	var convs []model.Conversation
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

func (r *conversationRepository) AppendTurn(ctx context.Context, id string, turn model.Turn) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&conv).Error; err != nil {
			return err
		}
		turns, err := conv.DecodeTurns()
		if err != nil {
			return err
		}
		if turn.Timestamp == nil {
			now := time.Now()
			turn.Timestamp = &now
		}
		if err := conv.SetTurns(append(turns, turn)); err != nil {
			return err
		}
		conv.UpdatedAt = time.Now()
		return tx.Model(&conv).Updates(map[string]interface{}{
			"turns":      conv.Turns,
			"updated_at": conv.UpdatedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}
