// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"tutor-insight-go/internal/dedup"
	"tutor-insight-go/internal/model"
	"tutor-insight-go/internal/repository"
	"tutor-insight-go/pkg/log"
)

var (
	// ErrConversationNotFound 会话不存在或不属于该用户。
	ErrConversationNotFound = errors.New("会话不存在或不属于该用户")
	// ErrEmptyMessage 发言没有任何文本或图片。
	ErrEmptyMessage = errors.New("发言内容不能为空")
)

const (
	titleRunes       = 20
	recentForDedupe  = 20
	listConversation = 100
)

// CreateConversationRequest 是创建会话的请求。
// ID 由客户端在首次保存前生成，重试时携带同一个 ID；IdempotencyKey 来自请求头。
type CreateConversationRequest struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	FirstMessage   string `json:"firstMessage"`
	ImageURL       string `json:"imageUrl"`
	IdempotencyKey string `json:"-"`
}

// CreateConversationResult Created 为 false 表示命中了已有会话。
type CreateConversationResult struct {
	Conversation model.ConversationSummary `json:"conversation"`
	Created      bool                      `json:"created"`
}

// AppendTurnRequest 是追加发言的请求。
type AppendTurnRequest struct {
	Role     string `json:"role" binding:"omitempty,oneof=student assistant system"`
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl"`
}

// ConversationService 定义了会话业务逻辑的接口。
type ConversationService interface {
	Create(ctx context.Context, userID uint, req CreateConversationRequest) (*CreateConversationResult, error)
	List(ctx context.Context, userID uint) ([]model.ConversationSummary, error)
	AppendTurn(ctx context.Context, userID uint, conversationID string, req AppendTurnRequest) (*model.ConversationSummary, error)
}

type conversationService struct {
	repo     repository.ConversationRepository
	idemRepo repository.IdempotencyRepository
	now      func() time.Time
}

// NewConversationService 创建一个新的 ConversationService。idemRepo 可以为 nil。
func NewConversationService(repo repository.ConversationRepository, idemRepo repository.IdempotencyRepository) ConversationService {
	return &conversationService{repo: repo, idemRepo: idemRepo, now: time.Now}
}

// Create 创建会话。身份判断依次为：客户端提供的 ID、幂等键、最后才是按标题与首条消息的模糊查重。
// 模糊查重与插入之间不是原子的，只能减少而不能杜绝重复会话。
func (s *conversationService) Create(ctx context.Context, userID uint, req CreateConversationRequest) (*CreateConversationResult, error) {
	first := model.Turn{Role: model.RoleStudent, Parts: contentParts(req.FirstMessage, req.ImageURL)}
	if len(first.Parts) == 0 {
		return nil, ErrEmptyMessage
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = truncateRunes(first.Text(), titleRunes)
	}

	id := strings.TrimSpace(req.ID)
	reservedKey := false
	switch {
	case id != "":
		existing, err := s.repo.FindByID(ctx, id)
		switch {
		case err == nil && existing.UserID == userID:
			return &CreateConversationResult{Conversation: summarize(existing), Created: false}, nil
		case err == nil:
			// ID 已被其他用户占用
			return nil, ErrConversationNotFound
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("failed to find conversation: %w", err)
		}
	case req.IdempotencyKey != "" && s.idemRepo != nil:
		id = uuid.NewString()
		reservedID, reserved, err := s.idemRepo.Reserve(ctx, userID, req.IdempotencyKey, id)
		if err != nil {
			log.Warnf("[ConversationService] 幂等键不可用, 退回模糊查重, UserID: %d, Error: %v", userID, err)
			id = ""
			break
		}
		if !reserved {
			if existing, err := s.findOwned(ctx, userID, reservedID); err == nil {
				return &CreateConversationResult{Conversation: summarize(existing), Created: false}, nil
			}
			// 首次请求还没有写入，沿用它占用的 ID
			id = reservedID
			break
		}
		reservedKey = true
	}

	if id == "" {
		if dup, ok := s.recentDuplicate(ctx, userID, title, first.Text()); ok {
			log.Infof("[ConversationService] 命中疑似重复提交, UserID: %d, ConversationID: %s", userID, dup.ID)
			return &CreateConversationResult{Conversation: dup, Created: false}, nil
		}
		id = uuid.NewString()
	}

	now := s.now()
	first.Timestamp = &now
	conv := &model.Conversation{ID: id, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	if err := conv.SetTurns([]model.Turn{first}); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, conv); err != nil {
		// 并发的同 ID 请求可能已经写入
		if existing, findErr := s.findOwned(ctx, userID, id); findErr == nil {
			return &CreateConversationResult{Conversation: summarize(existing), Created: false}, nil
		}
		if reservedKey {
			if relErr := s.idemRepo.Release(context.Background(), userID, req.IdempotencyKey); relErr != nil {
				log.Warnf("[ConversationService] 释放幂等键失败, UserID: %d, Error: %v", userID, relErr)
			}
		}
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	log.Infof("[ConversationService] 会话创建成功, UserID: %d, ConversationID: %s", userID, id)
	return &CreateConversationResult{Conversation: summarize(conv), Created: true}, nil
}

// List 返回用户最近的会话摘要，已去除重复提交产生的会话。
func (s *conversationService) List(ctx context.Context, userID uint) ([]model.ConversationSummary, error) {
	convs, err := s.repo.ListByUser(ctx, userID, listConversation)
	if err != nil {
		return nil, err
	}
	return dedup.Dedupe(summarizeAll(convs)), nil
}

func (s *conversationService) AppendTurn(ctx context.Context, userID uint, conversationID string, req AppendTurnRequest) (*model.ConversationSummary, error) {
	turn := model.Turn{Role: req.Role, Parts: contentParts(req.Text, req.ImageURL)}
	if turn.Role == "" {
		turn.Role = model.RoleStudent
	}
	if len(turn.Parts) == 0 {
		return nil, ErrEmptyMessage
	}
	if _, err := s.findOwned(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	now := s.now()
	turn.Timestamp = &now
	conv, err := s.repo.AppendTurn(ctx, conversationID, turn)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append turn: %w", err)
	}
	summary := summarize(conv)
	return &summary, nil
}

// findOwned 只返回属于 userID 的会话，其余情况统一为 ErrConversationNotFound。
func (s *conversationService) findOwned(ctx context.Context, userID uint, id string) (*model.Conversation, error) {
	conv, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	if conv.UserID != userID {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

func (s *conversationService) recentDuplicate(ctx context.Context, userID uint, title, firstMessage string) (model.ConversationSummary, bool) {
	recent, err := s.repo.ListByUser(ctx, userID, recentForDedupe)
	if err != nil {
		log.Warnf("[ConversationService] 查询最近会话失败, 跳过查重, UserID: %d, Error: %v", userID, err)
		return model.ConversationSummary{}, false
	}
	return dedup.IsDuplicateCandidate(title, firstMessage, summarizeAll(recent), s.now())
}

func contentParts(text, imageURL string) []model.ContentPart {
	text = strings.TrimSpace(text)
	imageURL = strings.TrimSpace(imageURL)
	if text == "" && imageURL == "" {
		return nil
	}
	return []model.ContentPart{{Text: text, ImageURL: imageURL}}
}

func summarize(conv *model.Conversation) model.ConversationSummary {
	summary := model.ConversationSummary{ID: conv.ID, Title: conv.Title, CreatedAt: model.LocalTime(conv.CreatedAt)}
	turns, err := conv.DecodeTurns()
	if err != nil {
		log.Warnf("[ConversationService] 解析会话发言失败, ConversationID: %s, Error: %v", conv.ID, err)
		return summary
	}
	for _, t := range turns {
		if t.IsStudent() {
			summary.FirstMessage = t.Text()
			break
		}
	}
	return summary
}

func summarizeAll(convs []model.Conversation) []model.ConversationSummary {
	out := make([]model.ConversationSummary, 0, len(convs))
	for i := range convs {
		out = append(out, summarize(&convs[i]))
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
