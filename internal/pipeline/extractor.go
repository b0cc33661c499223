// Package pipeline 定义了学习信号分析的核心流程：
// 抽取学生发言、调用模型分类、校验修复模型输出、归一化概念并批量落库。
package pipeline

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"time"

	"tutor-insight-go/internal/model"
	"tutor-insight-go/pkg/log"
)

// ConversationSource 是抽取器依赖的存储读能力。
type ConversationSource interface {
	// ListRefs 列出会话引用，userID 为 nil 表示全部用户，按更新时间倒序。
	ListRefs(ctx context.Context, userID *uint) ([]model.ConversationRef, error)
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
}

// Scope 限定一次分析覆盖的用户范围。
type Scope struct {
	UserID *uint
}

// AllUsers 返回覆盖全部用户的范围。
func AllUsers() Scope { return Scope{} }

// ForUser 返回只覆盖单个用户的范围。
func ForUser(userID uint) Scope { return Scope{UserID: &userID} }

func (s Scope) String() string {
	if s.UserID == nil {
		return "all"
	}
	return fmt.Sprintf("user:%d", *s.UserID)
}

// ExtractStats 记录一次抽取的统计。单个会话读取或解析失败只计数，不中断整批。
type ExtractStats struct {
	Conversations int
	Failed        int
	Messages      int
	// Err 为列出会话本身失败时的错误，此时没有任何会话被读取。
	Err error
}

// Extractor 从会话存储中抽取学生发言。
type Extractor struct {
	source       ConversationSource
	contextTurns int
}

// NewExtractor 创建抽取器，contextTurns 为提示词中附带的前后发言条数。
func NewExtractor(source ConversationSource, contextTurns int) *Extractor {
	if contextTurns < 0 {
		contextTurns = 0
	}
	return &Extractor{source: source, contextTurns: contextTurns}
}

// ExtractConversation 按存储顺序遍历会话的发言，保留学生撰写且文本非空的发言。
// Index 是发言在会话发言序列中的位置（从 1 开始），与其他角色的发言共用同一计数。
func ExtractConversation(rec model.ConversationRecord, contextTurns int) []model.ExtractedMessage {
	var out []model.ExtractedMessage
	for i, turn := range rec.Turns {
		if !turn.IsStudent() {
			continue
		}
		text := turn.Text()
		if text == "" {
			continue
		}
		out = append(out, model.ExtractedMessage{
			ConversationID: rec.ID,
			UserID:         rec.UserID,
			Index:          i + 1,
			Text:           text,
			Timestamp:      turn.Timestamp,
			Context:        contextWindow(rec.Turns, i, contextTurns),
		})
	}
	return out
}

func contextWindow(turns []model.Turn, at, n int) []model.ContextTurn {
	if n <= 0 {
		return nil
	}
	var ctxTurns []model.ContextTurn
	for i := max(0, at-n); i < at; i++ {
		if text := turns[i].Text(); text != "" {
			ctxTurns = append(ctxTurns, model.ContextTurn{Role: turns[i].Role, Text: text, Before: true})
		}
	}
	for i := at + 1; i < len(turns) && i <= at+n; i++ {
		if text := turns[i].Text(); text != "" {
			ctxTurns = append(ctxTurns, model.ContextTurn{Role: turns[i].Role, Text: text})
		}
	}
	return ctxTurns
}

// Seq 惰性地按会话顺序产出学生发言。每次遍历都会重新读取存储，因此可以重复遍历。
// 这是流式读取路径，不做全局的时间排序；需要“最近 k 条”时使用 Latest。
func (e *Extractor) Seq(ctx context.Context, scope Scope, stats *ExtractStats) iter.Seq[model.ExtractedMessage] {
	return func(yield func(model.ExtractedMessage) bool) {
		for _, m := range e.withRefs(ctx, scope, stats) {
			if !yield(m) {
				return
			}
		}
	}
}

// withRefs 与 Seq 相同，额外带上发言所属会话的引用。
func (e *Extractor) withRefs(ctx context.Context, scope Scope, stats *ExtractStats) iter.Seq2[model.ConversationRef, model.ExtractedMessage] {
	if stats == nil {
		stats = &ExtractStats{}
	}
	return func(yield func(model.ConversationRef, model.ExtractedMessage) bool) {
		*stats = ExtractStats{}
		e.walk(ctx, scope, stats, func(ref model.ConversationRef, msgs []model.ExtractedMessage) bool {
			for _, m := range msgs {
				if !yield(ref, m) {
					return false
				}
			}
			return true
		})
	}
}

// Latest 在 Seq 的基础上选出范围内最近的 k 条学生发言，并按时间先后返回。k <= 0 表示不限条数。
// 发言没有时间戳时以所属会话的更新时间代替，同一时刻按会话内位置排序。
func (e *Extractor) Latest(ctx context.Context, scope Scope, k int) ([]model.ExtractedMessage, ExtractStats, error) {
	type candidate struct {
		msg model.ExtractedMessage
		at  time.Time
		seq int
	}
	var (
		stats      ExtractStats
		candidates []candidate
	)
	for ref, m := range e.withRefs(ctx, scope, &stats) {
		at := ref.UpdatedAt
		if m.Timestamp != nil {
			at = *m.Timestamp
		}
		candidates = append(candidates, candidate{msg: m, at: at, seq: len(candidates)})
	}
	if stats.Err != nil {
		return nil, stats, stats.Err
	}

	// 先按新到旧截取 k 条
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].at.Equal(candidates[j].at) {
			return candidates[i].at.After(candidates[j].at)
		}
		return candidates[i].seq > candidates[j].seq
	})
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]model.ExtractedMessage, len(candidates))
	for i, c := range candidates {
		out[len(candidates)-1-i] = c.msg
	}
	return out, stats, nil
}

func (e *Extractor) walk(ctx context.Context, scope Scope, stats *ExtractStats, fn func(model.ConversationRef, []model.ExtractedMessage) bool) {
	refs, err := e.source.ListRefs(ctx, scope.UserID)
	if err != nil {
		stats.Err = fmt.Errorf("failed to list conversations: %w", err)
		return
	}
	for _, ref := range refs {
		if ctx.Err() != nil {
			return
		}
		conv, err := e.source.FindByID(ctx, ref.ID)
		if err != nil {
			stats.Failed++
			log.Warnf("[Extractor] 读取会话失败, ConversationID: %s, Error: %v", ref.ID, err)
			continue
		}
		turns, err := conv.DecodeTurns()
		if err != nil {
			stats.Failed++
			log.Warnf("[Extractor] 解析会话发言失败, ConversationID: %s, Error: %v", ref.ID, err)
			continue
		}
		stats.Conversations++
		msgs := ExtractConversation(model.ConversationRecord{ID: conv.ID, UserID: conv.UserID, Turns: turns}, e.contextTurns)
		stats.Messages += len(msgs)
		if !fn(ref, msgs) {
			return
		}
	}
}
