// Package dedup 提供会话列表的启发式去重，用于防止客户端重试造成的重复会话。
// 这里的判断只是尽力而为，不能代替存储层的唯一约束。
package dedup

import (
	"sort"
	"strings"
	"time"

	"tutor-insight-go/internal/model"
)

const (
	// SameTitleWindow 同标题会话之间超过该间隔视为不同会话。
	SameTitleWindow = 30 * time.Second
	// RetryWindow 创建前查重时认为是重试的时间窗口。
	RetryWindow = 5 * time.Second
	// PrefixRunes 比较首条消息前缀时使用的字符数。
	PrefixRunes = 20
)

// Dedupe 去掉重复的会话摘要，结果按创建时间倒序。
// 同 ID 只保留第一次出现的一项；同标题的会话如果与上一个保留的同标题会话间隔不超过
// SameTitleWindow，并且落在同一分钟或首条消息前缀相同，则视为重复。
func Dedupe(list []model.ConversationSummary) []model.ConversationSummary {
	sorted := make([]model.ConversationSummary, len(list))
	copy(sorted, list)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Time().After(sorted[j].CreatedAt.Time())
	})

	out := make([]model.ConversationSummary, 0, len(sorted))
	seenID := make(map[string]struct{}, len(sorted))
	lastByTitle := make(map[string]model.ConversationSummary)
	for _, s := range sorted {
		if _, ok := seenID[s.ID]; ok {
			continue
		}
		seenID[s.ID] = struct{}{}

		if prev, ok := lastByTitle[s.Title]; ok && sameConversation(prev, s) {
			continue
		}
		lastByTitle[s.Title] = s
		out = append(out, s)
	}
	return out
}

func sameConversation(kept, s model.ConversationSummary) bool {
	gap := kept.CreatedAt.Time().Sub(s.CreatedAt.Time())
	if gap < 0 {
		gap = -gap
	}
	if gap > SameTitleWindow {
		return false
	}
	sameMinute := kept.CreatedAt.Time().Truncate(time.Minute).Equal(s.CreatedAt.Time().Truncate(time.Minute))
	return sameMinute || prefix(kept.FirstMessage) == prefix(s.FirstMessage)
}

func prefix(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) > PrefixRunes {
		r = r[:PrefixRunes]
	}
	return string(r)
}

// IsDuplicateCandidate 在创建会话前判断是否是一次重试：
// 标题完全相同、创建时间距 now 不超过 RetryWindow、首条消息完全相同。
func IsDuplicateCandidate(title, firstMessage string, existing []model.ConversationSummary, now time.Time) (model.ConversationSummary, bool) {
	for _, s := range existing {
		if s.Title != title || s.FirstMessage != firstMessage {
			continue
		}
		gap := now.Sub(s.CreatedAt.Time())
		if gap < 0 {
			gap = -gap
		}
		if gap <= RetryWindow {
			return s, true
		}
	}
	return model.ConversationSummary{}, false
}
