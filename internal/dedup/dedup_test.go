package dedup

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"tutor-insight-go/internal/model"
)

var base = time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)

func summary(id, title, first string, offset time.Duration) model.ConversationSummary {
	return model.ConversationSummary{ID: id, Title: title, FirstMessage: first, CreatedAt: model.LocalTime(base.Add(offset))}
}

func ids(list []model.ConversationSummary) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func TestDedupe(t *testing.T) {
	testCases := []struct {
		name  string
		input []model.ConversationSummary
		want  []string
	}{
		{
			name:  "空列表",
			input: nil,
			want:  []string{},
		},
		{
			name: "重复 ID 保留一项并按时间倒序",
			input: []model.ConversationSummary{
				summary("a", "一元一次", "3x+5=20", 0),
				summary("b", "畢氏定理", "直角三角形", time.Minute),
				summary("a", "一元一次", "3x+5=20", 0),
			},
			want: []string{"b", "a"},
		},
		{
			name: "同一分钟内同标题保留最新",
			input: []model.ConversationSummary{
				summary("old", "新對話", "你好", 2*time.Second),
				summary("new", "新對話", "請問題目", 20*time.Second),
			},
			want: []string{"new"},
		},
		{
			name: "跨分钟但首条消息前缀相同",
			input: []model.ConversationSummary{
				summary("old", "新對話", "請問這題怎麼解 3x+5=20 我算出來是 x=5 第一版", 50*time.Second),
				summary("new", "新對話", "請問這題怎麼解 3x+5=20 我算出來是 x=4 第二版", 70*time.Second),
			},
			want: []string{"new"},
		},
		{
			name: "跨分钟且内容不同",
			input: []model.ConversationSummary{
				summary("old", "新對話", "你好", 50*time.Second),
				summary("new", "新對話", "請問題目", 70*time.Second),
			},
			want: []string{"new", "old"},
		},
		{
			name: "超过 30 秒视为不同会话",
			input: []model.ConversationSummary{
				summary("old", "新對話", "你好", 0),
				summary("new", "新對話", "你好", 45*time.Second),
			},
			want: []string{"new", "old"},
		},
		{
			name: "不同标题互不影响",
			input: []model.ConversationSummary{
				summary("x", "函數", "你好", 0),
				summary("y", "機率", "你好", time.Second),
			},
			want: []string{"y", "x"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ids(Dedupe(tc.input)))
		})
	}
}

func TestIsDuplicateCandidate(t *testing.T) {
	existing := []model.ConversationSummary{summary("a", "新對話", "3x+5=20", 0)}
	testCases := []struct {
		name  string
		title string
		first string
		now   time.Time
		want  bool
	}{
		{name: "重试", title: "新對話", first: "3x+5=20", now: base.Add(3 * time.Second), want: true},
		{name: "窗口边界", title: "新對話", first: "3x+5=20", now: base.Add(RetryWindow), want: true},
		{name: "超过窗口", title: "新對話", first: "3x+5=20", now: base.Add(6 * time.Second), want: false},
		{name: "标题不同", title: "另一個", first: "3x+5=20", now: base, want: false},
		{name: "首条消息不同", title: "新對話", first: "3x+5=21", now: base, want: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := IsDuplicateCandidate(tc.title, tc.first, existing, tc.now)
			assert.Equal(t, tc.want, ok)
			if ok {
				assert.Equal(t, "a", got.ID)
			}
		})
	}
}

// TestDedupeIdempotent 验证 Dedupe(Dedupe(x)) == Dedupe(x)。
func TestDedupeIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	titles := []string{"新對話", "函數", "機率"}
	firsts := []string{"你好", "請問這題怎麼解 3x+5=20 我算出來是 x=5 第一版", "請問這題怎麼解 3x+5=20 我算出來是 x=4 第二版"}
	idsPool := []string{"a", "b", "c", "d", "e", "f"}

	entryGen := gen.IntRange(0, len(idsPool)*len(titles)*len(firsts)*180-1).Map(func(n int) model.ConversationSummary {
		id := idsPool[n%len(idsPool)]
		n /= len(idsPool)
		title := titles[n%len(titles)]
		n /= len(titles)
		first := firsts[n%len(firsts)]
		n /= len(firsts)
		return summary(id, title, first, time.Duration(n)*time.Second)
	})

	properties.Property("去重结果再去重不变", prop.ForAll(
		func(list []model.ConversationSummary) bool {
			once := Dedupe(list)
			return assert.ObjectsAreEqual(once, Dedupe(once))
		},
		gen.SliceOf(entryGen),
	))

	properties.Property("结果中 ID 唯一且按时间倒序", prop.ForAll(
		func(list []model.ConversationSummary) bool {
			out := Dedupe(list)
			seen := map[string]bool{}
			for i, s := range out {
				if seen[s.ID] {
					return false
				}
				seen[s.ID] = true
				if i > 0 && out[i-1].CreatedAt.Time().Before(s.CreatedAt.Time()) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(entryGen),
	))

	properties.TestingRun(t)
}
