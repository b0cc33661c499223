package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"tutor-insight-go/internal/taxonomy"
)

func TestPrefilterLikely(t *testing.T) {
	p := NewPrefilter(true, 5, taxonomy.Default())
	testCases := []struct {
		name string
		text string
		want bool
	}{
		{name: "算式", text: "3x+5=20", want: true},
		{name: "关键字", text: "這題怎麼解", want: true},
		{name: "数学关键字", text: "我不太懂統計", want: true},
		{name: "数字且足够长", text: "第 12 頁看不懂", want: true},
		{name: "数字但太短", text: "12", want: false},
		{name: "寒暄", text: "喔我懂了", want: false},
		{name: "无关话题", text: "今天天氣很好", want: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.Likely(tc.text))
		})
	}
}

func TestPrefilterDisabled(t *testing.T) {
	assert.True(t, NewPrefilter(false, 5, nil).Likely("喔我懂了"))

	var p *Prefilter
	assert.True(t, p.Likely("喔我懂了"))
}
