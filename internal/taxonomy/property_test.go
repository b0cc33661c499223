package taxonomy

import (
	"testing"
	"unicode"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// fragments 混合了概念片段、噪声片语和非数学词汇，用来拼出贴近模型输出的标签。
var fragments = []string{
	"一元", "二次", "方程式", "函數", "三角形", "圓", "機率", "比例", "的應用", "理解",
	"生物", "光合作用", "歷史", "文法", "數學", "計算", " ", "、", "x²", "聯立",
}

// TestFilterOnlyEmitsConcepts 验证过滤结果要么是概念表成员，要么被丢弃。
func TestFilterOnlyEmitsConcepts(t *testing.T) {
	tax := Default()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("Filter(Normalize(x)) 只产出概念", prop.ForAll(
		func(s string) bool {
			got, ok := tax.Filter(tax.Normalize(s))
			return !ok || tax.Contains(got)
		},
		gen.UnicodeString(unicode.Han),
	))

	properties.Property("拼接标签经 Canonicalize 后只剩概念", prop.ForAll(
		func(i, j, k int, tail string) bool {
			label := fragments[i] + fragments[j] + fragments[k] + tail
			for _, c := range tax.Canonicalize([]string{label, tail}) {
				if !tax.Contains(c) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(fragments)-1),
		gen.IntRange(0, len(fragments)-1),
		gen.IntRange(0, len(fragments)-1),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestNormalizeDeterministic 验证归一化是输入的纯函数，并且对自身输出幂等。
func TestNormalizeDeterministic(t *testing.T) {
	tax := Default()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("Normalize 结果稳定", prop.ForAll(
		func(i, j int) bool {
			label := fragments[i] + fragments[j]
			return tax.Normalize(label) == tax.Normalize(label)
		},
		gen.IntRange(0, len(fragments)-1),
		gen.IntRange(0, len(fragments)-1),
	))

	properties.Property("映射到概念的结果再次归一化不变", prop.ForAll(
		func(s string) bool {
			n := tax.Normalize(s)
			if !tax.Contains(n) {
				return true
			}
			return tax.Normalize(n) == n
		},
		gen.UnicodeString(unicode.Han),
	))

	properties.TestingRun(t)
}
