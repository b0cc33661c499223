package pipeline

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"tutor-insight-go/internal/taxonomy"
)

// mathHintExpr 是数学相关发言的常见字样与运算符号。
var mathHintExpr = regexp.MustCompile(`[=+×÷*/^²³√<>≤≥≠%％]|題|题|解|算|方程|函數|函数|幾何|几何|面積|面积|角|機率|概率|分數|分数|比例|因式|根號|根号|證明|证明`)

// Prefilter 在调用模型之前粗略判断一条发言是否可能与数学有关，只用于节省调用。
// 关闭时所有发言都会送去分类，结果的正确性不依赖它。
type Prefilter struct {
	enabled  bool
	minRunes int
	tax      *taxonomy.Taxonomy
}

// NewPrefilter 创建预过滤器，tax 可以为 nil。
func NewPrefilter(enabled bool, minRunes int, tax *taxonomy.Taxonomy) *Prefilter {
	return &Prefilter{enabled: enabled, minRunes: minRunes, tax: tax}
}

// Likely 命中数学字样，或同时包含数字且长度不低于 minRunes 时返回 true。
func (p *Prefilter) Likely(text string) bool {
	if p == nil || !p.enabled {
		return true
	}
	if mathHintExpr.MatchString(text) {
		return true
	}
	if p.tax != nil && p.tax.HasMathKeyword(text) {
		return true
	}
	return strings.IndexFunc(text, unicode.IsDigit) >= 0 && utf8.RuneCountInString(text) >= p.minRunes
}
