package taxonomy

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// edgeTrim 是清理后标签首尾需要去掉的标点。
const edgeTrim = "、，,。.：:；;!！?？()（）「」『』\"'`-_/"

// Normalize 将任意概念字符串映射到标准概念，规则按固定优先级执行，第一个命中即返回：
// 标准概念或合并规则原样命中；去除噪声片语后再次命中；主题族规则；
// 都不命中时返回清理后的字符串。Normalize 不会失败。
func (t *Taxonomy) Normalize(raw string) string {
	label := strings.TrimSpace(raw)
	if label == "" {
		return ""
	}
	if canon, ok := t.lookup(label); ok {
		return canon
	}

	cleaned := t.stripNoise(label)
	if cleaned == "" {
		return label
	}
	if canon, ok := t.lookup(cleaned); ok {
		return canon
	}

	for _, f := range t.Families {
		if !f.match.MatchString(cleaned) {
			continue
		}
		for _, b := range f.Branches {
			if b.when == nil || b.when.MatchString(cleaned) {
				return b.Label
			}
		}
	}
	return cleaned
}

func (t *Taxonomy) lookup(label string) (string, bool) {
	if t.Contains(label) {
		return label, true
	}
	if to, ok := t.Aliases[label]; ok {
		return to, true
	}
	return "", false
}

func (t *Taxonomy) stripNoise(label string) string {
	s := label
	for _, p := range t.NoisePhrases {
		if p != "" {
			s = strings.ReplaceAll(s, p, "")
		}
	}
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(edgeTrim, r)
	})
	return s
}

// minContainedRunes 是反向包含匹配（标签是概念的子串）要求的最短长度，避免单字误配。
const minContainedRunes = 2

// Filter 是白名单过滤：只返回概念表成员，无法对应的标签被丢弃。
// 对应方式依次为：原样命中；与概念互相包含（取概念表顺序中第一个）；
// 只命中通用数学关键字时归入兜底概念。
func (t *Taxonomy) Filter(label string) (string, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", false
	}
	if t.Contains(label) {
		return label, true
	}
	for _, c := range t.Concepts {
		if c == t.FallbackConcept {
			continue
		}
		if strings.Contains(label, c) {
			return c, true
		}
		if utf8.RuneCountInString(label) >= minContainedRunes && strings.Contains(c, label) {
			return c, true
		}
	}
	if t.mathKeyword != nil && t.FallbackConcept != "" && t.mathKeyword.MatchString(label) {
		return t.FallbackConcept, true
	}
	return "", false
}

// Canonicalize 对一组模型给出的标签做归一化加过滤，去重并保留首次出现的顺序。
// 归一化结果无法通过过滤时，再用原始标签尝试一次。
func (t *Taxonomy) Canonicalize(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, raw := range labels {
		canon, ok := t.Filter(t.Normalize(raw))
		if !ok {
			canon, ok = t.Filter(raw)
		}
		if !ok {
			continue
		}
		if _, dup := seen[canon]; dup {
			continue
		}
		seen[canon] = struct{}{}
		out = append(out, canon)
	}
	return out
}
