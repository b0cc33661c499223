package pipeline

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ThinkingStyle 学生的解题思路类型。
type ThinkingStyle string

const (
	ThinkingProcedural   ThinkingStyle = "procedural"
	ThinkingConceptual   ThinkingStyle = "conceptual"
	ThinkingTrialAndErr  ThinkingStyle = "trial_and_error"
	ThinkingStyleUnknown ThinkingStyle = "unknown"
)

// ExpressionQuality 学生表达的清晰程度。
type ExpressionQuality string

const (
	ExpressionClear   ExpressionQuality = "clear"
	ExpressionPartial ExpressionQuality = "partial"
	ExpressionUnclear ExpressionQuality = "unclear"
	ExpressionUnknown ExpressionQuality = "unknown"
)

// ClassificationResult 是校验后的模型判断。缺失的可选字段保持零值：
// 指针为 nil，列表为空，枚举为空字符串。
type ClassificationResult struct {
	IsAttempt         *bool
	Unit              string
	UsedConcepts      []string
	UnstableConcepts  []string
	ThinkingStyle     ThinkingStyle
	ExpressionQuality ExpressionQuality
	Feedback          []string
	Confidence        *float64
}

// RejectReason 说明模型输出为何被拒绝。
type RejectReason string

const (
	RejectEmpty     RejectReason = "empty"
	RejectNotJSON   RejectReason = "not_json"
	RejectNotObject RejectReason = "not_object"
)

// Outcome 是校验结果，只有 Accepted 与 Rejected 两种。
type Outcome interface {
	outcome()
}

// Accepted 模型输出可以解析为一个 JSON 对象。
type Accepted struct {
	Result ClassificationResult
}

// Rejected 模型输出无法使用。Snippet 只用于日志。
type Rejected struct {
	Reason  RejectReason
	Snippet string
}

func (Accepted) outcome() {}
func (Rejected) outcome() {}

var (
	fenceExpr  = regexp.MustCompile("(?s)^```[\\w-]*\\s*(.*?)\\s*```$")
	objectExpr = regexp.MustCompile(`(?s)\{.*\}`)
	listSplit  = regexp.MustCompile(`[、,，;；\n]+`)
)

const snippetRunes = 120

// Validate 解析模型返回的原始文本。任何输入都只会得到 Accepted 或 Rejected。
func Validate(raw string) Outcome {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Rejected{Reason: RejectEmpty}
	}
	s = stripFences(s)

	obj, reason := decodeObject(s)
	if obj == nil {
		// 模型常在 JSON 前后夹带说明文字
		if m := objectExpr.FindString(s); m != "" {
			obj, reason = decodeObject(m)
		}
	}
	if obj == nil {
		obj = decodeFirstObject(s)
	}
	if obj == nil {
		return Rejected{Reason: reason, Snippet: snippet(raw)}
	}
	return Accepted{Result: coerce(obj)}
}

func stripFences(s string) string {
	if m := fenceExpr.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	// 只有开头的围栏，输出被截断时常见
	if strings.HasPrefix(s, "```") {
		s = strings.TrimLeft(s[3:], "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_-")
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	return s
}

func decodeObject(s string) (map[string]json.RawMessage, RejectReason) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, RejectNotJSON
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, RejectNotObject
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, RejectNotObject
	}
	return obj, ""
}

// decodeFirstObject 从第一个 '{' 开始只解码一个 JSON 值，忽略其后的内容。
func decodeFirstObject(s string) map[string]json.RawMessage {
	idx := strings.IndexByte(s, '{')
	if idx < 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.NewDecoder(strings.NewReader(s[idx:])).Decode(&obj); err != nil {
		return nil
	}
	return obj
}

func coerce(obj map[string]json.RawMessage) ClassificationResult {
	var r ClassificationResult
	if raw, ok := lookup(obj, "is_attempt", "isAttempt", "attempt"); ok {
		r.IsAttempt = asBool(raw)
	}
	if raw, ok := lookup(obj, "unit", "topic"); ok {
		r.Unit = asString(raw)
	}
	if raw, ok := lookup(obj, "concepts_used", "used_concepts", "usedConcepts", "concepts"); ok {
		r.UsedConcepts = asStringList(raw)
	}
	if raw, ok := lookup(obj, "unstable_concepts", "unstableConcepts", "weak_concepts"); ok {
		r.UnstableConcepts = asStringList(raw)
	}
	if raw, ok := lookup(obj, "thinking_style", "thinkingStyle"); ok {
		r.ThinkingStyle = parseThinkingStyle(asString(raw))
	}
	if raw, ok := lookup(obj, "expression_quality", "expressionQuality"); ok {
		r.ExpressionQuality = parseExpressionQuality(asString(raw))
	}
	if raw, ok := lookup(obj, "feedback", "suggestions"); ok {
		r.Feedback = asStringList(raw)
	}
	if raw, ok := lookup(obj, "confidence", "score"); ok {
		r.Confidence = asConfidence(raw)
	}
	return r
}

func lookup(obj map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if raw, ok := obj[k]; ok && string(raw) != "null" {
			return raw, true
		}
	}
	return nil, false
}

func asString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// asStringList 接受字符串数组或单个以顿号、逗号分隔的字符串，丢弃非字符串元素。
func asStringList(raw json.RawMessage) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		s := asString(raw)
		if s == "" {
			return nil
		}
		return splitList(s)
	}
	var out []string
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range listSplit.Split(s, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func asBool(raw json.RawMessage) *bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		b = f != 0
		return &b
	}
	switch strings.ToLower(asString(raw)) {
	case "true", "yes", "y", "是", "1":
		b = true
		return &b
	case "false", "no", "n", "否", "0":
		b = false
		return &b
	}
	return nil
}

// asConfidence 接受数字、数字字符串或百分比，结果截断到 [0,1]。
// 大于 1 且不超过 100 的值按百分数处理。
func asConfidence(raw json.RawMessage) *float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		s := strings.TrimSpace(asString(raw))
		percent := strings.HasSuffix(s, "%")
		s = strings.TrimSuffix(s, "%")
		v, perr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if perr != nil {
			return nil
		}
		if percent {
			v /= 100
		}
		f = v
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	if f > 1 && f <= 100 {
		f /= 100
	}
	f = math.Max(0, math.Min(1, f))
	return &f
}

func parseThinkingStyle(s string) ThinkingStyle {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "":
		return ""
	case "procedural", "程序性":
		return ThinkingProcedural
	case "conceptual", "概念性":
		return ThinkingConceptual
	case "trial_and_error", "trial and error", "試誤", "试误":
		return ThinkingTrialAndErr
	default:
		return ThinkingStyleUnknown
	}
}

func parseExpressionQuality(s string) ExpressionQuality {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ""
	case "clear", "清楚":
		return ExpressionClear
	case "partial", "部分清楚":
		return ExpressionPartial
	case "unclear", "不清楚":
		return ExpressionUnclear
	default:
		return ExpressionUnknown
	}
}

func snippet(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= snippetRunes {
		return string(r)
	}
	return string(r[:snippetRunes]) + "…"
}
