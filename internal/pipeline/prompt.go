package pipeline

import (
	"fmt"
	"strings"

	"tutor-insight-go/internal/model"
	"tutor-insight-go/internal/taxonomy"
)

const defaultPromptRules = "你是國中數學的學習分析助手，負責判斷學生在對話中展現的數學學習狀況。"

// BuildPrompt 构造单条学生发言的分类提示词，rules 追加在默认说明之后。
// 提示词固定输出为纯 JSON，逐条列出课纲概念，并禁止数学以外领域的概念。
func BuildPrompt(tax *taxonomy.Taxonomy, msg model.ExtractedMessage, rules string) string {
	var sb strings.Builder

	sb.WriteString(defaultPromptRules)
	sb.WriteString("\n")
	if rules = strings.TrimSpace(rules); rules != "" {
		sb.WriteString(rules)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString("請只輸出一個 JSON 物件，不要輸出任何說明文字，也不要使用 Markdown 程式碼區塊。\n")
	sb.WriteString("JSON 欄位如下：\n")
	sb.WriteString(`{"is_attempt": 布林值，學生是否正在嘗試解題,` + "\n")
	sb.WriteString(` "unit": 字串，本句最相關的單元,` + "\n")
	sb.WriteString(` "concepts_used": 字串陣列，學生已正確運用的概念,` + "\n")
	sb.WriteString(` "unstable_concepts": 字串陣列，學生掌握不穩定的概念,` + "\n")
	sb.WriteString(` "thinking_style": "procedural" | "conceptual" | "trial_and_error" | "unknown",` + "\n")
	sb.WriteString(` "expression_quality": "clear" | "partial" | "unclear",` + "\n")
	sb.WriteString(` "feedback": 字串陣列，給學生的簡短建議,` + "\n")
	sb.WriteString(` "confidence": 0 到 1 之間的數字}` + "\n\n")

	sb.WriteString("concepts_used 與 unstable_concepts 只能從下列課綱單元中選擇，必須逐字使用：\n")
	for i, c := range tax.PromptConcepts() {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, c))
	}
	sb.WriteString("禁止輸出數學以外領域（如自然、社會、語文）的概念。若發言與數學無關，兩個概念欄位都輸出空陣列。\n\n")

	if len(msg.Context) > 0 {
		sb.WriteString("對話上下文：\n")
		for _, c := range msg.Context {
			if !c.Before {
				continue
			}
			sb.WriteString(fmt.Sprintf("[%s] %s\n", roleLabel(c.Role), c.Text))
		}
		sb.WriteString("[待分析] ……\n")
		for _, c := range msg.Context {
			if c.Before {
				continue
			}
			sb.WriteString(fmt.Sprintf("[%s] %s\n", roleLabel(c.Role), c.Text))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("待分析的學生發言：\n<<<\n")
	sb.WriteString(msg.Text)
	sb.WriteString("\n>>>\n")
	return sb.String()
}

func roleLabel(role string) string {
	switch role {
	case model.RoleAssistant:
		return "老師"
	case model.RoleSystem:
		return "系統"
	default:
		return "學生"
	}
}
