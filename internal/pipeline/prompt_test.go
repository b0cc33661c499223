package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"tutor-insight-go/internal/model"
	"tutor-insight-go/internal/taxonomy"
)

func TestBuildPrompt(t *testing.T) {
	tax := taxonomy.Default()
	msg := model.ExtractedMessage{
		Text: "下一題 x²-4=0",
		Context: []model.ContextTurn{
			{Role: model.RoleAssistant, Text: "很好", Before: true},
			{Role: model.RoleAssistant, Text: "用平方差試試看"},
		},
	}

	prompt := BuildPrompt(tax, msg, "")

	assert.Contains(t, prompt, defaultPromptRules)
	assert.Contains(t, prompt, "只輸出一個 JSON 物件")
	assert.Contains(t, prompt, "禁止輸出數學以外領域")
	for _, c := range tax.PromptConcepts() {
		assert.Contains(t, prompt, c)
	}
	assert.NotContains(t, prompt, tax.FallbackConcept)
	assert.Contains(t, prompt, "<<<\n下一題 x²-4=0\n>>>")

	before := strings.Index(prompt, "[老師] 很好")
	marker := strings.Index(prompt, "[待分析]")
	after := strings.Index(prompt, "[老師] 用平方差試試看")
	assert.True(t, before >= 0 && before < marker && marker < after, "context turns must surround the marker")
}

func TestBuildPromptCustomRules(t *testing.T) {
	prompt := BuildPrompt(taxonomy.Default(), model.ExtractedMessage{Text: "1+1"}, "  自訂規則  ")
	assert.True(t, strings.HasPrefix(prompt, defaultPromptRules+"\n自訂規則\n\n"))
	assert.NotContains(t, prompt, "對話上下文")
}
