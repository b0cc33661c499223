package taxonomy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	tax := Default()
	require.NotNil(t, tax)
	assert.NotEmpty(t, tax.Version)
	assert.True(t, tax.Contains("一元二次方程式"))
	assert.True(t, tax.Contains(tax.FallbackConcept))
	assert.NotContains(t, tax.PromptConcepts(), tax.FallbackConcept)
	assert.Len(t, tax.PromptConcepts(), len(tax.Concepts)-1)
}

func TestLoad(t *testing.T) {
	t.Run("路径为空使用内置概念表", func(t *testing.T) {
		tax, err := Load("")
		require.NoError(t, err)
		assert.Same(t, Default(), tax)
	})

	t.Run("文件不存在", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("从文件加载", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "taxonomy.yaml")
		content := `
version: "test-1"
concepts: [一元一次方程式, 其他]
fallback_concept: 其他
math_keywords: [數學]
families:
  - name: equations
    match: "方程"
    branches:
      - label: 一元一次方程式
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		tax, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "test-1", tax.Version)
		assert.Equal(t, "一元一次方程式", tax.Normalize("解方程"))
	})
}

func TestParseInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{name: "不是 YAML", content: "::: ["},
		{name: "没有概念", content: "version: x\nconcepts: []"},
		{name: "兜底概念不在表中", content: "concepts: [甲]\nfallback_concept: 乙"},
		{name: "合并规则指向未知概念", content: "concepts: [甲]\naliases: {丙: 乙}"},
		{name: "分支指向未知概念", content: "concepts: [甲]\nfamilies:\n  - name: f\n    match: 甲\n    branches:\n      - label: 乙"},
		{name: "正则非法", content: "concepts: [甲]\nfamilies:\n  - name: f\n    match: \"(\"\n    branches:\n      - label: 甲"},
		{name: "主题族没有分支", content: "concepts: [甲]\nfamilies:\n  - name: f\n    match: 甲"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTaxonomy)
		})
	}
}
