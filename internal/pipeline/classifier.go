package pipeline

import (
	"context"

	"tutor-insight-go/internal/model"
	"tutor-insight-go/internal/taxonomy"
	"tutor-insight-go/pkg/llm"
)

// Classifier 对一条学生发言发起一次分类，返回模型的原始输出。
type Classifier interface {
	Classify(ctx context.Context, msg model.ExtractedMessage) (string, error)
}

type llmClassifier struct {
	client llm.Client
	tax    *taxonomy.Taxonomy
	rules  string
}

// NewClassifier 创建基于模型网关的分类器。tax 必须与过滤步骤使用同一个实例。
func NewClassifier(client llm.Client, tax *taxonomy.Taxonomy, rules string) Classifier {
	return &llmClassifier{client: client, tax: tax, rules: rules}
}

func (c *llmClassifier) Classify(ctx context.Context, msg model.ExtractedMessage) (string, error) {
	return c.client.Generate(ctx, BuildPrompt(c.tax, msg, c.rules))
}
