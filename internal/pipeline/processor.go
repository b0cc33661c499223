package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"tutor-insight-go/internal/model"
	"tutor-insight-go/internal/taxonomy"
	"tutor-insight-go/pkg/log"
	"tutor-insight-go/pkg/tasks"
)

// Report 是一次分析批次的结果。
// Skipped 只统计分类失败、输出被拒绝和概念全部被过滤的发言，预过滤与已分析的发言分开计数。
type Report struct {
	Accepted        int    `json:"accepted"`
	Skipped         int    `json:"skipped"`
	Prefiltered     int    `json:"prefiltered"`
	AlreadyAnalyzed int    `json:"alreadyAnalyzed"`
	ExtractFailures int    `json:"extractFailures"`
	Written         int    `json:"written"`
	Canceled        bool   `json:"canceled"`
	TaxonomyVersion string `json:"taxonomyVersion"`
}

// Persister 一次性写入整批分析结果。
type Persister interface {
	Save(ctx context.Context, attempts []*model.AnalyzedAttempt) (int, error)
}

// Processor 封装了一次分析批次的所有依赖和逻辑。
type Processor struct {
	extractor  *Extractor
	classifier Classifier
	tax        *taxonomy.Taxonomy
	prefilter  *Prefilter
	sink       Persister
	ledger     AttemptLedger
	metrics    *Metrics
	now        func() time.Time
	newID      func() string
}

// Option 配置 Processor 的可选依赖。
type Option func(*Processor)

// WithLedger 启用已分析发言的跳过逻辑。
func WithLedger(ledger AttemptLedger) Option {
	return func(p *Processor) { p.ledger = ledger }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithClock 替换时间来源，测试使用。
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor 创建一个新的 Processor 实例。prefilter 为 nil 时不做预过滤。
func NewProcessor(
	extractor *Extractor,
	classifier Classifier,
	tax *taxonomy.Taxonomy,
	prefilter *Prefilter,
	sink Persister,
	opts ...Option,
) *Processor {
	p := &Processor{
		extractor:  extractor,
		classifier: classifier,
		tax:        tax,
		prefilter:  prefilter,
		sink:       sink,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run 对范围内最近 limit 条学生发言执行一次分析。
// 单条发言失败只计入 Skipped；取消信号在两条发言之间检查，已接受的结果仍会写入。
// 只有列出会话或最终写入失败时返回错误。
func (p *Processor) Run(ctx context.Context, scope Scope, limit int) (Report, error) {
	report := Report{TaxonomyVersion: p.tax.Version}
	log.Infof("[Processor] 开始分析, Scope: %s, Limit: %d, TaxonomyVersion: %s", scope, limit, p.tax.Version)

	// 1. 选取待分析的发言
	msgs, stats, err := p.extractor.Latest(ctx, scope, limit)
	if err != nil {
		p.metrics.run("failed")
		log.Errorf("[Processor] 抽取学生发言失败, Scope: %s, Error: %v", scope, err)
		return report, fmt.Errorf("extract messages: %w", err)
	}
	report.ExtractFailures = stats.Failed
	// 抽取途中被取消时，选出的切片并不完整
	report.Canceled = ctx.Err() != nil
	log.Infof("[Processor] 步骤1: 抽取完成, 会话数: %d, 失败会话数: %d, 选中发言数: %d", stats.Conversations, stats.Failed, len(msgs))

	// 2. 逐条分类、校验、归一化
	analyzed := make(map[string]map[int]struct{})
	accepted := make([]*model.AnalyzedAttempt, 0, len(msgs))
	for _, msg := range msgs {
		if ctx.Err() != nil {
			report.Canceled = true
			log.Warnf("[Processor] 收到取消信号, 停止分析剩余发言, 已接受: %d", len(accepted))
			break
		}
		if p.alreadyAnalyzed(ctx, analyzed, msg) {
			report.AlreadyAnalyzed++
			p.metrics.message(outcomeLedger)
			continue
		}
		if !p.prefilter.Likely(msg.Text) {
			report.Prefiltered++
			p.metrics.message(outcomePrefiltered)
			continue
		}
		attempt, outcome := p.analyze(ctx, msg)
		p.metrics.message(outcome)
		if attempt == nil {
			report.Skipped++
			continue
		}
		accepted = append(accepted, attempt)
	}
	report.Accepted = len(accepted)
	log.Infof("[Processor] 步骤2: 分类完成, 接受: %d, 跳过: %d, 预过滤: %d", report.Accepted, report.Skipped, report.Prefiltered)

	// 3. 整批写入。取消后仍要保存已接受的结果
	saveCtx := ctx
	if report.Canceled {
		saveCtx = context.WithoutCancel(ctx)
	}
	written, err := p.sink.Save(saveCtx, accepted)
	if err != nil {
		p.metrics.run("failed")
		log.Errorf("[Processor] 写入分析结果失败, 数量: %d, Error: %v", len(accepted), err)
		return report, fmt.Errorf("persist analyzed attempts: %w", err)
	}
	report.Written = written
	p.metrics.wrote(written)
	if report.Canceled {
		p.metrics.run("canceled")
	} else {
		p.metrics.run("succeeded")
	}
	log.Infof("[Processor] 步骤3: 分析完成, Scope: %s, 写入: %d", scope, written)
	return report, nil
}

// Process 执行一次来自消息队列的分析任务。
func (p *Processor) Process(ctx context.Context, task tasks.AnalysisTask) error {
	scope := AllUsers()
	if task.UserID != nil {
		scope = ForUser(*task.UserID)
	}
	report, err := p.Run(ctx, scope, task.Limit)
	if err != nil {
		return err
	}
	if report.Canceled {
		// 未完成的任务需要重新投递
		return fmt.Errorf("analysis task %s canceled after %d accepted: %w", task.TaskID, report.Accepted, context.Cause(ctx))
	}
	log.Infow("[Processor] 分析任务完成",
		"taskId", task.TaskID,
		"accepted", report.Accepted,
		"skipped", report.Skipped,
		"written", report.Written,
	)
	return nil
}

// analyze 处理单条发言，返回 nil 表示跳过，outcome 用于统计。
func (p *Processor) analyze(ctx context.Context, msg model.ExtractedMessage) (*model.AnalyzedAttempt, string) {
	// 进行中的模型调用不受取消影响，由客户端自身的超时兜底
	raw, err := p.classifier.Classify(context.WithoutCancel(ctx), msg)
	if err != nil {
		log.Warnf("[Processor] 分类失败, ConversationID: %s, Index: %d, Error: %v", msg.ConversationID, msg.Index, err)
		return nil, outcomeClassifyErr
	}

	var result ClassificationResult
	switch o := Validate(raw).(type) {
	case Accepted:
		result = o.Result
	case Rejected:
		log.Warnf("[Processor] 模型输出被拒绝, ConversationID: %s, Index: %d, Reason: %s, Raw: %q", msg.ConversationID, msg.Index, o.Reason, o.Snippet)
		return nil, outcomeRejected
	default:
		return nil, outcomeRejected
	}

	used := p.tax.Canonicalize(result.UsedConcepts)
	unstable := p.tax.Canonicalize(result.UnstableConcepts)
	if len(used) == 0 && len(unstable) == 0 {
		log.Infof("[Processor] 没有课纲内的概念, 丢弃, ConversationID: %s, Index: %d, 原始概念: %v", msg.ConversationID, msg.Index, result.UsedConcepts)
		return nil, outcomeNoConcepts
	}

	return &model.AnalyzedAttempt{
		ID:                p.newID(),
		UserID:            msg.UserID,
		ConversationID:    msg.ConversationID,
		MessageIndex:      msg.Index,
		OriginalText:      msg.Text,
		UsedConcepts:      model.StringList(used),
		UnstableConcepts:  model.StringList(unstable),
		ThinkingStyle:     string(result.ThinkingStyle),
		ExpressionQuality: string(result.ExpressionQuality),
		Feedback:          model.StringList(result.Feedback),
		Confidence:        result.Confidence,
		TaxonomyVersion:   p.tax.Version,
		AnalyzedAt:        p.now(),
	}, outcomeAccepted
}

// alreadyAnalyzed 查询账本，查询失败时按未分析处理。
func (p *Processor) alreadyAnalyzed(ctx context.Context, cache map[string]map[int]struct{}, msg model.ExtractedMessage) bool {
	if p.ledger == nil {
		return false
	}
	indexes, ok := cache[msg.ConversationID]
	if !ok {
		var err error
		indexes, err = p.ledger.ExistingIndexes(ctx, msg.ConversationID)
		if err != nil {
			log.Warnf("[Processor] 查询已分析记录失败, ConversationID: %s, Error: %v", msg.ConversationID, err)
			indexes = nil
		}
		cache[msg.ConversationID] = indexes
	}
	_, done := indexes[msg.Index]
	return done
}
