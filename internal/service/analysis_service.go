package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"tutor-insight-go/internal/config"
	"tutor-insight-go/internal/model"
	"tutor-insight-go/internal/pipeline"
	"tutor-insight-go/internal/repository"
	"tutor-insight-go/pkg/log"
	"tutor-insight-go/pkg/tasks"
)

// ErrRunInProgress 同一范围内已有分析批次在进行。
var ErrRunInProgress = errors.New("已有分析任务正在进行，请稍后再试")

// AnalysisRunner 执行一次分析批次，由 pipeline.Processor 实现。
type AnalysisRunner interface {
	Run(ctx context.Context, scope pipeline.Scope, limit int) (pipeline.Report, error)
}

// TaskPublisher 把分析任务投递到消息队列。
type TaskPublisher func(ctx context.Context, task tasks.AnalysisTask) error

// RunResult 是触发接口返回给前端的结果，只包含计数。
type RunResult struct {
	Accepted int `json:"accepted"`
	Skipped  int `json:"skipped"`
}

// AttemptView 是分析记录的展示形式。
type AttemptView struct {
	ID                string          `json:"id"`
	ConversationID    string          `json:"conversationId"`
	MessageIndex      int             `json:"messageIndex"`
	OriginalText      string          `json:"originalText"`
	UsedConcepts      []string        `json:"usedConcepts"`
	UnstableConcepts  []string        `json:"unstableConcepts"`
	ThinkingStyle     string          `json:"thinkingStyle"`
	ExpressionQuality string          `json:"expressionQuality"`
	Feedback          []string        `json:"feedback"`
	Confidence        *float64        `json:"confidence"`
	TaxonomyVersion   string          `json:"taxonomyVersion"`
	AnalyzedAt        model.LocalTime `json:"analyzedAt"`
}

// AnalysisService 定义了学习信号分析的触发与查询接口。
type AnalysisService interface {
	// Run 同步分析该用户最近 limit 条发言。
	Run(ctx context.Context, userID uint, limit int) (*RunResult, error)
	// Enqueue 投递异步分析任务，userID 为 nil 表示扫描全部用户，返回任务 ID。
	Enqueue(ctx context.Context, requestedBy uint, userID *uint, limit int) (string, error)
	ListAttempts(ctx context.Context, userID uint, limit int) ([]AttemptView, error)
}

type analysisService struct {
	runner      AnalysisRunner
	attemptRepo repository.AnalyzedAttemptRepository
	lockRepo    repository.RunLockRepository
	publish     TaskPublisher
	cfg         config.AnalysisConfig
}

// NewAnalysisService 创建一个新的 AnalysisService。lockRepo 与 publish 可以为 nil。
func NewAnalysisService(
	runner AnalysisRunner,
	attemptRepo repository.AnalyzedAttemptRepository,
	lockRepo repository.RunLockRepository,
	publish TaskPublisher,
	cfg config.AnalysisConfig,
) AnalysisService {
	return &analysisService{
		runner:      runner,
		attemptRepo: attemptRepo,
		lockRepo:    lockRepo,
		publish:     publish,
		cfg:         cfg,
	}
}

// Run 在运行锁保护下执行一次分析。锁只是尽力而为：Redis 出错时仍会继续执行。
func (s *analysisService) Run(ctx context.Context, userID uint, limit int) (*RunResult, error) {
	scope := pipeline.ForUser(userID)
	limit = s.clampLimit(limit)

	if s.lockRepo != nil {
		ttl := time.Duration(s.cfg.RunLockTTLSeconds) * time.Second
		token, ok, err := s.lockRepo.Acquire(ctx, scope.String(), ttl)
		switch {
		case err != nil:
			log.Warnf("[AnalysisService] 获取运行锁失败, 不加锁继续, Scope: %s, Error: %v", scope, err)
		case !ok:
			return nil, ErrRunInProgress
		default:
			defer func() {
				if err := s.lockRepo.Release(context.Background(), scope.String(), token); err != nil {
					log.Warnf("[AnalysisService] 释放运行锁失败, Scope: %s, Error: %v", scope, err)
				}
			}()
		}
	}

	report, err := s.runner.Run(ctx, scope, limit)
	if err != nil {
		return nil, fmt.Errorf("analysis run failed: %w", err)
	}
	return &RunResult{Accepted: report.Accepted, Skipped: report.Skipped}, nil
}

func (s *analysisService) Enqueue(ctx context.Context, requestedBy uint, userID *uint, limit int) (string, error) {
	if s.publish == nil {
		return "", errors.New("analysis task queue is not configured")
	}
	task := tasks.AnalysisTask{
		TaskID:      uuid.NewString(),
		UserID:      userID,
		Limit:       s.clampLimit(limit),
		RequestedBy: requestedBy,
		RequestedAt: time.Now(),
	}
	if err := s.publish(ctx, task); err != nil {
		return "", fmt.Errorf("failed to publish analysis task: %w", err)
	}
	log.Infof("[AnalysisService] 分析任务已投递, TaskID: %s, RequestedBy: %d", task.TaskID, requestedBy)
	return task.TaskID, nil
}

func (s *analysisService) ListAttempts(ctx context.Context, userID uint, limit int) ([]AttemptView, error) {
	attempts, err := s.attemptRepo.ListByUser(ctx, userID, s.clampLimit(limit))
	if err != nil {
		return nil, err
	}
	views := make([]AttemptView, 0, len(attempts))
	for _, a := range attempts {
		views = append(views, AttemptView{
			ID:                a.ID,
			ConversationID:    a.ConversationID,
			MessageIndex:      a.MessageIndex,
			OriginalText:      a.OriginalText,
			UsedConcepts:      nonNil(model.ParseStringList(a.UsedConcepts)),
			UnstableConcepts:  nonNil(model.ParseStringList(a.UnstableConcepts)),
			ThinkingStyle:     a.ThinkingStyle,
			ExpressionQuality: a.ExpressionQuality,
			Feedback:          nonNil(model.ParseStringList(a.Feedback)),
			Confidence:        a.Confidence,
			TaxonomyVersion:   a.TaxonomyVersion,
			AnalyzedAt:        model.LocalTime(a.AnalyzedAt),
		})
	}
	return views, nil
}

// clampLimit 非正数取默认值，超过上限时截断。
func (s *analysisService) clampLimit(limit int) int {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if s.cfg.MaxLimit > 0 && limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	return limit
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
