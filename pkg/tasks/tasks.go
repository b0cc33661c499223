// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// AnalysisTask 是一次异步分析请求。UserID 为 nil 表示扫描全部用户。
type AnalysisTask struct {
	TaskID      string    `json:"task_id"`
	UserID      *uint     `json:"user_id,omitempty"`
	Limit       int       `json:"limit"`
	RequestedBy uint      `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}
