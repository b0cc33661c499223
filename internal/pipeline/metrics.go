package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 单条发言的处理结果
const (
	outcomeAccepted    = "accepted"
	outcomePrefiltered = "prefiltered"
	outcomeLedger      = "already_analyzed"
	outcomeClassifyErr = "classify_error"
	outcomeRejected    = "rejected"
	outcomeNoConcepts  = "no_concepts"
)

// Metrics 是流水线的 prometheus 指标，nil 时所有记录操作为空操作。
type Metrics struct {
	messages *prometheus.CounterVec
	runs     *prometheus.CounterVec
	written  prometheus.Counter
}

// NewMetrics 创建并注册指标。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutor_insight",
			Subsystem: "analysis",
			Name:      "messages_total",
			Help:      "按处理结果统计的学生发言数",
		}, []string{"outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutor_insight",
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "分析批次数",
		}, []string{"result"}),
		written: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutor_insight",
			Subsystem: "analysis",
			Name:      "attempts_written_total",
			Help:      "写入的分析记录数",
		}),
	}
	reg.MustRegister(m.messages, m.runs, m.written)
	return m
}

func (m *Metrics) message(outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) run(result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
}

func (m *Metrics) wrote(n int) {
	if m == nil {
		return
	}
	m.written.Add(float64(n))
}
