package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ExtractedMessage 是从会话中抽取出的一条学生发言，只在一次分析中存在，不单独落库。
// Index 是该发言在所属会话发言序列中的位置（从 1 开始），同一会话重复抽取时保持不变。
type ExtractedMessage struct {
	ConversationID string
	UserID         uint
	Index          int
	Text           string
	Timestamp      *time.Time
	// Context 为同一会话中前后若干条发言，仅用于构造提示词。
	Context []ContextTurn
}

// ContextTurn 是提示词中附带的一条上下文发言。
type ContextTurn struct {
	Role   string
	Text   string
	Before bool
}

// AnalyzedAttempt 对应 analyzed_attempts 表，是分析流水线唯一的持久化产物。
// 概念列只包含课纲概念表中的标准名称。
type AnalyzedAttempt struct {
	ID                string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID            uint           `gorm:"index;not null" json:"userId"`
	ConversationID    string         `gorm:"type:varchar(64);not null;index:idx_attempt_message" json:"conversationId"`
	MessageIndex      int            `gorm:"not null;index:idx_attempt_message" json:"messageIndex"`
	OriginalText      string         `gorm:"type:text" json:"originalText"`
	UsedConcepts      datatypes.JSON `json:"usedConcepts"`
	UnstableConcepts  datatypes.JSON `json:"unstableConcepts"`
	ThinkingStyle     string         `gorm:"type:varchar(32)" json:"thinkingStyle"`
	ExpressionQuality string         `gorm:"type:varchar(32)" json:"expressionQuality"`
	Feedback          datatypes.JSON `json:"feedback"`
	Confidence        *float64       `json:"confidence"`
	TaxonomyVersion   string         `gorm:"type:varchar(32)" json:"taxonomyVersion"`
	AnalyzedAt        time.Time      `gorm:"index;not null" json:"analyzedAt"`
}

func (AnalyzedAttempt) TableName() string {
	return "analyzed_attempts"
}

// StringList 将字符串列表编码为 JSON 列值，nil 编码为空数组。
func StringList(values []string) datatypes.JSON {
	if values == nil {
		values = []string{}
	}
	b, _ := json.Marshal(values)
	return datatypes.JSON(b)
}

// ParseStringList 解析 JSON 列中的字符串列表。
func ParseStringList(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
