// Package model 包含了应用的数据模型定义。
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// 发言角色。历史数据中学生发言以 "user" 存储，读取时与 RoleStudent 等价。
const (
	RoleStudent    = "student"
	RoleAssistant  = "assistant"
	RoleSystem     = "system"
	roleLegacyUser = "user"
)

// ContentPart 是一条发言中的一个内容片段，可以是文本、图片引用或两者皆有。
type ContentPart struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Turn 代表会话中的一条发言。
type Turn struct {
	Role      string        `json:"role"`
	Parts     []ContentPart `json:"parts"`
	Timestamp *time.Time    `json:"timestamp,omitempty"`
}

// IsStudent 判断该发言是否由学生撰写。
func (t Turn) IsStudent() bool {
	return t.Role == RoleStudent || t.Role == roleLegacyUser
}

// Text 按顺序拼接所有文本片段并去掉首尾空白。
func (t Turn) Text() string {
	texts := make([]string, 0, len(t.Parts))
	for _, p := range t.Parts {
		if s := strings.TrimSpace(p.Text); s != "" {
			texts = append(texts, s)
		}
	}
	return strings.Join(texts, "\n")
}

// Conversation 对应 conversations 表，一行是一次完整会话。
// 发言序列以 JSON 形式存储，只追加不改写。
type Conversation struct {
	ID        string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID    uint           `gorm:"index;not null" json:"userId"`
	Title     string         `gorm:"type:varchar(255)" json:"title"`
	Turns     datatypes.JSON `json:"-"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime;index" json:"updatedAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// DecodeTurns 解析存储的发言序列，空列视为没有发言。
func (c *Conversation) DecodeTurns() ([]Turn, error) {
	if len(c.Turns) == 0 {
		return nil, nil
	}
	var turns []Turn
	if err := json.Unmarshal(c.Turns, &turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal turns of conversation %s: %w", c.ID, err)
	}
	return turns, nil
}

// SetTurns 将发言序列编码写回列值。
func (c *Conversation) SetTurns(turns []Turn) error {
	if turns == nil {
		turns = []Turn{}
	}
	b, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("failed to marshal turns of conversation %s: %w", c.ID, err)
	}
	c.Turns = datatypes.JSON(b)
	return nil
}

// ConversationRecord 是流水线读取到的会话：身份加已解析的发言序列。
type ConversationRecord struct {
	ID     string
	UserID uint
	Turns  []Turn
}

// ConversationRef 是批量扫描时使用的轻量会话引用。
type ConversationRef struct {
	ID        string
	UserID    uint
	UpdatedAt time.Time
}

// ConversationSummary 是会话列表页展示的一项。
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	FirstMessage string    `json:"firstMessage"`
	CreatedAt    LocalTime `json:"createdAt"`
}
