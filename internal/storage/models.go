package storage

import (
	"time"
)

// FixtureRecord 命名规则集表
type FixtureRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	Version   string    `json:"version"`
	RulesJSON string    `gorm:"type:text" json:"rulesJson"` // JSON 序列化的规则数组
	RuleCount int       `json:"ruleCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RunRecord 场景执行历史表
type RunRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RunID       string    `gorm:"index;not null" json:"runId"`
	Kind        string    `gorm:"index" json:"kind"` // scenario, audit
	Name        string    `json:"name"`
	Passed      bool      `json:"passed"`
	FailedIndex int       `json:"failedIndex"`
	Error       string    `gorm:"type:text" json:"error"`
	Steps       int       `json:"steps"`
	DurationMs  int64     `json:"durationMs"`
	CreatedAt   time.Time `json:"createdAt"`
}

// EventRecord 拦截事件历史表
type EventRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RunID      string    `gorm:"index" json:"runId"`
	SessionID  string    `gorm:"index" json:"sessionId"`
	Type       string    `gorm:"index" json:"type"` // fulfilled, passed, blocked
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	StatusCode int       `json:"statusCode"`
	RuleID     *string   `json:"ruleId"`
	Error      string    `json:"error"`
	Timestamp  int64     `gorm:"index" json:"timestamp"`
	CreatedAt  time.Time `json:"createdAt"`
}
