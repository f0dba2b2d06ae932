package model

import (
	"fmt"
	"time"
)

// SessionID 会话ID
type SessionID string

// RuleID 规则ID
type RuleID string

// 视口下限
const (
	MinViewportWidth  = 320
	MinViewportHeight = 480
)

// Viewport 视口尺寸
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// String 返回 WxH 形式
func (v Viewport) String() string { return fmt.Sprintf("%dx%d", v.Width, v.Height) }

// Validate 校验视口不低于下限
func (v Viewport) Validate() error {
	if v.Width < MinViewportWidth || v.Height < MinViewportHeight {
		return fmt.Errorf("viewport %s below minimum %dx%d", v, MinViewportWidth, MinViewportHeight)
	}
	return nil
}

// DefaultViewport 默认桌面视口
func DefaultViewport() Viewport { return Viewport{Width: 1280, Height: 720} }

// DefaultViewports 响应式检查使用的视口矩阵
func DefaultViewports() []Viewport {
	return []Viewport{
		{Width: 320, Height: 720},
		{Width: 768, Height: 720},
		{Width: 1024, Height: 720},
		{Width: 1280, Height: 720},
	}
}

// WaitUntil 导航完成条件
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// Valid 判断是否为已知条件
func (w WaitUntil) Valid() bool {
	switch w {
	case WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle:
		return true
	}
	return false
}

// OrDefault 空值时返回 load
func (w WaitUntil) OrDefault() WaitUntil {
	if w == "" {
		return WaitLoad
	}
	return w
}

// ColorScheme 颜色方案
type ColorScheme string

const (
	ColorSchemeLight        ColorScheme = "light"
	ColorSchemeDark         ColorScheme = "dark"
	ColorSchemeNoPreference ColorScheme = "no-preference"
)

// SessionConfig 会话配置
type SessionConfig struct {
	BaseURL     string        `json:"baseURL"`
	Viewport    Viewport      `json:"viewport"`
	Locale      string        `json:"locale"`
	ColorScheme ColorScheme   `json:"colorScheme"`
	UserAgent   string        `json:"userAgent"`
	Headless    bool          `json:"headless"`
	NavTimeout  time.Duration `json:"navTimeout"`
}

// Defaults 填充缺省值
func (c SessionConfig) Defaults() SessionConfig {
	if c.Viewport == (Viewport{}) {
		c.Viewport = DefaultViewport()
	}
	if c.Locale == "" {
		c.Locale = "en-US"
	}
	if c.ColorScheme == "" {
		c.ColorScheme = ColorSchemeLight
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	return c
}

// EngineStats 规则引擎统计信息
type EngineStats struct {
	Total   int64            `json:"total"`
	Matched int64            `json:"matched"`
	ByRule  map[RuleID]int64 `json:"byRule"`
}

// 事件类型
const (
	EventFulfilled = "fulfilled"
	EventPassed    = "passed"
	EventBlocked   = "blocked"
)

// Event 拦截事件
type Event struct {
	Type      string    `json:"type"`
	Session   SessionID `json:"session"`
	Rule      *RuleID   `json:"rule"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	Status    int       `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp int64     `json:"timestamp"`
}
