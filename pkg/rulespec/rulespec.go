package rulespec

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"shopharness/pkg/model"
)

// PatternKind 规则模式类型
type PatternKind string

const (
	KindGlob  PatternKind = "glob"
	KindRegex PatternKind = "regex"
)

// 常用内容类型
const (
	ContentTypeJSON = "application/json"
	ContentTypeHTML = "text/html; charset=utf-8"
	ContentTypeText = "text/plain; charset=utf-8"
)

// CatchAllPattern 兜底规则模式
const CatchAllPattern = "**/*"

// Respond 响应模板
type Respond struct {
	Status      int               `json:"status" yaml:"status"`
	ContentType string            `json:"contentType,omitempty" yaml:"contentType,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body        string            `json:"body,omitempty" yaml:"body,omitempty"`
	JSON        any               `json:"json,omitempty" yaml:"json,omitempty"`
	Base64      string            `json:"base64,omitempty" yaml:"base64,omitempty"`
	Patch       map[string]any    `json:"patch,omitempty" yaml:"patch,omitempty"`
}

// Rule 路由规则
type Rule struct {
	ID            model.RuleID `json:"id" yaml:"id"`
	Name          string       `json:"name,omitempty" yaml:"name,omitempty"`
	Pattern       string       `json:"pattern" yaml:"pattern"`
	Kind          PatternKind  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Methods       []string     `json:"methods,omitempty" yaml:"methods,omitempty"`
	ResourceTypes []string     `json:"resourceTypes,omitempty" yaml:"resourceTypes,omitempty"`
	Respond       *Respond     `json:"respond,omitempty" yaml:"respond,omitempty"`
	PassThrough   bool         `json:"passThrough,omitempty" yaml:"passThrough,omitempty"`
}

// Label 返回便于日志展示的规则标识
func (r Rule) Label() string {
	if r.ID != "" {
		return string(r.ID)
	}
	if r.Name != "" {
		return r.Name
	}
	return r.Pattern
}

// Validate 校验单条规则的结构
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("rule %q: empty pattern", r.Label())
	}
	switch r.Kind {
	case "", KindGlob, KindRegex:
	default:
		return fmt.Errorf("rule %q: unknown pattern kind %q", r.Label(), r.Kind)
	}
	if r.PassThrough && r.Respond != nil {
		return fmt.Errorf("rule %q: passThrough and respond are exclusive", r.Label())
	}
	if !r.PassThrough && r.Respond == nil {
		return fmt.Errorf("rule %q: needs respond or passThrough", r.Label())
	}
	return nil
}

// Config 规则集文档
type Config struct {
	Version string `json:"version" yaml:"version"`
	Name    string `json:"name" yaml:"name"`
	Rules   []Rule `json:"rules" yaml:"rules"`
}

// Validate 校验规则集并补全缺失的规则ID
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[model.RuleID]bool, len(c.Rules))
	for i := range c.Rules {
		r := &c.Rules[i]
		if r.ID == "" {
			r.ID = model.RuleID(fmt.Sprintf("rule-%d", i+1))
		}
		if seen[r.ID] {
			errs = append(errs, fmt.Errorf("duplicate rule id %q", r.ID))
		}
		seen[r.ID] = true
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HasCatchAll 判断规则集中是否存在兜底规则
func HasCatchAll(rules []Rule) bool {
	for _, r := range rules {
		if (r.Kind == "" || r.Kind == KindGlob) && r.Pattern == CatchAllPattern && len(r.Methods) == 0 && len(r.ResourceTypes) == 0 {
			return true
		}
	}
	return false
}

// Parse 按扩展名解析 JSON 或 YAML 规则集
func Parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse rules yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse rules json: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile 从文件加载规则集
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, filepath.Ext(path))
}

// JSON 创建返回 JSON 的规则
func JSON(pattern string, status int, v any, methods ...string) Rule {
	return Rule{
		Pattern: pattern,
		Methods: methods,
		Respond: &Respond{Status: status, ContentType: ContentTypeJSON, JSON: v},
	}
}

// RawJSON 创建返回原始 JSON 文本的规则
func RawJSON(pattern string, status int, body string, methods ...string) Rule {
	return Rule{
		Pattern: pattern,
		Methods: methods,
		Respond: &Respond{Status: status, ContentType: ContentTypeJSON, Body: body},
	}
}

// HTML 创建返回 HTML 文档的规则
func HTML(pattern string, body string) Rule {
	return Rule{
		Pattern: pattern,
		Respond: &Respond{Status: 200, ContentType: ContentTypeHTML, Body: body},
	}
}

// Status 创建只返回状态码和文本的规则
func Status(pattern string, status int, methods ...string) Rule {
	return Rule{
		Pattern: pattern,
		Methods: methods,
		Respond: &Respond{Status: status, ContentType: ContentTypeText},
	}
}

// PassThrough 创建放行规则
func PassThrough(pattern string, methods ...string) Rule {
	return Rule{Pattern: pattern, Methods: methods, PassThrough: true}
}

// CatchAll 创建兜底规则，默认返回 200 {}
func CatchAll() Rule {
	r := RawJSON(CatchAllPattern, 200, "{}")
	r.ID = "catch-all"
	return r
}

// WithID 设置规则ID
func (r Rule) WithID(id string) Rule {
	r.ID = model.RuleID(id)
	return r
}

// WithResourceTypes 限定资源类型
func (r Rule) WithResourceTypes(types ...string) Rule {
	r.ResourceTypes = types
	return r
}

// Regex 将模式类型改为正则
func (r Rule) Regex() Rule {
	r.Kind = KindRegex
	return r
}
