package suite

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"shopharness/internal/scenario"
	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
)

// FixtureSource 按名称查找规则集，suite 内未定义的 fixture 由它解析
type FixtureSource func(name string) ([]rulespec.Rule, error)

// ErrUnknownFixture 引用了不存在的 fixture
var ErrUnknownFixture = errors.New("suite: unknown fixture")

// Suite 场景文件
type Suite struct {
	Name      string                     `yaml:"name"`
	BaseURL   string                     `yaml:"baseURL"`
	Fixtures  map[string][]rulespec.Rule `yaml:"fixtures"`
	Scenarios []ScenarioSpec             `yaml:"scenarios"`
	Audit     *AuditSpec                 `yaml:"audit"`
}

// SessionSpec 场景会话配置
type SessionSpec struct {
	Viewport    *model.Viewport `yaml:"viewport"`
	Locale      string          `yaml:"locale"`
	ColorScheme string          `yaml:"colorScheme"`
	UserAgent   string          `yaml:"userAgent"`
	NavTimeout  time.Duration   `yaml:"navTimeout"`
}

// ScenarioSpec 场景定义，steps 每项为单键映射
type ScenarioSpec struct {
	Name    string      `yaml:"name"`
	Tags    []string    `yaml:"tags"`
	Session SessionSpec `yaml:"session"`
	Steps   []yaml.Node `yaml:"steps"`
}

// AuditSpec 审计定义
type AuditSpec struct {
	Fixture   string           `yaml:"fixture"`
	Pages     []string         `yaml:"pages"`
	Viewports []model.Viewport `yaml:"viewports"`
}

// Parse 解析 YAML 场景文件
func Parse(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse suite: %w", err)
	}
	for name, rules := range s.Fixtures {
		cfg := rulespec.Config{Name: name, Rules: rules}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("fixture %s: %w", name, err)
		}
		s.Fixtures[name] = cfg.Rules
	}
	return &s, nil
}

// Load 从文件加载场景文件
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Rules 查找 fixture，先查本文件再查外部来源
func (s *Suite) Rules(name string, ext FixtureSource) ([]rulespec.Rule, error) {
	if rules, ok := s.Fixtures[name]; ok {
		return rules, nil
	}
	if ext != nil {
		return ext(name)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFixture, name)
}

// Build 将场景定义转换为可执行场景
func (s *Suite) Build(ext FixtureSource) ([]scenario.Scenario, error) {
	out := make([]scenario.Scenario, 0, len(s.Scenarios))
	for i, spec := range s.Scenarios {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("scenario-%d", i+1)
		}
		steps := make([]scenario.Step, 0, len(spec.Steps))
		for j := range spec.Steps {
			step, err := s.decodeStep(&spec.Steps[j], ext)
			if err != nil {
				return nil, fmt.Errorf("scenario %s step %d: %w", name, j, err)
			}
			steps = append(steps, step)
		}
		out = append(out, scenario.Scenario{
			Name:    name,
			Tags:    spec.Tags,
			Session: spec.Session.config(s.BaseURL),
			Steps:   steps,
		})
	}
	return out, nil
}

func (ss SessionSpec) config(baseURL string) model.SessionConfig {
	cfg := model.SessionConfig{
		BaseURL:     baseURL,
		Locale:      ss.Locale,
		ColorScheme: model.ColorScheme(ss.ColorScheme),
		UserAgent:   ss.UserAgent,
		NavTimeout:  ss.NavTimeout,
	}
	if ss.Viewport != nil {
		cfg.Viewport = *ss.Viewport
	}
	return cfg
}
