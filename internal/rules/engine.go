package rules

import (
	"fmt"
	"sync"

	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
	"shopharness/pkg/traffic"
)

// Engine 按注册顺序匹配规则，首个命中者胜出
type Engine struct {
	rules    []rulespec.Rule
	matchers []*Matcher

	mu    sync.Mutex
	stats model.EngineStats
}

// Result 匹配结果
type Result struct {
	Index int
	Rule  *rulespec.Rule
}

// New 编译规则集并创建引擎
func New(rs []rulespec.Rule) (*Engine, error) {
	e := &Engine{
		rules:    make([]rulespec.Rule, len(rs)),
		matchers: make([]*Matcher, len(rs)),
		stats:    model.EngineStats{ByRule: make(map[model.RuleID]int64)},
	}
	copy(e.rules, rs)
	for i := range e.rules {
		m, err := Compile(e.rules[i])
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", e.rules[i].Label(), err)
		}
		e.matchers[i] = m
	}
	return e, nil
}

// Len 返回规则数量
func (e *Engine) Len() int { return len(e.rules) }

// Rules 返回规则副本
func (e *Engine) Rules() []rulespec.Rule {
	out := make([]rulespec.Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Eval 返回首个匹配的规则，未命中返回 nil
func (e *Engine) Eval(req *traffic.Request) *Result {
	var res *Result
	for i, m := range e.matchers {
		if m.Match(req) {
			res = &Result{Index: i, Rule: &e.rules[i]}
			break
		}
	}
	e.record(res)
	return res
}

func (e *Engine) record(res *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Total++
	if res == nil {
		return
	}
	e.stats.Matched++
	e.stats.ByRule[res.Rule.ID]++
}

// Stats 返回命中统计的快照
func (e *Engine) Stats() model.EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := model.EngineStats{
		Total:   e.stats.Total,
		Matched: e.stats.Matched,
		ByRule:  make(map[model.RuleID]int64, len(e.stats.ByRule)),
	}
	for k, v := range e.stats.ByRule {
		out.ByRule[k] = v
	}
	return out
}
