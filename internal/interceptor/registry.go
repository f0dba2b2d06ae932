package interceptor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"shopharness/internal/executor"
	"shopharness/internal/logger"
	"shopharness/internal/rules"
	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
	"shopharness/pkg/traffic"
)

// ErrConcurrentInstall 另一次 Install 正在进行
var ErrConcurrentInstall = errors.New("interceptor: concurrent rule install")

// NoRouteMatchedError 出站请求没有命中任何规则
type NoRouteMatchedError struct {
	URL    string
	Method string
}

func (e *NoRouteMatchedError) Error() string {
	return fmt.Sprintf("no route matched %s %s", e.Method, e.URL)
}

// Options 注册表配置
type Options struct {
	Session model.SessionID
	Events  chan<- model.Event
	Logger  logger.Logger
}

// ruleSet 一次安装的不可变快照
type ruleSet struct {
	engine   *rules.Engine
	outcomes []*executor.Outcome
}

// Registry 单个会话的拦截规则表，负责协调规则匹配、响应生成和事件发送
type Registry struct {
	session model.SessionID
	events  chan<- model.Event
	log     logger.Logger

	installMu sync.Mutex

	mu         sync.RWMutex
	active     *ruleSet
	violations []*NoRouteMatchedError
}

// New 创建拦截注册表
func New(opts Options) *Registry {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Registry{
		session: opts.Session,
		events:  opts.Events,
		log:     l.With("session", string(opts.Session)),
	}
}

// Install 安装规则集，替换而非叠加之前的规则。
// 所有响应模板在替换前物化，任何模板错误都会在导航前暴露。
func (r *Registry) Install(rs []rulespec.Rule) error {
	if !r.installMu.TryLock() {
		return ErrConcurrentInstall
	}
	defer r.installMu.Unlock()

	cfg := rulespec.Config{Rules: append([]rulespec.Rule(nil), rs...)}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("install rules: %w", err)
	}
	rs = cfg.Rules

	engine, err := rules.New(rs)
	if err != nil {
		return err
	}
	outcomes, err := executor.MaterializeAll(rs)
	if err != nil {
		r.log.Err(err, "规则响应模板物化失败")
		return err
	}
	if !rulespec.HasCatchAll(rs) {
		r.log.Warn("规则集缺少兜底规则，未匹配请求将被阻止", "rules", len(rs))
	}

	r.mu.Lock()
	r.active = &ruleSet{engine: engine, outcomes: outcomes}
	r.mu.Unlock()

	r.log.Info("安装拦截规则", "rules", len(rs))
	return nil
}

// Uninstall 移除规则集，可重复调用
func (r *Registry) Uninstall() {
	r.mu.Lock()
	had := r.active != nil
	r.active = nil
	r.mu.Unlock()
	if had {
		r.log.Info("卸载拦截规则")
	}
}

// Installed 是否已安装规则
func (r *Registry) Installed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active != nil
}

// Rules 返回当前规则副本
func (r *Registry) Rules() []rulespec.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return nil
	}
	return r.active.engine.Rules()
}

// Stats 返回当前规则集的命中统计
func (r *Registry) Stats() model.EngineStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return model.EngineStats{ByRule: map[model.RuleID]int64{}}
	}
	return r.active.engine.Stats()
}

// Intercept 处理一次出站请求并返回决策
func (r *Registry) Intercept(req *traffic.Request) traffic.Decision {
	start := time.Now()

	r.mu.RLock()
	active := r.active
	r.mu.RUnlock()

	var res *rules.Result
	if active != nil {
		res = active.engine.Eval(req)
	}
	if res == nil {
		err := &NoRouteMatchedError{URL: req.URL, Method: req.Method}
		r.recordViolation(err)
		r.sendEvent(model.Event{
			Type:   model.EventBlocked,
			URL:    req.URL,
			Method: req.Method,
			Error:  err.Error(),
		})
		r.log.Warn("请求未命中任何规则，已阻止", "method", req.Method, "url", req.URL)
		return traffic.Decision{Action: traffic.ActionBlock, Err: err}
	}

	outcome := active.outcomes[res.Index]
	ruleID := res.Rule.ID
	dec := traffic.Decision{Action: outcome.Action(), RuleID: string(ruleID)}
	evt := model.Event{Rule: &ruleID, URL: req.URL, Method: req.Method}
	if outcome.PassThrough {
		evt.Type = model.EventPassed
	} else {
		dec.Response = outcome.Respond()
		evt.Type = model.EventFulfilled
		evt.Status = dec.Response.StatusCode
	}
	r.sendEvent(evt)
	r.log.Debug("请求处理完成", "rule", string(ruleID), "result", dec.Action.String(), "url", req.URL, "duration", time.Since(start))
	return dec
}

// Err 返回首个未命中错误，之后保持不变
func (r *Registry) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.violations) == 0 {
		return nil
	}
	return r.violations[0]
}

// Violations 返回全部未命中记录
func (r *Registry) Violations() []*NoRouteMatchedError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*NoRouteMatchedError, len(r.violations))
	copy(out, r.violations)
	return out
}

func (r *Registry) recordViolation(err *NoRouteMatchedError) {
	r.mu.Lock()
	r.violations = append(r.violations, err)
	r.mu.Unlock()
}

// sendEvent 安全发送事件到通道，自动添加时间戳
func (r *Registry) sendEvent(evt model.Event) {
	if r.events == nil {
		return
	}
	evt.Session = r.session
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case r.events <- evt:
	default:
	}
}
