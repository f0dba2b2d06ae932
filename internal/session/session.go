package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"shopharness/internal/driver"
	"shopharness/internal/interceptor"
	"shopharness/internal/logger"
	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
	"shopharness/pkg/traffic"
)

var (
	// ErrClosed 会话已关闭
	ErrClosed = errors.New("session: closed")

	// ErrNotFound 会话不存在
	ErrNotFound = errors.New("session: not found")
)

// NavigationTimeoutError 页面未在期限内达到加载条件
type NavigationTimeoutError struct {
	URL       string
	WaitUntil model.WaitUntil
	Timeout   time.Duration
}

func (e *NavigationTimeoutError) Error() string {
	return fmt.Sprintf("navigation to %s did not reach %q within %s", e.URL, e.WaitUntil, e.Timeout)
}

// Session 独占一个浏览器上下文和页面，以及至多一组路由规则
type Session struct {
	id       model.SessionID
	cfg      model.SessionConfig
	page     driver.Page
	registry *interceptor.Registry
	client   *http.Client
	owner    *Controller
	log      logger.Logger
	created  time.Time

	mu     sync.Mutex
	closed bool
}

// ID 返回会话ID
func (s *Session) ID() model.SessionID { return s.id }

// Config 返回会话配置
func (s *Session) Config() model.SessionConfig { return s.cfg }

// Install 安装路由规则，替换之前的规则集
func (s *Session) Install(rules []rulespec.Rule) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.registry.Install(rules)
}

// Uninstall 移除路由规则，之后所有请求都会被阻止
func (s *Session) Uninstall() {
	s.registry.Uninstall()
}

// Rules 返回当前规则
func (s *Session) Rules() []rulespec.Rule { return s.registry.Rules() }

// Stats 返回规则命中统计
func (s *Session) Stats() model.EngineStats { return s.registry.Stats() }

// InterceptErr 返回首个未命中路由的请求错误
func (s *Session) InterceptErr() error { return s.registry.Err() }

// Navigate 导航到地址，相对地址基于 BaseURL 解析
func (s *Session) Navigate(ctx context.Context, target string, waitUntil model.WaitUntil) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	abs, err := s.resolve(target)
	if err != nil {
		return err
	}
	waitUntil = waitUntil.OrDefault()
	if !waitUntil.Valid() {
		return fmt.Errorf("unknown wait condition %q", waitUntil)
	}

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()

	start := time.Now()
	err = s.page.Navigate(navCtx, abs, waitUntil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || (navCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil) {
			s.log.Warn("导航超时", "url", abs, "waitUntil", string(waitUntil), "timeout", s.cfg.NavTimeout)
			return &NavigationTimeoutError{URL: abs, WaitUntil: waitUntil, Timeout: s.cfg.NavTimeout}
		}
		if regErr := s.registry.Err(); regErr != nil {
			return errors.Join(regErr, err)
		}
		return err
	}
	s.log.Debug("导航完成", "url", abs, "waitUntil", string(waitUntil), "duration", time.Since(start))
	return nil
}

// Click 点击首个匹配元素
func (s *Session) Click(ctx context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.page.Click(ctx, selector)
}

// Fill 填写首个匹配的表单控件
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.page.Fill(ctx, selector, value)
}

// SetViewport 调整视口，尺寸不得低于下限
func (s *Session) SetViewport(ctx context.Context, vp model.Viewport) error {
	if err := vp.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.page.SetViewport(ctx, vp); err != nil {
		return err
	}
	s.cfg.Viewport = vp
	return nil
}

// Viewport 返回当前视口
func (s *Session) Viewport() model.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Viewport
}

// Query 返回匹配元素快照
func (s *Session) Query(ctx context.Context, selector string) ([]driver.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.page.Query(ctx, selector)
}

// AXSnapshot 返回可访问性树快照
func (s *Session) AXSnapshot(ctx context.Context) ([]driver.AXNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.page.AXSnapshot(ctx)
}

// URL 返回当前文档地址
func (s *Session) URL() string {
	return s.page.URL()
}

// Fetch 发出接口级请求，与页面请求经过同一组路由规则
func (s *Session) Fetch(ctx context.Context, req *traffic.Request) (*traffic.Response, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	abs, err := s.resolve(req.URL)
	if err != nil {
		return nil, err
	}
	out := *req
	out.URL = abs
	out.Method = strings.ToUpper(out.Method)
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	if out.Headers == nil {
		out.Headers = make(traffic.Header)
	}
	if out.ResourceType == "" {
		out.ResourceType = "Fetch"
	}

	dec := s.registry.Intercept(&out)
	switch dec.Action {
	case traffic.ActionFulfill:
		return dec.Response, nil
	case traffic.ActionContinue:
		return driver.Forward(ctx, s.client, &out)
	default:
		return nil, dec.Err
	}
}

// Close 释放页面和浏览器上下文，可重复调用
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.registry.Uninstall()
	err := s.page.Close()
	s.page.SetInterceptor(nil)
	if s.owner != nil {
		s.owner.remove(s.id)
	}
	if err != nil {
		s.log.Err(err, "关闭页面失败")
		return fmt.Errorf("close session %s: %w", s.id, err)
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// resolve 将相对地址解析为基于 BaseURL 的绝对地址
func (s *Session) resolve(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", target, err)
	}
	if u.IsAbs() || s.cfg.BaseURL == "" {
		return u.String(), nil
	}
	base, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", s.cfg.BaseURL, err)
	}
	return base.ResolveReference(u).String(), nil
}
