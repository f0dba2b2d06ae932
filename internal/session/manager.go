package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"shopharness/internal/driver"
	"shopharness/internal/interceptor"
	"shopharness/internal/logger"
	"shopharness/pkg/model"
)

// Options 控制器配置
type Options struct {
	Defaults model.SessionConfig // 会话缺省配置
	Events   chan<- model.Event  // 拦截事件输出，可为空
	Client   *http.Client        // Fetch 放行请求使用的客户端
	Logger   logger.Logger
}

// Controller 全局会话管理器，每个会话独占一个浏览器上下文
type Controller struct {
	browser  driver.Browser
	defaults model.SessionConfig
	events   chan<- model.Event
	client   *http.Client
	log      logger.Logger

	mu       sync.RWMutex
	sessions map[model.SessionID]*Session
}

// NewController 创建会话管理器
func NewController(b driver.Browser, opts Options) *Controller {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Controller{
		browser:  b,
		defaults: opts.Defaults,
		events:   opts.Events,
		client:   client,
		log:      l,
		sessions: make(map[model.SessionID]*Session),
	}
}

// Open 创建页面并在返回前绑定拦截注册表
func (c *Controller) Open(ctx context.Context, cfg model.SessionConfig) (*Session, error) {
	cfg = c.merge(cfg).Defaults()
	if err := cfg.Viewport.Validate(); err != nil {
		return nil, err
	}

	id := model.SessionID(uuid.New().String())
	l := c.log.With("session", string(id))
	reg := interceptor.New(interceptor.Options{Session: id, Events: c.events, Logger: c.log})

	page, err := c.browser.NewPage(ctx, driver.PageOptions{
		Viewport:    cfg.Viewport,
		Locale:      cfg.Locale,
		ColorScheme: cfg.ColorScheme,
		UserAgent:   cfg.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	page.SetInterceptor(reg)

	s := &Session{
		id:       id,
		cfg:      cfg,
		page:     page,
		registry: reg,
		client:   c.client,
		owner:    c,
		log:      l,
		created:  time.Now(),
	}

	c.mu.Lock()
	c.sessions[id] = s
	c.mu.Unlock()
	l.Info("创建会话", "viewport", cfg.Viewport.String(), "locale", cfg.Locale, "colorScheme", string(cfg.ColorScheme))
	return s, nil
}

// merge 用控制器缺省值补全会话配置
func (c *Controller) merge(cfg model.SessionConfig) model.SessionConfig {
	d := c.defaults
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.BaseURL
	}
	if cfg.Viewport == (model.Viewport{}) {
		cfg.Viewport = d.Viewport
	}
	if cfg.Locale == "" {
		cfg.Locale = d.Locale
	}
	if cfg.ColorScheme == "" {
		cfg.ColorScheme = d.ColorScheme
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = d.UserAgent
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = d.NavTimeout
	}
	return cfg
}

// Get 获取会话
func (c *Controller) Get(id model.SessionID) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	return s, ok
}

// List 返回所有活动会话，按创建时间排序
func (c *Controller) List() []*Session {
	c.mu.RLock()
	list := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		list = append(list, s)
	}
	c.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].created.Before(list[j].created) })
	return list
}

// Close 关闭指定会话
func (c *Controller) Close(id model.SessionID) error {
	s, ok := c.Get(id)
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s.Close()
}

// CloseAll 关闭全部会话，用于进程退出
func (c *Controller) CloseAll() error {
	var errs []error
	for _, s := range c.List() {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// remove 销毁会话
func (c *Controller) remove(id model.SessionID) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
	c.log.Info("销毁会话", "session", string(id))
}
