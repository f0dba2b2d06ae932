package pwdriver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"shopharness/internal/driver"
	"shopharness/internal/logger"
	"shopharness/pkg/model"
	"shopharness/pkg/traffic"
)

// routeAll 拦截所有请求的路由模式
const routeAll = "**/*"

// Options playwright 后端配置
type Options struct {
	Headless bool
	ExecPath string
	Args     []string
	Install  bool // 启动前安装 chromium
}

// Browser 基于 playwright-go 的浏览器实现
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	log     logger.Logger

	mu     sync.Mutex
	pages  map[*Page]struct{}
	closed bool
}

var _ driver.Browser = (*Browser)(nil)

// Launch 启动 playwright 和 Chromium
func Launch(opts Options, l logger.Logger) (*Browser, error) {
	if l == nil {
		l = logger.NewNop()
	}
	if opts.Install {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args,
	}
	if opts.ExecPath != "" {
		launch.ExecutablePath = playwright.String(opts.ExecPath)
	}
	b, err := pw.Chromium.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	l.Info("playwright 浏览器已启动", "version", b.Version(), "headless", opts.Headless)
	return &Browser{pw: pw, browser: b, log: l, pages: make(map[*Page]struct{})}, nil
}

// NewPage 每个页面使用独立的 BrowserContext
func (b *Browser) NewPage(ctx context.Context, opts driver.PageOptions) (driver.Page, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, errors.New("pwdriver: browser closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	co := playwright.BrowserNewContextOptions{}
	if opts.Viewport != (model.Viewport{}) {
		co.Viewport = &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height}
	}
	if opts.Locale != "" {
		co.Locale = playwright.String(opts.Locale)
	}
	if opts.UserAgent != "" {
		co.UserAgent = playwright.String(opts.UserAgent)
	}
	co.ColorScheme = colorScheme(opts.ColorScheme)

	bctx, err := b.browser.NewContext(co)
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	pg, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}

	p := &Page{owner: b, bctx: bctx, page: pg, log: b.log}
	if err := pg.Route(routeAll, p.route); err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("route requests: %w", err)
	}

	b.mu.Lock()
	b.pages[p] = struct{}{}
	b.mu.Unlock()
	return p, nil
}

func (b *Browser) forget(p *Page) {
	b.mu.Lock()
	delete(b.pages, p)
	b.mu.Unlock()
}

// Close 关闭所有页面、浏览器和 playwright 驱动
func (b *Browser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pages := make([]*Page, 0, len(b.pages))
	for p := range b.pages {
		pages = append(pages, p)
	}
	b.mu.Unlock()

	var errs []error
	for _, p := range pages {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.pw.Stop(); err != nil {
		errs = append(errs, err)
	}
	b.log.Info("playwright 浏览器已关闭")
	return errors.Join(errs...)
}

// Page playwright 页面
type Page struct {
	owner *Browser
	bctx  playwright.BrowserContext
	page  playwright.Page
	log   logger.Logger

	hookMu sync.RWMutex
	hook   traffic.Interceptor

	closeOnce sync.Once
	closeErr  error
}

var _ driver.Page = (*Page)(nil)

// route 将 playwright 路由转换为拦截决策，每个路由恰好应答一次
func (p *Page) route(r playwright.Route) {
	p.hookMu.RLock()
	hook := p.hook
	p.hookMu.RUnlock()

	if hook == nil {
		if err := r.Abort("blockedbyclient"); err != nil {
			p.log.Warn("阻止请求失败", "error", err)
		}
		return
	}

	pr := r.Request()
	req := traffic.NewRequest(pr.Method(), pr.URL())
	req.ResourceType = pr.ResourceType()
	for k, v := range pr.Headers() {
		req.Headers.Set(k, v)
	}
	if body, err := pr.PostDataBuffer(); err == nil {
		req.Body = body
	}

	dec := hook.Intercept(req)
	var err error
	switch dec.Action {
	case traffic.ActionFulfill:
		res := dec.Response
		err = r.Fulfill(playwright.RouteFulfillOptions{
			Status:      playwright.Int(res.StatusCode),
			ContentType: playwright.String(res.ContentType),
			Headers:     res.Headers.Clone(),
			Body:        res.Body,
		})
	case traffic.ActionContinue:
		err = r.Continue()
	default:
		err = r.Abort("blockedbyclient")
	}
	if err != nil {
		p.log.Err(err, "应答拦截请求失败", "url", req.URL, "action", dec.Action.String())
	}
}

// SetInterceptor 绑定拦截钩子
func (p *Page) SetInterceptor(i traffic.Interceptor) {
	p.hookMu.Lock()
	p.hook = i
	p.hookMu.Unlock()
}

// Navigate 导航并等待加载条件
func (p *Page) Navigate(ctx context.Context, url string, waitUntil model.WaitUntil) error {
	opts := playwright.PageGotoOptions{WaitUntil: waitState(waitUntil.OrDefault())}
	if ms, ok := remainingMillis(ctx); ok {
		opts.Timeout = playwright.Float(ms)
	}
	if _, err := p.page.Goto(url, opts); err != nil {
		return fmt.Errorf("navigate %s: %w", url, timeoutErr(err))
	}
	return nil
}

// URL 返回当前地址
func (p *Page) URL() string { return p.page.URL() }

// SetViewport 调整视口
func (p *Page) SetViewport(ctx context.Context, vp model.Viewport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.page.SetViewportSize(vp.Width, vp.Height); err != nil {
		return fmt.Errorf("set viewport %s: %w", vp, err)
	}
	return nil
}

// Click 点击首个匹配元素
func (p *Page) Click(ctx context.Context, selector string) error {
	found, err := p.evalBool(ctx, driver.ClickExpression(selector))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("click %q: %w", selector, driver.ErrNoElement)
	}
	return nil
}

// Fill 填写首个匹配的表单控件
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	found, err := p.evalBool(ctx, driver.FillExpression(selector, value))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("fill %q: %w", selector, driver.ErrNoElement)
	}
	return nil
}

// Query 返回所有匹配元素的快照
func (p *Page) Query(ctx context.Context, selector string) ([]driver.Element, error) {
	raw, err := p.evalString(ctx, driver.ProbeExpression(selector))
	if err != nil {
		return nil, err
	}
	return driver.DecodeElements(raw)
}

// AXSnapshot 基于 DOM 推导可访问性节点
func (p *Page) AXSnapshot(ctx context.Context) ([]driver.AXNode, error) {
	raw, err := p.evalString(ctx, driver.AXProbeExpression())
	if err != nil {
		return nil, err
	}
	return driver.DecodeAXNodes(raw)
}

func (p *Page) evalString(ctx context.Context, expr string) (string, error) {
	v, err := p.evaluate(ctx, expr)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (p *Page) evalBool(ctx context.Context, expr string) (bool, error) {
	v, err := p.evaluate(ctx, expr)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func (p *Page) evaluate(ctx context.Context, expr string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := p.page.Evaluate(expr)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return v, nil
}

// Close 关闭页面及其 BrowserContext
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		_ = p.page.Unroute(routeAll)
		p.closeErr = p.bctx.Close()
		p.owner.forget(p)
	})
	return p.closeErr
}

func waitState(w model.WaitUntil) *playwright.WaitUntilState {
	switch w {
	case model.WaitDOMContentLoaded:
		return playwright.WaitUntilStateDomcontentloaded
	case model.WaitNetworkIdle:
		return playwright.WaitUntilStateNetworkidle
	default:
		return playwright.WaitUntilStateLoad
	}
}

func colorScheme(c model.ColorScheme) *playwright.ColorScheme {
	switch c {
	case model.ColorSchemeDark:
		return playwright.ColorSchemeDark
	case model.ColorSchemeNoPreference:
		return playwright.ColorSchemeNoPreference
	case model.ColorSchemeLight:
		return playwright.ColorSchemeLight
	}
	return nil
}

// remainingMillis 将上下文截止时间换算为 playwright 超时毫秒数
func remainingMillis(ctx context.Context) (float64, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, false
	}
	ms := float64(time.Until(deadline).Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return ms, true
}

// timeoutErr 将 playwright 超时映射为 context.DeadlineExceeded
func timeoutErr(err error) error {
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}
