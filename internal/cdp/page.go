package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/accessibility"
	"github.com/mafredri/cdp/protocol/emulation"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"

	"shopharness/internal/driver"
	"shopharness/internal/logger"
	"shopharness/pkg/model"
	"shopharness/pkg/traffic"
)

// lifecycleNames 导航条件到 Page.lifecycleEvent 名称的映射
var lifecycleNames = map[model.WaitUntil]string{
	model.WaitLoad:             "load",
	model.WaitDOMContentLoaded: "DOMContentLoaded",
	model.WaitNetworkIdle:      "networkIdle",
}

// Page 基于 CDP 的页面实现
type Page struct {
	mgr     *Manager
	id      target.ID
	conn    *rpcc.Conn
	client  *cdp.Client
	dispose func(context.Context) error
	log     logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hookMu sync.RWMutex
	hook   traffic.Interceptor

	urlMu sync.RWMutex
	url   string

	closeOnce sync.Once
	closeErr  error
}

var _ driver.Page = (*Page)(nil)

func newPage(m *Manager, id target.ID, conn *rpcc.Conn, dispose func(context.Context) error) *Page {
	ctx, cancel := context.WithCancel(context.Background())
	return &Page{
		mgr:     m,
		id:      id,
		conn:    conn,
		client:  cdp.NewClient(conn),
		dispose: dispose,
		log:     m.log.With("target", string(id)),
		ctx:     ctx,
		cancel:  cancel,
		url:     "about:blank",
	}
}

// setup 启用所需的 CDP 域、拦截和仿真参数
func (p *Page) setup(ctx context.Context, opts driver.PageOptions) error {
	if err := p.client.Page.Enable(ctx); err != nil {
		return fmt.Errorf("enable page domain: %w", err)
	}
	if err := p.client.Page.SetLifecycleEventsEnabled(ctx, page.NewSetLifecycleEventsEnabledArgs(true)); err != nil {
		return fmt.Errorf("enable lifecycle events: %w", err)
	}
	if err := p.client.Runtime.Enable(ctx); err != nil {
		return fmt.Errorf("enable runtime domain: %w", err)
	}

	navigated, err := p.client.Page.FrameNavigated(p.ctx)
	if err != nil {
		return fmt.Errorf("subscribe frame navigation: %w", err)
	}
	p.wg.Add(1)
	go p.trackURL(navigated)

	paused, err := p.client.Fetch.RequestPaused(p.ctx)
	if err != nil {
		return fmt.Errorf("subscribe request paused: %w", err)
	}
	pattern := "*"
	if err := p.client.Fetch.Enable(ctx, &fetch.EnableArgs{
		Patterns: []fetch.RequestPattern{{URLPattern: &pattern, RequestStage: fetch.RequestStageRequest}},
	}); err != nil {
		_ = paused.Close()
		return fmt.Errorf("enable fetch interception: %w", err)
	}
	p.wg.Add(1)
	go p.consume(paused)

	if err := p.SetViewport(ctx, opts.Viewport); err != nil {
		return err
	}
	if opts.UserAgent != "" {
		if err := p.client.Emulation.SetUserAgentOverride(ctx,
			emulation.NewSetUserAgentOverrideArgs(opts.UserAgent).SetAcceptLanguage(opts.Locale)); err != nil {
			return fmt.Errorf("override user agent: %w", err)
		}
	}
	if opts.Locale != "" {
		if err := p.client.Emulation.SetLocaleOverride(ctx, emulation.NewSetLocaleOverrideArgs().SetLocale(opts.Locale)); err != nil {
			p.log.Warn("设置区域失败", "locale", opts.Locale, "error", err)
		}
	}
	if opts.ColorScheme != "" {
		media := emulation.NewSetEmulatedMediaArgs().SetFeatures([]emulation.MediaFeature{
			{Name: "prefers-color-scheme", Value: string(opts.ColorScheme)},
		})
		if err := p.client.Emulation.SetEmulatedMedia(ctx, media); err != nil {
			return fmt.Errorf("emulate color scheme: %w", err)
		}
	}
	return nil
}

// trackURL 跟踪主框架的地址变化
func (p *Page) trackURL(stream page.FrameNavigatedClient) {
	defer p.wg.Done()
	defer stream.Close()
	for {
		ev, err := stream.Recv()
		if err != nil {
			return
		}
		if ev.Frame.ParentID == nil {
			p.urlMu.Lock()
			p.url = ev.Frame.URL
			p.urlMu.Unlock()
		}
	}
}

// SetInterceptor 绑定拦截钩子
func (p *Page) SetInterceptor(i traffic.Interceptor) {
	p.hookMu.Lock()
	p.hook = i
	p.hookMu.Unlock()
}

func (p *Page) interceptor() traffic.Interceptor {
	p.hookMu.RLock()
	defer p.hookMu.RUnlock()
	return p.hook
}

// Navigate 导航并等待生命周期事件
func (p *Page) Navigate(ctx context.Context, url string, waitUntil model.WaitUntil) error {
	name, ok := lifecycleNames[waitUntil.OrDefault()]
	if !ok {
		return fmt.Errorf("unknown wait condition %q", waitUntil)
	}

	events, err := p.client.Page.LifecycleEvent(ctx)
	if err != nil {
		return fmt.Errorf("subscribe lifecycle: %w", err)
	}
	defer events.Close()

	nav, err := p.client.Page.Navigate(ctx, page.NewNavigateArgs(url))
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, contextErr(ctx, err))
	}
	if nav.ErrorText != nil && *nav.ErrorText != "" {
		return fmt.Errorf("navigate %s: %s", url, *nav.ErrorText)
	}
	if nav.LoaderID == nil {
		// 同文档导航没有新的加载器
		return nil
	}

	for {
		ev, err := events.Recv()
		if err != nil {
			return fmt.Errorf("wait %s for %s: %w", name, url, contextErr(ctx, err))
		}
		if ev.FrameID == nav.FrameID && ev.LoaderID == *nav.LoaderID && ev.Name == name {
			p.urlMu.Lock()
			p.url = url
			p.urlMu.Unlock()
			return nil
		}
	}
}

// URL 返回当前主框架地址
func (p *Page) URL() string {
	p.urlMu.RLock()
	defer p.urlMu.RUnlock()
	return p.url
}

// SetViewport 覆盖设备尺寸
func (p *Page) SetViewport(ctx context.Context, vp model.Viewport) error {
	if vp == (model.Viewport{}) {
		return nil
	}
	args := emulation.NewSetDeviceMetricsOverrideArgs(vp.Width, vp.Height, 1, false)
	if err := p.client.Emulation.SetDeviceMetricsOverride(ctx, args); err != nil {
		return fmt.Errorf("set viewport %s: %w", vp, err)
	}
	return nil
}

// Click 点击首个匹配元素
func (p *Page) Click(ctx context.Context, selector string) error {
	var found bool
	if err := p.eval(ctx, driver.ClickExpression(selector), &found); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("click %q: %w", selector, driver.ErrNoElement)
	}
	return nil
}

// Fill 填写首个匹配的表单控件
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	var found bool
	if err := p.eval(ctx, driver.FillExpression(selector, value), &found); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("fill %q: %w", selector, driver.ErrNoElement)
	}
	return nil
}

// Query 返回所有匹配元素的快照
func (p *Page) Query(ctx context.Context, selector string) ([]driver.Element, error) {
	var raw string
	if err := p.eval(ctx, driver.ProbeExpression(selector), &raw); err != nil {
		return nil, err
	}
	return driver.DecodeElements(raw)
}

// AXSnapshot 读取完整可访问性树
func (p *Page) AXSnapshot(ctx context.Context) ([]driver.AXNode, error) {
	if err := p.client.Accessibility.Enable(ctx); err != nil {
		return nil, fmt.Errorf("enable accessibility: %w", err)
	}
	tree, err := p.client.Accessibility.GetFullAXTree(ctx, accessibility.NewGetFullAXTreeArgs())
	if err != nil {
		return nil, fmt.Errorf("get ax tree: %w", contextErr(ctx, err))
	}
	out := make([]driver.AXNode, 0, len(tree.Nodes))
	for _, n := range tree.Nodes {
		out = append(out, driver.AXNode{
			Role:    axString(n.Role),
			Name:    axString(n.Name),
			Ignored: n.Ignored,
		})
	}
	return out, nil
}

// eval 以值返回方式执行脚本
func (p *Page) eval(ctx context.Context, expr string, out any) error {
	args := runtime.NewEvaluateArgs(expr).SetReturnByValue(true).SetAwaitPromise(true)
	reply, err := p.client.Runtime.Evaluate(ctx, args)
	if err != nil {
		return fmt.Errorf("evaluate: %w", contextErr(ctx, err))
	}
	if reply.ExceptionDetails != nil {
		return fmt.Errorf("evaluate: %s", reply.ExceptionDetails.Text)
	}
	if len(reply.Result.Value) == 0 {
		return nil
	}
	return json.Unmarshal(reply.Result.Value, out)
}

// Close 停止事件消费并销毁页面及其浏览器上下文
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var errs []error
		if err := p.mgr.closeTarget(ctx, p.id); err != nil {
			errs = append(errs, fmt.Errorf("close target: %w", err))
		}
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		p.wg.Wait()
		if err := p.dispose(ctx); err != nil {
			errs = append(errs, fmt.Errorf("dispose browser context: %w", err))
		}
		p.mgr.forget(p.id)
		p.closeErr = errors.Join(errs...)
		p.log.Info("页面已关闭")
	})
	return p.closeErr
}

func axString(v *accessibility.AXValue) string {
	if v == nil || len(v.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err != nil {
		return string(v.Value)
	}
	return s
}

// contextErr 优先返回上下文错误，便于上层识别超时
func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
