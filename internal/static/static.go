package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"shopharness/internal/driver"
	"shopharness/internal/logger"
	"shopharness/pkg/model"
	"shopharness/pkg/traffic"
)

// ErrBlocked 请求被拦截钩子阻止
var ErrBlocked = errors.New("net::ERR_BLOCKED_BY_CLIENT")

// subresources 文档加载后请求的子资源
var subresources = []struct {
	selector string
	attr     string
	kind     string
}{
	{"link[rel=stylesheet][href]", "href", "Stylesheet"},
	{"script[src]", "src", "Script"},
	{"img[src]", "src", "Image"},
}

// Options 静态后端配置
type Options struct {
	Client *http.Client // 放行请求使用的客户端
	Logger logger.Logger
}

// Browser 不执行脚本的静态文档后端，所有文档和子资源都经过拦截钩子
type Browser struct {
	client *http.Client
	log    logger.Logger

	mu     sync.Mutex
	pages  map[*Page]struct{}
	closed bool
}

var _ driver.Browser = (*Browser)(nil)

// New 创建静态后端
func New(opts Options) *Browser {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Browser{client: client, log: l, pages: make(map[*Page]struct{})}
}

// NewPage 创建空白页面
func (b *Browser) NewPage(ctx context.Context, opts driver.PageOptions) (driver.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("static: browser closed")
	}
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader("<html><head></head><body></body></html>"))
	p := &Page{
		owner:    b,
		client:   b.client,
		log:      b.log,
		opts:     opts,
		viewport: opts.Viewport,
		url:      "about:blank",
		doc:      doc,
	}
	b.pages[p] = struct{}{}
	return p, nil
}

// Close 关闭所有页面
func (b *Browser) Close() error {
	b.mu.Lock()
	b.closed = true
	pages := make([]*Page, 0, len(b.pages))
	for p := range b.pages {
		pages = append(pages, p)
	}
	b.mu.Unlock()
	for _, p := range pages {
		_ = p.Close()
	}
	return nil
}

func (b *Browser) forget(p *Page) {
	b.mu.Lock()
	delete(b.pages, p)
	b.mu.Unlock()
}

// Page 静态文档页面
type Page struct {
	owner  *Browser
	client *http.Client
	log    logger.Logger
	opts   driver.PageOptions

	mu       sync.Mutex
	hook     traffic.Interceptor
	viewport model.Viewport
	url      string
	doc      *goquery.Document
	closed   bool
}

var _ driver.Page = (*Page)(nil)

// SetInterceptor 绑定拦截钩子
func (p *Page) SetInterceptor(i traffic.Interceptor) {
	p.mu.Lock()
	p.hook = i
	p.mu.Unlock()
}

// Navigate 通过拦截钩子加载文档及其子资源
func (p *Page) Navigate(ctx context.Context, rawURL string, waitUntil model.WaitUntil) error {
	if !waitUntil.OrDefault().Valid() {
		return fmt.Errorf("unknown wait condition %q", waitUntil)
	}
	req := traffic.NewRequest(http.MethodGet, rawURL)
	return p.load(ctx, req, waitUntil.OrDefault())
}

// load 发出文档请求并替换当前文档
func (p *Page) load(ctx context.Context, req *traffic.Request, waitUntil model.WaitUntil) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	req.ResourceType = "Document"
	p.decorate(req)

	res, err := p.exchange(ctx, req)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", req.URL, err)
	}
	doc, err := parseDocument(res)
	if err != nil {
		return fmt.Errorf("parse %s: %w", req.URL, err)
	}

	p.mu.Lock()
	p.doc = doc
	p.url = req.URL
	p.mu.Unlock()
	p.log.Debug("静态文档已加载", "url", req.URL, "status", res.StatusCode)

	if waitUntil == model.WaitDOMContentLoaded {
		return nil
	}
	return p.loadSubresources(ctx, doc, req.URL)
}

// loadSubresources 请求样式、脚本和图片，只关心是否得到应答
func (p *Page) loadSubresources(ctx context.Context, doc *goquery.Document, base string) error {
	for _, sr := range subresources {
		var urls []string
		doc.Find(sr.selector).Each(func(_ int, s *goquery.Selection) {
			if v := strings.TrimSpace(s.AttrOr(sr.attr, "")); v != "" && !strings.HasPrefix(v, "data:") {
				urls = append(urls, v)
			}
		})
		for _, u := range urls {
			abs, err := resolve(base, u)
			if err != nil {
				continue
			}
			req := traffic.NewRequest(http.MethodGet, abs)
			req.ResourceType = sr.kind
			p.decorate(req)
			if _, err := p.exchange(ctx, req); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				p.log.Debug("子资源加载失败", "url", abs, "error", err)
			}
		}
	}
	return nil
}

// exchange 按拦截决策得到响应，每个请求恰好应答一次
func (p *Page) exchange(ctx context.Context, req *traffic.Request) (*traffic.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	hook := p.hook
	p.mu.Unlock()

	if hook == nil {
		return nil, ErrBlocked
	}
	dec := hook.Intercept(req)
	switch dec.Action {
	case traffic.ActionFulfill:
		return dec.Response, nil
	case traffic.ActionContinue:
		return driver.Forward(ctx, p.client, req)
	default:
		if dec.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBlocked, dec.Err)
		}
		return nil, ErrBlocked
	}
}

// decorate 补充浏览器会携带的请求头
func (p *Page) decorate(req *traffic.Request) {
	if p.opts.UserAgent != "" {
		req.Headers.Set("User-Agent", p.opts.UserAgent)
	}
	if p.opts.Locale != "" {
		req.Headers.Set("Accept-Language", p.opts.Locale)
	}
}

// URL 返回当前文档地址
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// SetViewport 记录视口尺寸，静态文档不重新布局
func (p *Page) SetViewport(ctx context.Context, vp model.Viewport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.viewport = vp
	p.mu.Unlock()
	return nil
}

// Viewport 返回当前视口
func (p *Page) Viewport() model.Viewport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport
}

// Click 链接跳转或提交表单，其它元素无效果
func (p *Page) Click(ctx context.Context, selector string) error {
	target, doc, base, err := p.first(selector)
	if err != nil {
		return err
	}
	n := target.Get(0)

	if link := target.Closest("a[href]"); link.Length() > 0 {
		href := strings.TrimSpace(link.AttrOr("href", ""))
		switch {
		case strings.HasPrefix(href, "javascript:"):
			return nil
		case strings.HasPrefix(href, "#"):
			p.mu.Lock()
			p.url = withFragment(base, href)
			p.mu.Unlock()
			return nil
		}
		abs, err := resolve(base, href)
		if err != nil {
			return fmt.Errorf("click %q: %w", selector, err)
		}
		return p.load(ctx, traffic.NewRequest(http.MethodGet, abs), model.WaitLoad)
	}

	if !isSubmitter(n) {
		return nil
	}
	form := formOf(doc, target)
	if form == nil {
		return nil
	}
	if !formValid(form) {
		p.log.Debug("表单校验未通过，取消提交", "selector", selector)
		return nil
	}
	req, err := buildSubmission(base, form, target)
	if err != nil {
		return fmt.Errorf("submit %q: %w", selector, err)
	}
	return p.load(ctx, req, model.WaitLoad)
}

// Fill 设置表单控件的值
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, _, _, err := p.first(selector)
	if err != nil {
		return err
	}
	n := target.Get(0)
	p.mu.Lock()
	defer p.mu.Unlock()
	switch n.Data {
	case "input", "textarea", "select":
	default:
		if _, ok := attr(n, "contenteditable"); !ok {
			return fmt.Errorf("fill %q: element <%s> is not a form control", selector, n.Data)
		}
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
		return nil
	}
	setValue(n, value)
	return nil
}

// Query 按文档顺序返回匹配元素快照
func (p *Page) Query(ctx context.Context, selector string) ([]driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("static: page closed")
	}
	matches := p.doc.FindMatcher(sel)
	out := make([]driver.Element, 0, matches.Length())
	for _, n := range matches.Nodes {
		out = append(out, snapshot(p.doc, n))
	}
	return out, nil
}

// AXSnapshot 从可见元素推导可访问性节点
func (p *Page) AXSnapshot(ctx context.Context) ([]driver.AXNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	body := p.doc.Find("body")
	if body.Length() == 0 {
		return nil, nil
	}
	out := []driver.AXNode{{Role: "RootWebArea", Name: driver.NormalizeText(p.doc.Find("title").Text())}}
	body.Find("*").Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		if !visible(n) {
			return
		}
		if v, _ := attr(n, "aria-hidden"); v == "true" {
			return
		}
		el := snapshot(p.doc, n)
		if el.Role == "" {
			return
		}
		out = append(out, driver.AXNode{Role: el.Role, Name: el.Name})
	})
	return out, nil
}

// Close 释放文档
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.hook = nil
	p.mu.Unlock()
	p.owner.forget(p)
	return nil
}

func (p *Page) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("static: page closed")
	}
	return nil
}

// first 返回首个匹配元素及当前文档
func (p *Page) first(selector string) (*goquery.Selection, *goquery.Document, string, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, nil, "", fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, "", errors.New("static: page closed")
	}
	m := p.doc.FindMatcher(sel)
	if m.Length() == 0 {
		return nil, nil, "", fmt.Errorf("%q: %w", selector, driver.ErrNoElement)
	}
	return m.First(), p.doc, p.url, nil
}

// parseDocument 解析响应为文档，非 HTML 内容按浏览器方式包裹在 pre 中
func parseDocument(res *traffic.Response) (*goquery.Document, error) {
	if res.IsHTML() || (res.ContentType == "" && looksLikeHTML(res.Body)) {
		return goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	}
	wrapped := "<html><head></head><body><pre>" + html.EscapeString(string(res.Body)) + "</pre></body></html>"
	return goquery.NewDocumentFromReader(strings.NewReader(wrapped))
}

func looksLikeHTML(b []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(b)))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

func isSubmitter(n *html.Node) bool {
	t, _ := attr(n, "type")
	t = strings.ToLower(t)
	switch n.Data {
	case "button":
		return t == "" || t == "submit"
	case "input":
		return t == "submit" || t == "image"
	}
	return false
}

// formOf 返回提交按钮所属的表单
func formOf(doc *goquery.Document, submitter *goquery.Selection) *goquery.Selection {
	if id := submitter.AttrOr("form", ""); id != "" {
		var form *goquery.Selection
		doc.Find("form").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if s.AttrOr("id", "") == id {
				form = s
				return false
			}
			return true
		})
		return form
	}
	f := submitter.Closest("form")
	if f.Length() == 0 {
		return nil
	}
	return f
}

// buildSubmission 按表单的 method、action 和 enctype 构造请求
func buildSubmission(base string, form, submitter *goquery.Selection) (*traffic.Request, error) {
	action := submitter.AttrOr("formaction", form.AttrOr("action", ""))
	method := strings.ToUpper(submitter.AttrOr("formmethod", form.AttrOr("method", http.MethodGet)))
	if action == "" {
		action = base
	}
	abs, err := resolve(base, action)
	if err != nil {
		return nil, err
	}
	values := serializeForm(form, submitter)
	if method != http.MethodPost {
		u, err := url.Parse(abs)
		if err != nil {
			return nil, err
		}
		u.RawQuery = values.Encode()
		u.Fragment = ""
		return traffic.NewRequest(http.MethodGet, u.String()), nil
	}
	req := traffic.NewRequest(http.MethodPost, abs)
	req.Headers.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Body = []byte(values.Encode())
	return req, nil
}

func resolve(base, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

func withFragment(base, frag string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	u.Fragment = strings.TrimPrefix(frag, "#")
	return u.String()
}
