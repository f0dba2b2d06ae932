package driver

import (
	"context"
	"errors"

	"shopharness/pkg/model"
	"shopharness/pkg/traffic"
)

var (
	// ErrNoElement 选择器没有匹配到元素
	ErrNoElement = errors.New("driver: no element matches selector")

	// ErrNotSupported 后端不支持该操作
	ErrNotSupported = errors.New("driver: operation not supported")
)

// Element DOM 元素快照
type Element struct {
	Tag        string            `json:"tag"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes"`
	Visible    bool              `json:"visible"`
	Role       string            `json:"role"`
	Name       string            `json:"name"`
}

// Attr 返回属性值及其是否存在
func (e Element) Attr(name string) (string, bool) {
	v, ok := e.Attributes[name]
	return v, ok
}

// AXNode 可访问性树节点
type AXNode struct {
	Role    string `json:"role"`
	Name    string `json:"name"`
	Ignored bool   `json:"ignored"`
}

// PageOptions 页面创建选项
type PageOptions struct {
	Viewport    model.Viewport
	Locale      string
	ColorScheme model.ColorScheme
	UserAgent   string
}

// Browser 浏览器后端，每个页面拥有独立的上下文
type Browser interface {
	// NewPage 创建隔离的页面
	NewPage(ctx context.Context, opts PageOptions) (Page, error)

	// Close 释放浏览器进程或连接
	Close() error
}

// Page 单个页面，调用方保证同一页面上的操作串行执行
type Page interface {
	// Navigate 导航并等待指定的加载条件
	Navigate(ctx context.Context, url string, waitUntil model.WaitUntil) error

	// URL 返回当前文档地址
	URL() string

	// SetViewport 调整视口
	SetViewport(ctx context.Context, vp model.Viewport) error

	// Click 点击首个匹配元素
	Click(ctx context.Context, selector string) error

	// Fill 填写首个匹配的表单控件
	Fill(ctx context.Context, selector, value string) error

	// Query 按文档顺序返回所有匹配元素的快照
	Query(ctx context.Context, selector string) ([]Element, error)

	// AXSnapshot 返回可访问性树快照
	AXSnapshot(ctx context.Context) ([]AXNode, error)

	// SetInterceptor 绑定拦截钩子，nil 表示移除，重复调用替换之前的钩子。
	// 未绑定钩子时页面发出的请求一律被阻止
	SetInterceptor(i traffic.Interceptor)

	// Close 释放页面及其上下文
	Close() error
}
