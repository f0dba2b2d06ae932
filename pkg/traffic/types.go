package traffic

import (
	"net/http"
	"strings"
)

// Header 封装通用的头部操作
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Clone 复制 Header
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Request 被拦截请求的只读快照
type Request struct {
	ID           string // 后端分配的请求ID
	URL          string // 完整URL
	Method       string // HTTP方法
	Headers      Header // 请求头
	Body         []byte // 请求体原始数据
	ResourceType string // 资源类型 (如 Document, XHR, Fetch)
}

// Response 合成响应
type Response struct {
	StatusCode  int    // 状态码
	ContentType string // 内容类型
	Headers     Header // 额外响应头
	Body        []byte // 响应体数据
}

// NewRequest 创建初始化请求对象
func NewRequest(method, url string) *Request {
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		URL:     url,
		Method:  strings.ToUpper(method),
		Headers: make(Header),
	}
}

// NewResponse 创建初始化响应对象
func NewResponse() *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Headers:    make(Header),
	}
}

// Clone 复制响应，避免多个请求共享同一份 Body
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := &Response{
		StatusCode:  r.StatusCode,
		ContentType: r.ContentType,
		Headers:     r.Headers.Clone(),
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// HeaderList 返回包含 Content-Type 的完整响应头
func (r *Response) HeaderList() map[string]string {
	out := make(map[string]string, len(r.Headers)+1)
	for k, v := range r.Headers {
		out[k] = v
	}
	if r.ContentType != "" {
		out["content-type"] = r.ContentType
	}
	return out
}

// IsHTML 判断响应是否为 HTML 文档
func (r *Response) IsHTML() bool {
	return strings.Contains(strings.ToLower(r.ContentType), "text/html")
}

// Action 拦截决策类型
type Action int

const (
	// ActionBlock 阻止请求
	ActionBlock Action = iota

	// ActionFulfill 使用合成响应完成请求
	ActionFulfill

	// ActionContinue 放行到原始目标
	ActionContinue
)

// String 返回决策类型的字符串表示
func (a Action) String() string {
	switch a {
	case ActionFulfill:
		return "fulfill"
	case ActionContinue:
		return "continue"
	default:
		return "block"
	}
}

// Decision 拦截决策
type Decision struct {
	Action   Action
	Response *Response // ActionFulfill 时有效
	RuleID   string    // 命中的规则，未命中为空
	Err      error     // ActionBlock 时的原因
}

// Interceptor 页面后端对每个出站请求调用的钩子。
// 后端必须对每个请求恰好应答一次。
type Interceptor interface {
	Intercept(req *Request) Decision
}

// InterceptorFunc 函数适配器
type InterceptorFunc func(req *Request) Decision

// Intercept 调用函数本身
func (f InterceptorFunc) Intercept(req *Request) Decision { return f(req) }
