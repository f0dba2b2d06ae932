package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"shopharness/internal/assert"
	"shopharness/internal/driver"
	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
	"shopharness/pkg/traffic"
)

// MaxSleep Sleep 步骤的上限
const MaxSleep = 10 * time.Second

// ErrNoResponse 断言响应前没有执行 Request 步骤
var ErrNoResponse = errors.New("scenario: no response recorded")

// Step 场景中的单个步骤
type Step interface {
	// Describe 返回用于日志和报告的描述
	Describe() string
	run(ctx context.Context, st *state) error
}

// state 单次场景执行的可变状态
type state struct {
	runner *Runner
	target Target
	last   *traffic.Response
	checks []assert.Result
}

func (st *state) eventually(ctx context.Context, q assert.Querier, p assert.Predicate, timeout time.Duration) error {
	res := st.runner.engine().Eventually(ctx, q, p, timeout)
	st.checks = append(st.checks, res)
	return res.Err()
}

// waitPresent 交互前等待元素出现
func (st *state) waitPresent(ctx context.Context, selector string) error {
	res := st.runner.engine().Eventually(ctx, st.target, assert.AnyPresent(selector), st.runner.actionTimeout())
	return res.Err()
}

// Navigate 导航到地址
type Navigate struct {
	URL       string
	WaitUntil model.WaitUntil
}

func (s Navigate) Describe() string { return "navigate " + s.URL }

func (s Navigate) run(ctx context.Context, st *state) error {
	return st.target.Navigate(ctx, s.URL, s.WaitUntil)
}

// Fill 填写表单控件
type Fill struct {
	Selector string
	Value    string
}

func (s Fill) Describe() string { return fmt.Sprintf("fill %s", s.Selector) }

func (s Fill) run(ctx context.Context, st *state) error {
	if err := st.waitPresent(ctx, s.Selector); err != nil {
		return err
	}
	return st.target.Fill(ctx, s.Selector, s.Value)
}

// Click 点击元素
type Click struct {
	Selector string
}

func (s Click) Describe() string { return "click " + s.Selector }

func (s Click) run(ctx context.Context, st *state) error {
	if err := st.waitPresent(ctx, s.Selector); err != nil {
		return err
	}
	return st.target.Click(ctx, s.Selector)
}

// WaitForSelector 等待至少一个匹配元素可见
type WaitForSelector struct {
	Selector string
	Timeout  time.Duration
}

func (s WaitForSelector) Describe() string { return "wait for " + s.Selector }

func (s WaitForSelector) run(ctx context.Context, st *state) error {
	return st.eventually(ctx, st.target, assert.AnyVisible(s.Selector), s.Timeout)
}

// AssertVisible 断言元素可见，Any 为真时允许多个匹配
type AssertVisible struct {
	Selector string
	Any      bool
	Timeout  time.Duration
}

func (s AssertVisible) Describe() string { return "assert visible " + s.Selector }

func (s AssertVisible) run(ctx context.Context, st *state) error {
	p := assert.Visible(s.Selector)
	if s.Any {
		p = assert.AnyVisible(s.Selector)
	}
	return st.eventually(ctx, st.target, p, s.Timeout)
}

// AssertText 断言唯一匹配元素的文本
type AssertText struct {
	Selector string
	Expected string
	Contains bool
	Timeout  time.Duration
}

func (s AssertText) Describe() string { return fmt.Sprintf("assert text %s %q", s.Selector, s.Expected) }

func (s AssertText) run(ctx context.Context, st *state) error {
	p := assert.TextEquals(s.Selector, s.Expected)
	if s.Contains {
		p = assert.TextContains(s.Selector, s.Expected)
	}
	return st.eventually(ctx, st.target, p, s.Timeout)
}

// AssertAnyText 断言任一匹配元素包含文本
type AssertAnyText struct {
	Selector string
	Contains string
	Timeout  time.Duration
}

func (s AssertAnyText) Describe() string {
	return fmt.Sprintf("assert any text %s %q", s.Selector, s.Contains)
}

func (s AssertAnyText) run(ctx context.Context, st *state) error {
	return st.eventually(ctx, st.target, assert.AnyTextContains(s.Selector, s.Contains), s.Timeout)
}

// AssertAttribute 断言属性值
type AssertAttribute struct {
	Selector string
	Name     string
	Expected string
	Timeout  time.Duration
}

func (s AssertAttribute) Describe() string {
	return fmt.Sprintf("assert attribute %s[%s] %q", s.Selector, s.Name, s.Expected)
}

func (s AssertAttribute) run(ctx context.Context, st *state) error {
	return st.eventually(ctx, st.target, assert.AttributeEquals(s.Selector, s.Name, s.Expected), s.Timeout)
}

// AssertCount 断言匹配数量，AtLeast 为真时表示下限
type AssertCount struct {
	Selector string
	Count    int
	AtLeast  bool
	Timeout  time.Duration
}

func (s AssertCount) Describe() string { return fmt.Sprintf("assert count %s %d", s.Selector, s.Count) }

func (s AssertCount) run(ctx context.Context, st *state) error {
	p := assert.CountEquals(s.Selector, s.Count)
	if s.AtLeast {
		p = assert.CountAtLeast(s.Selector, s.Count)
	}
	return st.eventually(ctx, st.target, p, s.Timeout)
}

// SetViewport 调整视口
type SetViewport struct {
	Width  int
	Height int
}

func (s SetViewport) Describe() string {
	return "set viewport " + model.Viewport{Width: s.Width, Height: s.Height}.String()
}

func (s SetViewport) run(ctx context.Context, st *state) error {
	return st.target.SetViewport(ctx, model.Viewport{Width: s.Width, Height: s.Height})
}

// AssertURL 断言当前地址包含子串
type AssertURL struct {
	Contains string
	Timeout  time.Duration
}

func (s AssertURL) Describe() string { return fmt.Sprintf("assert url contains %q", s.Contains) }

func (s AssertURL) run(ctx context.Context, st *state) error {
	return st.eventually(ctx, locationQuerier{st.target}, assert.TextContains(locationSelector, s.Contains), s.Timeout)
}

const locationSelector = "location"

// locationQuerier 将当前地址包装为单个元素，以复用轮询断言
type locationQuerier struct{ t Target }

func (l locationQuerier) Query(context.Context, string) ([]driver.Element, error) {
	return []driver.Element{{Tag: locationSelector, Text: l.t.URL(), Visible: true}}, nil
}

// InstallRules 替换会话的路由规则
type InstallRules struct {
	Rules []rulespec.Rule
}

func (s InstallRules) Describe() string { return fmt.Sprintf("install %d rules", len(s.Rules)) }

func (s InstallRules) run(_ context.Context, st *state) error {
	return st.target.Install(s.Rules)
}

// Request 通过会话路由规则发出接口请求并记录响应
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	JSON    any
}

func (s Request) Describe() string { return fmt.Sprintf("request %s %s", s.Method, s.URL) }

func (s Request) run(ctx context.Context, st *state) error {
	req := traffic.NewRequest(s.Method, s.URL)
	for k, v := range s.Headers {
		req.Headers.Set(k, v)
	}
	switch {
	case s.JSON != nil:
		body, err := json.Marshal(s.JSON)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		req.Body = body
		if req.Headers.Get("content-type") == "" {
			req.Headers.Set("content-type", rulespec.ContentTypeJSON)
		}
	case s.Body != "":
		req.Body = []byte(s.Body)
	}
	res, err := st.target.Fetch(ctx, req)
	if err != nil {
		return err
	}
	st.last = res
	return nil
}

// AssertStatus 断言最近一次响应的状态码
type AssertStatus struct {
	Code int
}

func (s AssertStatus) Describe() string { return fmt.Sprintf("assert status %d", s.Code) }

func (s AssertStatus) run(_ context.Context, st *state) error {
	if st.last == nil {
		return ErrNoResponse
	}
	if st.last.StatusCode != s.Code {
		return &assert.FailureError{
			Predicate: fmt.Sprintf("status == %d", s.Code),
			Observed:  fmt.Sprintf("%d", st.last.StatusCode),
		}
	}
	return nil
}

// AssertJSON 断言最近一次响应体在 gjson 路径上的值，Absent 为真时断言路径不存在
type AssertJSON struct {
	Path   string
	Equals any
	Absent bool
}

func (s AssertJSON) Describe() string { return "assert json " + s.Path }

func (s AssertJSON) run(_ context.Context, st *state) error {
	if st.last == nil {
		return ErrNoResponse
	}
	if !gjson.ValidBytes(st.last.Body) {
		return &assert.FailureError{Predicate: "valid json body", Observed: truncate(string(st.last.Body))}
	}
	got := gjson.GetBytes(st.last.Body, s.Path)
	if s.Absent {
		if got.Exists() {
			return &assert.FailureError{Predicate: fmt.Sprintf("%s absent", s.Path), Observed: got.Raw}
		}
		return nil
	}
	if !got.Exists() {
		return &assert.FailureError{Predicate: fmt.Sprintf("%s exists", s.Path), Observed: "<absent>"}
	}
	want, err := normalize(s.Equals)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(got.Value(), want) {
		return &assert.FailureError{Predicate: fmt.Sprintf("%s == %v", s.Path, s.Equals), Observed: got.Raw}
	}
	return nil
}

// normalize 将期望值转换为与 gjson.Result.Value 相同的表示
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode expected value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode expected value: %w", err)
	}
	return out, nil
}

// Sleep 等待页面稳定，时长受 MaxSleep 限制
type Sleep struct {
	Duration time.Duration
}

func (s Sleep) Describe() string { return "sleep " + s.Duration.String() }

func (s Sleep) run(ctx context.Context, _ *state) error {
	d := s.Duration
	if d > MaxSleep {
		d = MaxSleep
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
