package scenario

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hassert "shopharness/internal/assert"
	"shopharness/internal/driver"
	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
	"shopharness/pkg/traffic"
)

// fakeTarget 以选择器为键的内存页面
type fakeTarget struct {
	mu        sync.Mutex
	url       string
	pages     map[string]map[string][]driver.Element
	links     map[string]string // 点击选择器后跳转的地址
	fills     map[string]string
	navs      int
	viewport  model.Viewport
	installed [][]rulespec.Rule
	fetch     func(req *traffic.Request) (*traffic.Response, error)
	icptErr   error
	closed    atomic.Bool
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		pages: map[string]map[string][]driver.Element{},
		links: map[string]string{},
		fills: map[string]string{},
	}
}

func (f *fakeTarget) Navigate(_ context.Context, url string, _ model.WaitUntil) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navs++
	if _, ok := f.pages[url]; !ok {
		return errors.New("navigation failed: " + url)
	}
	f.url = url
	return nil
}

func (f *fakeTarget) Fill(_ context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills[selector] = value
	return nil
}

func (f *fakeTarget) Click(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if to, ok := f.links[selector]; ok {
		f.url = to
	}
	return nil
}

func (f *fakeTarget) SetViewport(_ context.Context, vp model.Viewport) error {
	if err := vp.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	f.viewport = vp
	f.mu.Unlock()
	return nil
}

func (f *fakeTarget) Query(_ context.Context, selector string) ([]driver.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages[f.url][selector], nil
}

func (f *fakeTarget) Install(rules []rulespec.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = append(f.installed, rules)
	return nil
}

func (f *fakeTarget) Fetch(_ context.Context, req *traffic.Request) (*traffic.Response, error) {
	if f.fetch == nil {
		return nil, errors.New("no fetch handler")
	}
	return f.fetch(req)
}

func (f *fakeTarget) InterceptErr() error { return f.icptErr }

func (f *fakeTarget) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

func (f *fakeTarget) Close() error {
	f.closed.Store(true)
	return nil
}

func visible(text string) driver.Element {
	return driver.Element{Tag: "div", Text: text, Visible: true, Attributes: map[string]string{}}
}

func newRunner() *Runner {
	return &Runner{
		Engine:        hassert.NewEngine(5*time.Millisecond, 100*time.Millisecond, nil),
		ActionTimeout: 100 * time.Millisecond,
	}
}

func shopTarget() *fakeTarget {
	f := newFakeTarget()
	f.pages["/"] = map[string][]driver.Element{
		"h1":           {visible("Welcome to Stroller Chic")},
		"a.nav-shop":   {visible("Shop")},
		".product":     {visible("Pram"), visible("Stroller")},
		"img.hero":     {{Tag: "img", Visible: true, Attributes: map[string]string{"alt": "Hero"}}},
		"#email":       {visible("")},
		".banner-text": {visible("Free shipping on orders over 50")},
	}
	f.pages["/shop"] = map[string][]driver.Element{
		"h1": {visible("Shop")},
	}
	f.links["a.nav-shop"] = "/shop"
	return f
}

func TestRunPasses(t *testing.T) {
	f := shopTarget()
	res := newRunner().Run(context.Background(), f, Scenario{Name: "home", Steps: []Step{
		Navigate{URL: "/"},
		AssertText{Selector: "h1", Expected: "Welcome to Stroller Chic"},
		AssertText{Selector: "h1", Expected: "Stroller", Contains: true},
		AssertAnyText{Selector: ".product", Contains: "Pram"},
		AssertCount{Selector: ".product", Count: 2},
		AssertCount{Selector: ".product", Count: 1, AtLeast: true},
		AssertAttribute{Selector: "img.hero", Name: "alt", Expected: "Hero"},
		AssertVisible{Selector: ".product", Any: true},
		Fill{Selector: "#email", Value: "a@b.c"},
		SetViewport{Width: 375, Height: 667},
		Click{Selector: "a.nav-shop"},
		AssertURL{Contains: "/shop"},
		WaitForSelector{Selector: "h1"},
	}})

	require.True(t, res.Passed, "%v", res.Err)
	assert.Equal(t, -1, res.FailedIndex)
	assert.Equal(t, 13, res.Steps)
	assert.Len(t, res.Assertions, 9)
	assert.Equal(t, "a@b.c", f.fills["#email"])
	assert.Equal(t, model.Viewport{Width: 375, Height: 667}, f.viewport)
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	f := shopTarget()
	res := newRunner().Run(context.Background(), f, Scenario{Name: "broken", Steps: []Step{
		Navigate{URL: "/"},
		AssertVisible{Selector: "h1"},
		AssertVisible{Selector: ".product"},
		Navigate{URL: "/shop"},
	}})

	require.False(t, res.Passed)
	assert.Equal(t, 2, res.FailedIndex)
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, 1, f.navs)

	var se *StepError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, 2, se.Index)
	assert.Equal(t, "assert visible .product", se.Step)
	var amb *hassert.SelectorAmbiguityError
	assert.ErrorAs(t, res.Err, &amb)
}

func TestRunFailsOnMissingElementWithTimeout(t *testing.T) {
	f := shopTarget()
	res := newRunner().Run(context.Background(), f, Scenario{Steps: []Step{
		Navigate{URL: "/"},
		Click{Selector: ".checkout"},
	}})
	assert.Equal(t, 1, res.FailedIndex)
	var te *hassert.TimeoutError
	assert.ErrorAs(t, res.Err, &te)
}

func TestRunFailsOnInterceptionViolation(t *testing.T) {
	f := shopTarget()
	f.icptErr = errors.New("no route matched GET /api/unknown")
	res := newRunner().Run(context.Background(), f, Scenario{Steps: []Step{
		InstallRules{Rules: []rulespec.Rule{rulespec.CatchAll()}},
		Navigate{URL: "/"},
	}})
	assert.False(t, res.Passed)
	assert.Equal(t, 0, res.FailedIndex)
	assert.ErrorIs(t, res.Err, f.icptErr)
	assert.Len(t, f.installed, 1)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := shopTarget()
	res := newRunner().Run(ctx, f, Scenario{Steps: []Step{Navigate{URL: "/"}}})
	assert.Equal(t, 0, res.FailedIndex)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, f.navs)
}

func TestRequestAndResponseAssertions(t *testing.T) {
	f := newFakeTarget()
	var seen *traffic.Request
	f.fetch = func(req *traffic.Request) (*traffic.Response, error) {
		seen = req
		if req.URL == "/api/admin/orders" {
			return &traffic.Response{StatusCode: 403, Body: []byte(`{"error":"Access denied: admin only"}`)}, nil
		}
		return &traffic.Response{StatusCode: 201, Body: []byte(`{"orderId":12345,"items":[{"sku":"p1"}],"paid":true}`)}, nil
	}

	res := newRunner().Run(context.Background(), f, Scenario{Steps: []Step{
		Request{Method: "post", URL: "/api/orders", JSON: map[string]any{"sku": "p1"}},
		AssertStatus{Code: 201},
		AssertJSON{Path: "orderId", Equals: 12345},
		AssertJSON{Path: "items.0.sku", Equals: "p1"},
		AssertJSON{Path: "paid", Equals: true},
		AssertJSON{Path: "error", Absent: true},
		Request{URL: "/api/admin/orders", Headers: map[string]string{"X-Role": "guest"}},
		AssertStatus{Code: 403},
		AssertJSON{Path: "error", Equals: "Access denied: admin only"},
	}})
	require.True(t, res.Passed, "%v", res.Err)
	assert.Equal(t, "GET", seen.Method)
	assert.Equal(t, "guest", seen.Headers.Get("x-role"))

	res = newRunner().Run(context.Background(), f, Scenario{Steps: []Step{
		Request{Method: "POST", URL: "/api/orders", Body: `{}`},
		AssertJSON{Path: "orderId", Equals: 1},
	}})
	assert.Equal(t, 1, res.FailedIndex)
	var fe *hassert.FailureError
	require.ErrorAs(t, res.Err, &fe)
	assert.Equal(t, "12345", fe.Observed)

	res = newRunner().Run(context.Background(), f, Scenario{Steps: []Step{
		Request{URL: "/api/orders"},
		AssertStatus{Code: 200},
	}})
	require.ErrorAs(t, res.Err, &fe)
	assert.Equal(t, "201", fe.Observed)
}

func TestResponseAssertionsRequireRequest(t *testing.T) {
	f := newFakeTarget()
	res := newRunner().Run(context.Background(), f, Scenario{Steps: []Step{AssertStatus{Code: 200}}})
	assert.ErrorIs(t, res.Err, ErrNoResponse)

	res = newRunner().Run(context.Background(), f, Scenario{Steps: []Step{AssertJSON{Path: "a", Absent: true}}})
	assert.ErrorIs(t, res.Err, ErrNoResponse)

	f.fetch = func(*traffic.Request) (*traffic.Response, error) {
		return &traffic.Response{StatusCode: 200, Body: []byte("<html>")}, nil
	}
	res = newRunner().Run(context.Background(), f, Scenario{Steps: []Step{
		Request{URL: "/"},
		AssertJSON{Path: "a"},
	}})
	var fe *hassert.FailureError
	require.ErrorAs(t, res.Err, &fe)
	assert.Equal(t, "valid json body", fe.Predicate)
}

func TestSleep(t *testing.T) {
	start := time.Now()
	require.NoError(t, Sleep{Duration: 20 * time.Millisecond}.run(context.Background(), nil))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start = time.Now()
	err := Sleep{Duration: time.Hour}.run(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), MaxSleep)
}

func TestRunAllIsolatesSessions(t *testing.T) {
	var (
		mu      sync.Mutex
		opened  []*fakeTarget
		running atomic.Int32
		peak    atomic.Int32
	)
	open := func(_ context.Context, cfg model.SessionConfig) (Session, error) {
		if cfg.Locale == "broken" {
			return nil, errors.New("browser gone")
		}
		f := shopTarget()
		mu.Lock()
		opened = append(opened, f)
		mu.Unlock()
		return f, nil
	}
	track := trackStep{running: &running, peak: &peak}

	scs := []Scenario{
		{Name: "a", Steps: []Step{Navigate{URL: "/"}, track}},
		{Name: "b", Steps: []Step{Navigate{URL: "/missing"}}},
		{Name: "c", Session: model.SessionConfig{Locale: "broken"}, Steps: []Step{Navigate{URL: "/"}}},
		{Name: "d", Steps: []Step{Navigate{URL: "/"}, track, AssertText{Selector: "h1", Expected: "Welcome to Stroller Chic"}}},
	}
	r := newRunner()
	r.Parallel = 2
	results := r.RunAll(context.Background(), open, scs)

	require.Len(t, results, 4)
	for i, name := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, name, results[i].Name)
	}
	assert.True(t, results[0].Passed)
	assert.Equal(t, 0, results[1].FailedIndex)
	assert.False(t, results[2].Passed)
	assert.Equal(t, -1, results[2].FailedIndex)
	assert.ErrorContains(t, results[2].Err, "open session")
	assert.True(t, results[3].Passed)

	assert.Len(t, opened, 3)
	for _, f := range opened {
		assert.True(t, f.closed.Load())
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

// trackStep 记录同时执行的场景数
type trackStep struct {
	running *atomic.Int32
	peak    *atomic.Int32
}

func (trackStep) Describe() string { return "track" }

func (s trackStep) run(context.Context, *state) error {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return nil
}
