package audit

import (
	"context"
	"fmt"
	"time"

	"shopharness/internal/assert"
	"shopharness/internal/driver"
	"shopharness/internal/logger"
	"shopharness/pkg/model"
)

// 检查项
const (
	CheckNavigation   = "navigation"
	CheckViewport     = "viewport"
	CheckMainLandmark = "main-landmark"
	CheckImageAlt     = "image-alt"
	CheckControlName  = "control-name"
	CheckAXTree       = "ax-tree"
)

const (
	mainSelector     = `main, [role="main"]`
	controlSelector  = `button, a[href], [role="button"], [role="link"]`
	defaultSettle    = 500 * time.Millisecond
	maxSettle        = 5 * time.Second
	defaultSnapshot  = 10 * time.Second
	defaultMainCheck = 5 * time.Second
)

// Target 被审计的会话，session.Session 满足该接口
type Target interface {
	Navigate(ctx context.Context, url string, waitUntil model.WaitUntil) error
	SetViewport(ctx context.Context, vp model.Viewport) error
	Query(ctx context.Context, selector string) ([]driver.Element, error)
	AXSnapshot(ctx context.Context) ([]driver.AXNode, error)
}

// Finding 单条审计问题
type Finding struct {
	Check    string `json:"check"`
	Selector string `json:"selector,omitempty"`
	Message  string `json:"message"`
}

// ViewportReport 单个视口的审计结果
type ViewportReport struct {
	Viewport model.Viewport `json:"viewport"`
	Findings []Finding      `json:"findings"`
	AXNodes  int            `json:"axNodes"`
}

// Passed 该视口无问题
func (v ViewportReport) Passed() bool { return len(v.Findings) == 0 }

// Report 单个页面的审计报告
type Report struct {
	URL       string           `json:"url"`
	Viewports []ViewportReport `json:"viewports"`
	Findings  []Finding        `json:"findings,omitempty"` // 与视口无关的问题，如导航失败
}

// Passed 所有视口均无问题
func (r Report) Passed() bool {
	if len(r.Findings) > 0 {
		return false
	}
	for _, v := range r.Viewports {
		if !v.Passed() {
			return false
		}
	}
	return true
}

// Count 返回问题总数
func (r Report) Count() int {
	n := len(r.Findings)
	for _, v := range r.Viewports {
		n += len(v.Findings)
	}
	return n
}

// Auditor 可访问性审计器，每个视口独立检查并汇总问题
type Auditor struct {
	Engine          *assert.Engine
	Settle          time.Duration // 调整视口后的等待时间
	MainTimeout     time.Duration
	SnapshotTimeout time.Duration
	Logger          logger.Logger
}

func (a *Auditor) log() logger.Logger {
	if a.Logger == nil {
		return logger.NewNop()
	}
	return a.Logger
}

func (a *Auditor) engine() *assert.Engine {
	if a.Engine == nil {
		return assert.NewEngine(assert.DefaultPoll, assert.DefaultTimeout, a.log())
	}
	return a.Engine
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// AuditPages 依次导航到每个页面并审计
func (a *Auditor) AuditPages(ctx context.Context, t Target, urls []string, viewports []model.Viewport) []Report {
	reports := make([]Report, 0, len(urls))
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			reports = append(reports, Report{URL: u, Findings: []Finding{{Check: CheckNavigation, Message: err.Error()}}})
			continue
		}
		if err := t.Navigate(ctx, u, model.WaitLoad); err != nil {
			a.log().Warn("审计页面导航失败", "url", u, "error", err)
			reports = append(reports, Report{URL: u, Findings: []Finding{{Check: CheckNavigation, Message: err.Error()}}})
			continue
		}
		r := a.Audit(ctx, t, viewports)
		r.URL = u
		reports = append(reports, r)
	}
	return reports
}

// Audit 对当前页面在每个视口下执行检查，问题按视口收集，不提前终止
func (a *Auditor) Audit(ctx context.Context, t Target, viewports []model.Viewport) Report {
	if len(viewports) == 0 {
		viewports = model.DefaultViewports()
	}
	var report Report
	for _, vp := range viewports {
		vr := a.auditViewport(ctx, t, vp)
		a.log().Debug("视口审计完成", "viewport", vp.String(), "findings", len(vr.Findings))
		report.Viewports = append(report.Viewports, vr)
	}
	return report
}

func (a *Auditor) auditViewport(ctx context.Context, t Target, vp model.Viewport) ViewportReport {
	vr := ViewportReport{Viewport: vp}
	add := func(check, selector, msg string) {
		vr.Findings = append(vr.Findings, Finding{Check: check, Selector: selector, Message: msg})
	}

	if err := vp.Validate(); err != nil {
		add(CheckViewport, "", err.Error())
		return vr
	}
	if err := t.SetViewport(ctx, vp); err != nil {
		add(CheckViewport, "", err.Error())
		return vr
	}
	if err := settle(ctx, orDefault(a.Settle, defaultSettle)); err != nil {
		add(CheckViewport, "", err.Error())
		return vr
	}

	res := a.engine().Eventually(ctx, t, assert.AnyVisible(mainSelector), orDefault(a.MainTimeout, defaultMainCheck))
	if !res.Passed() {
		add(CheckMainLandmark, mainSelector, res.Message)
	}

	if imgs, err := t.Query(ctx, "img"); err != nil {
		add(CheckImageAlt, "img", err.Error())
	} else {
		for i, img := range imgs {
			if alt, _ := img.Attr("alt"); driver.NormalizeText(alt) == "" {
				src, _ := img.Attr("src")
				add(CheckImageAlt, "img", fmt.Sprintf("image %d (%s) has no alternative text", i, src))
			}
		}
	}

	if controls, err := t.Query(ctx, controlSelector); err != nil {
		add(CheckControlName, controlSelector, err.Error())
	} else {
		for i, c := range controls {
			if c.Visible && c.Name == "" {
				add(CheckControlName, controlSelector, fmt.Sprintf("%s %d (%s) has no discernible text", c.Tag, i, describe(c)))
			}
		}
	}

	sctx, cancel := context.WithTimeout(ctx, orDefault(a.SnapshotTimeout, defaultSnapshot))
	nodes, err := t.AXSnapshot(sctx)
	cancel()
	if err != nil {
		add(CheckAXTree, "", err.Error())
		return vr
	}
	for _, n := range nodes {
		if !n.Ignored {
			vr.AXNodes++
		}
	}
	if vr.AXNodes == 0 {
		add(CheckAXTree, "", "accessibility tree snapshot is empty")
	}
	return vr
}

// settle 调整视口后等待布局稳定
func settle(ctx context.Context, d time.Duration) error {
	if d > maxSettle {
		d = maxSettle
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

func describe(el driver.Element) string {
	for _, k := range []string{"id", "class", "href", "data-testid"} {
		if v, ok := el.Attr(k); ok && v != "" {
			return k + "=" + v
		}
	}
	return "no identifying attributes"
}
