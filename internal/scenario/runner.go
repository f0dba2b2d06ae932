package scenario

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"shopharness/internal/assert"
	"shopharness/internal/driver"
	"shopharness/internal/logger"
	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
	"shopharness/pkg/traffic"
)

// DefaultActionTimeout 点击和填写前等待元素出现的时间
const DefaultActionTimeout = 5 * time.Second

// Target 场景驱动的会话，session.Session 满足该接口
type Target interface {
	Navigate(ctx context.Context, url string, waitUntil model.WaitUntil) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	SetViewport(ctx context.Context, vp model.Viewport) error
	Query(ctx context.Context, selector string) ([]driver.Element, error)
	Install(rules []rulespec.Rule) error
	Fetch(ctx context.Context, req *traffic.Request) (*traffic.Response, error)
	InterceptErr() error
	URL() string
}

// Session 可关闭的场景目标
type Session interface {
	Target
	Close() error
}

// OpenFunc 为每个场景打开全新会话
type OpenFunc func(ctx context.Context, cfg model.SessionConfig) (Session, error)

// Scenario 有序步骤序列
type Scenario struct {
	Name    string
	Tags    []string
	Session model.SessionConfig // 会话配置覆盖，零值使用控制器缺省
	Steps   []Step
}

// StepError 场景中首个失败的步骤
type StepError struct {
	Index int
	Step  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Result 场景执行结果
type Result struct {
	Name        string
	Passed      bool
	FailedIndex int // 失败步骤下标，从 0 开始；通过或未进入步骤时为 -1
	Err         error
	Steps       int // 已执行步骤数，包括失败步骤
	Assertions  []assert.Result
	Duration    time.Duration
}

// Runner 场景执行器
type Runner struct {
	Engine        *assert.Engine
	ActionTimeout time.Duration
	Parallel      int
	Logger        logger.Logger
}

func (r *Runner) engine() *assert.Engine {
	if r.Engine == nil {
		return assert.NewEngine(assert.DefaultPoll, assert.DefaultTimeout, r.log())
	}
	return r.Engine
}

func (r *Runner) actionTimeout() time.Duration {
	if r.ActionTimeout > 0 {
		return r.ActionTimeout
	}
	return DefaultActionTimeout
}

func (r *Runner) log() logger.Logger {
	if r.Logger == nil {
		return logger.NewNop()
	}
	return r.Logger
}

// Run 顺序执行步骤，首个失败即停止
func (r *Runner) Run(ctx context.Context, t Target, sc Scenario) Result {
	start := time.Now()
	st := &state{runner: r, target: t}
	l := r.log().With("scenario", sc.Name)
	l.Info("场景开始", "steps", len(sc.Steps))

	res := Result{Name: sc.Name, FailedIndex: -1}
	for i, step := range sc.Steps {
		res.Steps = i + 1
		err := ctx.Err()
		if err == nil {
			err = step.run(ctx, st)
		}
		if err == nil {
			err = t.InterceptErr()
		}
		if err != nil {
			res.FailedIndex = i
			res.Err = &StepError{Index: i, Step: step.Describe(), Err: err}
			res.Assertions = st.checks
			res.Duration = time.Since(start)
			l.Warn("场景失败", "index", i, "step", step.Describe(), "error", err)
			return res
		}
		l.Debug("步骤完成", "index", i, "step", step.Describe())
	}

	res.Passed = true
	res.Assertions = st.checks
	res.Duration = time.Since(start)
	l.Info("场景通过", "duration", res.Duration)
	return res
}

// RunAll 每个场景使用独立会话，最多 Parallel 个并发执行，结果与输入顺序一致
func (r *Runner) RunAll(ctx context.Context, open OpenFunc, scenarios []Scenario) []Result {
	results := make([]Result, len(scenarios))
	g, gctx := errgroup.WithContext(ctx)
	limit := r.Parallel
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, sc := range scenarios {
		i, sc := i, sc
		g.Go(func() error {
			results[i] = r.runIsolated(gctx, open, sc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// runIsolated 打开会话、执行场景，并在所有路径上关闭会话
func (r *Runner) runIsolated(ctx context.Context, open OpenFunc, sc Scenario) Result {
	start := time.Now()
	s, err := open(ctx, sc.Session)
	if err != nil {
		return Result{Name: sc.Name, FailedIndex: -1, Err: fmt.Errorf("open session: %w", err), Duration: time.Since(start)}
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			r.log().Err(cerr, "关闭会话失败", "scenario", sc.Name)
		}
	}()
	return r.Run(ctx, s, sc)
}
