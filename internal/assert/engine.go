package assert

import (
	"context"
	"time"

	"shopharness/internal/driver"
	"shopharness/internal/logger"
)

// 缺省轮询参数
const (
	DefaultPoll    = 100 * time.Millisecond
	DefaultTimeout = 5 * time.Second
)

// Outcome 断言结果类别
type Outcome string

const (
	Pass    Outcome = "pass"
	Fail    Outcome = "fail"
	Timeout Outcome = "timeout"
)

// Querier 可按选择器查询元素快照的对象，session.Session 满足该接口
type Querier interface {
	Query(ctx context.Context, selector string) ([]driver.Element, error)
}

// Result 单次断言结果
type Result struct {
	Outcome   Outcome
	Message   string
	Selector  string
	Predicate string
	Observed  string
	Attempts  int
	Elapsed   time.Duration
	err       error
}

// Passed 是否通过
func (r Result) Passed() bool { return r.Outcome == Pass }

// Err 未通过时返回对应的类型化错误
func (r Result) Err() error {
	if r.Outcome == Pass {
		return nil
	}
	return r.err
}

// Engine 轮询式断言引擎
type Engine struct {
	Poll    time.Duration
	Timeout time.Duration
	Logger  logger.Logger
}

// NewEngine 创建断言引擎，非正值使用缺省值
func NewEngine(poll, timeout time.Duration, l logger.Logger) *Engine {
	if l == nil {
		l = logger.NewNop()
	}
	return &Engine{Poll: poll, Timeout: timeout, Logger: l}
}

func (e *Engine) poll() time.Duration {
	if e.Poll > 0 {
		return e.Poll
	}
	return DefaultPoll
}

func (e *Engine) log() logger.Logger {
	if e.Logger == nil {
		return logger.NewNop()
	}
	return e.Logger
}

// Eventually 按固定间隔轮询谓词，直到成立、确定失败或超时
// timeout 非正时使用引擎缺省值。超时结果不会早于 timeout 返回。
func (e *Engine) Eventually(ctx context.Context, q Querier, p Predicate, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = e.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()
	deadline := start.Add(timeout)
	qctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	var (
		last     verdict
		lastErr  error
		attempts int
	)
	for {
		attempts++
		els, err := q.Query(qctx, p.selector)
		if err != nil {
			lastErr = err
			last = verdict{state: pending, observed: "query failed"}
		} else {
			lastErr = nil
			last = p.eval(els)
		}

		switch last.state {
		case satisfied:
			return e.pass(p, last, attempts, time.Since(start))
		case violated:
			return e.fail(p, last, attempts, time.Since(start))
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		wait := e.poll()
		if wait > remaining {
			wait = remaining
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return Result{
				Outcome:   Fail,
				Message:   "assertion cancelled: " + ctx.Err().Error(),
				Selector:  p.selector,
				Predicate: p.desc,
				Observed:  last.observed,
				Attempts:  attempts,
				Elapsed:   time.Since(start),
				err:       ctx.Err(),
			}
		case <-timer.C:
		}
	}

	elapsed := time.Since(start)
	if last.state == mismatch {
		return e.fail(p, last, attempts, elapsed)
	}
	terr := &TimeoutError{Selector: p.selector, Predicate: p.desc, Timeout: timeout, Observed: last.observed, Err: lastErr}
	e.log().Debug("断言超时", "predicate", p.desc, "observed", last.observed, "attempts", attempts)
	return Result{
		Outcome:   Timeout,
		Message:   terr.Error(),
		Selector:  p.selector,
		Predicate: p.desc,
		Observed:  last.observed,
		Attempts:  attempts,
		Elapsed:   elapsed,
		err:       terr,
	}
}

// Check 只评估一次谓词，未成立即为失败
func (e *Engine) Check(ctx context.Context, q Querier, p Predicate) Result {
	start := time.Now()
	els, err := q.Query(ctx, p.selector)
	if err != nil {
		return Result{
			Outcome:   Fail,
			Message:   "query failed: " + err.Error(),
			Selector:  p.selector,
			Predicate: p.desc,
			Attempts:  1,
			Elapsed:   time.Since(start),
			err:       err,
		}
	}
	v := p.eval(els)
	if v.state == satisfied {
		return e.pass(p, v, 1, time.Since(start))
	}
	return e.fail(p, v, 1, time.Since(start))
}

func (e *Engine) pass(p Predicate, v verdict, attempts int, elapsed time.Duration) Result {
	return Result{
		Outcome:   Pass,
		Message:   p.desc,
		Selector:  p.selector,
		Predicate: p.desc,
		Observed:  v.observed,
		Attempts:  attempts,
		Elapsed:   elapsed,
	}
}

func (e *Engine) fail(p Predicate, v verdict, attempts int, elapsed time.Duration) Result {
	err := v.err
	if err == nil {
		err = &FailureError{Selector: p.selector, Predicate: p.desc, Observed: v.observed}
	}
	e.log().Debug("断言失败", "predicate", p.desc, "observed", v.observed)
	return Result{
		Outcome:   Fail,
		Message:   err.Error(),
		Selector:  p.selector,
		Predicate: p.desc,
		Observed:  v.observed,
		Attempts:  attempts,
		Elapsed:   elapsed,
		err:       err,
	}
}
