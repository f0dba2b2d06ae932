package assert

import (
	"fmt"
	"time"
)

// TimeoutError 谓词在超时前始终未成立
type TimeoutError struct {
	Selector  string
	Predicate string
	Timeout   time.Duration
	Observed  string
	Err       error // 最后一次查询错误
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("assertion timeout after %s: %s; last observed: %s", e.Timeout, e.Predicate, e.Observed)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// SelectorAmbiguityError 单元素断言匹配到多个元素
type SelectorAmbiguityError struct {
	Selector string
	Count    int
	Observed string // 文档顺序第一个元素的观测值
}

func (e *SelectorAmbiguityError) Error() string {
	return fmt.Sprintf("selector %q is ambiguous: matched %d elements, first observed: %s", e.Selector, e.Count, e.Observed)
}

// FailureError 断言确定性失败
type FailureError struct {
	Selector  string
	Predicate string
	Observed  string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("assertion failed: %s; observed: %s", e.Predicate, e.Observed)
}
