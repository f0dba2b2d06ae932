package assert

import (
	"fmt"
	"strconv"
	"strings"

	"shopharness/internal/driver"
)

type state int

const (
	pending   state = iota // 继续轮询
	satisfied              // 成立
	mismatch               // 继续轮询，到期报告失败而非超时
	violated               // 立即失败
)

type verdict struct {
	state    state
	observed string
	err      error
}

// Predicate 针对选择器匹配结果的谓词
type Predicate struct {
	selector string
	desc     string
	eval     func(els []driver.Element) verdict
}

// Selector 返回谓词的选择器
func (p Predicate) Selector() string { return p.selector }

// String 返回谓词描述
func (p Predicate) String() string { return p.desc }

// single 单元素谓词：无匹配时等待，多于一个时报告歧义
func single(selector, desc string, check func(el driver.Element) verdict) Predicate {
	return Predicate{
		selector: selector,
		desc:     desc,
		eval: func(els []driver.Element) verdict {
			switch len(els) {
			case 0:
				return verdict{state: pending, observed: "no matching element"}
			case 1:
				return check(els[0])
			}
			first := check(els[0]).observed
			return verdict{
				state:    violated,
				observed: first,
				err:      &SelectorAmbiguityError{Selector: selector, Count: len(els), Observed: first},
			}
		},
	}
}

// Visible 唯一匹配元素可见
func Visible(selector string) Predicate {
	return single(selector, fmt.Sprintf("visible(%s)", selector), func(el driver.Element) verdict {
		if el.Visible {
			return verdict{state: satisfied, observed: "visible"}
		}
		return verdict{state: pending, observed: "hidden"}
	})
}

// AnyVisible 至少一个匹配元素可见
func AnyVisible(selector string) Predicate {
	return Predicate{
		selector: selector,
		desc:     fmt.Sprintf("anyVisible(%s)", selector),
		eval: func(els []driver.Element) verdict {
			for _, el := range els {
				if el.Visible {
					return verdict{state: satisfied, observed: "visible"}
				}
			}
			return verdict{state: pending, observed: fmt.Sprintf("%d matches, none visible", len(els))}
		},
	}
}

// AnyPresent 至少存在一个匹配元素，不要求可见
func AnyPresent(selector string) Predicate {
	return Predicate{
		selector: selector,
		desc:     fmt.Sprintf("present(%s)", selector),
		eval: func(els []driver.Element) verdict {
			if len(els) > 0 {
				return verdict{state: satisfied, observed: fmt.Sprintf("%d matches", len(els))}
			}
			return verdict{state: pending, observed: "no matching element"}
		},
	}
}

// TextEquals 唯一匹配元素的规范化文本等于期望值
func TextEquals(selector, expected string) Predicate {
	want := driver.NormalizeText(expected)
	return single(selector, fmt.Sprintf("textEquals(%s, %q)", selector, want), func(el driver.Element) verdict {
		if el.Text == want {
			return verdict{state: satisfied, observed: strconv.Quote(el.Text)}
		}
		return verdict{state: pending, observed: strconv.Quote(el.Text)}
	})
}

// TextContains 唯一匹配元素的规范化文本包含期望值
func TextContains(selector, substr string) Predicate {
	want := driver.NormalizeText(substr)
	return single(selector, fmt.Sprintf("textContains(%s, %q)", selector, want), func(el driver.Element) verdict {
		if strings.Contains(el.Text, want) {
			return verdict{state: satisfied, observed: strconv.Quote(el.Text)}
		}
		return verdict{state: pending, observed: strconv.Quote(el.Text)}
	})
}

// AnyTextContains 任一匹配元素的文本包含期望值
func AnyTextContains(selector, substr string) Predicate {
	want := driver.NormalizeText(substr)
	return Predicate{
		selector: selector,
		desc:     fmt.Sprintf("anyTextContains(%s, %q)", selector, want),
		eval: func(els []driver.Element) verdict {
			texts := make([]string, 0, len(els))
			for _, el := range els {
				if strings.Contains(el.Text, want) {
					return verdict{state: satisfied, observed: strconv.Quote(el.Text)}
				}
				texts = append(texts, strconv.Quote(el.Text))
			}
			if len(texts) == 0 {
				return verdict{state: pending, observed: "no matching element"}
			}
			return verdict{state: pending, observed: truncate(strings.Join(texts, ", "), 200)}
		},
	}
}

// AttributeEquals 唯一匹配元素的属性精确等于期望值，属性缺失视为不相等
func AttributeEquals(selector, name, expected string) Predicate {
	return single(selector, fmt.Sprintf("attributeEquals(%s, %s, %q)", selector, name, expected), func(el driver.Element) verdict {
		v, ok := el.Attr(name)
		if !ok {
			return verdict{state: mismatch, observed: "<absent>"}
		}
		if v == expected {
			return verdict{state: satisfied, observed: strconv.Quote(v)}
		}
		return verdict{state: mismatch, observed: strconv.Quote(v)}
	})
}

// CountEquals 匹配元素数量恰好为 n
func CountEquals(selector string, n int) Predicate {
	return Predicate{
		selector: selector,
		desc:     fmt.Sprintf("countEquals(%s, %d)", selector, n),
		eval: func(els []driver.Element) verdict {
			if len(els) == n {
				return verdict{state: satisfied, observed: strconv.Itoa(len(els))}
			}
			return verdict{state: pending, observed: strconv.Itoa(len(els))}
		},
	}
}

// CountAtLeast 匹配元素数量不少于 n
func CountAtLeast(selector string, n int) Predicate {
	return Predicate{
		selector: selector,
		desc:     fmt.Sprintf("countAtLeast(%s, %d)", selector, n),
		eval: func(els []driver.Element) verdict {
			if len(els) >= n {
				return verdict{state: satisfied, observed: strconv.Itoa(len(els))}
			}
			return verdict{state: pending, observed: strconv.Itoa(len(els))}
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
