package rules

import (
	"net/url"
	"regexp"
	"strings"
	"sync"

	"shopharness/pkg/rulespec"
	"shopharness/pkg/traffic"
)

// Matcher 编译后的单条规则匹配器
type Matcher struct {
	re            *regexp.Regexp
	methods       []string
	resourceTypes []string
}

// Compile 编译规则的 URL 模式与过滤条件
func Compile(r rulespec.Rule) (*Matcher, error) {
	m := &Matcher{methods: r.Methods, resourceTypes: r.ResourceTypes}
	var err error
	switch r.Kind {
	case rulespec.KindRegex:
		m.re, err = regexCache.Get(r.Pattern)
	default:
		m.re, err = regexCache.Get(globToRegex(foldPatternHost(r.Pattern)))
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Match 判断请求是否命中。无副作用。
func (m *Matcher) Match(req *traffic.Request) bool {
	if req == nil {
		return false
	}
	if !containsFold(m.methods, req.Method) {
		return false
	}
	if !containsFold(m.resourceTypes, req.ResourceType) {
		return false
	}
	return m.re.MatchString(NormalizeURL(req.URL))
}

// Matches 便捷函数：规则是否命中请求
func Matches(r rulespec.Rule, req *traffic.Request) bool {
	m, err := Compile(r)
	if err != nil {
		return false
	}
	return m.Match(req)
}

// containsFold 空列表表示不限制
func containsFold(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// NormalizeURL 将 scheme 与 host 转为小写，路径保持原样
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return raw
	}
	rest := raw[idx+3:]
	end := strings.IndexAny(rest, "/?#")
	if end < 0 {
		end = len(rest)
	}
	return strings.ToLower(raw[:idx+3+end]) + rest[end:]
}

// foldPatternHost 模式以 scheme://host 开头时将其转为小写，scheme 可以含通配符
func foldPatternHost(p string) string {
	idx := strings.Index(p, "://")
	if idx < 0 {
		return p
	}
	// "://" 出现在路径或查询中时不是 scheme 分隔符
	if strings.ContainsAny(p[:idx], "/?#") {
		return p
	}
	rest := p[idx+3:]
	end := strings.IndexAny(rest, "/?#")
	if end < 0 {
		end = len(rest)
	}
	return strings.ToLower(p[:idx+3+end]) + rest[end:]
}

// globToRegex 转换 glob：** 匹配任意字符，* 匹配除 / 之外的字符，{a,b} 为分支，分支可嵌套
func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	depth := 0
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '{':
			depth++
			b.WriteString("(?:")
		case '}':
			if depth > 0 {
				depth--
				b.WriteString(")")
			} else {
				b.WriteString(`\}`)
			}
		case ',':
			if depth > 0 {
				b.WriteString("|")
			} else {
				b.WriteString(",")
			}
		case '\\':
			if i+1 < len(glob) {
				i++
				b.WriteString(regexp.QuoteMeta(string(glob[i])))
			} else {
				b.WriteString(`\\`)
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return b.String()
}

type regexpCache struct {
	m sync.Map
}

var regexCache = &regexpCache{}

// Get 获取已编译的正则，未命中时编译并缓存
func (c *regexpCache) Get(pattern string) (*regexp.Regexp, error) {
	if v, ok := c.m.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.m.Store(pattern, re)
	return re, nil
}
