package executor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
	"shopharness/pkg/traffic"
)

// MockConstructionError 响应模板无法生成合法响应
type MockConstructionError struct {
	RuleID model.RuleID
	Reason string
	Err    error
}

func (e *MockConstructionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mock construction failed for rule %q: %s: %v", e.RuleID, e.Reason, e.Err)
	}
	return fmt.Sprintf("mock construction failed for rule %q: %s", e.RuleID, e.Reason)
}

func (e *MockConstructionError) Unwrap() error { return e.Err }

// Outcome 规则物化后的结果：合成响应或放行信号
type Outcome struct {
	RuleID      model.RuleID
	PassThrough bool
	response    *traffic.Response
}

// Respond 返回响应副本，放行规则返回 nil
func (o *Outcome) Respond() *traffic.Response {
	if o == nil || o.PassThrough {
		return nil
	}
	return o.response.Clone()
}

// Action 返回对应的拦截动作
func (o *Outcome) Action() traffic.Action {
	if o.PassThrough {
		return traffic.ActionContinue
	}
	return traffic.ActionFulfill
}

// Materialize 将规则的响应模板物化为完整响应
func Materialize(rule rulespec.Rule) (*Outcome, error) {
	if rule.PassThrough {
		return &Outcome{RuleID: rule.ID, PassThrough: true}, nil
	}
	if rule.Respond == nil {
		return nil, &MockConstructionError{RuleID: rule.ID, Reason: "rule has neither respond nor passThrough"}
	}
	res, err := build(rule.Respond)
	if err != nil {
		var mce *MockConstructionError
		if errors.As(err, &mce) {
			mce.RuleID = rule.ID
			return nil, mce
		}
		return nil, &MockConstructionError{RuleID: rule.ID, Reason: "build response", Err: err}
	}
	return &Outcome{RuleID: rule.ID, response: res}, nil
}

// MaterializeAll 按顺序物化规则集，返回首个失败
func MaterializeAll(rs []rulespec.Rule) ([]*Outcome, error) {
	out := make([]*Outcome, 0, len(rs))
	for _, r := range rs {
		o, err := Materialize(r)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func build(t *rulespec.Respond) (*traffic.Response, error) {
	if t.Status < 100 || t.Status > 599 {
		return nil, &MockConstructionError{Reason: fmt.Sprintf("status %d outside 100..599", t.Status)}
	}

	res := traffic.NewResponse()
	res.StatusCode = t.Status
	res.ContentType = t.ContentType
	for k, v := range t.Headers {
		if strings.EqualFold(k, "content-type") {
			if res.ContentType == "" {
				res.ContentType = v
			}
			continue
		}
		res.Headers.Set(k, v)
	}

	body, err := templateBody(t)
	if err != nil {
		return nil, err
	}
	if res.ContentType == "" && t.JSON != nil {
		res.ContentType = rulespec.ContentTypeJSON
	}

	if len(t.Patch) > 0 {
		if !isJSON(res.ContentType) {
			return nil, &MockConstructionError{Reason: "patch requires a JSON content type"}
		}
		body, err = applyPatches(body, t.Patch)
		if err != nil {
			return nil, &MockConstructionError{Reason: "apply patch", Err: err}
		}
	}

	if isJSON(res.ContentType) {
		if len(body) == 0 {
			return nil, &MockConstructionError{Reason: "empty body declared as JSON"}
		}
		if !gjson.ValidBytes(body) {
			return nil, &MockConstructionError{Reason: "body is not valid JSON"}
		}
	}
	res.Body = body
	return res, nil
}

// templateBody 从 Body、JSON 或 Base64 中取唯一的来源
func templateBody(t *rulespec.Respond) ([]byte, error) {
	sources := 0
	if t.Body != "" {
		sources++
	}
	if t.JSON != nil {
		sources++
	}
	if t.Base64 != "" {
		sources++
	}
	if sources > 1 {
		return nil, &MockConstructionError{Reason: "body, json and base64 are exclusive"}
	}

	switch {
	case t.JSON != nil:
		b, err := json.Marshal(t.JSON)
		if err != nil {
			return nil, &MockConstructionError{Reason: "marshal json body", Err: err}
		}
		return b, nil
	case t.Base64 != "":
		b, err := base64.StdEncoding.DecodeString(t.Base64)
		if err != nil {
			return nil, &MockConstructionError{Reason: "decode base64 body", Err: err}
		}
		return b, nil
	default:
		return []byte(t.Body), nil
	}
}

// applyPatches 按路径顺序应用修改，值为 nil 时删除该路径
func applyPatches(body []byte, patches map[string]any) ([]byte, error) {
	paths := make([]string, 0, len(patches))
	for p := range patches {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	cur := body
	if len(cur) == 0 {
		cur = []byte("{}")
	}
	for _, raw := range paths {
		path := toSJSONPath(raw)
		if path == "" {
			continue
		}
		var err error
		if v := patches[raw]; v == nil {
			cur, err = sjson.DeleteBytes(cur, path)
		} else {
			cur, err = sjson.SetBytes(cur, path, v)
		}
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", raw, err)
		}
	}
	return cur, nil
}

// toSJSONPath 将 JSON Pointer 路径 (/a/b/0) 转换为 sjson 路径 (a.b.0)
func toSJSONPath(p string) string {
	if !strings.HasPrefix(p, "/") {
		return p
	}
	p = strings.TrimPrefix(p, "/")
	return strings.ReplaceAll(p, "/", ".")
}

func isJSON(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}
