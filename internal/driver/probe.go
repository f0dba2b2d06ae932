package driver

import (
	"encoding/json"
	"fmt"
)

// probeLib 页面内共享的辅助函数，角色表由 Go 侧注入
const probeLib = `
  var TAG_ROLES = %s;
  var INPUT_ROLES = %s;
  function attrs(el) {
    var out = {};
    for (var i = 0; i < el.attributes.length; i++) {
      out[el.attributes[i].name] = el.attributes[i].value;
    }
    return out;
  }
  function clean(v) { return (v || '').replace(/\s+/g, ' ').trim(); }
  function roleOf(el, a) {
    if (a.role) return a.role.trim().split(/\s+/)[0];
    var tag = el.tagName.toLowerCase();
    if (tag === 'a' || tag === 'area') return ('href' in a) ? 'link' : '';
    if (tag === 'img') return ('alt' in a && a.alt === '') ? 'presentation' : 'img';
    if (tag === 'input') return INPUT_ROLES[(a.type || 'text').toLowerCase()] || '';
    if (tag === 'section') return (a['aria-label'] || a['aria-labelledby']) ? 'region' : '';
    return TAG_ROLES[tag] || '';
  }
  function nameOf(el, a, text) {
    if (clean(a['aria-label'])) return clean(a['aria-label']);
    if (a['aria-labelledby']) {
      var ref = document.getElementById(a['aria-labelledby']);
      if (ref && clean(ref.textContent)) return clean(ref.textContent);
    }
    var tag = el.tagName.toLowerCase();
    if ((tag === 'img' || tag === 'area') && clean(a.alt)) return clean(a.alt);
    if (tag === 'input') {
      var t = (a.type || '').toLowerCase();
      if ((t === 'submit' || t === 'button' || t === 'reset') && clean(a.value)) return clean(a.value);
      if (t === 'image' && clean(a.alt)) return clean(a.alt);
      if (el.labels && el.labels.length && clean(el.labels[0].textContent)) return clean(el.labels[0].textContent);
      if (clean(a.placeholder)) return clean(a.placeholder);
    }
    if (clean(text)) return clean(text);
    var imgs = el.querySelectorAll('img[alt]');
    for (var i = 0; i < imgs.length; i++) {
      if (clean(imgs[i].getAttribute('alt'))) return clean(imgs[i].getAttribute('alt'));
    }
    return clean(a.title);
  }
  function visible(el) {
    if (!el.isConnected) return false;
    var style = window.getComputedStyle(el);
    if (style.display === 'none' || style.visibility === 'hidden' || style.visibility === 'collapse') return false;
    var rect = el.getBoundingClientRect();
    return rect.width > 0 && rect.height > 0;
  }
  function snapshot(el) {
    var a = attrs(el);
    var text = el.innerText !== undefined ? el.innerText : el.textContent;
    if ((el.tagName === 'INPUT' || el.tagName === 'TEXTAREA' || el.tagName === 'SELECT') && el.value !== undefined) {
      a.value = el.value;
    }
    return {
      tag: el.tagName.toLowerCase(),
      text: clean(text),
      attributes: a,
      visible: visible(el),
      role: roleOf(el, a),
      name: nameOf(el, a, text)
    };
  }
`

var probePrelude string

func init() {
	tags, _ := json.Marshal(tagRoles)
	inputs, _ := json.Marshal(inputRoles)
	probePrelude = fmt.Sprintf(probeLib, tags, inputs)
}

// ProbeExpression 返回查询选择器的脚本，结果为 JSON 字符串形式的 Element 数组
func ProbeExpression(selector string) string {
	return fmt.Sprintf(`(function (sel) {%s
  var nodes = document.querySelectorAll(sel);
  var out = [];
  for (var i = 0; i < nodes.length; i++) out.push(snapshot(nodes[i]));
  return JSON.stringify(out);
})(%s)`, probePrelude, quote(selector))
}

// AXProbeExpression 返回基于 DOM 推导可访问性节点的脚本，供没有原生可访问性树的后端使用
func AXProbeExpression() string {
	return fmt.Sprintf(`(function () {%s
  var out = [];
  var all = document.body ? document.body.querySelectorAll('*') : [];
  for (var i = 0; i < all.length; i++) {
    var el = all[i];
    if (!visible(el) || el.getAttribute('aria-hidden') === 'true') continue;
    var s = snapshot(el);
    if (!s.role) continue;
    out.push({role: s.role, name: s.name, ignored: false});
  }
  return JSON.stringify(out);
})()`, probePrelude)
}

// ClickExpression 返回点击首个匹配元素的脚本，未找到时返回 false
func ClickExpression(selector string) string {
	return fmt.Sprintf(`(function (sel) {
  var el = document.querySelector(sel);
  if (!el) return false;
  if (el.scrollIntoView) el.scrollIntoView({block: 'center'});
  el.click();
  return true;
})(%s)`, quote(selector))
}

// FillExpression 返回填写表单控件的脚本，未找到时返回 false
func FillExpression(selector, value string) string {
	return fmt.Sprintf(`(function (sel, val) {
  var el = document.querySelector(sel);
  if (!el) return false;
  if (el.focus) el.focus();
  el.value = val;
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return true;
})(%s, %s)`, quote(selector), quote(value))
}

// DecodeElements 解析探针脚本的输出
func DecodeElements(raw string) ([]Element, error) {
	var out []Element
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode probe result: %w", err)
	}
	for i := range out {
		out[i].Text = NormalizeText(out[i].Text)
		if out[i].Attributes == nil {
			out[i].Attributes = map[string]string{}
		}
	}
	return out, nil
}

// DecodeAXNodes 解析可访问性探针脚本的输出
func DecodeAXNodes(raw string) ([]AXNode, error) {
	var out []AXNode
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode ax probe result: %w", err)
	}
	return out, nil
}

// quote 生成 JS 字符串字面量
func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
