package static

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"shopharness/internal/driver"
)

// nonRendered 不参与渲染的元素
var nonRendered = map[string]bool{
	"head": true, "script": true, "style": true, "template": true,
	"noscript": true, "title": true, "meta": true, "link": true,
}

// attrMap 返回节点属性表
func attrMap(n *html.Node) map[string]string {
	out := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		out[a.Key] = a.Val
	}
	return out
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// hiddenSelf 判断元素自身是否因属性或内联样式隐藏
func hiddenSelf(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if nonRendered[n.Data] {
		return true
	}
	if _, ok := attr(n, "hidden"); ok {
		return true
	}
	if n.Data == "input" {
		if t, _ := attr(n, "type"); strings.EqualFold(t, "hidden") {
			return true
		}
	}
	if style, ok := attr(n, "style"); ok {
		s := strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(s, "display:none") || strings.Contains(s, "visibility:hidden") {
			return true
		}
	}
	return false
}

// visible 判断元素及其祖先均未隐藏
func visible(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if hiddenSelf(cur) {
			return false
		}
	}
	return n.Type == html.ElementNode
}

// renderedText 近似 innerText：跳过隐藏子树
func renderedText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			return
		case html.ElementNode:
			if hiddenSelf(c) {
				return
			}
			if c.Data == "br" {
				b.WriteString(" ")
			}
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
		if c.Type == html.ElementNode && isBlock(c.Data) {
			b.WriteString(" ")
		}
	}
	walk(n)
	return driver.NormalizeText(b.String())
}

func isBlock(tag string) bool {
	switch tag {
	case "div", "p", "li", "ul", "ol", "section", "article", "header", "footer", "main", "nav",
		"h1", "h2", "h3", "h4", "h5", "h6", "tr", "td", "th", "form", "label", "button", "option":
		return true
	}
	return false
}

// snapshot 将节点转换为元素快照
func snapshot(doc *goquery.Document, n *html.Node) driver.Element {
	attrs := attrMap(n)
	text := renderedText(n)
	if n.Data == "textarea" {
		attrs["value"] = textContent(n)
	}
	name := driver.AccessibleName(n.Data, attrs, text)
	if name == "" {
		name = labelFor(doc, n, attrs)
	}
	if name == "" {
		goquery.NewDocumentFromNode(n).Find("img[alt]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			name = strings.TrimSpace(s.AttrOr("alt", ""))
			return name == ""
		})
	}
	return driver.Element{
		Tag:        n.Data,
		Text:       text,
		Attributes: attrs,
		Visible:    visible(n),
		Role:       driver.ImplicitRole(n.Data, attrs),
		Name:       name,
	}
}

// labelFor 通过 label[for] 或包裹的 label 计算表单控件名称
func labelFor(doc *goquery.Document, n *html.Node, attrs map[string]string) string {
	switch n.Data {
	case "input", "select", "textarea":
	default:
		return ""
	}
	if id := attrs["id"]; id != "" {
		var name string
		doc.Find("label").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if s.AttrOr("for", "") == id {
				name = driver.NormalizeText(s.Text())
				return false
			}
			return true
		})
		if name != "" {
			return name
		}
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "label" {
			return renderedText(p)
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// setValue 设置控件当前值
func setValue(n *html.Node, value string) {
	switch n.Data {
	case "textarea":
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
	case "select":
		sel := goquery.NewDocumentFromNode(n).Find("option")
		sel.Each(func(_ int, o *goquery.Selection) {
			o.RemoveAttr("selected")
			if optionVal(o) == value {
				o.SetAttr("selected", "selected")
			}
		})
	default:
		setAttr(n, "value", value)
	}
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func optionVal(s *goquery.Selection) string {
	if v, ok := s.Attr("value"); ok {
		return v
	}
	return driver.NormalizeText(s.Text())
}

// controlValue 返回表单控件当前值
func controlValue(s *goquery.Selection) string {
	switch goquery.NodeName(s) {
	case "textarea":
		return textContent(s.Get(0))
	case "select":
		selected := s.Find("option[selected]")
		if selected.Length() == 0 {
			selected = s.Find("option").First()
		}
		return optionVal(selected.First())
	default:
		return s.AttrOr("value", "")
	}
}

// serializeForm 按表单提交规则收集字段
func serializeForm(form *goquery.Selection, submitter *goquery.Selection) url.Values {
	values := url.Values{}
	form.Find("input,select,textarea").Each(func(_ int, sel *goquery.Selection) {
		name := sel.AttrOr("name", "")
		inputType := strings.ToLower(sel.AttrOr("type", ""))
		_, disabled := sel.Attr("disabled")
		_, checked := sel.Attr("checked")
		if name == "" || disabled {
			return
		}
		switch inputType {
		case "submit", "button", "reset", "image", "file":
			return
		case "checkbox", "radio":
			if !checked {
				return
			}
			values.Add(name, sel.AttrOr("value", "on"))
			return
		}
		values.Add(name, controlValue(sel))
	})
	if submitter != nil {
		if name := submitter.AttrOr("name", ""); name != "" {
			values.Add(name, submitter.AttrOr("value", ""))
		}
	}
	return values
}

// formValid 近似浏览器约束校验：required 字段不能为空
func formValid(form *goquery.Selection) bool {
	if _, ok := form.Attr("novalidate"); ok {
		return true
	}
	valid := true
	form.Find("[required]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if _, disabled := sel.Attr("disabled"); disabled {
			return true
		}
		switch strings.ToLower(sel.AttrOr("type", "")) {
		case "checkbox", "radio":
			if _, ok := sel.Attr("checked"); !ok {
				valid = false
			}
		default:
			if strings.TrimSpace(controlValue(sel)) == "" {
				valid = false
			}
		}
		return valid
	})
	return valid
}
