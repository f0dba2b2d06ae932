package driver

import (
	"strings"
)

// tagRoles 标签到隐式 ARIA 角色的映射，探针脚本使用同一份表
var tagRoles = map[string]string{
	"article":  "article",
	"aside":    "complementary",
	"button":   "button",
	"dialog":   "dialog",
	"footer":   "contentinfo",
	"form":     "form",
	"h1":       "heading",
	"h2":       "heading",
	"h3":       "heading",
	"h4":       "heading",
	"h5":       "heading",
	"h6":       "heading",
	"header":   "banner",
	"hr":       "separator",
	"li":       "listitem",
	"main":     "main",
	"nav":      "navigation",
	"ol":       "list",
	"option":   "option",
	"select":   "combobox",
	"table":    "table",
	"textarea": "textbox",
	"ul":       "list",
}

// inputRoles input 类型到角色的映射
var inputRoles = map[string]string{
	"button":   "button",
	"checkbox": "checkbox",
	"email":    "textbox",
	"image":    "button",
	"number":   "spinbutton",
	"password": "textbox",
	"radio":    "radio",
	"range":    "slider",
	"reset":    "button",
	"search":   "searchbox",
	"submit":   "button",
	"tel":      "textbox",
	"text":     "textbox",
	"url":      "textbox",
}

// Landmarks 地标角色
var Landmarks = []string{"banner", "complementary", "contentinfo", "form", "main", "navigation", "region", "search"}

// ImplicitRole 返回元素的角色，显式 role 属性优先
func ImplicitRole(tag string, attrs map[string]string) string {
	if r := strings.TrimSpace(attrs["role"]); r != "" {
		return strings.Fields(r)[0]
	}
	tag = strings.ToLower(tag)
	switch tag {
	case "a", "area":
		if _, ok := attrs["href"]; ok {
			return "link"
		}
		return ""
	case "img":
		if alt, ok := attrs["alt"]; ok && alt == "" {
			return "presentation"
		}
		return "img"
	case "input":
		t := strings.ToLower(attrs["type"])
		if t == "" {
			t = "text"
		}
		return inputRoles[t]
	case "section":
		if attrs["aria-label"] != "" || attrs["aria-labelledby"] != "" {
			return "region"
		}
		return ""
	}
	return tagRoles[tag]
}

// AccessibleName 计算简化的可访问名称
func AccessibleName(tag string, attrs map[string]string, text string) string {
	if v := strings.TrimSpace(attrs["aria-label"]); v != "" {
		return v
	}
	switch strings.ToLower(tag) {
	case "img", "area":
		if v := strings.TrimSpace(attrs["alt"]); v != "" {
			return v
		}
	case "input":
		switch strings.ToLower(attrs["type"]) {
		case "submit", "button", "reset":
			if v := strings.TrimSpace(attrs["value"]); v != "" {
				return v
			}
		case "image":
			if v := strings.TrimSpace(attrs["alt"]); v != "" {
				return v
			}
		}
		if v := strings.TrimSpace(attrs["placeholder"]); v != "" {
			return v
		}
	}
	if v := NormalizeText(text); v != "" {
		return v
	}
	return strings.TrimSpace(attrs["title"])
}

// IsInteractive 判断角色是否为需要可辨识名称的控件
func IsInteractive(role string) bool {
	return role == "button" || role == "link"
}

// IsLandmark 判断角色是否为地标
func IsLandmark(role string) bool {
	for _, l := range Landmarks {
		if l == role {
			return true
		}
	}
	return false
}

// NormalizeText 合并空白并去除首尾空白
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
