package cdp

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"

	"shopharness/pkg/traffic"
)

// ToNeutralRequest 将 CDP 事件转换为中立 Request 模型
func ToNeutralRequest(ev *fetch.RequestPausedReply) *traffic.Request {
	req := traffic.NewRequest(ev.Request.Method, ev.Request.URL)
	req.ID = string(ev.RequestID)
	req.ResourceType = string(ev.ResourceType)

	// 处理 Header
	var headers map[string]string
	if len(ev.Request.Headers) > 0 {
		if err := json.Unmarshal(ev.Request.Headers, &headers); err == nil {
			for k, v := range headers {
				req.Headers.Set(k, v)
			}
		}
	}

	if ev.Request.PostData != nil {
		req.Body = []byte(*ev.Request.PostData)
	}
	return req
}

// ToFulfillArgs 将合成响应转换为 Fetch.fulfillRequest 参数
func ToFulfillArgs(id fetch.RequestID, res *traffic.Response) *fetch.FulfillRequestArgs {
	args := &fetch.FulfillRequestArgs{
		RequestID:       id,
		ResponseCode:    res.StatusCode,
		ResponseHeaders: ToHeaderEntries(res.HeaderList()),
	}
	if phrase := http.StatusText(res.StatusCode); phrase != "" {
		args.ResponsePhrase = &phrase
	}
	if len(res.Body) > 0 {
		args.Body = res.Body
	}
	return args
}

// ToFailArgs 生成阻止请求的参数
func ToFailArgs(id fetch.RequestID) *fetch.FailRequestArgs {
	return &fetch.FailRequestArgs{RequestID: id, ErrorReason: network.ErrorReasonBlockedByClient}
}

// ToHeaderEntries 将中立 Header 转换为 CDP Header 条目，按名称排序
func ToHeaderEntries(h map[string]string) []fetch.HeaderEntry {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for _, k := range names {
		entries = append(entries, fetch.HeaderEntry{Name: k, Value: h[k]})
	}
	return entries
}
