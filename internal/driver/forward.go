package driver

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"shopharness/pkg/traffic"
)

// Forward 将请求发送到真实目标
func Forward(ctx context.Context, client *http.Client, req *traffic.Request) (*traffic.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}
	hres, err := client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer hres.Body.Close()
	data, err := io.ReadAll(hres.Body)
	if err != nil {
		return nil, err
	}
	res := traffic.NewResponse()
	res.StatusCode = hres.StatusCode
	res.ContentType = hres.Header.Get("Content-Type")
	for k := range hres.Header {
		if strings.EqualFold(k, "Content-Type") {
			continue
		}
		res.Headers.Set(k, hres.Header.Get(k))
	}
	res.Body = data
	return res, nil
}
