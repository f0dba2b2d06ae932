package driver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopharness/pkg/traffic"
)

func TestImplicitRole(t *testing.T) {
	tests := []struct {
		tag   string
		attrs map[string]string
		want  string
	}{
		{"a", map[string]string{"href": "/shop"}, "link"},
		{"a", nil, ""},
		{"img", map[string]string{"alt": ""}, "presentation"},
		{"img", map[string]string{"src": "x.png"}, "img"},
		{"input", nil, "textbox"},
		{"input", map[string]string{"type": "Submit"}, "button"},
		{"section", nil, ""},
		{"section", map[string]string{"aria-label": "Featured"}, "region"},
		{"div", map[string]string{"role": "button primary"}, "button"},
		{"MAIN", nil, "main"},
		{"span", nil, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ImplicitRole(tt.tag, tt.attrs), "%s %v", tt.tag, tt.attrs)
	}
}

func TestAccessibleName(t *testing.T) {
	assert.Equal(t, "Close", AccessibleName("button", map[string]string{"aria-label": " Close "}, "x"))
	assert.Equal(t, "Hero", AccessibleName("img", map[string]string{"alt": "Hero"}, ""))
	assert.Equal(t, "Go", AccessibleName("input", map[string]string{"type": "submit", "value": "Go"}, ""))
	assert.Equal(t, "Search", AccessibleName("input", map[string]string{"placeholder": "Search"}, ""))
	assert.Equal(t, "Add to cart", AccessibleName("button", nil, "  Add \n to   cart "))
	assert.Equal(t, "Tip", AccessibleName("a", map[string]string{"title": "Tip"}, ""))
	assert.Empty(t, AccessibleName("button", nil, ""))
}

func TestLandmarksAndInteractive(t *testing.T) {
	assert.True(t, IsLandmark("main"))
	assert.False(t, IsLandmark("button"))
	assert.True(t, IsInteractive("link"))
	assert.False(t, IsInteractive("heading"))
}

func TestProbeExpressionsQuoteArguments(t *testing.T) {
	expr := ProbeExpression(`a[href="/x"]`)
	assert.Contains(t, expr, `"a[href=\"/x\"]"`)
	assert.Contains(t, expr, `"h1":"heading"`)
	assert.Contains(t, FillExpression("#q", "it's \"quoted\""), `"it's \"quoted\""`)
	assert.Contains(t, ClickExpression(".buy"), `".buy"`)
	assert.Contains(t, AXProbeExpression(), "aria-hidden")
}

func TestDecodeElements(t *testing.T) {
	els, err := DecodeElements(`[{"tag":"h1","text":"  Hello \n world ","visible":true,"role":"heading"}]`)
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.Equal(t, "Hello world", els[0].Text)
	assert.NotNil(t, els[0].Attributes)
	_, ok := els[0].Attr("id")
	assert.False(t, ok)

	els, err = DecodeElements("")
	require.NoError(t, err)
	assert.Empty(t, els)

	_, err = DecodeElements("{")
	assert.Error(t, err)

	nodes, err := DecodeAXNodes(`[{"role":"main","name":"","ignored":false}]`)
	require.NoError(t, err)
	assert.Equal(t, "main", nodes[0].Role)
}

func TestForward(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Echo-Method", r.Method)
		w.Header().Set("X-Echo-Token", r.Header.Get("X-Token"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	req := traffic.NewRequest("post", srv.URL+"/api/cart/items")
	req.Headers.Set("X-Token", "abc")
	req.Body = []byte(`{"productId":"p1"}`)

	res, err := Forward(context.Background(), srv.Client(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "application/json", res.ContentType)
	assert.Equal(t, "POST", res.Headers.Get("x-echo-method"))
	assert.Equal(t, "abc", res.Headers.Get("x-echo-token"))
	assert.Empty(t, res.Headers.Get("content-type"))
	assert.JSONEq(t, `{"productId":"p1"}`, string(res.Body))
}
