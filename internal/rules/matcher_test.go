package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopharness/pkg/rulespec"
	"shopharness/pkg/traffic"
)

func get(url string) *traffic.Request { return traffic.NewRequest("GET", url) }

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		url     string
		want    bool
	}{
		{"**/api/products", "http://localhost:8080/api/products", true},
		{"**/api/products", "http://localhost:8080/api/products/1", false},
		{"**/api/products/*", "http://localhost:8080/api/products/stroller123", true},
		{"**/api/products/*", "http://localhost:8080/api/products/a/b", false},
		{"**/api/**", "http://localhost:8080/api/products/a/b", true},
		{"**/api/{login,auth/login}", "https://shop.test/api/auth/login", true},
		{"**/api/{login,auth/login}", "https://shop.test/api/logout", false},
		{"**/images/*.jpg", "http://x/images/stroller_a.jpg", true},
		{"**/images/*.jpg", "http://x/images/stroller_a.png", false},
		{"http://Shop.Test/cart", "HTTP://SHOP.TEST/cart", true},
		{"http://shop.test/Cart", "http://shop.test/cart", false},
		{"*://LocalHost:8080/api/**", "http://localhost:8080/api/products", true},
		{"{http,https}://Shop.Test/cart", "https://shop.test/cart", true},
		{"**/go?to=http://X/**", "http://a/go?to=http://x/y", false},
		{"**/api/{login,auth/{login,signin}}", "http://x/api/auth/signin", true},
		{"**/api/{login,auth/{login,signin}}", "http://x/api/login", true},
		{"**/api/{login,auth/{login,signin}}", "http://x/api/auth/logout", false},
		{"**/a.b", "http://x/aXb", false},
		{rulespec.CatchAllPattern, "http://anything/at/all?q=1", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.url, func(t *testing.T) {
			m, err := Compile(rulespec.Rule{Pattern: tt.pattern})
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Match(get(tt.url)))
		})
	}
}

func TestUnclosedBraceFailsToCompile(t *testing.T) {
	_, err := Compile(rulespec.Rule{Pattern: "**/api/{login,auth"})
	assert.Error(t, err)
}

func TestRegexMatchIsUnanchored(t *testing.T) {
	r := rulespec.PassThrough(`/api/orders/\d+`).Regex()
	assert.True(t, Matches(r, get("http://x/api/orders/42?full=1")))
	assert.False(t, Matches(r, get("http://x/api/orders/abc")))

	_, err := Compile(rulespec.PassThrough(`(`).Regex())
	assert.Error(t, err)
}

func TestMethodAndResourceFilters(t *testing.T) {
	r := rulespec.Status("**/cart/items", 201, "post").WithResourceTypes("Fetch", "XHR")

	req := traffic.NewRequest("POST", "http://x/cart/items")
	req.ResourceType = "fetch"
	assert.True(t, Matches(r, req))

	req.ResourceType = "Document"
	assert.False(t, Matches(r, req))

	req = traffic.NewRequest("GET", "http://x/cart/items")
	req.ResourceType = "Fetch"
	assert.False(t, Matches(r, req))

	assert.False(t, Matches(r, nil))
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "http://shop.test/Path?Q=A", NormalizeURL("HTTP://Shop.TEST/Path?Q=A"))
	assert.Equal(t, "https://shop.test", NormalizeURL("HTTPS://SHOP.test"))
	assert.Equal(t, "/relative/Path", NormalizeURL("/relative/Path"))
}

func TestEngineFirstMatchWins(t *testing.T) {
	rs := []rulespec.Rule{
		rulespec.RawJSON("**/api/products/*", 200, `{"id":"specific"}`).WithID("specific"),
		rulespec.RawJSON("**/api/**", 200, `{}`).WithID("api"),
		rulespec.CatchAll(),
	}
	e, err := New(rs)
	require.NoError(t, err)
	assert.Equal(t, 3, e.Len())

	res := e.Eval(get("http://x/api/products/1"))
	require.NotNil(t, res)
	assert.Equal(t, 0, res.Index)
	assert.EqualValues(t, "specific", res.Rule.ID)

	res = e.Eval(get("http://x/api/cart"))
	require.NotNil(t, res)
	assert.EqualValues(t, "api", res.Rule.ID)

	res = e.Eval(get("http://x/shop"))
	require.NotNil(t, res)
	assert.EqualValues(t, "catch-all", res.Rule.ID)

	stats := e.Stats()
	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 3, stats.Matched)
	assert.EqualValues(t, 1, stats.ByRule["specific"])
}

func TestEngineNoMatch(t *testing.T) {
	e, err := New([]rulespec.Rule{rulespec.Status("**/only", 204)})
	require.NoError(t, err)
	assert.Nil(t, e.Eval(get("http://x/other")))
	stats := e.Stats()
	assert.EqualValues(t, 1, stats.Total)
	assert.EqualValues(t, 0, stats.Matched)
}

func TestEngineRejectsBadRegex(t *testing.T) {
	_, err := New([]rulespec.Rule{rulespec.Status(`[`, 200).Regex().WithID("broken")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestEngineRulesIsCopy(t *testing.T) {
	e, err := New([]rulespec.Rule{rulespec.Status("**/a", 200).WithID("a")})
	require.NoError(t, err)
	rs := e.Rules()
	rs[0].ID = "mutated"
	assert.EqualValues(t, "a", e.Rules()[0].ID)
}
