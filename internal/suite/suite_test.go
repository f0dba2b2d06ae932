package suite

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopharness/internal/scenario"
	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
)

const suiteYAML = `
name: smoke
baseURL: http://shop.test
fixtures:
  products:
    - pattern: "**/api/products"
      respond:
        status: 200
        json: [{id: p1, name: Pram}]
    - pattern: "**"
      respond:
        status: 200
        json: {}
scenarios:
  - name: everything
    tags: [smoke]
    session:
      viewport: {width: 375, height: 667}
      locale: de-DE
      colorScheme: dark
      navTimeout: 3s
    steps:
      - install: products
      - navigate: /
      - navigate: {url: /shop, waitUntil: networkidle}
      - fill: {selector: "#email", value: a@b.c}
      - click: button[type=submit]
      - waitFor: .cart
      - assertVisible: {selector: .product, any: true, timeout: 2s}
      - assertText: {selector: h1, equals: Shop}
      - assertText: {selector: h1, contains: Sh}
      - assertAnyText: {selector: .product, contains: Pram}
      - assertAttribute: {selector: img.hero, name: alt, equals: Hero}
      - assertCount: {selector: .product, equals: 2}
      - assertCount: {selector: .product, atLeast: 1}
      - assertURL: /shop
      - setViewport: {width: 1280, height: 800}
      - request: {url: /api/products, headers: {X-Role: admin}}
      - assertStatus: 200
      - assertJSON: {path: 0.id, equals: p1}
      - sleep: 10ms
  - steps:
      - install:
          - pattern: "**/api/admin/**"
            respond: {status: 403, json: {error: denied}}
      - request: {method: POST, url: /api/admin/orders, json: {id: 1}}
      - install: live
audit:
  fixture: products
  pages: [/, /shop]
  viewports: [{width: 320, height: 568}]
`

func TestParseAndBuild(t *testing.T) {
	s, err := Parse([]byte(suiteYAML))
	require.NoError(t, err)
	assert.Equal(t, "smoke", s.Name)
	require.Len(t, s.Fixtures["products"], 2)
	assert.EqualValues(t, "rule-1", s.Fixtures["products"][0].ID)
	require.NotNil(t, s.Audit)
	assert.Equal(t, []string{"/", "/shop"}, s.Audit.Pages)
	assert.Equal(t, []model.Viewport{{Width: 320, Height: 568}}, s.Audit.Viewports)

	ext := func(name string) ([]rulespec.Rule, error) {
		if name == "live" {
			return []rulespec.Rule{rulespec.PassThrough("**")}, nil
		}
		return nil, ErrUnknownFixture
	}
	scs, err := s.Build(ext)
	require.NoError(t, err)
	require.Len(t, scs, 2)

	sc := scs[0]
	assert.Equal(t, "everything", sc.Name)
	assert.Equal(t, []string{"smoke"}, sc.Tags)
	assert.Equal(t, model.SessionConfig{
		BaseURL:     "http://shop.test",
		Viewport:    model.Viewport{Width: 375, Height: 667},
		Locale:      "de-DE",
		ColorScheme: model.ColorSchemeDark,
		NavTimeout:  3 * time.Second,
	}, sc.Session)

	require.Len(t, sc.Steps, 19)
	assert.Len(t, sc.Steps[0].(scenario.InstallRules).Rules, 2)
	assert.Equal(t, scenario.Navigate{URL: "/", WaitUntil: model.WaitLoad}, sc.Steps[1])
	assert.Equal(t, scenario.Navigate{URL: "/shop", WaitUntil: model.WaitNetworkIdle}, sc.Steps[2])
	assert.Equal(t, scenario.Fill{Selector: "#email", Value: "a@b.c"}, sc.Steps[3])
	assert.Equal(t, scenario.Click{Selector: "button[type=submit]"}, sc.Steps[4])
	assert.Equal(t, scenario.WaitForSelector{Selector: ".cart"}, sc.Steps[5])
	assert.Equal(t, scenario.AssertVisible{Selector: ".product", Any: true, Timeout: 2 * time.Second}, sc.Steps[6])
	assert.Equal(t, scenario.AssertText{Selector: "h1", Expected: "Shop"}, sc.Steps[7])
	assert.Equal(t, scenario.AssertText{Selector: "h1", Expected: "Sh", Contains: true}, sc.Steps[8])
	assert.Equal(t, scenario.AssertAnyText{Selector: ".product", Contains: "Pram"}, sc.Steps[9])
	assert.Equal(t, scenario.AssertAttribute{Selector: "img.hero", Name: "alt", Expected: "Hero"}, sc.Steps[10])
	assert.Equal(t, scenario.AssertCount{Selector: ".product", Count: 2}, sc.Steps[11])
	assert.Equal(t, scenario.AssertCount{Selector: ".product", Count: 1, AtLeast: true}, sc.Steps[12])
	assert.Equal(t, scenario.AssertURL{Contains: "/shop"}, sc.Steps[13])
	assert.Equal(t, scenario.SetViewport{Width: 1280, Height: 800}, sc.Steps[14])
	req := sc.Steps[15].(scenario.Request)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "admin", req.Headers["X-Role"])
	assert.Equal(t, scenario.AssertStatus{Code: 200}, sc.Steps[16])
	assert.Equal(t, scenario.AssertJSON{Path: "0.id", Equals: "p1"}, sc.Steps[17])
	assert.Equal(t, scenario.Sleep{Duration: 10 * time.Millisecond}, sc.Steps[18])

	sc = scs[1]
	assert.Equal(t, "scenario-2", sc.Name)
	inline := sc.Steps[0].(scenario.InstallRules).Rules
	require.Len(t, inline, 1)
	assert.Equal(t, 403, inline[0].Respond.Status)
	assert.Equal(t, "POST", sc.Steps[1].(scenario.Request).Method)
	assert.True(t, sc.Steps[2].(scenario.InstallRules).Rules[0].PassThrough)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name  string
		steps string
		want  string
	}{
		{"unknown step", `[{hover: .x}]`, `unknown step "hover"`},
		{"unknown waitUntil", `[{navigate: {url: /, waitUntil: whenever}}]`, "unknown waitUntil"},
		{"multi key", `[{click: a, fill: b}]`, "single-key mapping"},
		{"text without expectation", `[{assertText: {selector: h1}}]`, "equals or contains"},
		{"count without expectation", `[{assertCount: {selector: li}}]`, "equals or atLeast"},
		{"small viewport", `[{setViewport: {width: 100, height: 100}}]`, "viewport"},
		{"invalid inline rules", `[{install: [{pattern: "**"}]}]`, "rule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse([]byte("scenarios:\n  - name: x\n    steps: " + tt.steps + "\n"))
			require.NoError(t, err)
			_, err = s.Build(nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Contains(t, err.Error(), "scenario x step 0")
		})
	}
}

func TestUnknownFixture(t *testing.T) {
	s, err := Parse([]byte("scenarios:\n  - steps: [{install: nope}]\n"))
	require.NoError(t, err)
	_, err = s.Build(nil)
	assert.True(t, errors.Is(err, ErrUnknownFixture))
}

func TestParseRejectsInvalidFixture(t *testing.T) {
	_, err := Parse([]byte("fixtures:\n  bad:\n    - pattern: \"**\"\n"))
	assert.ErrorContains(t, err, "fixture bad")

	_, err = Parse([]byte("scenarios: {"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(suiteYAML), 0o644))
	s, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, s.Scenarios, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
