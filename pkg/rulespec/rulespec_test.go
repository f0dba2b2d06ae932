package rulespec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateAssignsIDs(t *testing.T) {
	cfg := Config{Rules: []Rule{
		Status("**/a", 200),
		PassThrough("**/b"),
		CatchAll(),
	}}
	require.NoError(t, cfg.Validate())
	assert.EqualValues(t, "rule-1", cfg.Rules[0].ID)
	assert.EqualValues(t, "rule-2", cfg.Rules[1].ID)
	assert.EqualValues(t, "catch-all", cfg.Rules[2].ID)
	assert.True(t, HasCatchAll(cfg.Rules))
}

func TestConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{"empty pattern", Rule{Respond: &Respond{Status: 200}}},
		{"unknown kind", Rule{Pattern: "x", Kind: "wild", PassThrough: true}},
		{"both actions", Rule{Pattern: "x", PassThrough: true, Respond: &Respond{Status: 200}}},
		{"no action", Rule{Pattern: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Rules: []Rule{tt.rule}}
			assert.Error(t, cfg.Validate())
		})
	}

	dup := Config{Rules: []Rule{Status("a", 200).WithID("x"), Status("b", 200).WithID("x")}}
	assert.ErrorContains(t, dup.Validate(), "duplicate rule id")
}

func TestHasCatchAllIgnoresFilteredRules(t *testing.T) {
	assert.False(t, HasCatchAll([]Rule{Status(CatchAllPattern, 200, "GET")}))
	assert.False(t, HasCatchAll([]Rule{Status(CatchAllPattern, 200).Regex()}))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(yml, []byte(`
version: "1"
name: products
rules:
  - id: list
    pattern: "**/api/products"
    methods: [GET]
    respond:
      status: 200
      contentType: application/json
      json: [{id: p1}]
  - pattern: "**/*"
    passThrough: true
`), 0o644))

	cfg, err := LoadFile(yml)
	require.NoError(t, err)
	assert.Equal(t, "products", cfg.Name)
	require.Len(t, cfg.Rules, 2)
	assert.EqualValues(t, "list", cfg.Rules[0].ID)
	assert.Equal(t, []string{"GET"}, cfg.Rules[0].Methods)
	assert.EqualValues(t, "rule-2", cfg.Rules[1].ID)
	assert.True(t, cfg.Rules[1].PassThrough)

	js := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(js, []byte(`{"name":"x","rules":[{"pattern":"**/a","respond":{"status":404}}]}`), 0o644))
	cfg, err = LoadFile(js)
	require.NoError(t, err)
	assert.Equal(t, 404, cfg.Rules[0].Respond.Status)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"rules":[{"pattern":""}]}`), 0o644))
	_, err = LoadFile(bad)
	assert.Error(t, err)
}

func TestConstructors(t *testing.T) {
	r := JSON("**/api", 201, map[string]any{"ok": true}, "POST")
	assert.Equal(t, ContentTypeJSON, r.Respond.ContentType)
	assert.Equal(t, []string{"POST"}, r.Methods)

	r = HTML("**/page", "<p>hi</p>").WithID("page")
	assert.Equal(t, "page", r.Label())
	assert.Equal(t, ContentTypeHTML, r.Respond.ContentType)

	assert.Equal(t, "**/x", PassThrough("**/x").Label())
	assert.Equal(t, KindRegex, Status("x", 200).Regex().Kind)
}
