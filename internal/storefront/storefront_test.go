package storefront

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hassert "shopharness/internal/assert"
	"shopharness/internal/audit"
	"shopharness/internal/scenario"
	"shopharness/internal/session"
	"shopharness/internal/static"
	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
)

func newController(t *testing.T) *session.Controller {
	t.Helper()
	b := static.New(static.Options{})
	c := session.NewController(b, session.Options{
		Defaults: model.SessionConfig{BaseURL: BaseURL, NavTimeout: 5 * time.Second},
	})
	t.Cleanup(func() {
		_ = c.CloseAll()
		_ = b.Close()
	})
	return c
}

func opener(c *session.Controller) scenario.OpenFunc {
	return func(ctx context.Context, cfg model.SessionConfig) (scenario.Session, error) {
		return c.Open(ctx, cfg)
	}
}

func TestCatalogPassesOnStaticBackend(t *testing.T) {
	c := newController(t)
	r := &scenario.Runner{
		Engine:        hassert.NewEngine(10*time.Millisecond, 2*time.Second, nil),
		ActionTimeout: 2 * time.Second,
		Parallel:      4,
	}
	scs := Scenarios()
	results := r.RunAll(context.Background(), opener(c), scs)
	require.Len(t, results, len(scs))
	for _, res := range results {
		assert.True(t, res.Passed, "%s: %v", res.Name, res.Err)
		assert.Equal(t, -1, res.FailedIndex, res.Name)
	}
	assert.Empty(t, c.List())
}

func TestScenarioNamesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, sc := range Scenarios() {
		assert.False(t, seen[sc.Name], sc.Name)
		seen[sc.Name] = true
		assert.NotEmpty(t, sc.Tags, sc.Name)
	}
}

func TestMissingRouteFailsScenario(t *testing.T) {
	c := newController(t)
	r := &scenario.Runner{Engine: hassert.NewEngine(10*time.Millisecond, 200*time.Millisecond, nil)}
	sc := scenario.Scenario{Name: "no-catch-all", Steps: []scenario.Step{
		scenario.InstallRules{Rules: []rulespec.Rule{PageRule("/", HomePage(Products()))}},
		scenario.Navigate{URL: "/"},
	}}
	res := r.RunAll(context.Background(), opener(c), []scenario.Scenario{sc})[0]
	require.False(t, res.Passed)
	assert.Equal(t, 1, res.FailedIndex)
	assert.ErrorContains(t, res.Err, "no route matched")
}

func TestFixturesAreValid(t *testing.T) {
	for _, cfg := range Fixtures() {
		require.NoError(t, cfg.Validate(), cfg.Name)
		assert.True(t, rulespec.HasCatchAll(cfg.Rules), cfg.Name)
	}
}

func TestWithReplacesDefaultsByID(t *testing.T) {
	rules := With(AdminForbidden(), LoginFailureAPI(), CartListAPI(nil))
	assert.Equal(t, model.RuleID("admin:forbidden"), rules[0].ID)

	count := map[model.RuleID]int{}
	for _, r := range rules {
		count[r.ID]++
	}
	assert.Equal(t, 1, count["api:cart-list"])
	assert.Equal(t, 1, count["api:login"])
	assert.Equal(t, 1, count["api:login-failure"])
	assert.Equal(t, model.RuleID("catch-all"), rules[len(rules)-1].ID)
	assert.Len(t, Rules(), len(APIs())+len(Pages())+len(Assets())+1)
}

func TestPagesPassAudit(t *testing.T) {
	c := newController(t)
	ctx := context.Background()
	s, err := c.Open(ctx, model.SessionConfig{})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Install(Rules()))

	a := &audit.Auditor{
		Engine:      hassert.NewEngine(10*time.Millisecond, time.Second, nil),
		Settle:      time.Millisecond,
		MainTimeout: time.Second,
	}
	reports := a.AuditPages(ctx, s, AuditPaths(), model.DefaultViewports())
	require.Len(t, reports, len(AuditPaths()))
	for _, r := range reports {
		assert.True(t, r.Passed(), "%s: %+v", r.URL, r)
	}
	assert.NoError(t, s.InterceptErr())
}
