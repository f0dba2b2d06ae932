package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopharness/internal/config"
	"shopharness/internal/scenario"
	"shopharness/internal/static"
	"shopharness/internal/storage"
	"shopharness/internal/suite"
	"shopharness/pkg/model"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Timeouts.Settle = time.Millisecond
	cfg.Timeouts.Assertion = 2 * time.Second
	cfg.Timeouts.Poll = 10 * time.Millisecond
	cfg.Parallel = 4
	cfg.Viewports = []model.Viewport{{Width: 1280, Height: 800}}

	db, err := storage.Open(storage.Options{DSN: filepath.Join(t.TempDir(), "svc.sqlite3"), Prefix: "svc_"}, nil)
	require.NoError(t, err)
	s := NewWith(cfg, static.New(static.Options{}), db, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunBuiltinWithTag(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	sum, err := s.RunBuiltin(ctx, []string{"admin"})
	require.NoError(t, err)
	require.Len(t, sum.Results, 3)
	for _, res := range sum.Results {
		assert.True(t, res.Passed, "%s: %v", res.Name, res.Err)
	}
	assert.True(t, sum.Passed())
	assert.Empty(t, s.Controller().List())

	runs, _, err := s.History(ctx, sum.RunID)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, KindScenario, runs[0].Kind)
	assert.Equal(t, -1, runs[0].FailedIndex)

	_, events, err := s.History(ctx, sum.RunID)
	require.NoError(t, err)
	assert.NotEmpty(t, events)

	recent, events, err := s.History(ctx, "")
	require.NoError(t, err)
	assert.Len(t, recent, 3)
	assert.Nil(t, events)

	_, err = s.RunBuiltin(ctx, []string{"no-such-tag"})
	assert.Error(t, err)
}

func TestAuditPersistsReports(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	sum, err := s.Audit(ctx, AuditRequest{Pages: []string{"/", "/shop", "/missing-page"}})
	require.NoError(t, err)
	require.Len(t, sum.Audits, 3)
	assert.True(t, sum.Audits[0].Passed(), "%+v", sum.Audits[0])
	assert.True(t, sum.Audits[1].Passed(), "%+v", sum.Audits[1])
	assert.Len(t, sum.Audits[0].Viewports, 1)
	assert.False(t, sum.Passed())

	runs, _, err := s.History(ctx, sum.RunID)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, KindAudit, runs[0].Kind)
	assert.Equal(t, "/", runs[0].Name)

	_, err = s.Audit(ctx, AuditRequest{Fixture: "unknown"})
	assert.ErrorIs(t, err, suite.ErrUnknownFixture)
}

func TestFixtureLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	names, err := s.SeedFixtures(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "storefront")

	list, err := s.Fixtures(ctx)
	require.NoError(t, err)
	assert.Len(t, list, len(names))

	path := filepath.Join(t.TempDir(), "deny.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1"
name: from-file
rules:
  - pattern: "**/api/**"
    respond: {status: 503, json: {error: down}}
  - pattern: "**"
    respond: {status: 200, body: ok}
`), 0o644))
	cfg, err := s.ImportFixture(ctx, path, "outage")
	require.NoError(t, err)
	assert.Equal(t, "outage", cfg.Name)

	got, err := s.Fixture(ctx, "outage")
	require.NoError(t, err)
	assert.Len(t, got.Rules, 2)

	rules, err := s.fixtureSource(ctx)("outage")
	require.NoError(t, err)
	assert.Equal(t, 503, rules[0].Respond.Status)

	require.NoError(t, s.DeleteFixture(ctx, "outage"))
	assert.ErrorIs(t, s.DeleteFixture(ctx, "outage"), storage.ErrNotFound)
	_, err = s.fixtureSource(ctx)("outage")
	assert.ErrorIs(t, err, suite.ErrUnknownFixture)

	require.NoError(t, s.DeleteFixture(ctx, "login-failure"))
	rules, err = s.fixtureSource(ctx)("login-failure")
	require.NoError(t, err)
	assert.NotEmpty(t, rules)
}

func TestRunSuite(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: auth
baseURL: http://localhost:8080
scenarios:
  - name: login-denied
    tags: [auth]
    steps:
      - install: login-failure
      - request: {method: POST, url: /api/login, json: {email: x@y.z, password: nope}}
      - assertStatus: 401
      - assertJSON: {path: error, equals: Invalid credentials}
  - name: broken
    tags: [other]
    steps:
      - install: storefront
      - navigate: /
      - assertText: {selector: h1, equals: Nope, timeout: 50ms}
audit:
  pages: [/login]
`), 0o644))

	sum, err := s.RunSuite(ctx, path, []string{"auth"})
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)
	assert.True(t, sum.Results[0].Passed, "%v", sum.Results[0].Err)
	require.Len(t, sum.Audits, 1)
	assert.True(t, sum.Audits[0].Passed(), "%+v", sum.Audits[0])

	sum, err = s.RunSuite(ctx, path, []string{"other"})
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)
	assert.Equal(t, 2, sum.Results[0].FailedIndex)
	assert.False(t, sum.Passed())

	_, err = s.RunSuite(ctx, filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestFlushWritesBufferedEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	s.track("sess-1", "run-1")
	for i := 0; i < 20; i++ {
		s.events <- model.Event{Session: "sess-1", Type: model.EventFulfilled, URL: "http://shop.test/api/products", Method: "GET", Status: 200}
	}

	require.NoError(t, s.flush(ctx))
	_, events, err := s.History(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, events, 20)
}

func TestFilterTags(t *testing.T) {
	scs := []scenario.Scenario{
		{Name: "a", Tags: []string{"cart"}},
		{Name: "b", Tags: []string{"auth"}},
		{Name: "c"},
	}
	assert.Len(t, FilterTags(scs, nil), 3)
	got := FilterTags(scs, []string{"auth", "c"})
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Name)
	assert.Equal(t, "c", got[1].Name)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
