package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Options{DSN: filepath.Join(t.TempDir(), "data", "test.sqlite3"), Prefix: "t_"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestTablePrefix(t *testing.T) {
	db := openTestDB(t)
	assert.True(t, db.Gorm().Migrator().HasTable("t_fixture_records"))
	assert.True(t, db.Gorm().Migrator().HasTable("t_run_records"))
	assert.True(t, db.Gorm().Migrator().HasTable("t_event_records"))
}

func TestFixtureRepo(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	cfg := rulespec.Config{Version: "1", Name: "products", Rules: []rulespec.Rule{
		rulespec.RawJSON("**/api/products", 200, `[]`),
		rulespec.CatchAll(),
	}}
	require.NoError(t, db.Fixtures.Save(ctx, cfg))

	got, err := db.Fixtures.Get(ctx, "products")
	require.NoError(t, err)
	require.Len(t, got.Rules, 2)
	assert.EqualValues(t, "rule-1", got.Rules[0].ID)
	assert.Equal(t, `[]`, got.Rules[0].Respond.Body)

	cfg.Version = "2"
	cfg.Rules = cfg.Rules[1:]
	require.NoError(t, db.Fixtures.Save(ctx, cfg))
	list, err := db.Fixtures.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "2", list[0].Version)
	assert.Equal(t, 1, list[0].RuleCount)

	require.NoError(t, db.Fixtures.Delete(ctx, "products"))
	_, err = db.Fixtures.Get(ctx, "products")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.Fixtures.Delete(ctx, "products"), ErrNotFound)
}

func TestFixtureRepoRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	assert.Error(t, db.Fixtures.Save(ctx, rulespec.Config{Rules: []rulespec.Rule{rulespec.CatchAll()}}))
	assert.Error(t, db.Fixtures.Save(ctx, rulespec.Config{Name: "x", Rules: []rulespec.Rule{{Pattern: "**"}}}))
}

func TestRunAndEventRepos(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.Runs.Save(ctx, nil))
	require.NoError(t, db.Runs.Save(ctx, []RunRecord{
		{RunID: "r1", Kind: "scenario", Name: "home-page", Passed: true, FailedIndex: -1, Steps: 3},
		{RunID: "r1", Kind: "scenario", Name: "cart", FailedIndex: 2, Error: "boom", Steps: 3},
		{RunID: "r2", Kind: "audit", Name: "/", Passed: true, FailedIndex: -1},
	}))
	runs, err := db.Runs.ByRun(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "home-page", runs[0].Name)
	assert.Equal(t, 2, runs[1].FailedIndex)

	recent, err := db.Runs.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "r2", recent[0].RunID)

	rule := model.RuleID("catch-all")
	require.NoError(t, db.Events.SaveBatch(ctx, "r1", []model.Event{
		{Type: model.EventFulfilled, Session: "s1", Rule: &rule, URL: "http://x/", Method: "GET", Status: 200, Timestamp: 100},
		{Type: model.EventBlocked, Session: "s1", URL: "http://x/missing", Method: "GET", Error: "no route", Timestamp: 200},
	}))
	events, err := db.Events.ByRun(ctx, "r1", "")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.NotNil(t, events[0].RuleID)
	assert.Equal(t, "catch-all", *events[0].RuleID)
	assert.Nil(t, events[1].RuleID)

	blocked, err := db.Events.ByRun(ctx, "r1", model.EventBlocked)
	require.NoError(t, err)
	assert.Len(t, blocked, 1)

	n, err := db.Events.Purge(ctx, 150)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
