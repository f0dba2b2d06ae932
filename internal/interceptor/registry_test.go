package interceptor

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopharness/internal/executor"
	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
	"shopharness/pkg/traffic"
)

func newRegistry(events chan model.Event) *Registry {
	return New(Options{Session: "s1", Events: events})
}

func TestInterceptWithoutRulesBlocksLoudly(t *testing.T) {
	events := make(chan model.Event, 4)
	r := newRegistry(events)

	dec := r.Intercept(traffic.NewRequest("GET", "http://shop.test/"))
	assert.Equal(t, traffic.ActionBlock, dec.Action)

	var nrm *NoRouteMatchedError
	require.ErrorAs(t, dec.Err, &nrm)
	assert.Equal(t, "http://shop.test/", nrm.URL)
	assert.ErrorAs(t, r.Err(), &nrm)

	evt := <-events
	assert.Equal(t, model.EventBlocked, evt.Type)
	assert.EqualValues(t, "s1", evt.Session)
	assert.NotZero(t, evt.Timestamp)
}

func TestInstallReplacesAndFirstMatchWins(t *testing.T) {
	events := make(chan model.Event, 8)
	r := newRegistry(events)

	require.NoError(t, r.Install([]rulespec.Rule{
		rulespec.RawJSON("**/api/products", 200, `[{"id":"p1"}]`).WithID("list"),
		rulespec.RawJSON("**/api/**", 500, `{}`).WithID("api"),
	}))
	dec := r.Intercept(traffic.NewRequest("GET", "http://x/api/products"))
	assert.Equal(t, traffic.ActionFulfill, dec.Action)
	assert.Equal(t, "list", dec.RuleID)
	assert.JSONEq(t, `[{"id":"p1"}]`, string(dec.Response.Body))

	evt := <-events
	assert.Equal(t, model.EventFulfilled, evt.Type)
	assert.Equal(t, 200, evt.Status)
	require.NotNil(t, evt.Rule)
	assert.EqualValues(t, "list", *evt.Rule)

	require.NoError(t, r.Install([]rulespec.Rule{rulespec.PassThrough("**/*").WithID("all")}))
	assert.Len(t, r.Rules(), 1)
	dec = r.Intercept(traffic.NewRequest("GET", "http://x/api/products"))
	assert.Equal(t, traffic.ActionContinue, dec.Action)
	assert.Nil(t, dec.Response)
	assert.Equal(t, model.EventPassed, (<-events).Type)
	assert.NoError(t, r.Err())
}

func TestInstallFailureKeepsPreviousRules(t *testing.T) {
	r := newRegistry(nil)
	require.NoError(t, r.Install([]rulespec.Rule{rulespec.Status("**/*", 204).WithID("ok")}))

	err := r.Install([]rulespec.Rule{rulespec.RawJSON("**/*", 200, "{not json").WithID("bad")})
	var mce *executor.MockConstructionError
	require.ErrorAs(t, err, &mce)
	assert.EqualValues(t, "bad", mce.RuleID)

	dec := r.Intercept(traffic.NewRequest("GET", "http://x/"))
	assert.Equal(t, "ok", dec.RuleID)

	assert.Error(t, r.Install([]rulespec.Rule{{Pattern: "**/a"}}))
}

func TestUninstallIsIdempotent(t *testing.T) {
	r := newRegistry(nil)
	require.NoError(t, r.Install([]rulespec.Rule{rulespec.CatchAll()}))
	assert.True(t, r.Installed())
	r.Uninstall()
	r.Uninstall()
	assert.False(t, r.Installed())
	assert.Nil(t, r.Rules())
	assert.Empty(t, r.Stats().ByRule)
}

func TestErrIsSticky(t *testing.T) {
	r := newRegistry(nil)
	require.NoError(t, r.Install([]rulespec.Rule{rulespec.Status("**/known", 200)}))

	r.Intercept(traffic.NewRequest("GET", "http://x/first"))
	r.Intercept(traffic.NewRequest("POST", "http://x/second"))
	r.Intercept(traffic.NewRequest("GET", "http://x/known"))

	var nrm *NoRouteMatchedError
	require.True(t, errors.As(r.Err(), &nrm))
	assert.Equal(t, "http://x/first", nrm.URL)
	assert.Len(t, r.Violations(), 2)

	// reinstalling does not clear the record
	require.NoError(t, r.Install([]rulespec.Rule{rulespec.CatchAll()}))
	assert.Error(t, r.Err())
}

func TestStats(t *testing.T) {
	r := newRegistry(nil)
	require.NoError(t, r.Install([]rulespec.Rule{rulespec.Status("**/a", 200).WithID("a"), rulespec.CatchAll()}))
	r.Intercept(traffic.NewRequest("GET", "http://x/a"))
	r.Intercept(traffic.NewRequest("GET", "http://x/a"))
	r.Intercept(traffic.NewRequest("GET", "http://x/b"))
	s := r.Stats()
	assert.EqualValues(t, 3, s.Total)
	assert.EqualValues(t, 2, s.ByRule["a"])
	assert.EqualValues(t, 1, s.ByRule["catch-all"])
}

func TestFullEventChannelDoesNotBlock(t *testing.T) {
	events := make(chan model.Event)
	r := newRegistry(events)
	require.NoError(t, r.Install([]rulespec.Rule{rulespec.CatchAll()}))
	dec := r.Intercept(traffic.NewRequest("GET", "http://x/"))
	assert.Equal(t, traffic.ActionFulfill, dec.Action)
}

func TestConcurrentIntercept(t *testing.T) {
	r := newRegistry(nil)
	require.NoError(t, r.Install([]rulespec.Rule{rulespec.CatchAll()}))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Intercept(traffic.NewRequest("GET", "http://x/"))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 50, r.Stats().Total)
}

func TestConcurrentInstallRejected(t *testing.T) {
	r := newRegistry(nil)
	r.installMu.Lock()
	err := r.Install([]rulespec.Rule{rulespec.CatchAll()})
	r.installMu.Unlock()
	assert.ErrorIs(t, err, ErrConcurrentInstall)
}
