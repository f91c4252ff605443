package cpc_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outbound-gateway/oagw/internal/oagw/cpc"
	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/internal/oagw/store"
	"github.com/outbound-gateway/oagw/pkg/ids"
)

func setup(t *testing.T) (store.Repositories, *cpc.Service, *model.Upstream, *model.Route) {
	t.Helper()
	repos := store.NewMemoryRepositories()

	u := &model.Upstream{
		ID:      ids.New(ids.Upstream),
		Tenant:  "root",
		Alias:   "llm",
		Enabled: true,
		Endpoints: []model.Endpoint{
			{Scheme: "https", Host: "api.example.com", Port: 443},
		},
		Auth: model.AuthSpec{Sharing: model.SharingEnforce, PluginID: "builtin:auth:jwt"},
		RateLimit: model.RateLimitSpec{
			Sharing: model.SharingEnforce, Rate: 100, Window: model.WindowMinute,
		},
	}
	require.NoError(t, repos.Upstreams.Create(context.Background(), u))

	rt := &model.Route{
		ID:         ids.New(ids.Route),
		Tenant:     "root",
		UpstreamID: u.ID,
		HTTP:       &model.HTTPMatch{Path: "/v1/chat"},
		Enabled:    true,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, repos.Routes.Create(context.Background(), rt))

	svc := cpc.New(repos, 100, 0, 0)
	return repos, svc, u, rt
}

func TestResolveEffective_HappyPath(t *testing.T) {
	_, svc, u, rt := setup(t)

	eff, err := svc.ResolveEffective(context.Background(), "root", "llm", "", "GET", "/v1/chat/completions", url.Values{})
	require.NoError(t, err)
	assert.Equal(t, u.ID, eff.Upstream.ID)
	assert.Equal(t, rt.ID, eff.Route.ID)
	assert.Equal(t, "/completions", eff.Suffix)
	assert.Equal(t, "api.example.com", eff.Endpoint.Host)
	assert.Equal(t, "builtin:auth:jwt", eff.Auth.PluginID)
	assert.Equal(t, float64(100), eff.RateLimit.Rate)
}

func TestResolveEffective_UnknownAlias(t *testing.T) {
	_, svc, _, _ := setup(t)
	_, err := svc.ResolveEffective(context.Background(), "root", "missing", "", "GET", "/v1/chat", url.Values{})
	require.Error(t, err)
}

func TestResolveEffective_NoRouteMatches(t *testing.T) {
	_, svc, _, _ := setup(t)
	_, err := svc.ResolveEffective(context.Background(), "root", "llm", "", "GET", "/v2/other", url.Values{})
	require.Error(t, err)
}

func TestPurge_InvalidatesCachedAliasResolution(t *testing.T) {
	repos, svc, u, _ := setup(t)

	_, err := svc.ResolveEffective(context.Background(), "root", "llm", "", "GET", "/v1/chat", url.Values{})
	require.NoError(t, err)

	// Disable the upstream directly in the backing store; the cached
	// resolution should still win until the cache is purged.
	disabled := *u
	disabled.Enabled = false
	require.NoError(t, repos.Upstreams.Update(context.Background(), &disabled))

	_, err = svc.ResolveEffective(context.Background(), "root", "llm", "", "GET", "/v1/chat", url.Values{})
	require.NoError(t, err, "stale cache entry should still resolve before purge")

	svc.Purge(cpc.UpstreamCacheKey("root", "llm"))

	_, err = svc.ResolveEffective(context.Background(), "root", "llm", "", "GET", "/v1/chat", url.Values{})
	require.Error(t, err, "purged entry should re-resolve and observe the disabled upstream")
}

func TestPluginDefinition_CachesAcrossCalls(t *testing.T) {
	repos, svc, _, _ := setup(t)

	def := &model.PluginDefinition{
		ID:     ids.New(ids.Plugin),
		Tenant: "root",
		Kind:   model.PluginKindGuard,
		Script: "true",
	}
	require.NoError(t, repos.Plugins.Create(context.Background(), def))

	got, err := svc.PluginDefinition(context.Background(), "root", def.ID.String())
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)

	svc.Purge(cpc.PluginCacheKey(def.ID.String()))

	got2, err := svc.PluginDefinition(context.Background(), "root", def.ID.String())
	require.NoError(t, err)
	assert.Equal(t, def.ID, got2.ID)
}

func TestSubscribe_NotifiedOnPurge(t *testing.T) {
	_, svc, _, _ := setup(t)

	ch := make(chan []string, 1)
	svc.Subscribe(func(keys []string) { ch <- keys })

	svc.Purge("upstream:root:llm")

	select {
	case keys := <-ch:
		assert.Equal(t, []string{"upstream:root:llm"}, keys)
	case <-time.After(time.Second):
		t.Fatal("purge listener was not invoked")
	}
}
