// Package cpc implements the control-plane cache service (spec.md §2,
// §4.8): the layer between the backing store and a request's data-plane
// pipeline that resolves aliases, matches routes, merges hierarchical
// configuration, and caches the result. Writes purge affected keys in
// the CPC's own layers and notify registered data-plane instances to
// purge their own effective-configuration cache (best-effort, async).
package cpc

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/internal/oagw/resolver"
	"github.com/outbound-gateway/oagw/internal/oagw/route"
	"github.com/outbound-gateway/oagw/internal/oagw/store"
	"github.com/outbound-gateway/oagw/pkg/cache"
	"github.com/outbound-gateway/oagw/pkg/config"
	"github.com/outbound-gateway/oagw/pkg/ids"
	"github.com/outbound-gateway/oagw/pkg/logging"
)

// Effective is the fully resolved, merged configuration for one inbound
// request: everything the data-plane pipeline needs to authenticate,
// limit, transform, and dispatch without touching the backing store
// again (spec.md §3 "Effective configuration").
type Effective struct {
	Tenant      string
	Upstream    *model.Upstream
	Route       *model.Route
	Suffix      string
	Endpoint    model.Endpoint
	Auth        model.AuthSpec
	RateLimit   model.RateLimitSpec
	Concurrency model.ConcurrencySpec
	CORS        model.CORSSpec
	Plugins   []model.PluginRef // declared order: root ancestors -> winner -> route
}

// PurgeListener receives the cache keys a write invalidated, so a
// data-plane instance can drop its own copies (spec.md §4.8: "DPP purge
// is best-effort asynchronous").
type PurgeListener func(keys []string)

type resolvedAlias struct {
	winner    *model.Upstream
	ancestors []*model.Upstream // root-first
	endpoint  model.Endpoint
}

// Service is the control-plane cache: backing store plus the layered
// LRU described in spec.md §4.8 (L1 always present, L2 optional).
type Service struct {
	repos    store.Repositories
	resolver *resolver.Resolver

	l1       *cache.LRU[resolvedAlias]
	l2       *cache.TTLLRU[resolvedAlias] // nil when no L2 is configured
	pluginL1 *cache.LRU[*model.PluginDefinition]

	group singleflight.Group

	mu        sync.Mutex
	listeners []PurgeListener

	log logr.Logger
}

// New constructs a Service with an L1 bounded to l1Size entries
// (spec.md §4.8: "≈10k"). Pass l2Size <= 0 or l2TTL <= 0 to disable the
// optional L2.
func New(repos store.Repositories, l1Size int, l2Size int, l2TTL time.Duration) *Service {
	s := &Service{
		repos:    repos,
		resolver: resolver.New(repos.Upstreams, repos.Tenancy),
		l1:       cache.New[resolvedAlias](l1Size),
		pluginL1: cache.New[*model.PluginDefinition](l1Size),
		log:      logging.New("cpc"),
	}
	if l2Size > 0 && l2TTL > 0 {
		s.l2 = cache.NewTTL[resolvedAlias](l2Size, l2TTL)
	}
	return s
}

// Subscribe registers a listener invoked (in a new goroutine, fire and
// forget) on every purge, for a data-plane instance to mirror.
func (s *Service) Subscribe(l PurgeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Service) notify(keys ...string) {
	s.mu.Lock()
	listeners := append([]PurgeListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		go l(keys)
	}
}

func upstreamKey(tenant, alias string) string { return fmt.Sprintf("upstream:%s:%s", tenant, alias) }

// resolveCached performs alias resolution, consulting L1 then L2 before
// falling back to the resolver, deduplicating concurrent misses for the
// same key via singleflight (spec.md §4.8, §5 "cache mutations on a
// single key are serialized; readers see either pre- or post-write
// snapshot, never torn").
func (s *Service) resolveCached(ctx context.Context, tenant, alias, targetHost string) (resolvedAlias, error) {
	key := upstreamKey(tenant, alias)
	if v, ok := s.l1.Get(key); ok {
		return v, nil
	}
	if s.l2 != nil {
		if v, ok := s.l2.Get(key); ok {
			s.l1.Add(key, v)
			return v, nil
		}
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		r, err := s.resolver.Resolve(ctx, tenant, alias, targetHost)
		if err != nil {
			return resolvedAlias{}, err
		}
		out := resolvedAlias{winner: r.Winner, ancestors: r.Ancestors, endpoint: r.Endpoint}
		s.l1.Add(key, out)
		if s.l2 != nil {
			s.l2.Add(key, out)
		}
		return out, nil
	})
	if err != nil {
		return resolvedAlias{}, err
	}
	return v.(resolvedAlias), nil
}

// ResolveEffective implements spec.md §4.1-§4.3 end to end: alias
// resolution (with shadowing), route matching, and the hierarchical
// merge, producing one Effective configuration for the data-plane
// pipeline to execute against.
func (s *Service) ResolveEffective(ctx context.Context, tenant, alias, targetHost, method, path string, query url.Values) (*Effective, error) {
	r, err := s.resolveCached(ctx, tenant, alias, targetHost)
	if err != nil {
		return nil, err
	}

	routes, err := s.repos.Routes.ListByUpstream(ctx, r.winner.Tenant, r.winner.ID)
	if err != nil {
		return nil, err
	}
	m, err := route.Select(routes, method, path, query)
	if err != nil {
		return nil, err
	}

	chain := append(append([]*model.Upstream{}, r.ancestors...), r.winner) // root-first
	ownerTenant := make([]string, len(chain))
	authLayers := make([]config.Layer[model.AuthSpec], len(chain))
	rlLayers := make([]config.Layer[model.RateLimitSpec], len(chain)+1) // +1 for the route
	corsLayers := make([]config.Layer[model.CORSSpec], len(chain))
	pluginLayers := make([][]model.PluginRef, len(chain)+1)
	tagLayers := make([]map[string]model.Sharing, len(chain))

	for i, u := range chain {
		ownerTenant[i] = u.Tenant
		authLayers[i] = config.Layer[model.AuthSpec]{Sharing: u.Auth.Sharing, Value: u.Auth, Present: u.Auth.PluginID != ""}
		rlLayers[i] = config.Layer[model.RateLimitSpec]{Sharing: u.RateLimit.Sharing, Value: u.RateLimit, Present: u.RateLimit.Rate > 0}
		corsLayers[i] = config.Layer[model.CORSSpec]{Sharing: u.CORS.Sharing, Value: u.CORS, Present: u.CORS.Sharing != ""}
		pluginLayers[i] = u.Plugins
		tagLayers[i] = u.Tags
	}
	// The route participates in the rate-limit minimum and appends its
	// own plugins after the upstream chain (spec.md §4.6 "plus ... the
	// route"; §4.2 plugin attach order).
	rlLayers[len(chain)] = config.Layer[model.RateLimitSpec]{Sharing: model.SharingEnforce, Value: m.Route.RateLimit, Present: m.Route.RateLimit.Rate > 0}
	pluginLayers[len(chain)] = m.Route.Plugins

	viewer := r.winner.Tenant
	rlOwners := append(append([]string{}, ownerTenant...), viewer)
	pluginOwners := rlOwners

	auth, _ := config.ResolveAuth(authLayers, ownerTenant, viewer)
	rateLimit, _ := config.ResolveRateLimit(rlLayers, rlOwners, viewer)
	cors, _ := config.MergeCORS(corsLayers, ownerTenant, viewer)
	plugins := config.MergePlugins(pluginLayers, pluginOwners, viewer)
	_ = config.MergeTags(tagLayers, ownerTenant, viewer)

	return &Effective{
		Tenant:      tenant,
		Upstream:    r.winner,
		Route:       m.Route,
		Suffix:      m.Suffix,
		Endpoint:    r.endpoint,
		Auth:        auth,
		RateLimit:   rateLimit,
		Concurrency: r.winner.Concurrency,
		CORS:        cors,
		Plugins:     plugins,
	}, nil
}

// PluginDefinition fetches a plugin definition by tenant-scoped id,
// through the L1 (spec.md §4.8 key "plugin:<id>").
func (s *Service) PluginDefinition(ctx context.Context, tenant, id string) (*model.PluginDefinition, error) {
	key := PluginCacheKey(id)
	if v, ok := s.pluginL1.Get(key); ok {
		return v, nil
	}
	parsed, err := ids.Parse(id, ids.Plugin)
	if err != nil {
		return nil, err
	}
	def, err := s.repos.Plugins.Get(ctx, tenant, parsed)
	if err != nil {
		return nil, err
	}
	s.pluginL1.Add(key, def)
	return def, nil
}

// Purge drops key (and its L2 copy) from the control plane's own
// layers and notifies subscribers (spec.md §4.8 write path). Callers
// are expected to invoke this after every successful backing-store
// write, in the order: write store, purge own layers, notify.
func (s *Service) Purge(keys ...string) {
	for _, k := range keys {
		s.l1.Remove(k)
		s.pluginL1.Remove(k)
		if s.l2 != nil {
			s.l2.Remove(k)
		}
	}
	s.notify(keys...)
}

// UpstreamCacheKey and RouteCacheKey let callers (internal/oagw/api)
// compute the exact keys a mutation affects, per spec.md §4.8's naming.
func UpstreamCacheKey(tenant, alias string) string { return upstreamKey(tenant, alias) }
func RouteCacheKey(upstreamID, method, path string) string {
	return fmt.Sprintf("route:%s:%s:%s", upstreamID, method, path)
}
func PluginCacheKey(id string) string { return "plugin:" + id }
