package store

import (
	"context"
	"strings"
	"sync"

	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/pkg/ids"
)

// state is a single mutex-guarded in-memory backing store standing in
// for the external relational persistence layer (spec.md §1, §6.1). It
// is intentionally simple: the contract it honors (ErrNotFound,
// ErrConflict, cascade semantics) is what the control plane depends on,
// not any particular storage engine. upstreamRepo/routeRepo/pluginRepo
// below are thin views over the same state so each can independently
// satisfy its own repository interface without Go method-set collisions.
type state struct {
	mu        sync.Mutex
	upstreams map[string]*model.Upstream // key: tenant + "/" + id.UUID
	routes    map[string]*model.Route
	plugins   map[string]*model.PluginDefinition
	parents   map[string]string // tenant -> parent tenant, root tenants absent
}

type upstreamRepo struct{ s *state }
type routeRepo struct{ s *state }
type pluginRepo struct{ s *state }
type tenancyRepo struct{ s *state }

// NewMemoryRepositories constructs an in-memory Repositories bundle.
func NewMemoryRepositories() Repositories {
	s := &state{
		upstreams: make(map[string]*model.Upstream),
		routes:    make(map[string]*model.Route),
		plugins:   make(map[string]*model.PluginDefinition),
		parents:   make(map[string]string),
	}
	return Repositories{
		Upstreams: upstreamRepo{s},
		Routes:    routeRepo{s},
		Plugins:   pluginRepo{s},
		Tenancy:   tenancyRepo{s},
	}
}

// SetParent records tenant's parent for Tenancy.Chain, for tests and
// local/dev seeding where no external tenant directory is wired.
func (r tenancyRepo) SetParent(tenant, parent string) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.parents[tenant] = parent
}

// Chain returns [self, parent, ..., root]. A tenant absent from parents
// is treated as a root.
func (r tenancyRepo) Chain(ctx context.Context, tenant string) ([]string, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := []string{tenant}
	seen := map[string]bool{tenant: true}
	cur := tenant
	for {
		parent, ok := s.parents[cur]
		if !ok || parent == "" {
			break
		}
		if seen[parent] {
			// A cycle cannot occur by construction (spec.md §9); guard
			// defensively rather than loop forever if seeded wrong.
			break
		}
		chain = append(chain, parent)
		seen[parent] = true
		cur = parent
	}
	return chain, nil
}

func key(tenant string, id ids.ID) string { return tenant + "/" + id.UUID.String() }

// --- Upstreams ---

func (r upstreamRepo) Get(ctx context.Context, tenant string, id ids.ID) (*model.Upstream, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.upstreams[key(tenant, id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r upstreamRepo) GetByAlias(ctx context.Context, tenant, alias string) (*model.Upstream, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.upstreams {
		if u.Tenant == tenant && strings.EqualFold(u.Alias, alias) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r upstreamRepo) ListByAliasAcrossTenants(ctx context.Context, tenants []string, alias string) ([]*model.Upstream, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	byTenant := make(map[string]*model.Upstream, len(tenants))
	for _, u := range s.upstreams {
		if strings.EqualFold(u.Alias, alias) {
			byTenant[u.Tenant] = u
		}
	}
	var out []*model.Upstream
	for _, t := range tenants {
		if u, ok := byTenant[t]; ok {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r upstreamRepo) List(ctx context.Context, tenant string) ([]*model.Upstream, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Upstream
	for _, u := range s.upstreams {
		if u.Tenant == tenant {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r upstreamRepo) Create(ctx context.Context, u *model.Upstream) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.upstreams {
		if existing.Tenant == u.Tenant && strings.EqualFold(existing.Alias, u.Alias) {
			return ErrConflict
		}
	}
	cp := *u
	s.upstreams[key(u.Tenant, u.ID)] = &cp
	return nil
}

func (r upstreamRepo) Update(ctx context.Context, u *model.Upstream) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(u.Tenant, u.ID)
	if _, ok := s.upstreams[k]; !ok {
		return ErrNotFound
	}
	cp := *u
	cp.Version++
	s.upstreams[k] = &cp
	return nil
}

func (r upstreamRepo) Delete(ctx context.Context, tenant string, id ids.ID, cascade bool) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(tenant, id)
	if _, ok := s.upstreams[k]; !ok {
		return ErrNotFound
	}
	hasRoutes := false
	for _, rt := range s.routes {
		if rt.Tenant == tenant && rt.UpstreamID.UUID == id.UUID {
			hasRoutes = true
			break
		}
	}
	if hasRoutes && !cascade {
		return ErrConflict
	}
	if hasRoutes && cascade {
		for rk, rt := range s.routes {
			if rt.Tenant == tenant && rt.UpstreamID.UUID == id.UUID {
				delete(s.routes, rk)
			}
		}
	}
	delete(s.upstreams, k)
	return nil
}

// --- Routes ---

func (r routeRepo) Get(ctx context.Context, tenant string, id ids.ID) (*model.Route, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.routes[key(tenant, id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rt
	return &cp, nil
}

func (r routeRepo) ListByUpstream(ctx context.Context, tenant string, upstreamID ids.ID) ([]*model.Route, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Route
	for _, rt := range s.routes {
		if rt.Tenant == tenant && rt.UpstreamID.UUID == upstreamID.UUID {
			cp := *rt
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r routeRepo) Create(ctx context.Context, rt *model.Route) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rt
	s.routes[key(rt.Tenant, rt.ID)] = &cp
	return nil
}

func (r routeRepo) Update(ctx context.Context, rt *model.Route) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(rt.Tenant, rt.ID)
	if _, ok := s.routes[k]; !ok {
		return ErrNotFound
	}
	cp := *rt
	cp.Version++
	s.routes[k] = &cp
	return nil
}

func (r routeRepo) Delete(ctx context.Context, tenant string, id ids.ID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(tenant, id)
	if _, ok := s.routes[k]; !ok {
		return ErrNotFound
	}
	delete(s.routes, k)
	return nil
}

// --- Plugins ---

func (r pluginRepo) Get(ctx context.Context, tenant string, id ids.ID) (*model.PluginDefinition, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plugins[key(tenant, id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r pluginRepo) List(ctx context.Context, tenant string) ([]*model.PluginDefinition, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PluginDefinition
	for _, p := range s.plugins {
		if p.Tenant == tenant {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r pluginRepo) Create(ctx context.Context, p *model.PluginDefinition) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.plugins[key(p.Tenant, p.ID)] = &cp
	return nil
}

func (r pluginRepo) Delete(ctx context.Context, tenant string, id ids.ID) error {
	ups, routes, err := r.ReferencedBy(ctx, tenant, id)
	if err != nil {
		return err
	}
	if len(ups) > 0 || len(routes) > 0 {
		return ErrConflict
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(tenant, id)
	if _, ok := s.plugins[k]; !ok {
		return ErrNotFound
	}
	delete(s.plugins, k)
	return nil
}

func (r pluginRepo) ReferencedBy(ctx context.Context, tenant string, id ids.ID) ([]ids.ID, []ids.ID, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	idStr := id.String()
	var ups, routes []ids.ID
	for _, u := range s.upstreams {
		if u.Tenant != tenant {
			continue
		}
		if u.Auth.PluginID == idStr {
			ups = append(ups, u.ID)
			continue
		}
		for _, ref := range u.Plugins {
			if ref.PluginID == idStr {
				ups = append(ups, u.ID)
				break
			}
		}
	}
	for _, rt := range s.routes {
		if rt.Tenant != tenant {
			continue
		}
		for _, ref := range rt.Plugins {
			if ref.PluginID == idStr {
				routes = append(routes, rt.ID)
				break
			}
		}
	}
	return ups, routes, nil
}

func (r pluginRepo) Touch(ctx context.Context, tenant string, id ids.ID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(tenant, id)
	p, ok := s.plugins[k]
	if !ok {
		return ErrNotFound
	}
	cp := *p
	s.plugins[k] = &cp
	return nil
}

var (
	_ Upstreams = upstreamRepo{}
	_ Routes    = routeRepo{}
	_ Plugins   = pluginRepo{}
	_ Tenancy   = tenancyRepo{}
)
