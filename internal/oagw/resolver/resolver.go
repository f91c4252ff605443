// Package resolver implements alias resolution with tenant-hierarchy
// shadowing (spec.md §4.1): given a tenant and an alias, it walks the
// tenant's ancestry, finds the closest enabled binding, validates the
// optional X-OAGW-Target-Host header against common-suffix pools, and
// picks an endpoint by round-robin when no header narrows the choice.
package resolver

import (
	"context"
	"net"
	"strings"
	"sync/atomic"

	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/internal/oagw/store"
	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
)

// TargetHostHeader is the header a caller supplies to disambiguate a
// common-suffix alias pool (spec.md §4.1).
const TargetHostHeader = "X-OAGW-Target-Host"

// Resolved is the outcome of a successful alias resolution: the
// routing winner plus every ancestor binding contributing enforced
// policy fields, retained for the configuration merge (spec.md §4.1,
// §4.3).
type Resolved struct {
	Winner    *model.Upstream
	Ancestors []*model.Upstream // root-first, excludes Winner
	Endpoint  model.Endpoint
}

// Resolver resolves aliases against a tenant hierarchy and a pool of
// round-robin counters, one per upstream, shared across requests.
type Resolver struct {
	upstreams store.Upstreams
	tenancy   store.Tenancy
	counters  *counterMap
}

func New(upstreams store.Upstreams, tenancy store.Tenancy) *Resolver {
	return &Resolver{upstreams: upstreams, tenancy: tenancy, counters: newCounterMap()}
}

// Resolve implements spec.md §4.1 in full: hierarchy walk, shadowing,
// enabled-inheritance, common-suffix target-host validation, and
// endpoint selection.
func (r *Resolver) Resolve(ctx context.Context, tenant, alias, targetHostHeader string) (Resolved, error) {
	chain, err := r.tenancy.Chain(ctx, tenant) // [self, parent, ..., root]
	if err != nil {
		return Resolved{}, err
	}
	bindings, err := r.upstreams.ListByAliasAcrossTenants(ctx, chain, alias)
	if err != nil {
		return Resolved{}, err
	}
	if len(bindings) == 0 {
		return Resolved{}, oagwerrors.New(oagwerrors.KindUpstreamNotFound, "no upstream bound to this alias in tenant hierarchy")
	}

	// bindings is keyed by tenant; order it descendant-first to find the
	// winner (closest match) and detect ancestor-disabled shadowing.
	byTenant := make(map[string]*model.Upstream, len(bindings))
	for _, u := range bindings {
		byTenant[u.Tenant] = u
	}
	var descendantFirst []*model.Upstream
	for _, t := range chain {
		if u, ok := byTenant[t]; ok {
			descendantFirst = append(descendantFirst, u)
		}
	}

	winner := descendantFirst[0]
	for _, u := range descendantFirst[1:] {
		if !u.Enabled {
			// Enabled inheritance: any ancestor disabling the alias makes
			// it invisible; a descendant cannot re-enable an
			// ancestor-disabled alias. A disabled winner is reported below.
			return Resolved{}, oagwerrors.New(oagwerrors.KindUpstreamNotFound, "alias disabled by tenant hierarchy")
		}
	}
	if !winner.Enabled {
		return Resolved{}, oagwerrors.New(oagwerrors.KindUpstreamDisabled, "upstream is disabled")
	}

	ancestors := make([]*model.Upstream, 0, len(descendantFirst)-1)
	for i := len(descendantFirst) - 1; i > 0; i-- {
		ancestors = append(ancestors, descendantFirst[i])
	}

	endpoint, err := r.selectEndpoint(winner, alias, targetHostHeader)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Winner: winner, Ancestors: ancestors, Endpoint: endpoint}, nil
}

func (r *Resolver) selectEndpoint(winner *model.Upstream, alias, targetHostHeader string) (model.Endpoint, error) {
	if len(winner.Endpoints) == 0 {
		return model.Endpoint{}, oagwerrors.New(oagwerrors.KindUpstreamNotFound, "upstream has no endpoints")
	}
	if len(winner.Endpoints) == 1 {
		return winner.Endpoints[0], nil
	}

	if isCommonSuffixAlias(alias, winner.Endpoints) {
		if targetHostHeader == "" {
			return model.Endpoint{}, oagwerrors.New(oagwerrors.KindMissingTargetHost,
				"multiple endpoints share a common-suffix alias; "+TargetHostHeader+" is required")
		}
		host, err := validTargetHost(targetHostHeader)
		if err != nil {
			return model.Endpoint{}, err
		}
		for _, ep := range winner.Endpoints {
			if strings.EqualFold(ep.Host, host) {
				return ep, nil
			}
		}
		return model.Endpoint{}, oagwerrors.New(oagwerrors.KindUnknownTargetHost,
			TargetHostHeader+" does not match any endpoint in the pool")
	}

	if targetHostHeader != "" {
		host, err := validTargetHost(targetHostHeader)
		if err != nil {
			return model.Endpoint{}, err
		}
		for _, ep := range winner.Endpoints {
			if strings.EqualFold(ep.Host, host) {
				return ep, nil
			}
		}
		return model.Endpoint{}, oagwerrors.New(oagwerrors.KindUnknownTargetHost,
			TargetHostHeader+" does not match any endpoint in the pool")
	}

	idx := r.counters.next(winner.ID.String(), len(winner.Endpoints))
	return winner.Endpoints[idx], nil
}

// isCommonSuffixAlias reports whether alias itself names none of the
// pool's hosts but every host ends with "."+alias (spec.md §4.1).
func isCommonSuffixAlias(alias string, endpoints []model.Endpoint) bool {
	suffix := "." + strings.ToLower(alias)
	for _, ep := range endpoints {
		if strings.EqualFold(ep.Host, alias) {
			return false
		}
		if !strings.HasSuffix(strings.ToLower(ep.Host), suffix) {
			return false
		}
	}
	return true
}

// validTargetHost validates the header is a bare hostname or IP with no
// port, path, or control characters (spec.md §4.1).
func validTargetHost(raw string) (string, error) {
	if strings.ContainsAny(raw, "\r\n") {
		return "", oagwerrors.New(oagwerrors.KindInvalidTargetHost, TargetHostHeader+" contains control characters")
	}
	if strings.ContainsAny(raw, "/:@?#") {
		return "", oagwerrors.New(oagwerrors.KindInvalidTargetHost, TargetHostHeader+" must be a bare hostname or IP")
	}
	if net.ParseIP(raw) != nil {
		return raw, nil
	}
	if raw == "" || strings.Contains(raw, "..") || strings.HasPrefix(raw, ".") || strings.HasSuffix(raw, ".") {
		return "", oagwerrors.New(oagwerrors.KindInvalidTargetHost, TargetHostHeader+" is not a valid hostname")
	}
	return raw, nil
}

// counterMap holds one round-robin cursor per upstream id.
type counterMap struct {
	cursors atomic.Pointer[map[string]*uint64]
}

func newCounterMap() *counterMap {
	c := &counterMap{}
	m := make(map[string]*uint64)
	c.cursors.Store(&m)
	return c
}

func (c *counterMap) next(key string, n int) int {
	m := *c.cursors.Load()
	ctr, ok := m[key]
	if !ok {
		// Install a fresh counter under a copy of the map; races between
		// first-touch of the same key are benign (both install a zero
		// counter, one wins, a handful of requests might double up on
		// endpoint 0, which self-corrects on the next call).
		newCtr := new(uint64)
		next := make(map[string]*uint64, len(m)+1)
		for k, v := range m {
			next[k] = v
		}
		next[key] = newCtr
		c.cursors.Store(&next)
		ctr = newCtr
	}
	v := atomic.AddUint64(ctr, 1)
	return int(v-1) % n
}
