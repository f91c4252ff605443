// Package store defines the typed repository contract the control plane
// depends on for durable storage of upstreams, routes, and plugins
// (spec.md §6.1: "the core treats the persistence layer as a set of typed
// repositories returning either records or not-found; raw query
// languages are not part of the contract"). The relational persistence
// layer itself is out of scope (spec.md §1); this package only fixes the
// interface and ships an in-memory implementation used by the in-process
// deployment and by tests.
package store

import (
	"context"
	"errors"

	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/pkg/ids"
)

// ErrNotFound is returned by any Get when no record matches.
var ErrNotFound = errors.New("store: record not found")

// ErrConflict is returned when a write violates a uniqueness or
// referential invariant (spec.md §3: "alias unique per tenant", cascade
// rules, "delete rejected while referenced").
var ErrConflict = errors.New("store: conflict")

// Upstreams is the repository contract for the Upstream entity.
type Upstreams interface {
	Get(ctx context.Context, tenant string, id ids.ID) (*model.Upstream, error)
	GetByAlias(ctx context.Context, tenant, alias string) (*model.Upstream, error)
	// ListByAliasAcrossTenants returns the upstream bindings for alias across the given
	// tenant chain, descendant-first, as stored (spec.md §4.1 resolver
	// walks this list itself; the repository only fetches raw bindings).
	ListByAliasAcrossTenants(ctx context.Context, tenants []string, alias string) ([]*model.Upstream, error)
	List(ctx context.Context, tenant string) ([]*model.Upstream, error)
	Create(ctx context.Context, u *model.Upstream) error
	Update(ctx context.Context, u *model.Upstream) error
	// Delete removes the upstream. If cascade is false and dependent
	// routes exist, it returns ErrConflict (spec.md §3, §9 Open Question:
	// cascade must be requested explicitly).
	Delete(ctx context.Context, tenant string, id ids.ID, cascade bool) error
}

// Routes is the repository contract for the Route entity.
type Routes interface {
	Get(ctx context.Context, tenant string, id ids.ID) (*model.Route, error)
	ListByUpstream(ctx context.Context, tenant string, upstreamID ids.ID) ([]*model.Route, error)
	Create(ctx context.Context, r *model.Route) error
	Update(ctx context.Context, r *model.Route) error
	Delete(ctx context.Context, tenant string, id ids.ID) error
}

// Plugins is the repository contract for the PluginDefinition entity.
type Plugins interface {
	Get(ctx context.Context, tenant string, id ids.ID) (*model.PluginDefinition, error)
	List(ctx context.Context, tenant string) ([]*model.PluginDefinition, error)
	Create(ctx context.Context, p *model.PluginDefinition) error
	// Delete removes the plugin unless it is referenced, returning
	// ErrConflict with the referencing entities left for the caller to
	// report as PluginInUse (spec.md §3, S7).
	Delete(ctx context.Context, tenant string, id ids.ID) error
	// ReferencedBy reports which upstreams/routes still reference id, used
	// to populate the PluginInUse "referenced_by" extension (S7).
	ReferencedBy(ctx context.Context, tenant string, id ids.ID) (upstreams []ids.ID, routes []ids.ID, err error)
	Touch(ctx context.Context, tenant string, id ids.ID) error
}

// Tenancy resolves a tenant's ancestry. The real tenant directory lives
// in the same external persistence layer as the repositories above;
// this interface is the one fact the alias resolver needs from it.
type Tenancy interface {
	// Chain returns the immutable vector [self, parent, ..., root] for
	// tenant (spec.md §9: "modeled as an immutable vector ... resolved
	// once per request"). A root tenant (no parent) returns a
	// single-element chain.
	Chain(ctx context.Context, tenant string) ([]string, error)
}

// Repositories bundles the three repository contracts plus the tenant
// directory the control plane depends on.
type Repositories struct {
	Upstreams Upstreams
	Routes    Routes
	Plugins   Plugins
	Tenancy   Tenancy
}
