package store

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"

	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/pkg/ids"
)

// FixtureSet is the on-disk shape of a development/test seed file: the
// same entities Repositories persists, declared once and loaded at
// startup instead of built up through the management API one request at
// a time.
type FixtureSet struct {
	Tenants   []TenantFixture          `json:"tenants"`
	Upstreams []model.Upstream         `json:"upstreams"`
	Routes    []model.Route            `json:"routes"`
	Plugins   []model.PluginDefinition `json:"plugins"`
}

// TenantFixture records one entry of the tenant hierarchy Tenancy.Chain
// walks (spec.md §9's immutable ancestry vector).
type TenantFixture struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
}

// settableTenancy is the subset of Tenancy the in-memory repository
// additionally exposes for seeding; a durable Tenancy implementation
// would populate ancestry through its own migration path instead.
type settableTenancy interface {
	SetParent(tenant, parent string)
}

// LoadFixtureSet reads and parses a YAML fixture file from fsys. Fixture
// files use the same field names as the Go structs they populate, so an
// upstream's auth plugin, rate limit, and concurrency spec are declared
// exactly as the management API's JSON body would declare them.
func LoadFixtureSet(fsys afero.Fs, path string) (*FixtureSet, error) {
	raw, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("store: reading fixture file %s: %w", path, err)
	}
	var set FixtureSet
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("store: parsing fixture file %s: %w", path, err)
	}
	return &set, nil
}

// Seed loads every fixture entity into repos, assigning a fresh ID to
// any entity whose fixture left ID zero. Tenants are applied first so
// the upstreams/routes/plugins that follow can resolve ancestry-aware
// aliases immediately; entities are otherwise inserted in fixture order,
// so a route's UpstreamID fixture must reference an upstream declared
// earlier in the same file (or an upstream already loaded).
func (set *FixtureSet) Seed(ctx context.Context, repos Repositories) error {
	if tenancy, ok := repos.Tenancy.(settableTenancy); ok {
		for _, t := range set.Tenants {
			if t.Parent != "" {
				tenancy.SetParent(t.Name, t.Parent)
			}
		}
	}

	for i := range set.Upstreams {
		u := set.Upstreams[i]
		if u.ID.IsZero() {
			u.ID = ids.New(ids.Upstream)
		}
		if err := repos.Upstreams.Create(ctx, &u); err != nil {
			return fmt.Errorf("store: seeding upstream %s/%s: %w", u.Tenant, u.Alias, err)
		}
	}
	for i := range set.Routes {
		r := set.Routes[i]
		if r.ID.IsZero() {
			r.ID = ids.New(ids.Route)
		}
		if err := repos.Routes.Create(ctx, &r); err != nil {
			return fmt.Errorf("store: seeding route %s: %w", r.ID, err)
		}
	}
	for i := range set.Plugins {
		p := set.Plugins[i]
		if p.ID.IsZero() {
			p.ID = ids.New(ids.Plugin)
		}
		if err := repos.Plugins.Create(ctx, &p); err != nil {
			return fmt.Errorf("store: seeding plugin %s: %w", p.ID, err)
		}
	}
	return nil
}
