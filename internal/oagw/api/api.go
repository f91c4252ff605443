// Package api wires the chi REST surface spec.md §6.2/§6.3 names: thin
// CRUD handlers over internal/oagw/store plus the proxy catch-all that
// hands every inbound request straight to internal/oagw/dpp. Per
// SPEC_FULL.md §6.2, handlers carry no independent business logic —
// invariant enforcement lives in the core packages they call.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi"

	"github.com/outbound-gateway/oagw/internal/oagw/authz"
	"github.com/outbound-gateway/oagw/internal/oagw/cpc"
	"github.com/outbound-gateway/oagw/internal/oagw/dpp"
	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/internal/oagw/schema"
	"github.com/outbound-gateway/oagw/internal/oagw/store"
	"github.com/outbound-gateway/oagw/pkg/ids"
	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
)

// Server bundles the dependencies the REST surface calls straight
// through to; it owns no state of its own beyond them.
type Server struct {
	repos   store.Repositories
	cpc     *cpc.Service
	dpp     *dpp.Pipeline
	authz   authz.Service
	schema  schema.Registry
}

func NewServer(repos store.Repositories, cpcSvc *cpc.Service, pipeline *dpp.Pipeline, authzSvc authz.Service, schemaReg schema.Registry) *Server {
	return &Server{repos: repos, cpc: cpcSvc, dpp: pipeline, authz: authzSvc, schema: schemaReg}
}

// Router builds the full chi mux: management CRUD under /api/oagw/v1 and
// the data-plane catch-all under /api/oagw/v1/proxy/{alias}/*.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.authenticate)

	r.Route("/api/oagw/v1", func(r chi.Router) {
		r.Route("/upstreams", func(r chi.Router) {
			r.Get("/", s.listUpstreams)
			r.Post("/", s.createUpstream)
			r.Get("/{id}", s.getUpstream)
			r.Put("/{id}", s.updateUpstream)
			r.Delete("/{id}", s.deleteUpstream)
		})
		r.Route("/routes", func(r chi.Router) {
			r.Post("/", s.createRoute)
			r.Get("/{id}", s.getRoute)
			r.Put("/{id}", s.updateRoute)
			r.Delete("/{id}", s.deleteRoute)
		})
		r.Route("/plugins", func(r chi.Router) {
			r.Get("/", s.listPlugins)
			r.Post("/", s.createPlugin)
			r.Get("/{id}", s.getPlugin)
			r.Get("/{id}/source", s.getPluginSource)
			r.Delete("/{id}", s.deletePlugin)
		})
		r.HandleFunc("/proxy/{alias}/*", s.proxy)
	})
	return r
}

type principalKey struct{}

// authenticate resolves the bearer credential via the authz.Service
// boundary (spec.md §6.1) and stashes the principal for handlers.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		principal, err := s.authz.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, r, oagwerrors.Wrap(oagwerrors.KindAuthenticationFailed, "authentication failed", err))
			return
		}
		ctx := r.Context()
		next.ServeHTTP(w, r.WithContext(withPrincipal(ctx, principal)))
	})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if gwErr, ok := err.(*oagwerrors.Error); ok {
		gwErr.WithInstance(r.URL.Path).WriteResponse(w, 0)
		return
	}
	oagwerrors.New(oagwerrors.KindProtocolError, err.Error()).WithInstance(r.URL.Path).WriteResponse(w, 0)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// purgeUpstream invalidates every cache key an upstream write affects:
// its own alias key plus every route bound to it (spec.md §4.8).
func (s *Server) purgeUpstream(r *http.Request, tenant, alias string, u *model.Upstream) {
	keys := []string{cpc.UpstreamCacheKey(tenant, alias)}
	if u != nil {
		if routes, err := s.repos.Routes.ListByUpstream(r.Context(), tenant, u.ID); err == nil {
			for _, rt := range routes {
				if rt.HTTP != nil {
					keys = append(keys, cpc.RouteCacheKey(u.ID.String(), methodsKey(rt.HTTP.Methods), rt.HTTP.Path))
				}
			}
		}
	}
	s.cpc.Purge(keys...)
}

func methodsKey(methods []string) string { return strings.Join(methods, ",") }

func parseID(r *http.Request, expect ids.Family) (ids.ID, error) {
	return ids.Parse(chi.URLParam(r, "id"), expect)
}
