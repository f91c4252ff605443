package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi"

	"github.com/outbound-gateway/oagw/internal/oagw/authz"
	"github.com/outbound-gateway/oagw/internal/oagw/cpc"
	"github.com/outbound-gateway/oagw/internal/oagw/dpp"
	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/internal/oagw/store"
	"github.com/outbound-gateway/oagw/pkg/ids"
	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
)

// --- upstreams ---------------------------------------------------------

func (s *Server) listUpstreams(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	ups, err := s.repos.Upstreams.List(r.Context(), p.Tenant)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ups)
}

func (s *Server) createUpstream(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if !requirePermission(p, authz.PermissionManage) {
		writeError(w, r, oagwerrors.New(oagwerrors.KindAuthenticationFailed, "manage permission required"))
		return
	}
	var u model.Upstream
	if err := decodeBody(r, &u); err != nil {
		writeError(w, r, oagwerrors.Wrap(oagwerrors.KindValidationError, "decoding upstream body", err))
		return
	}
	u.ID = ids.New(ids.Upstream)
	u.Tenant = p.Tenant
	if err := s.validatePluginRefs(r, u.Auth.PluginID, model.PluginKindAuth, u.Plugins); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.repos.Upstreams.Create(r.Context(), &u); err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	s.purgeUpstream(r, p.Tenant, u.Alias, &u)
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) getUpstream(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	id, err := parseID(r, ids.Upstream)
	if err != nil {
		writeError(w, r, oagwerrors.Wrap(oagwerrors.KindValidationError, "invalid id", err))
		return
	}
	u, err := s.repos.Upstreams.Get(r.Context(), p.Tenant, id)
	if err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) updateUpstream(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	id, err := parseID(r, ids.Upstream)
	if err != nil {
		writeError(w, r, oagwerrors.Wrap(oagwerrors.KindValidationError, "invalid id", err))
		return
	}
	var u model.Upstream
	if err := decodeBody(r, &u); err != nil {
		writeError(w, r, oagwerrors.Wrap(oagwerrors.KindValidationError, "decoding upstream body", err))
		return
	}
	u.ID = id
	u.Tenant = p.Tenant
	if err := s.validatePluginRefs(r, u.Auth.PluginID, model.PluginKindAuth, u.Plugins); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.repos.Upstreams.Update(r.Context(), &u); err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	s.purgeUpstream(r, p.Tenant, u.Alias, &u)
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) deleteUpstream(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	id, err := parseID(r, ids.Upstream)
	if err != nil {
		writeError(w, r, oagwerrors.Wrap(oagwerrors.KindValidationError, "invalid id", err))
		return
	}
	cascade := r.URL.Query().Get("cascade") == "true"
	u, _ := s.repos.Upstreams.Get(r.Context(), p.Tenant, id)
	if err := s.repos.Upstreams.Delete(r.Context(), p.Tenant, id, cascade); err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	if u != nil {
		s.purgeUpstream(r, p.Tenant, u.Alias, u)
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- routes --------------------------------------------------------------

func (s *Server) createRoute(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if !requirePermission(p, authz.PermissionManage) {
		writeError(w, r, oagwerrors.New(oagwerrors.KindAuthenticationFailed, "manage permission required"))
		return
	}
	var rt model.Route
	if err := decodeBody(r, &rt); err != nil {
		writeError(w, r, oagwerrors.Wrap(oagwerrors.KindValidationError, "decoding route body", err))
		return
	}
	rt.ID = ids.New(ids.Route)
	rt.Tenant = p.Tenant
	if err := s.repos.Routes.Create(r.Context(), &rt); err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	s.purgeRoute(&rt)
	writeJSON(w, http.StatusCreated, rt)
}

func (s *Server) getRoute(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	id, err := parseID(r, ids.Route)
	if err != nil {
		writeError(w, r, oagwerrors.Wrap(oagwerrors.KindValidationError, "invalid id", err))
		return
	}
	rt, err := s.repos.Routes.Get(r.Context(), p.Tenant, id)
	if err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) updateRoute(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	id, err := parseID(r, ids.Route)
	if err != nil {
		writeError(w, r, oagwerrors.Wrap(oagwerrors.KindValidationError, "invalid id", err))
		return
	}
	var rt model.Route
	if err := decodeBody(r, &rt); err != nil {
		writeError(w, r, oagwerrors.Wrap(oagwerrors.KindValidationError, "decoding route body", err))
		return
	}
	rt.ID = id
	rt.Tenant = p.Tenant
	if err := s.repos.Routes.Update(r.Context(), &rt); err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	s.purgeRoute(&rt)
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) deleteRoute(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	id, err := parseID(r, ids.Route)
	if err != nil {
		writeError(w, r, oagwerrors.Wrap(oagwerrors.KindValidationError, "invalid id", err))
		return
	}
	rt, _ := s.repos.Routes.Get(r.Context(), p.Tenant, id)
	if err := s.repos.Routes.Delete(r.Context(), p.Tenant, id); err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	if rt != nil {
		s.purgeRoute(rt)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) purgeRoute(rt *model.Route) {
	if rt.HTTP == nil {
		return
	}
	s.cpc.Purge(cpc.RouteCacheKey(rt.UpstreamID.String(), methodsKey(rt.HTTP.Methods), rt.HTTP.Path))
}

// --- plugins ---------------------------------------------------------------

func (s *Server) listPlugins(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	defs, err := s.repos.Plugins.List(r.Context(), p.Tenant)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *Server) createPlugin(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if !requirePermission(p, authz.PermissionManage) {
		writeError(w, r, oagwerrors.New(oagwerrors.KindAuthenticationFailed, "manage permission required"))
		return
	}
	var def model.PluginDefinition
	if err := decodeBody(r, &def); err != nil {
		writeError(w, r, oagwerrors.Wrap(oagwerrors.KindValidationError, "decoding plugin body", err))
		return
	}
	def.ID = ids.New(ids.Plugin)
	def.Tenant = p.Tenant
	if err := s.repos.Plugins.Create(r.Context(), &def); err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) getPlugin(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	id, err := parseID(r, ids.Plugin)
	if err != nil {
		writeError(w, r, oagwerrors.Wrap(oagwerrors.KindValidationError, "invalid id", err))
		return
	}
	def, err := s.repos.Plugins.Get(r.Context(), p.Tenant, id)
	if err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// getPluginSource returns a custom plugin's raw CEL source, the one
// field management tooling needs outside the JSON envelope (spec.md
// §6.2 supplemented: "/plugins/{id}/source").
func (s *Server) getPluginSource(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	id, err := parseID(r, ids.Plugin)
	if err != nil {
		writeError(w, r, oagwerrors.Wrap(oagwerrors.KindValidationError, "invalid id", err))
		return
	}
	def, err := s.repos.Plugins.Get(r.Context(), p.Tenant, id)
	if err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, def.Script)
}

func (s *Server) deletePlugin(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	id, err := parseID(r, ids.Plugin)
	if err != nil {
		writeError(w, r, oagwerrors.Wrap(oagwerrors.KindValidationError, "invalid id", err))
		return
	}
	upstreams, routes, err := s.repos.Plugins.ReferencedBy(r.Context(), p.Tenant, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(upstreams) > 0 || len(routes) > 0 {
		writeError(w, r, oagwerrors.New(oagwerrors.KindPluginInUse, "plugin is still referenced").
			WithExtension("referenced_by_upstreams", idStrings(upstreams)).
			WithExtension("referenced_by_routes", idStrings(routes)))
		return
	}
	if err := s.repos.Plugins.Delete(r.Context(), p.Tenant, id); err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	s.cpc.Purge(cpc.PluginCacheKey(id.String()))
	w.WriteHeader(http.StatusNoContent)
}

func idStrings(xs []ids.ID) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = x.String()
	}
	return out
}

func (s *Server) validatePluginRefs(r *http.Request, authPluginID string, authKind model.PluginKind, refs []model.PluginRef) error {
	if authPluginID != "" {
		if err := s.schema.ValidateKind(authPluginID, authKind); err != nil {
			return oagwerrors.Wrap(oagwerrors.KindValidationError, "invalid auth plugin", err)
		}
	}
	for _, ref := range refs {
		def, err := s.repos.Plugins.Get(r.Context(), principalFrom(r.Context()).Tenant, mustParsePlugin(ref.PluginID))
		if err == nil {
			if err := s.schema.ValidateKind(ref.PluginID, def.Kind); err != nil {
				return oagwerrors.Wrap(oagwerrors.KindValidationError, "invalid plugin attachment", err)
			}
		}
	}
	return nil
}

func mustParsePlugin(id string) ids.ID {
	if !strings.HasPrefix(id, "plg~") {
		return ids.ID{}
	}
	parsed, _ := ids.Parse(id, ids.Plugin)
	return parsed
}

func mapStoreErr(err error) error {
	switch err {
	case store.ErrNotFound:
		return oagwerrors.Wrap(oagwerrors.KindUpstreamNotFound, "record not found", err)
	case store.ErrConflict:
		return oagwerrors.Wrap(oagwerrors.KindValidationError, "conflicting write", err)
	default:
		return err
	}
}

// --- proxy -------------------------------------------------------------

// proxy is the data-plane catch-all (spec.md §6.3): every method, every
// path under /proxy/{alias}/*, handed straight to the pipeline.
func (s *Server) proxy(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if !requirePermission(p, authz.PermissionProxy) {
		writeError(w, r, oagwerrors.New(oagwerrors.KindAuthenticationFailed, "proxy permission required"))
		return
	}
	alias := chi.URLParam(r, "alias")
	path := chi.URLParam(r, "*")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	bodySize := r.ContentLength
	in := dpp.Inbound{
		Tenant:     p.Tenant,
		Principal:  p.ID,
		TraceID:    r.Header.Get("X-Request-Id"),
		Method:     r.Method,
		Alias:      alias,
		Path:       path,
		RawQuery:   r.URL.RawQuery,
		Query:      r.URL.Query(),
		Header:     r.Header.Clone(),
		Body:       r.Body,
		BodySize:   bodySize,
		TargetHost: r.Header.Get("X-OAGW-Target-Host"),
	}

	result, err := s.dpp.Handle(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer result.Body.Close()
	for k, vs := range result.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(result.Status)
	_, _ = io.Copy(w, result.Body)
}
