// Package dpp implements the data-plane pipeline orchestrator (spec.md
// §2, §5): the per-request sequence that resolves effective
// configuration, runs the plugin chain, dispatches outbound, and
// streams the response back, honoring the ordering and cancellation
// guarantees of spec.md §5.
package dpp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/outbound-gateway/oagw/internal/oagw/audit"
	"github.com/outbound-gateway/oagw/internal/oagw/cpc"
	"github.com/outbound-gateway/oagw/internal/oagw/limiter"
	"github.com/outbound-gateway/oagw/internal/oagw/metrics"
	"github.com/outbound-gateway/oagw/internal/oagw/outbound"
	"github.com/outbound-gateway/oagw/internal/oagw/plugins"
	"github.com/outbound-gateway/oagw/internal/oagw/sandbox"
	"github.com/outbound-gateway/oagw/pkg/logging"
	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
	"github.com/outbound-gateway/oagw/pkg/pluginsdk"
)

// Inbound is the normalized request the API layer hands the pipeline,
// free of any chi/net-http specifics.
type Inbound struct {
	Tenant     string
	Principal  string
	TraceID    string
	Method     string
	Alias      string
	Path       string // everything after the alias segment
	RawQuery   string
	Query      url.Values
	Header     http.Header
	Body       io.ReadCloser
	BodySize   int64
	TargetHost string
}

// Result is what the API layer writes back to the inbound caller.
type Result struct {
	Status int
	Header http.Header
	Body   io.ReadCloser // caller must Close
}

// customPluginCache compiles and caches the sandboxed instance for a
// custom plugin identifier, backed by cpc.Service.PluginDefinition.
type customPluginCache struct {
	cpc *cpc.Service

	mu    sync.Mutex
	cache map[string]pluginsdk.Instance
}

func newCustomPluginCache(c *cpc.Service) *customPluginCache {
	return &customPluginCache{cpc: c, cache: make(map[string]pluginsdk.Instance)}
}

func (l *customPluginCache) load(ctx context.Context, tenant, id string) (pluginsdk.Instance, error) {
	l.mu.Lock()
	if inst, ok := l.cache[id]; ok {
		l.mu.Unlock()
		return inst, nil
	}
	l.mu.Unlock()

	def, err := l.cpc.PluginDefinition(ctx, tenant, id)
	if err != nil {
		return nil, oagwerrors.Wrap(oagwerrors.KindPluginNotFound, "loading custom plugin", err)
	}
	inst, err := sandbox.NewCustomPlugin(def.ID.String(), def.Kind, def.Phases, def.Script, 0)
	if err != nil {
		return nil, oagwerrors.Wrap(oagwerrors.KindProtocolError, "compiling custom plugin", err)
	}
	l.mu.Lock()
	l.cache[id] = inst
	l.mu.Unlock()
	return inst, nil
}

// Pipeline is the per-process data-plane orchestrator. It holds no
// per-request mutable state: everything here is shared and safe for
// concurrent use across requests.
type Pipeline struct {
	cpc         *cpc.Service
	builtins    *plugins.Registry
	custom      *customPluginCache
	outbound    *outbound.Client
	rateLimiter *limiter.RateLimiter
	concurrency *limiter.ConcurrencyLimiter
	metrics     *metrics.Collectors
	audit       *audit.Logger
	log         logr.Logger
	now         func() time.Time
}

func New(
	cpcSvc *cpc.Service,
	builtins *plugins.Registry,
	outboundClient *outbound.Client,
	rateLimiter *limiter.RateLimiter,
	concurrency *limiter.ConcurrencyLimiter,
	collectors *metrics.Collectors,
	auditLogger *audit.Logger,
) *Pipeline {
	return &Pipeline{
		cpc:         cpcSvc,
		builtins:    builtins,
		custom:      newCustomPluginCache(cpcSvc),
		outbound:    outboundClient,
		rateLimiter: rateLimiter,
		concurrency: concurrency,
		metrics:     collectors,
		audit:       auditLogger,
		log:         logging.New("dpp"),
		now:         time.Now,
	}
}

// lookupInstance resolves a plugin identifier to its executable
// instance: a builtin name is served from the in-memory registry, a
// "plg~<uuid>" identifier from the custom-plugin sandbox cache.
func (p *Pipeline) lookupInstance(ctx context.Context, tenant, id string) (pluginsdk.Instance, error) {
	if strings.HasPrefix(id, "plg~") {
		return p.custom.load(ctx, tenant, id)
	}
	inst, ok := p.builtins.Lookup(id)
	if !ok {
		return nil, oagwerrors.New(oagwerrors.KindPluginNotFound, "no builtin plugin registered for id "+id)
	}
	return inst, nil
}

// buildChain resolves every plugin attached to eff (already in
// root-to-leaf, upstream-then-route declared order per
// config.MergePlugins) into an executable chain, attaching each
// attachment's own configuration alongside its instance.
func (p *Pipeline) buildChain(ctx context.Context, tenant string, refs []plugRef) ([]pluginsdk.Entry, error) {
	entries := make([]pluginsdk.Entry, 0, len(refs))
	for i, ref := range refs {
		inst, err := p.lookupInstance(ctx, tenant, ref.PluginID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, pluginsdk.Entry{
			Instance: inst,
			Layer:    pluginsdk.LayerUpstream,
			Index:    i,
			Config:   ref.Config,
		})
	}
	return entries, nil
}

// plugRef is the minimal shape buildChain needs from model.PluginRef.
type plugRef struct {
	PluginID string
	Config   map[string]any
}

// Handle implements the full per-request ordering of spec.md §5: auth
// -> guards (declared order) -> transforms on_request -> outbound ->
// transforms on_response|on_error (reverse order), with the
// concurrency permit acquired before dispatch and released on every
// exit path, and the inbound context's cancellation propagated
// throughout (a disconnected caller cancels ctx, which the outbound
// client observes on its own request).
func (p *Pipeline) Handle(ctx context.Context, in Inbound) (res *Result, err error) {
	start := p.now()
	elapsed := func() int64 { return p.now().Sub(start).Milliseconds() }
	routePath := "" // the matched route's declared pattern, once known

	defer func() {
		status := 0
		errType := ""
		if gwErr, ok := err.(*oagwerrors.Error); ok {
			status = gwErr.Kind.Status()
			errType = string(gwErr.Kind)
		} else if res != nil {
			status = res.Status
		}
		p.audit.Log(audit.Entry{
			Timestamp:  start,
			Tenant:     in.Tenant,
			Principal:  in.Principal,
			Host:       in.Alias,
			Path:       routePath,
			Method:     in.Method,
			Status:     status,
			DurationMS: elapsed(),
			BytesIn:    in.BodySize,
			ErrorType:  errType,
		})
		if p.metrics != nil {
			hostLabel, pathLabel := in.Alias, routePath
			p.metrics.RequestsTotal.WithLabelValues(hostLabel, pathLabel, in.Method, metrics.StatusClass(status)).Inc()
			p.metrics.RequestDuration.WithLabelValues("total").Observe(float64(elapsed()) / 1000)
			if errType != "" {
				p.metrics.ErrorsTotal.WithLabelValues(hostLabel, pathLabel, errType).Inc()
			}
		}
	}()

	eff, err := p.cpc.ResolveEffective(ctx, in.Tenant, in.Alias, in.TargetHost, in.Method, in.Path, in.Query)
	if err != nil {
		return nil, err
	}
	routePath = eff.Route.HTTP.Path

	reqHdr := newHeaderMap(in.Header)
	rc := &pluginsdk.RequestContext{
		TraceID:     in.TraceID,
		Tenant:      in.Tenant,
		Principal:   in.Principal,
		Method:      in.Method,
		Path:        in.Path,
		Query:       map[string][]string(in.Query),
		RequestHdr:  reqHdr,
		ResponseHdr: newHeaderMap(make(http.Header)),
		Config:      map[string]any{},
		Elapsed:     elapsed,
	}

	// Auth runs before rate checks and guards, which may mutate state
	// (spec.md §4.6: "Rate checks occur after auth plugin but before
	// guards that may mutate state").
	if eff.Auth.PluginID != "" {
		authInst, err := p.lookupInstance(ctx, in.Tenant, eff.Auth.PluginID)
		if err != nil {
			return nil, err
		}
		rc.Config = eff.Auth.Config
		if _, err := authInst.Invoke(ctx, pluginsdk.PhaseOnRequest, rc); err != nil {
			return nil, oagwerrors.Wrap(oagwerrors.KindAuthenticationFailed, "authentication failed", err)
		}
	}

	rlDecision := p.rateLimiter.Check(limiter.ScopeRoute, eff.Route.ID.String(), eff.RateLimit)
	if !rlDecision.Allowed {
		if p.metrics != nil {
			p.metrics.RateLimitExceededTotal.WithLabelValues(in.Alias, routePath).Inc()
		}
		return nil, rlDecision.ToError()
	}

	permits, failedScope, err := p.acquireConcurrencyPermits(ctx, eff)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ConcurrencyExceededTotal.WithLabelValues(in.Alias, failedScope).Inc()
		}
		return nil, err
	}
	defer func() {
		for _, permit := range permits {
			permit.Release()
		}
	}()

	refs := make([]plugRef, len(eff.Plugins))
	for i, ref := range eff.Plugins {
		refs[i] = plugRef{PluginID: ref.PluginID, Config: ref.Config}
	}
	chain, err := p.buildChain(ctx, in.Tenant, refs)
	if err != nil {
		return nil, err
	}

	requestChain := pluginsdk.BuildRequestChain(chain)
	for _, entry := range pluginsdk.FilterByKind(requestChain, pluginsdk.KindGuard) {
		rc.Config = entry.Config
		verdict, err := entry.Instance.Invoke(ctx, pluginsdk.PhaseOnRequest, rc)
		if err != nil {
			return nil, oagwerrors.Wrap(oagwerrors.KindProtocolError, "guard plugin failed", err)
		}
		if result, done := p.terminal(verdict); done {
			return result, nil
		}
	}
	for _, entry := range pluginsdk.FilterByKind(requestChain, pluginsdk.KindTransform) {
		rc.Config = entry.Config
		if _, err := entry.Instance.Invoke(ctx, pluginsdk.PhaseOnRequest, rc); err != nil {
			return nil, oagwerrors.Wrap(oagwerrors.KindProtocolError, "transform plugin failed", err)
		}
	}

	outReq := outbound.Request{
		Method:   in.Method,
		Endpoint: eff.Endpoint,
		Path:     eff.Route.HTTP.Path + eff.Suffix,
		RawQuery: in.RawQuery,
		Header:   reqHdr.h,
		Body:     in.Body,
		BodySize: in.BodySize,
	}
	if rc.Credential != "" {
		outReq.Header.Set("Authorization", rc.Credential)
	}

	resp, dispatchErr := p.outbound.Do(ctx, outReq)
	responseChain := pluginsdk.BuildResponseChain(chain)
	phase := pluginsdk.PhaseOnResponse
	if dispatchErr != nil {
		phase = pluginsdk.PhaseOnError
		rc.Err = dispatchErr
	} else {
		rc.StatusCode = resp.StatusCode
		rc.ResponseHdr = newHeaderMap(resp.Header)
	}

	for _, entry := range pluginsdk.FilterByKind(responseChain, pluginsdk.KindTransform) {
		rc.Config = entry.Config
		if _, err := entry.Instance.Invoke(ctx, phase, rc); err != nil {
			p.log.Error(err, "response transform failed", "plugin", entry.Instance.ID())
		}
	}

	if dispatchErr != nil {
		return nil, dispatchErr
	}
	resp.Header.Set(oagwerrors.ErrorSourceHeader, oagwerrors.SourceUpstream)
	return &Result{Status: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

// acquireConcurrencyPermits enforces max_concurrent at every scope
// spec.md §4.7 names: tenant global, upstream, per-tenant-upstream, and
// route. All four share eff.Concurrency, the only concurrency spec the
// model carries (declared per upstream, not part of the hierarchical
// merge), but each scope counts its own in-flight population. Permits
// are acquired in a fixed order so concurrent requests never deadlock
// against each other; on failure every permit already acquired for this
// request is released before returning.
func (p *Pipeline) acquireConcurrencyPermits(ctx context.Context, eff *cpc.Effective) ([]limiter.Permit, string, error) {
	upstreamID := eff.Upstream.ID.String()
	scopes := [...]struct {
		scope      limiter.Scope
		identifier string
	}{
		{limiter.ScopeTenant, eff.Tenant},
		{limiter.ScopeUpstream, upstreamID},
		{limiter.ScopeTenantUpstream, eff.Tenant + ":" + upstreamID},
		{limiter.ScopeRoute, eff.Route.ID.String()},
	}

	permits := make([]limiter.Permit, 0, len(scopes))
	for _, s := range scopes {
		permit, err := p.concurrency.Acquire(ctx, s.scope, s.identifier, eff.Concurrency)
		if err != nil {
			for _, acquired := range permits {
				acquired.Release()
			}
			return nil, string(s.scope), err
		}
		permits = append(permits, permit)
	}
	return permits, "", nil
}

// terminal translates a guard Verdict that is not ActionNext into a
// pipeline-level Result, or reports false to continue the chain.
func (p *Pipeline) terminal(v pluginsdk.Verdict) (*Result, bool) {
	switch v.Action {
	case pluginsdk.ActionReject:
		body, _ := json.Marshal(oagwerrors.Problem{
			Type:   v.RejectType,
			Title:  "Rejected by guard",
			Status: v.RejectStatus,
			Detail: v.RejectDetail,
		})
		header := make(http.Header)
		header.Set("Content-Type", "application/problem+json")
		header.Set(oagwerrors.ErrorSourceHeader, oagwerrors.SourceGateway)
		return &Result{Status: v.RejectStatus, Header: header, Body: io.NopCloser(bytes.NewReader(body))}, true
	case pluginsdk.ActionRespond:
		header := make(http.Header)
		return &Result{Status: v.RespondStatus, Header: header, Body: io.NopCloser(bytes.NewReader(v.RespondBody))}, true
	default:
		return nil, false
	}
}
