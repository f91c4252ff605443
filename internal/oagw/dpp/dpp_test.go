package dpp_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/outbound-gateway/oagw/internal/oagw/audit"
	"github.com/outbound-gateway/oagw/internal/oagw/cpc"
	"github.com/outbound-gateway/oagw/internal/oagw/dpp"
	"github.com/outbound-gateway/oagw/internal/oagw/limiter"
	"github.com/outbound-gateway/oagw/internal/oagw/metrics"
	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/internal/oagw/outbound"
	"github.com/outbound-gateway/oagw/internal/oagw/plugins"
	"github.com/outbound-gateway/oagw/internal/oagw/secrets"
	"github.com/outbound-gateway/oagw/internal/oagw/store"
	"github.com/outbound-gateway/oagw/pkg/ids"
	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
)

// seedableSecrets is the subset of secrets.NewMemoryStore's surface
// this suite needs: the Store contract plus the test-only seeding hook.
type seedableSecrets interface {
	secrets.Store
	Put(tenant, ref, value string)
}

// harness wires every real component Pipeline.Handle depends on, the
// same way cmd/oagw/serve.go does, against an in-memory store and a
// secrets fake.
type harness struct {
	repos    store.Repositories
	secrets  seedableSecrets
	pipeline *dpp.Pipeline
}

func newHarness() *harness {
	repos := store.NewMemoryRepositories()
	secretStore := secrets.NewMemoryStore()
	cpcSvc := cpc.New(repos, 1000, 0, 0)
	builtins := plugins.NewRegistry(
		plugins.NewHeaderRequiredGuard(),
		plugins.NewAPIKeyAuth(secretStore),
	)
	outboundClient := outbound.New(outbound.Timeouts{
		Connect: time.Second, Request: 2 * time.Second, Idle: time.Second,
	})
	p := dpp.New(
		cpcSvc,
		builtins,
		outboundClient,
		limiter.NewRateLimiter(),
		limiter.NewConcurrencyLimiter(),
		metrics.New(prometheus.NewRegistry()),
		audit.New(),
	)
	return &harness{repos: repos, secrets: secretStore, pipeline: p}
}

func endpointOf(srv *httptest.Server) model.Endpoint {
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	return model.Endpoint{Scheme: "http", Host: u.Hostname(), Port: port}
}

func (h *harness) createUpstream(u *model.Upstream) {
	Expect(h.repos.Upstreams.Create(context.Background(), u)).To(Succeed())
}

func (h *harness) createRoute(rt *model.Route) {
	Expect(h.repos.Routes.Create(context.Background(), rt)).To(Succeed())
}

func generousRateLimit() model.RateLimitSpec {
	return model.RateLimitSpec{Sharing: model.SharingEnforce, Rate: 1000, Window: model.WindowSecond}
}

func generousConcurrency() model.ConcurrencySpec {
	return model.ConcurrencySpec{MaxConcurrent: 10, Strategy: model.StrategyReject}
}

var _ = Describe("Pipeline.Handle", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness()
	})

	// S1: single-endpoint proxy. A request against an alias with one
	// endpoint dispatches to that endpoint, forwards the body, sets
	// Authorization from the auth plugin, and relays the upstream's
	// status with the upstream error-source header.
	It("dispatches a single-endpoint proxy request end to end", func() {
		h.secrets.Put("acme", "key-ref", "sk-live-abc123")

		var gotAuth, gotBody string
		upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer upstreamSrv.Close()

		h.createUpstream(&model.Upstream{
			ID:        ids.New(ids.Upstream),
			Tenant:    "acme",
			Alias:     "api.openai.com",
			Endpoints: []model.Endpoint{endpointOf(upstreamSrv)},
			Protocol:  "http",
			Enabled:   true,
			Auth: model.AuthSpec{
				Sharing:  model.SharingEnforce,
				PluginID: plugins.IDAuthAPIKey,
				Config:   map[string]any{"secret_ref": "key-ref"},
			},
			RateLimit:   generousRateLimit(),
			Concurrency: generousConcurrency(),
		})
		upstreams, _ := h.repos.Upstreams.List(context.Background(), "acme")
		upstreamID := upstreams[0].ID

		h.createRoute(&model.Route{
			ID:         ids.New(ids.Route),
			Tenant:     "acme",
			UpstreamID: upstreamID,
			HTTP:       &model.HTTPMatch{Path: "/v1/chat/completions"},
			Enabled:    true,
			CreatedAt:  time.Now(),
		})

		hdr := http.Header{}
		hdr.Set("Authorization", "sk-live-abc123")
		res, err := h.pipeline.Handle(context.Background(), dpp.Inbound{
			Tenant:   "acme",
			Method:   http.MethodPost,
			Alias:    "api.openai.com",
			Path:     "/v1/chat/completions",
			Query:    url.Values{},
			Header:   hdr,
			Body:     io.NopCloser(bytes.NewReader([]byte(`{"model":"gpt"}`))),
			BodySize: 15,
		})
		Expect(err).NotTo(HaveOccurred())
		defer res.Body.Close()

		Expect(res.Status).To(Equal(http.StatusCreated))
		Expect(res.Header.Get(oagwerrors.ErrorSourceHeader)).To(Equal(oagwerrors.SourceUpstream))
		Expect(gotAuth).To(Equal("sk-live-abc123"))
		Expect(gotBody).To(Equal(`{"model":"gpt"}`))
	})

	// S2: a common-suffix endpoint pool requires X-OAGW-Target-Host;
	// omitting it surfaces MissingTargetHost before any dispatch.
	It("rejects a common-suffix alias request missing the target-host header", func() {
		h.createUpstream(&model.Upstream{
			ID:     ids.New(ids.Upstream),
			Tenant: "acme",
			Alias:  "vendor.com",
			Endpoints: []model.Endpoint{
				{Scheme: "https", Host: "us.vendor.com", Port: 443},
				{Scheme: "https", Host: "eu.vendor.com", Port: 443},
			},
			Protocol:    "http",
			Enabled:     true,
			RateLimit:   generousRateLimit(),
			Concurrency: generousConcurrency(),
		})
		upstreams, _ := h.repos.Upstreams.List(context.Background(), "acme")
		h.createRoute(&model.Route{
			ID:         ids.New(ids.Route),
			Tenant:     "acme",
			UpstreamID: upstreams[0].ID,
			HTTP:       &model.HTTPMatch{Path: "/v1/chat"},
			Enabled:    true,
			CreatedAt:  time.Now(),
		})

		_, err := h.pipeline.Handle(context.Background(), dpp.Inbound{
			Tenant: "acme",
			Method: http.MethodGet,
			Alias:  "vendor.com",
			Path:   "/v1/chat",
			Query:  url.Values{},
			Header: http.Header{},
		})
		Expect(err).To(HaveOccurred())
		gwErr, ok := oagwerrors.As(err, oagwerrors.KindMissingTargetHost)
		Expect(ok).To(BeTrue())
		Expect(gwErr.Kind.Status()).To(Equal(http.StatusBadRequest))
	})

	// S3: a disabled upstream surfaces UpstreamDisabled (503), gateway
	// error source, without contacting any endpoint.
	It("rejects a request against a disabled upstream", func() {
		upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Fail("upstream must not be contacted for a disabled upstream")
		}))
		defer upstreamSrv.Close()

		h.createUpstream(&model.Upstream{
			ID:          ids.New(ids.Upstream),
			Tenant:      "acme",
			Alias:       "openai",
			Endpoints:   []model.Endpoint{endpointOf(upstreamSrv)},
			Protocol:    "http",
			Enabled:     false,
			RateLimit:   generousRateLimit(),
			Concurrency: generousConcurrency(),
		})
		upstreams, _ := h.repos.Upstreams.List(context.Background(), "acme")
		h.createRoute(&model.Route{
			ID:         ids.New(ids.Route),
			Tenant:     "acme",
			UpstreamID: upstreams[0].ID,
			HTTP:       &model.HTTPMatch{Path: "/v1/chat"},
			Enabled:    true,
			CreatedAt:  time.Now(),
		})

		_, err := h.pipeline.Handle(context.Background(), dpp.Inbound{
			Tenant: "acme",
			Method: http.MethodGet,
			Alias:  "openai",
			Path:   "/v1/chat",
			Query:  url.Values{},
			Header: http.Header{},
		})
		Expect(err).To(HaveOccurred())
		gwErr, ok := oagwerrors.As(err, oagwerrors.KindUpstreamDisabled)
		Expect(ok).To(BeTrue())
		Expect(gwErr.Kind.Status()).To(Equal(http.StatusServiceUnavailable))
	})

	// S4 (scaled down from a one-minute window to a one-second window so
	// the spec can run as a fast unit test): once the effective rate is
	// exhausted, the next request is denied with a positive Retry-After.
	It("denies a request once the effective rate limit is exhausted", func() {
		upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer upstreamSrv.Close()

		h.createUpstream(&model.Upstream{
			ID:        ids.New(ids.Upstream),
			Tenant:    "acme",
			Alias:     "api.openai.com",
			Endpoints: []model.Endpoint{endpointOf(upstreamSrv)},
			Protocol:  "http",
			Enabled:   true,
			RateLimit: model.RateLimitSpec{
				Sharing: model.SharingEnforce, Rate: 1, Burst: 1, Window: model.WindowSecond,
			},
			Concurrency: generousConcurrency(),
		})
		upstreams, _ := h.repos.Upstreams.List(context.Background(), "acme")
		h.createRoute(&model.Route{
			ID:         ids.New(ids.Route),
			Tenant:     "acme",
			UpstreamID: upstreams[0].ID,
			HTTP:       &model.HTTPMatch{Path: "/v1/chat"},
			Enabled:    true,
			CreatedAt:  time.Now(),
		})

		req := dpp.Inbound{
			Tenant: "acme",
			Method: http.MethodGet,
			Alias:  "api.openai.com",
			Path:   "/v1/chat",
			Query:  url.Values{},
			Header: http.Header{},
		}

		first, err := h.pipeline.Handle(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		first.Body.Close()

		_, err = h.pipeline.Handle(context.Background(), req)
		Expect(err).To(HaveOccurred())
		gwErr, ok := oagwerrors.As(err, oagwerrors.KindRateLimitExceeded)
		Expect(ok).To(BeTrue())
		Expect(gwErr.Kind.Retriable()).To(BeTrue())
	})

	// spec.md §4.6: "Rate checks occur after auth plugin but before
	// guards that may mutate state." A rate limit exhausted to the point
	// it would deny every request must never be reached ahead of a
	// failing auth plugin: the caller should see AuthenticationFailed,
	// not RateLimitExceeded.
	It("runs the auth plugin before the rate limiter", func() {
		h.secrets.Put("acme", "key-ref", "sk-live-correct")

		upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Fail("upstream must not be contacted once auth fails")
		}))
		defer upstreamSrv.Close()

		h.createUpstream(&model.Upstream{
			ID:        ids.New(ids.Upstream),
			Tenant:    "acme",
			Alias:     "api.openai.com",
			Endpoints: []model.Endpoint{endpointOf(upstreamSrv)},
			Protocol:  "http",
			Enabled:   true,
			Auth: model.AuthSpec{
				Sharing:  model.SharingEnforce,
				PluginID: plugins.IDAuthAPIKey,
				Config:   map[string]any{"secret_ref": "key-ref"},
			},
			// Rate = 0 never admits a request (an always-exhausted
			// bucket), so a pass here is proof auth ran first, not that
			// the limiter happened to have room.
			RateLimit:   model.RateLimitSpec{Sharing: model.SharingEnforce, Rate: 0, Window: model.WindowSecond},
			Concurrency: generousConcurrency(),
		})
		upstreams, _ := h.repos.Upstreams.List(context.Background(), "acme")
		h.createRoute(&model.Route{
			ID:         ids.New(ids.Route),
			Tenant:     "acme",
			UpstreamID: upstreams[0].ID,
			HTTP:       &model.HTTPMatch{Path: "/v1/chat"},
			Enabled:    true,
			CreatedAt:  time.Now(),
		})

		hdr := http.Header{}
		hdr.Set("Authorization", "sk-live-wrong")
		_, err := h.pipeline.Handle(context.Background(), dpp.Inbound{
			Tenant: "acme",
			Method: http.MethodGet,
			Alias:  "api.openai.com",
			Path:   "/v1/chat",
			Query:  url.Values{},
			Header: hdr,
		})
		Expect(err).To(HaveOccurred())
		gwErr, ok := oagwerrors.As(err, oagwerrors.KindAuthenticationFailed)
		Expect(ok).To(BeTrue())
		Expect(gwErr.Kind.Status()).To(Equal(http.StatusUnauthorized))
	})

	// S6: a guard rejecting the request short-circuits the chain before
	// any transform runs and before the upstream is ever contacted.
	It("rejects a request via a guard plugin without contacting the upstream", func() {
		upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Fail("upstream must not be contacted once a guard rejects")
		}))
		defer upstreamSrv.Close()

		h.createUpstream(&model.Upstream{
			ID:          ids.New(ids.Upstream),
			Tenant:      "acme",
			Alias:       "api.openai.com",
			Endpoints:   []model.Endpoint{endpointOf(upstreamSrv)},
			Protocol:    "http",
			Enabled:     true,
			RateLimit:   generousRateLimit(),
			Concurrency: generousConcurrency(),
		})
		upstreams, _ := h.repos.Upstreams.List(context.Background(), "acme")
		h.createRoute(&model.Route{
			ID:         ids.New(ids.Route),
			Tenant:     "acme",
			UpstreamID: upstreams[0].ID,
			HTTP:       &model.HTTPMatch{Path: "/v1/chat"},
			Enabled:    true,
			CreatedAt:  time.Now(),
			Plugins: []model.PluginRef{{
				PluginID: plugins.IDGuardHeaderRequired,
				Sharing:  model.SharingEnforce,
				Config:   map[string]any{"headers": []any{"X-Tenant-Trace"}},
			}},
		})

		res, err := h.pipeline.Handle(context.Background(), dpp.Inbound{
			Tenant: "acme",
			Method: http.MethodGet,
			Alias:  "api.openai.com",
			Path:   "/v1/chat",
			Query:  url.Values{},
			Header: http.Header{}, // X-Tenant-Trace deliberately absent
		})
		Expect(err).NotTo(HaveOccurred()) // a guard rejection is a Result, not a pipeline error
		defer res.Body.Close()

		Expect(res.Status).To(Equal(http.StatusBadRequest))
		Expect(res.Header.Get(oagwerrors.ErrorSourceHeader)).To(Equal(oagwerrors.SourceGateway))
		body, _ := io.ReadAll(res.Body)
		Expect(string(body)).To(ContainSubstring("missing required header"))
	})

	It("releases the concurrency permit after a completed request", func() {
		upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer upstreamSrv.Close()

		h.createUpstream(&model.Upstream{
			ID:        ids.New(ids.Upstream),
			Tenant:    "acme",
			Alias:     "api.openai.com",
			Endpoints: []model.Endpoint{endpointOf(upstreamSrv)},
			Protocol:  "http",
			Enabled:   true,
			RateLimit: generousRateLimit(),
			Concurrency: model.ConcurrencySpec{
				MaxConcurrent: 1, Strategy: model.StrategyReject,
			},
		})
		upstreams, _ := h.repos.Upstreams.List(context.Background(), "acme")
		h.createRoute(&model.Route{
			ID:         ids.New(ids.Route),
			Tenant:     "acme",
			UpstreamID: upstreams[0].ID,
			HTTP:       &model.HTTPMatch{Path: "/v1/chat"},
			Enabled:    true,
			CreatedAt:  time.Now(),
		})

		req := dpp.Inbound{
			Tenant: "acme",
			Method: http.MethodGet,
			Alias:  "api.openai.com",
			Path:   "/v1/chat",
			Query:  url.Values{},
			Header: http.Header{},
		}

		for i := 0; i < 3; i++ {
			res, err := h.pipeline.Handle(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			res.Body.Close()
		}
	})
})
