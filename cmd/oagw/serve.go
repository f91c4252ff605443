package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/outbound-gateway/oagw/internal/oagw/api"
	"github.com/outbound-gateway/oagw/internal/oagw/audit"
	"github.com/outbound-gateway/oagw/internal/oagw/authz"
	"github.com/outbound-gateway/oagw/internal/oagw/cpc"
	"github.com/outbound-gateway/oagw/internal/oagw/dpp"
	"github.com/outbound-gateway/oagw/internal/oagw/limiter"
	"github.com/outbound-gateway/oagw/internal/oagw/metrics"
	"github.com/outbound-gateway/oagw/internal/oagw/outbound"
	"github.com/outbound-gateway/oagw/internal/oagw/plugins"
	"github.com/outbound-gateway/oagw/internal/oagw/sandbox"
	"github.com/outbound-gateway/oagw/internal/oagw/schema"
	"github.com/outbound-gateway/oagw/internal/oagw/secrets"
	"github.com/outbound-gateway/oagw/internal/oagw/settings"
	"github.com/outbound-gateway/oagw/internal/oagw/store"
	"github.com/outbound-gateway/oagw/pkg/logging"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway's data and control planes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	s, err := settings.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New("serve")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := settings.Watch(ctx, configPath, func(settings.Settings) {
		log.Info("config file changed; restart to apply (hot-reload of live limits is not yet wired)")
	}); err != nil {
		log.Error(err, "starting config file watch")
	}

	repos := store.NewMemoryRepositories()
	if fixturesPath != "" {
		set, err := store.LoadFixtureSet(afero.NewOsFs(), fixturesPath)
		if err != nil {
			return err
		}
		if err := set.Seed(ctx, repos); err != nil {
			return err
		}
		log.Info("seeded store from fixtures", "path", fixturesPath,
			"upstreams", len(set.Upstreams), "routes", len(set.Routes), "plugins", len(set.Plugins))
	}
	secretStore := secrets.NewMemoryStore()
	authzSvc := authz.NewStaticService(nil)
	schemaReg := schema.NewStaticRegistry()

	cpcSvc := cpc.New(repos, s.CacheL1Size, s.CacheL2Size, s.CacheL2TTL)

	httpClient := &http.Client{Timeout: s.RequestTimeout}
	builtins := plugins.NewRegistry(
		plugins.NewJWTAuth(plugins.DefaultJWKSFetcher(httpClient)),
		plugins.NewAPIKeyAuth(secretStore),
		plugins.NewBasicAuth(secretStore),
		plugins.NewHeaderRequiredGuard(),
		plugins.NewRegexGuard(),
		plugins.NewWebhookGuard(plugins.DefaultWebhookCaller(httpClient)),
		sandbox.NewCELGuard(),
		plugins.NewHeaderRewriteTransform(),
		plugins.NewCORSTransform(),
		plugins.NewPromptEnrichmentTransform(),
		sandbox.NewCELTransform(),
	)

	outboundClient := outbound.New(outbound.Timeouts{
		Connect: s.ConnectTimeout,
		Request: s.RequestTimeout,
		Idle:    s.IdleTimeout,
	})
	rateLimiter := limiter.NewRateLimiter()
	concurrencyLimiter := limiter.NewConcurrencyLimiter()

	reg := prometheus.NewRegistry()
	collectors := metrics.New(reg)
	auditLogger := audit.New()

	pipeline := dpp.New(cpcSvc, builtins, outboundClient, rateLimiter, concurrencyLimiter, collectors, auditLogger)
	server := api.NewServer(repos, cpcSvc, pipeline, authzSvc, schemaReg)

	mainMux := http.NewServeMux()
	mainMux.Handle("/", server.Router())
	mainSrv := &http.Server{Addr: s.ListenAddr, Handler: mainMux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: s.MetricsAddr, Handler: metricsMux}

	errCh := make(chan error, 2)
	go func() { errCh <- mainSrv.ListenAndServe() }()
	go func() { errCh <- metricsSrv.ListenAndServe() }()

	log.Info("gateway started", "listen", s.ListenAddr, "metrics", s.MetricsAddr)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.IdleTimeout)
		defer cancel()
		_ = mainSrv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}
