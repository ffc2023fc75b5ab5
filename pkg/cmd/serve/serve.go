// Package serve implements the `tdxgatewayd serve` command, the gateway's
// only long-running entry point. Its shape — Options struct, NewCmdServe(f
// *cmdutil.Factory, runF func(*Options) error), PreRunE/RunE split, heredoc
// Long/Example text — follows the teacher's
// pkg/cmd/attestation/verify/verify.go almost exactly.
package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/posix4e/tdx-trust-gateway/internal/attestcache"
	"github.com/posix4e/tdx-trust-gateway/internal/chain"
	"github.com/posix4e/tdx-trust-gateway/internal/config"
	"github.com/posix4e/tdx-trust-gateway/internal/dcap"
	"github.com/posix4e/tdx-trust-gateway/internal/forge"
	"github.com/posix4e/tdx-trust-gateway/internal/measurement"
	"github.com/posix4e/tdx-trust-gateway/internal/metrics"
	"github.com/posix4e/tdx-trust-gateway/internal/obslog"
	"github.com/posix4e/tdx-trust-gateway/internal/provenance"
	"github.com/posix4e/tdx-trust-gateway/internal/proxy"
	"github.com/posix4e/tdx-trust-gateway/internal/quoteprovider"
	"github.com/posix4e/tdx-trust-gateway/internal/registration"
	"github.com/posix4e/tdx-trust-gateway/pkg/cmdutil"
	promclient "github.com/prometheus/client_golang/prometheus"
)

// Options holds everything RunE needs, separated from the cobra.Command so
// tests can call runServe directly with a fake Factory.
type Options struct {
	Config func() (config.Config, error)
	Logger func(config.Config) (*zap.Logger, error)

	DotenvPath string
}

// NewCmdServe builds the `serve` subcommand.
func NewCmdServe(f *cmdutil.Factory, runF func(*Options) error) *cobra.Command {
	opts := &Options{
		Config: f.Config,
		Logger: f.Logger,
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the TDX trust gateway",
		Long: heredoc.Doc(`
			Start the TDX trust gateway's HTTP server.

			The gateway verifies a registered workload's TDX quote, build
			provenance, and measurement baseline before proxying any request
			to it, caching the combined result for the configured TTL.
		`),
		Example: heredoc.Doc(`
			$ tdxgatewayd serve
			$ tdxgatewayd serve --env .env.production
		`),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.DotenvPath != "" {
				opts.Config = func() (config.Config, error) {
					return config.Load(opts.DotenvPath)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if runF != nil {
				return runF(opts)
			}
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.DotenvPath, "env", "", "optional .env file to load before reading environment variables")

	return cmd
}

func runServe(ctx context.Context, opts *Options) error {
	cfg, err := opts.Config()
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}

	logger, err := opts.Logger(cfg)
	if err != nil {
		return fmt.Errorf("serve: build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	reg := registration.NewStore()

	dcapVerifier := dcap.NewVerifier(cfg.DCAPLibraryPath, cfg.DCAPPoolSize)

	var sigstoreBackend *provenance.SigstoreBackend
	if cfg.ProvenanceRequireSigstoreVerification {
		sigstoreBackend, err = provenance.NewSigstoreBackend(ctx, provenance.SigstoreConfig{
			CustomTrustedRootPath: cfg.SigstoreTrustedRootPath,
			UseGitHubTUFMirror:    cfg.SigstoreUseGitHubMirror,
		})
		if err != nil {
			return fmt.Errorf("serve: build sigstore backend: %w", err)
		}
	}
	provVerifier := provenance.NewVerifier(cfg.ForgeToken, cfg.ForgeAPIBase, &http.Client{Timeout: 30 * time.Second}, sigstoreBackend)
	quotes := quoteprovider.NewClient()
	chainVerifier := chain.NewVerifier(quotes, dcapVerifier, provVerifier)

	promReg := promclient.NewRegistry()
	metricsReg := metrics.NewRegistry(promReg)

	// inFlight is drained on shutdown so an in-flight verification started
	// by one request is not abandoned mid-flight when the process exits.
	var inFlight sync.WaitGroup

	cache := attestcache.New(cfg.AttestationCacheSize, cfg.CacheTTL(), func(ctx context.Context, appID string) chain.Result {
		inFlight.Add(1)
		defer inFlight.Done()

		regEntry, err := reg.Get(ctx, appID)
		if err != nil {
			return chain.Result{Outcome: chain.OutcomeFailed}
		}

		digest := ""
		if regEntry.ImageDigest != nil {
			digest = *regEntry.ImageDigest
		} else if resolved, err := forge.ResolveDigest(ctx, regEntry.ImageRepository, regEntry.ImageTag, ""); err == nil {
			digest = resolved
		}

		result := chainVerifier.Verify(ctx, chain.Request{
			QuoteProviderEndpoint: regEntry.QuoteProviderEndpoint,
			SkipRTMR3:             true,
			Provenance: provenance.Request{
				Digest:       digest,
				Owner:        regEntry.ForgeOwner,
				Repo:         regEntry.ForgeRepo,
				WorkflowPath: regEntry.ForgeWorkflowPath,
			},
			Baseline: measurement.Baseline{
				MRTD:  regEntry.ExpectedMRTD,
				RTMR0: regEntry.ExpectedRTMR0,
				RTMR1: regEntry.ExpectedRTMR1,
				RTMR2: regEntry.ExpectedRTMR2,
				RTMR3: regEntry.ExpectedRTMR3,
			},
		})
		metricsReg.VerificationsTotal.WithLabelValues(string(result.Outcome)).Inc()
		return result
	})

	proxyClient := proxy.NewClient(cfg.ProxyTimeout())
	router := proxy.NewRouter(reg, cache, proxyClient)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(obslog.Middleware(logger))
	router.Mount(r)

	mux := http.NewServeMux()
	mux.Handle("/", r)
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	// /status is a read-only liveness probe: it never touches a registered
	// app's own quote provider (that's the per-app GET /{app_id}/_status),
	// it only reports this process's own configuration, per health.py's
	// GET /status (minus the per-request TDX-proxy roundtrip, which the
	// app-scoped diagnostic endpoint already covers).
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":            "healthy",
			"dcap_library_path": cfg.DCAPLibraryPath,
			"dcap_mock_mode":    cfg.DCAPLibraryPath == "",
			"cache_stats":       cache.Stats(),
		})
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: listen: %w", err)
	case <-sigCh:
		logger.Info("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("serve: shutdown: %w", err)
	}

	drained := make(chan struct{})
	go func() {
		inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out waiting for in-flight verifications")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
