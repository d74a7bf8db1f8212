package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/nownext/internal/config"
	"github.com/jmylchreest/nownext/internal/guide"
	internalhttp "github.com/jmylchreest/nownext/internal/http"
	"github.com/jmylchreest/nownext/internal/http/handlers"
	"github.com/jmylchreest/nownext/internal/metadata"
	"github.com/jmylchreest/nownext/internal/observability"
	"github.com/jmylchreest/nownext/internal/render"
	"github.com/jmylchreest/nownext/internal/scheduler"
	"github.com/jmylchreest/nownext/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the nownext server",
	Long: `Start the nownext HTTP server and API.

The server provides:
- REST API for setting the catalog and visible rows, and reading guides
- Server-Sent Events stream of guide updates
- Health check and Prometheus metrics endpoints
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("category", "", "Load this live category as the initial catalog")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := guide.NewMetrics(reg)

	st, err := buildStack(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer st.scheduler.Close()

	events := render.NewBroadcaster().WithLogger(logger)
	category, _ := cmd.Flags().GetString("category")
	if err := startGuide(ctx, st, events, category); err != nil {
		return err
	}

	server := internalhttp.NewServer(serverConfig(cfg.Server), logger, version.Short())

	guideHandler := handlers.NewGuideHandler(st.scheduler, events)
	guideHandler.Register(server.API())
	guideHandler.RegisterSSE(server.Router())
	handlers.NewHealthHandler(version.Short(), st.scheduler).
		WithCircuitBreaker(st.http.Breaker()).
		Register(server.API())
	server.MountMetrics(reg)

	jobs := scheduler.NewScheduler().WithLogger(logger)
	if expr := cfg.Guide.RefreshCron; expr != "" {
		if err := jobs.Add("guide_refresh", expr, func(context.Context) error {
			st.scheduler.Refresh()
			return nil
		}); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		if err := jobs.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		jobs.Stop()
		return nil
	})

	logger.Info("nownext started",
		slog.String("version", version.Short()),
		slog.String("address", server.Address()),
	)
	if err := g.Wait(); err != nil {
		return fmt.Errorf("running server: %w", err)
	}
	return nil
}

// startGuide connects events to the scheduler, checks the account and loads
// category as the initial catalog when set. Listeners are registered before
// the catalog so the first fetches are broadcast.
func startGuide(ctx context.Context, st *stack, events *render.Broadcaster, category string) error {
	st.scheduler.OnGuideUpdated(events.Update)

	if err := st.catalog.Verify(ctx); err != nil {
		slog.Default().Warn("xtream account check failed, guides may be unavailable",
			slog.String("error", err.Error()))
	}

	if category == "" {
		return nil
	}
	return seedCatalog(ctx, st.catalog, st.scheduler, category)
}

// seedCatalog loads a category's channels into the scheduler.
func seedCatalog(ctx context.Context, catalog *metadata.Catalog, sched *guide.Scheduler, category string) (err error) {
	done := observability.TimedOperationWithError(ctx, slog.Default(), "catalog_load", &err)
	defer done()

	channels, err := catalog.Channels(ctx, category)
	if err != nil {
		return fmt.Errorf("loading category %q: %w", category, err)
	}
	sched.OnCatalogChanged(metadata.ChannelIDs(channels))
	return nil
}

func serverConfig(c config.ServerConfig) internalhttp.ServerConfig {
	sc := internalhttp.DefaultServerConfig()
	sc.Host = c.Host
	sc.Port = c.Port
	sc.ReadTimeout = c.ReadTimeout
	sc.WriteTimeout = c.WriteTimeout
	sc.ShutdownTimeout = c.ShutdownTimeout
	return sc
}
